package bridge

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/agent"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/telephony"
	"github.com/jmaddux/frontdesk/internal/types"
)

type fakeStream struct {
	started chan telephony.StartInfo
	frames  chan types.AudioFrame
	marks   chan string
	stopped chan struct{}
	failed  chan error

	sent      chan types.AudioFrame
	sentMarks chan string
	cleared   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		started:   make(chan telephony.StartInfo, 1),
		frames:    make(chan types.AudioFrame, 64),
		marks:     make(chan string, 16),
		stopped:   make(chan struct{}),
		failed:    make(chan error, 1),
		sent:      make(chan types.AudioFrame, 64),
		sentMarks: make(chan string, 16),
		cleared:   make(chan struct{}, 4),
	}
}

func (f *fakeStream) Started() <-chan telephony.StartInfo { return f.started }
func (f *fakeStream) Frames() <-chan types.AudioFrame     { return f.frames }
func (f *fakeStream) Marks() <-chan string                { return f.marks }
func (f *fakeStream) Stopped() <-chan struct{}            { return f.stopped }
func (f *fakeStream) Failed() <-chan error                { return f.failed }
func (f *fakeStream) Send(frame types.AudioFrame)         { f.sent <- frame }
func (f *fakeStream) SendMark(name string)                { f.sentMarks <- name }
func (f *fakeStream) Clear() {
	select {
	case f.cleared <- struct{}{}:
	default:
	}
}
func (f *fakeStream) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeAgent struct {
	ready       chan struct{}
	transcripts chan agent.Transcript
	agentText   chan string
	agentAudio  chan types.AudioFrame
	failed      chan error

	sentAudio chan types.AudioFrame

	mu     sync.Mutex
	closed bool
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{
		ready:       make(chan struct{}),
		transcripts: make(chan agent.Transcript, 16),
		agentText:   make(chan string, 16),
		agentAudio:  make(chan types.AudioFrame, 64),
		failed:      make(chan error, 1),
		sentAudio:   make(chan types.AudioFrame, 64),
	}
}

func (f *fakeAgent) Ready() <-chan struct{}               { return f.ready }
func (f *fakeAgent) Transcripts() <-chan agent.Transcript { return f.transcripts }
func (f *fakeAgent) AgentText() <-chan string             { return f.agentText }
func (f *fakeAgent) AgentAudio() <-chan types.AudioFrame  { return f.agentAudio }
func (f *fakeAgent) Failed() <-chan error                 { return f.failed }
func (f *fakeAgent) SendAudio(frame types.AudioFrame)     { f.sentAudio <- frame }
func (f *fakeAgent) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type recordCapture struct {
	records chan CallRecord
}

func newRecordCapture() *recordCapture {
	return &recordCapture{records: make(chan CallRecord, 1)}
}

func (r *recordCapture) Submit(record CallRecord) {
	r.records <- record
}

func (r *recordCapture) wait(t *testing.T) CallRecord {
	t.Helper()
	select {
	case rec := <-r.records:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for call record")
		return CallRecord{}
	}
}

func bridgeConfig() *config.Config {
	return &config.Config{
		HandshakeTimeout: time.Second,
		IdleTimeout:      time.Minute,
		DrainTimeout:     time.Second,
	}
}

// startBridge completes the handshake and returns once the bridge is active
func startBridge(t *testing.T, cfg *config.Config) (*Bridge, *fakeStream, *fakeAgent, *recordCapture) {
	t.Helper()

	stream := newFakeStream()
	agentConn := newFakeAgent()
	sink := newRecordCapture()
	b := New(cfg, stream, agentConn, sink, nil, zerolog.New(&bytes.Buffer{}))

	go b.Run(context.Background())

	stream.started <- telephony.StartInfo{
		CallSID:      "CA1",
		StreamSID:    "MZ1",
		CustomParams: map[string]string{"from": "+15550001111", "to": "+15559990000"},
	}
	close(agentConn.ready)

	waitFor(t, func() bool { return b.State() == StateActive }, "bridge never became active")
	return b, stream, agentConn, sink
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBridgeHandshakeTimeout(t *testing.T) {
	cfg := bridgeConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond

	stream := newFakeStream()
	agentConn := newFakeAgent()
	sink := newRecordCapture()
	b := New(cfg, stream, agentConn, sink, nil, zerolog.New(&bytes.Buffer{}))

	go b.Run(context.Background())

	record := sink.wait(t)
	if !record.Failed {
		t.Error("expected failed record on handshake timeout")
	}
	if b.State() != StateFailed {
		t.Errorf("expected failed state, got %s", b.State())
	}
	if !stream.isClosed() {
		t.Error("expected stream to be closed")
	}
}

func TestBridgeRelaysCallerAudio(t *testing.T) {
	_, stream, agentConn, _ := startBridge(t, bridgeConfig())

	stream.frames <- types.AudioFrame{Seq: 1, Payload: []byte{0x01}}
	stream.frames <- types.AudioFrame{Seq: 2, Payload: []byte{0x02}}

	first := <-agentConn.sentAudio
	second := <-agentConn.sentAudio
	if first.Seq != 1 || second.Seq != 2 {
		t.Errorf("expected frames in order, got %d then %d", first.Seq, second.Seq)
	}
}

func TestBridgeRelaysAgentAudioWithMark(t *testing.T) {
	_, stream, agentConn, _ := startBridge(t, bridgeConfig())

	agentConn.agentAudio <- types.AudioFrame{Seq: 1, Payload: []byte{0x0A}}

	frame := <-stream.sent
	if !bytes.Equal(frame.Payload, []byte{0x0A}) {
		t.Errorf("unexpected payload relayed: %v", frame.Payload)
	}

	select {
	case <-stream.sentMarks:
	case <-time.After(time.Second):
		t.Fatal("expected a mark after the audio burst")
	}
}

func TestBridgeTranscriptsBecomeTurns(t *testing.T) {
	b, stream, agentConn, sink := startBridge(t, bridgeConfig())

	agentConn.transcripts <- agent.Transcript{Text: "I would like to", IsFinal: false}
	agentConn.transcripts <- agent.Transcript{Text: "I would like to book a cleaning", IsFinal: true, Confidence: 0.9}
	agentConn.agentText <- "Sure, when works for you?"

	waitFor(t, func() bool { return len(b.Conversation().Turns()) == 2 }, "expected two turns")

	close(stream.stopped)
	record := sink.wait(t)

	if record.Failed {
		t.Error("clean stop must not be a failure")
	}
	if len(record.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(record.Turns))
	}
	if record.Turns[0].Role != types.RoleCaller {
		t.Errorf("expected caller turn first, got %s", record.Turns[0].Role)
	}
	if record.Transcript != "caller: I would like to book a cleaning\nagent: Sure, when works for you?" {
		t.Errorf("unexpected transcript: %q", record.Transcript)
	}
}

func TestBridgeBargeInFlushesAudio(t *testing.T) {
	_, stream, agentConn, _ := startBridge(t, bridgeConfig())

	// agent is speaking
	agentConn.agentAudio <- types.AudioFrame{Seq: 1, Payload: []byte{0x0A}}
	<-stream.sent

	// caller interrupts
	agentConn.transcripts <- agent.Transcript{Text: "wait, actually", IsFinal: false}

	select {
	case <-stream.cleared:
	case <-time.After(time.Second):
		t.Fatal("expected outbound audio to be cleared on barge-in")
	}
}

func TestBridgeAgentFailureStillSubmitsRecord(t *testing.T) {
	b, _, agentConn, sink := startBridge(t, bridgeConfig())

	agentConn.transcripts <- agent.Transcript{Text: "hello", IsFinal: true}
	waitFor(t, func() bool { return len(b.Conversation().Turns()) == 1 }, "expected a turn")

	agentConn.failed <- context.DeadlineExceeded

	record := sink.wait(t)
	if !record.Failed {
		t.Error("expected failed record")
	}
	if len(record.Turns) != 1 {
		t.Errorf("failed call must keep its partial transcript, got %d turns", len(record.Turns))
	}
}

func TestBridgeStreamFailureStillSubmitsRecord(t *testing.T) {
	b, stream, agentConn, sink := startBridge(t, bridgeConfig())

	agentConn.transcripts <- agent.Transcript{Text: "my tooth hurts", IsFinal: true}
	waitFor(t, func() bool { return len(b.Conversation().Turns()) == 1 }, "expected a turn")

	stream.failed <- context.DeadlineExceeded

	record := sink.wait(t)
	if !record.Failed {
		t.Error("expected failed record on stream loss")
	}
	if b.State() != StateFailed {
		t.Errorf("expected failed state, got %s", b.State())
	}
	if record.Transcript != "caller: my tooth hurts" {
		t.Errorf("failed call must keep its partial transcript, got %q", record.Transcript)
	}
}

func TestBridgeIdleDrain(t *testing.T) {
	cfg := bridgeConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	cfg.DrainTimeout = 5 * time.Second

	b, stream, _, sink := startBridge(t, cfg)

	// drain mark goes out once the call sits idle
	var mark string
	select {
	case mark = <-stream.sentMarks:
	case <-time.After(3 * time.Second):
		t.Fatal("expected drain mark after idle timeout")
	}

	// echo the mark back as the provider would after playback
	stream.marks <- mark

	record := sink.wait(t)
	if record.Failed {
		t.Error("idle drain is a clean termination")
	}
	if b.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", b.State())
	}
}

func TestBridgeDrainTimeout(t *testing.T) {
	cfg := bridgeConfig()
	cfg.IdleTimeout = 100 * time.Millisecond
	cfg.DrainTimeout = 100 * time.Millisecond

	b, _, _, sink := startBridge(t, cfg)

	record := sink.wait(t)
	if record.Failed {
		t.Error("drain timeout is still a clean termination")
	}
	if b.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", b.State())
	}
}

func TestBridgeRegistryLifecycle(t *testing.T) {
	registry := NewRegistry()
	stream := newFakeStream()
	agentConn := newFakeAgent()
	sink := newRecordCapture()
	b := New(bridgeConfig(), stream, agentConn, sink, registry, zerolog.New(&bytes.Buffer{}))

	go b.Run(context.Background())

	stream.started <- telephony.StartInfo{CallSID: "CA42"}
	close(agentConn.ready)

	waitFor(t, func() bool { return registry.Count() == 1 }, "expected call in registry")
	if _, ok := registry.Get("CA42"); !ok {
		t.Error("expected bridge registered under CA42")
	}

	close(stream.stopped)
	sink.wait(t)

	waitFor(t, func() bool { return registry.Count() == 0 }, "expected call removed from registry")
}
