package bridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/agent"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/telephony"
	"github.com/jmaddux/frontdesk/internal/types"
)

// State is the lifecycle state of one bridged call
type State int32

const (
	StateHandshaking State = iota
	StateActive
	StateDraining
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TelephonyStream is the caller-facing side of the bridge
type TelephonyStream interface {
	Started() <-chan telephony.StartInfo
	Frames() <-chan types.AudioFrame
	Marks() <-chan string
	Stopped() <-chan struct{}
	Failed() <-chan error
	Send(types.AudioFrame)
	SendMark(name string)
	Clear()
	Close()
}

// AgentConn is the voice-agent-facing side of the bridge
type AgentConn interface {
	Ready() <-chan struct{}
	Transcripts() <-chan agent.Transcript
	AgentText() <-chan string
	AgentAudio() <-chan types.AudioFrame
	Failed() <-chan error
	SendAudio(types.AudioFrame)
	Close()
}

// CallRecord is the finalized output of one bridged call
type CallRecord struct {
	CallSID    string
	StreamSID  string
	From       string
	To         string
	StartTime  time.Time
	EndTime    time.Time
	Failed     bool
	Turns      []types.Turn
	Transcript string
}

// RecordSink receives the finalized record of every call, including failed
// ones. Submission must not block the bridge.
type RecordSink interface {
	Submit(record CallRecord)
}

const drainMark = "drain-complete"

// Bridge owns one call: it relays audio between the telephony stream and the
// voice agent, tracks conversation state, and emits a CallRecord when the
// call ends for any reason.
type Bridge struct {
	config   *config.Config
	stream   TelephonyStream
	agent    AgentConn
	sink     RecordSink
	registry *Registry
	logger   zerolog.Logger

	conv  *ConversationState
	state atomic.Int32

	info      telephony.StartInfo
	startTime time.Time

	speaking atomic.Bool
	markSeq  atomic.Uint64
}

// New creates a bridge for one call. Run must be called to start relaying.
// The registry is optional; live calls register there while bridged.
func New(cfg *config.Config, stream TelephonyStream, agentConn AgentConn, sink RecordSink, registry *Registry, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		config:    cfg,
		stream:    stream,
		agent:     agentConn,
		sink:      sink,
		registry:  registry,
		logger:    logger.With().Str("component", "bridge").Logger(),
		conv:      NewConversationState(),
		startTime: time.Now(),
	}
	b.state.Store(int32(StateHandshaking))
	return b
}

// State returns the bridge's current lifecycle state
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Conversation exposes the live conversation state
func (b *Bridge) Conversation() *ConversationState {
	return b.conv
}

// Info returns the stream start info. Valid once Run has passed handshaking.
func (b *Bridge) Info() telephony.StartInfo {
	return b.info
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.logger.Debug().Str("state", s.String()).Msg("bridge state changed")
}

// Run drives the call to completion. It blocks until the call terminates and
// always submits a record to the sink, even on failure.
func (b *Bridge) Run(ctx context.Context) {
	metrics.Get().RecordCallStarted()

	if err := b.handshake(ctx); err != nil {
		b.logger.Error().Err(err).Msg("bridge handshake failed")
		b.finalize(StateFailed)
		return
	}

	b.setState(StateActive)
	b.logger.Info().Str("call_sid", b.info.CallSID).Msg("call bridged")

	if b.registry != nil {
		b.registry.Add(b.info.CallSID, b)
		defer b.registry.Remove(b.info.CallSID)
	}

	go b.pumpCallerAudio()
	go b.pumpAgentAudio()

	final := b.eventLoop(ctx)
	b.finalize(final)
}

// handshake waits for the telephony start event and the agent's settings
// acknowledgement. Neither side may carry audio until both are in.
func (b *Bridge) handshake(ctx context.Context) error {
	timeout := time.NewTimer(b.config.HandshakeTimeout)
	defer timeout.Stop()

	var gotStart, gotReady bool
	for !gotStart || !gotReady {
		select {
		case info := <-b.stream.Started():
			b.info = info
			b.logger = b.logger.With().Str("call_sid", info.CallSID).Logger()
			gotStart = true
		case <-b.agent.Ready():
			gotReady = true
		case err := <-b.stream.Failed():
			return fmt.Errorf("telephony stream failed during handshake: %w", err)
		case err := <-b.agent.Failed():
			return fmt.Errorf("voice agent failed during handshake: %w", err)
		case <-timeout.C:
			return fmt.Errorf("handshake timed out after %s (start=%v settings=%v)", b.config.HandshakeTimeout, gotStart, gotReady)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pumpCallerAudio relays caller audio to the agent while the bridge is
// active. Draining stops inbound relay but keeps the goroutine draining the
// channel so the stream's reader never blocks.
func (b *Bridge) pumpCallerAudio() {
	for frame := range b.stream.Frames() {
		if b.State() != StateActive {
			continue
		}
		metrics.Get().RecordInboundFrame()
		b.conv.Touch()
		b.agent.SendAudio(frame)
	}
}

// pumpAgentAudio relays agent speech to the caller. A mark is sent whenever
// the synthesized burst goes quiet so playback completion can be observed.
func (b *Bridge) pumpAgentAudio() {
	for frame := range b.agent.AgentAudio() {
		state := b.State()
		if state != StateActive && state != StateDraining {
			continue
		}
		metrics.Get().RecordOutboundFrame()
		b.speaking.Store(true)
		b.stream.Send(frame)
		if len(b.agent.AgentAudio()) == 0 {
			b.stream.SendMark(fmt.Sprintf("resp-%d", b.markSeq.Add(1)))
		}
	}
}

// eventLoop processes control events until the call reaches a final state
func (b *Bridge) eventLoop(ctx context.Context) State {
	idleTicker := time.NewTicker(time.Second)
	defer idleTicker.Stop()

	var drainDeadline <-chan time.Time
	transcripts := b.agent.Transcripts()

	for {
		select {
		case t, ok := <-transcripts:
			if !ok {
				// agent read loop exited, its Failed signal drives shutdown
				transcripts = nil
				continue
			}
			b.conv.Touch()
			if b.speaking.Load() && t.Text != "" && b.State() == StateActive {
				b.bargeIn()
			}
			if t.IsFinal {
				b.conv.AppendCallerTurn(t.Text)
				b.conv.SetSlot("partial", "")
			} else {
				b.conv.SetSlot("partial", t.Text)
			}

		case text := <-b.agent.AgentText():
			b.conv.AppendAgentTurn(text)

		case name := <-b.stream.Marks():
			b.speaking.Store(false)
			if name == drainMark && b.State() == StateDraining {
				b.logger.Debug().Msg("drain mark acknowledged")
				return StateTerminated
			}

		case <-b.stream.Stopped():
			b.logger.Info().Msg("caller ended the call")
			return StateTerminated

		case err := <-b.stream.Failed():
			b.logger.Error().Err(err).Msg("telephony stream failed")
			return StateFailed

		case err := <-b.agent.Failed():
			b.logger.Error().Err(err).Msg("voice agent failed")
			return StateFailed

		case <-idleTicker.C:
			if b.State() == StateActive && time.Since(b.conv.LastActivity()) > b.config.IdleTimeout {
				b.logger.Info().Dur("idle_timeout", b.config.IdleTimeout).Msg("idle timeout, draining call")
				b.setState(StateDraining)
				b.stream.SendMark(drainMark)
				drainDeadline = time.After(b.config.DrainTimeout)
			}

		case <-drainDeadline:
			b.logger.Warn().Msg("drain timed out, terminating call")
			return StateTerminated

		case <-ctx.Done():
			b.logger.Info().Msg("bridge context cancelled")
			return StateTerminated
		}
	}
}

// bargeIn flushes agent audio that the caller has interrupted
func (b *Bridge) bargeIn() {
	metrics.Get().RecordBargeIn()
	b.logger.Debug().Msg("caller barge-in, flushing agent audio")

	// discard synthesized audio not yet handed to the telephony stream
	for {
		select {
		case <-b.agent.AgentAudio():
		default:
			b.stream.Clear()
			b.speaking.Store(false)
			return
		}
	}
}

// finalize closes both transports, records the final state and submits the
// call record. FAILED calls still produce a record so downstream alerting
// can react to dropped calls.
func (b *Bridge) finalize(final State) {
	b.setState(final)
	b.agent.Close()
	b.stream.Close()

	if final == StateFailed {
		metrics.Get().RecordCallFailed()
	} else {
		metrics.Get().RecordCallCompleted()
	}

	turns := b.conv.Turns()
	record := CallRecord{
		CallSID:    b.info.CallSID,
		StreamSID:  b.info.StreamSID,
		From:       b.info.CustomParams["from"],
		To:         b.info.CustomParams["to"],
		StartTime:  b.startTime,
		EndTime:    time.Now(),
		Failed:     final == StateFailed,
		Turns:      turns,
		Transcript: types.FlattenTurns(turns),
	}

	b.logger.Info().
		Str("final_state", final.String()).
		Int("turns", len(turns)).
		Dur("duration", record.EndTime.Sub(record.StartTime)).
		Msg("call finished")

	if b.sink != nil {
		b.sink.Submit(record)
	}
}
