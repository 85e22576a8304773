package telephony

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/types"
)

func testFrame(payload []byte) types.AudioFrame {
	return types.AudioFrame{Payload: payload, Timestamp: time.Now()}
}

func testConfig() *config.Config {
	return &config.Config{
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

type captureAttacher struct {
	streams chan *StreamConn
}

func (a *captureAttacher) Attach(s *StreamConn) {
	a.streams <- s
}

// startTestStream upgrades a websocket pair through StreamHandler and returns
// the provider-side client connection and the server-side StreamConn.
func startTestStream(t *testing.T) (*websocket.Conn, *StreamConn, func()) {
	t.Helper()

	logger := zerolog.New(&bytes.Buffer{})
	attacher := &captureAttacher{streams: make(chan *StreamConn, 1)}
	handler := NewStreamHandler(attacher, testConfig(), logger)

	srv := httptest.NewServer(http.HandlerFunc(handler.ServeHTTP))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("failed to dial test server: %v", err)
	}

	var stream *StreamConn
	select {
	case stream = <-attacher.streams:
	case <-time.After(time.Second):
		client.Close()
		srv.Close()
		t.Fatal("stream was never attached")
	}

	cleanup := func() {
		client.Close()
		stream.Close()
		srv.Close()
	}
	return client, stream, cleanup
}

func sendEvent(t *testing.T, client *websocket.Conn, event interface{}) {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write event: %v", err)
	}
}

func TestStreamStartEvent(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	sendEvent(t, client, map[string]interface{}{
		"event":    "connected",
		"protocol": "Call",
		"version":  "1.0.0",
	})
	sendEvent(t, client, map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":  "MZ123",
			"accountSid": "AC123",
			"callSid":    "CA123",
			"tracks":     []string{"inbound"},
			"mediaFormat": map[string]interface{}{
				"encoding":   "audio/x-mulaw",
				"sampleRate": 8000,
				"channels":   1,
			},
			"customParameters": map[string]string{"from": "+15550001111"},
		},
	})

	select {
	case info := <-stream.Started():
		if info.CallSID != "CA123" {
			t.Errorf("expected call SID CA123, got %s", info.CallSID)
		}
		if info.StreamSID != "MZ123" {
			t.Errorf("expected stream SID MZ123, got %s", info.StreamSID)
		}
		if info.Format.SampleRate != 8000 {
			t.Errorf("expected sample rate 8000, got %d", info.Format.SampleRate)
		}
		if info.CustomParams["from"] != "+15550001111" {
			t.Errorf("expected custom parameter from, got %v", info.CustomParams)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for start info")
	}
}

func TestStreamMediaDecoded(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	audio := []byte{0x01, 0x02, 0x03, 0x04}
	sendEvent(t, client, map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{
			"chunk":   "7",
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	})

	select {
	case frame := <-stream.Frames():
		if !bytes.Equal(frame.Payload, audio) {
			t.Errorf("expected payload %v, got %v", audio, frame.Payload)
		}
		if frame.Seq != 7 {
			t.Errorf("expected seq 7, got %d", frame.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestStreamMalformedMessageDropped(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	if err := client.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}

	// stream survives and the next valid event still flows
	audio := []byte{0xAA}
	sendEvent(t, client, map[string]interface{}{
		"event": "media",
		"media": map[string]interface{}{
			"payload": base64.StdEncoding.EncodeToString(audio),
		},
	})

	select {
	case frame := <-stream.Frames():
		if !bytes.Equal(frame.Payload, audio) {
			t.Errorf("expected payload %v, got %v", audio, frame.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("stream stopped processing after malformed message")
	}

	select {
	case err := <-stream.Failed():
		t.Fatalf("malformed message should not fail the stream: %v", err)
	default:
	}
}

func TestStreamStopEvent(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	sendEvent(t, client, map[string]interface{}{"event": "stop", "stop": map[string]interface{}{"callSid": "CA123"}})

	select {
	case <-stream.Stopped():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stop")
	}
}

func TestStreamSocketCloseWithoutStopFails(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	client.Close()

	select {
	case err := <-stream.Failed():
		if err == nil {
			t.Error("expected a non-nil failure")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestStreamOutboundMediaAndMark(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	// establish stream SID for outbound framing
	sendEvent(t, client, map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid": "MZ999",
			"callSid":   "CA999",
			"mediaFormat": map[string]interface{}{
				"encoding":   "audio/x-mulaw",
				"sampleRate": 8000,
				"channels":   1,
			},
		},
	})
	<-stream.Started()

	audio := []byte{0x10, 0x20}
	stream.Send(testFrame(audio))
	stream.SendMark("greeting-done")

	var sawMedia, sawMark bool
	deadline := time.Now().Add(2 * time.Second)
	for !(sawMedia && sawMark) && time.Now().Before(deadline) {
		client.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client received invalid json: %v", err)
		}
		switch msg.Event {
		case "media":
			if msg.StreamSID != "MZ999" {
				t.Errorf("expected stream SID MZ999, got %s", msg.StreamSID)
			}
			decoded, _ := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if !bytes.Equal(decoded, audio) {
				t.Errorf("expected audio %v, got %v", audio, decoded)
			}
			sawMedia = true
		case "mark":
			if msg.Mark.Name != "greeting-done" {
				t.Errorf("expected mark greeting-done, got %s", msg.Mark.Name)
			}
			sawMark = true
		}
	}
	if !sawMedia || !sawMark {
		t.Fatalf("expected media and mark on the wire, got media=%v mark=%v", sawMedia, sawMark)
	}
}

func TestStreamClearFlushesQueuedAudio(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	sendEvent(t, client, map[string]interface{}{
		"event": "start",
		"start": map[string]interface{}{
			"streamSid":   "MZ1",
			"callSid":     "CA1",
			"mediaFormat": map[string]interface{}{"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1},
		},
	})
	<-stream.Started()

	stream.Clear()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("client read failed: %v", err)
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client received invalid json: %v", err)
		}
		if msg.Event == "clear" {
			if msg.StreamSID != "MZ1" {
				t.Errorf("expected stream SID MZ1, got %s", msg.StreamSID)
			}
			return
		}
	}
}

func TestStreamMarkAckDelivered(t *testing.T) {
	client, stream, cleanup := startTestStream(t)
	defer cleanup()

	sendEvent(t, client, map[string]interface{}{
		"event": "mark",
		"mark":  map[string]interface{}{"name": "farewell"},
	})

	select {
	case name := <-stream.Marks():
		if name != "farewell" {
			t.Errorf("expected mark farewell, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mark ack")
	}
}
