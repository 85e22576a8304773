package agent

import (
	"bytes"
	"context"
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

var testUpgrader = websocket.Upgrader{}

func testFrame(payload []byte) types.AudioFrame {
	return types.AudioFrame{Payload: payload, Timestamp: time.Now()}
}

// fakeAgentServer runs a websocket endpoint that acks the settings handshake
// and then executes the given script against the connection.
func fakeAgentServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}

		// first message must be the settings handshake
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var settings settingsMessage
		if err := json.Unmarshal(raw, &settings); err != nil {
			t.Errorf("settings message is not valid json: %v", err)
			return
		}
		if settings.Type != "SettingsConfiguration" {
			t.Errorf("expected SettingsConfiguration, got %s", settings.Type)
		}

		ack, _ := json.Marshal(map[string]string{"type": "SettingsApplied"})
		conn.WriteMessage(websocket.TextMessage, ack)

		if script != nil {
			script(conn)
		}
	}))
}

func dialFakeAgent(t *testing.T, srv *httptest.Server) *Conn {
	t.Helper()
	cfg := &config.Config{
		AgentURL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		AgentModel:    "gpt-4o-mini",
		AudioEncoding: "mulaw",
		SampleRate:    8000,
		SystemPrompt:  "You are a receptionist.",
		Greeting:      "Hello!",
	}
	c := NewConn(cfg, zerolog.New(&bytes.Buffer{}))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return c
}

func waitReady(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Ready():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for settings acknowledgement")
	}
}

func TestConnHandshake(t *testing.T) {
	srv := fakeAgentServer(t, nil)
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()

	waitReady(t, c)
}

func TestConnTranscriptEvents(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		partial, _ := json.Marshal(map[string]interface{}{
			"type":     "Results",
			"is_final": false,
			"channel": map[string]interface{}{
				"alternatives": []map[string]interface{}{
					{"transcript": "I need an app", "confidence": 0.62},
				},
			},
		})
		conn.WriteMessage(websocket.TextMessage, partial)

		final, _ := json.Marshal(map[string]interface{}{
			"type":     "Results",
			"is_final": true,
			"channel": map[string]interface{}{
				"alternatives": []map[string]interface{}{
					{"transcript": "I need an appointment", "confidence": 0.95},
				},
			},
		})
		conn.WriteMessage(websocket.TextMessage, final)
	})
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()
	waitReady(t, c)

	first := <-c.Transcripts()
	if first.IsFinal {
		t.Error("first transcript should be partial")
	}
	second := <-c.Transcripts()
	if !second.IsFinal {
		t.Error("second transcript should be final")
	}
	if second.Text != "I need an appointment" {
		t.Errorf("unexpected transcript: %s", second.Text)
	}
	if second.Confidence != 0.95 {
		t.Errorf("unexpected confidence: %f", second.Confidence)
	}
}

func TestConnAgentTextAndAudio(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		text, _ := json.Marshal(map[string]string{
			"type": "agent_response",
			"text": "We have Tuesday at 3pm open.",
		})
		conn.WriteMessage(websocket.TextMessage, text)

		encoded, _ := json.Marshal(map[string]string{
			"type": "audio",
			"data": base64.StdEncoding.EncodeToString(audio),
		})
		conn.WriteMessage(websocket.TextMessage, encoded)

		// binary frames are the other delivery path for agent speech
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x09})
	})
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()
	waitReady(t, c)

	select {
	case text := <-c.AgentText():
		if text != "We have Tuesday at 3pm open." {
			t.Errorf("unexpected agent text: %s", text)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for agent text")
	}

	frame := <-c.AgentAudio()
	if !bytes.Equal(frame.Payload, audio) {
		t.Errorf("expected decoded audio %v, got %v", audio, frame.Payload)
	}
	binary := <-c.AgentAudio()
	if !bytes.Equal(binary.Payload, []byte{0x09}) {
		t.Errorf("expected binary audio, got %v", binary.Payload)
	}
	if binary.Seq <= frame.Seq {
		t.Errorf("expected increasing sequence numbers, got %d then %d", frame.Seq, binary.Seq)
	}
}

func TestConnCallerAudioForwardedAsBinary(t *testing.T) {
	received := make(chan []byte, 1)
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			t.Errorf("expected binary message, got type %d", msgType)
		}
		received <- data
	})
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()
	waitReady(t, c)

	c.SendAudio(testFrame([]byte{0xAA, 0xBB}))

	select {
	case data := <-received:
		if !bytes.Equal(data, []byte{0xAA, 0xBB}) {
			t.Errorf("unexpected audio forwarded: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded audio")
	}
}

func TestConnErrorEventIsFatal(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		errEvent, _ := json.Marshal(map[string]string{
			"type":    "Error",
			"message": "model overloaded",
		})
		conn.WriteMessage(websocket.TextMessage, errEvent)
	})
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()
	waitReady(t, c)

	select {
	case err := <-c.Failed():
		if err == nil || !strings.Contains(err.Error(), "model overloaded") {
			t.Errorf("expected agent error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}

func TestConnSocketCloseIsFatal(t *testing.T) {
	srv := fakeAgentServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})
	defer srv.Close()

	c := dialFakeAgent(t, srv)
	defer c.Close()
	waitReady(t, c)

	select {
	case err := <-c.Failed():
		if err == nil {
			t.Error("expected non-nil failure")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}
