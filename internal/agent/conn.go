package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/types"
)

const writeTimeout = 10 * time.Second

// Conn manages the voice-agent WebSocket for a single call. There is no
// mid-call reconnect: a voice call cannot be silently resumed, so any
// transport failure is surfaced once on Failed and the connection is done.
type Conn struct {
	config *config.Config
	conn   *websocket.Conn
	logger zerolog.Logger

	send chan []byte // binary caller audio

	ready       chan struct{}
	transcripts chan Transcript
	agentText   chan string
	agentAudio  chan types.AudioFrame
	failed      chan error

	seq uint64

	mu        sync.Mutex
	connected bool
	closed    bool

	readyOnce sync.Once
	failOnce  sync.Once
}

// NewConn creates an unconnected voice-agent connection
func NewConn(cfg *config.Config, logger zerolog.Logger) *Conn {
	return &Conn{
		config:      cfg,
		logger:      logger.With().Str("component", "agent_conn").Logger(),
		send:        make(chan []byte, 256),
		ready:       make(chan struct{}),
		transcripts: make(chan Transcript, 32),
		agentText:   make(chan string, 16),
		agentAudio:  make(chan types.AudioFrame, 256),
		failed:      make(chan error, 1),
	}
}

// Ready is closed once the agent has acknowledged the settings handshake
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// Transcripts delivers speech recognition results for the caller's audio
func (c *Conn) Transcripts() <-chan Transcript { return c.transcripts }

// AgentText delivers the agent's textual responses
func (c *Conn) AgentText() <-chan string { return c.agentText }

// AgentAudio delivers the agent's synthesized speech for playback
func (c *Conn) AgentAudio() <-chan types.AudioFrame { return c.agentAudio }

// Failed delivers at most one fatal transport or protocol-level agent error
func (c *Conn) Failed() <-chan error { return c.failed }

// Connect dials the agent endpoint, sends the settings handshake and starts
// the read and write loops. The settings acknowledgement arrives
// asynchronously on Ready.
func (c *Conn) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.config.AgentAPIKey != "" {
		header.Set("Authorization", "Token "+c.config.AgentAPIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.AgentURL, header)
	if err != nil {
		return fmt.Errorf("failed to dial voice agent: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.sendSettings(); err != nil {
		c.Close()
		return err
	}

	go c.readLoop()
	go c.writeLoop(ctx)

	c.logger.Debug().Str("url", c.config.AgentURL).Msg("voice agent connected")
	return nil
}

// SendAudio enqueues a caller audio frame for the agent. Frames are dropped
// with a warning when the writer is backed up.
func (c *Conn) SendAudio(frame types.AudioFrame) {
	select {
	case c.send <- frame.Payload:
	default:
		c.logger.Warn().Uint64("seq", frame.Seq).Msg("agent send buffer full, dropping frame")
	}
}

// Close permanently closes the connection
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		c.conn.Close()
	}
	c.connected = false
}

func (c *Conn) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Conn) fail(err error) {
	c.failOnce.Do(func() {
		metrics.Get().RecordAgentError()
		select {
		case c.failed <- err:
		default:
		}
	})
}

func (c *Conn) sendSettings() error {
	settings := settingsMessage{
		Type: "SettingsConfiguration",
		Audio: audioSettings{
			Input:  audioFormat{Encoding: c.config.AudioEncoding, SampleRate: c.config.SampleRate},
			Output: audioFormat{Encoding: c.config.AudioEncoding, SampleRate: c.config.SampleRate},
		},
		Agent: agentSettings{
			Listen: listenSettings{Model: "nova-2"},
			Think: thinkSettings{
				Provider:     thinkProvider{Type: "open_ai", Model: c.config.AgentModel},
				Instructions: c.config.SystemPrompt,
			},
			Speak: speakSettings{Model: "aura-asteria-en"},
		},
		Context: contextSettings{
			Messages: []contextMessage{{Role: "assistant", Content: c.config.Greeting}},
			Replay:   true,
		},
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return c.writeMessage(websocket.TextMessage, data)
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.transcripts)
		close(c.agentAudio)
	}()

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.fail(fmt.Errorf("voice agent connection lost: %w", err))
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			c.deliverAudio(message)
			continue
		}
		c.handleEvent(message)
	}
}

func (c *Conn) handleEvent(message []byte) {
	var event eventMessage
	if err := json.Unmarshal(message, &event); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed agent event")
		return
	}

	switch event.Type {
	case "SettingsApplied", "Welcome":
		c.logger.Debug().Str("type", event.Type).Msg("agent handshake acknowledged")
		c.markReady()

	case "Results":
		if event.Channel == nil || len(event.Channel.Alternatives) == 0 {
			return
		}
		alt := event.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}
		t := Transcript{Text: alt.Transcript, Confidence: alt.Confidence, IsFinal: event.IsFinal}
		select {
		case c.transcripts <- t:
		default:
			c.logger.Warn().Msg("transcript buffer full, dropping result")
		}

	case "agent_response":
		if event.Text == "" {
			return
		}
		select {
		case c.agentText <- event.Text:
		default:
			c.logger.Warn().Msg("agent text buffer full, dropping response")
		}

	case "audio":
		audio, err := base64.StdEncoding.DecodeString(event.Data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping agent audio with invalid base64")
			return
		}
		c.deliverAudio(audio)

	case "Error":
		msg := event.Message
		if msg == "" {
			msg = event.Description
		}
		c.fail(fmt.Errorf("voice agent error: %s", msg))

	default:
		c.logger.Debug().Str("type", event.Type).Msg("ignoring unknown agent event")
	}
}

func (c *Conn) deliverAudio(audio []byte) {
	c.seq++
	frame := types.AudioFrame{
		Seq:        c.seq,
		Timestamp:  time.Now(),
		Encoding:   c.config.AudioEncoding,
		SampleRate: c.config.SampleRate,
		Payload:    audio,
	}
	select {
	case c.agentAudio <- frame:
	default:
		c.logger.Warn().Uint64("seq", frame.Seq).Msg("agent audio buffer full, dropping frame")
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case audio := <-c.send:
			if err := c.writeMessage(websocket.BinaryMessage, audio); err != nil {
				c.logger.Debug().Err(err).Msg("agent write error")
				return
			}
		}
	}
}

func (c *Conn) writeMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.connected {
		return fmt.Errorf("voice agent not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}
