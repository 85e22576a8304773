package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// callsim pretends to be the telephony provider's media stream. It dials the
// server's stream endpoint, plays a caller into it as mulaw silence frames and
// echoes marks back after a short playback delay so drains complete.

const (
	frameInterval = 20 * time.Millisecond
	frameBytes    = 160 // 20ms of 8kHz mulaw
	playbackDelay = 200 * time.Millisecond
)

type streamEvent struct {
	Event     string          `json:"event"`
	Protocol  string          `json:"protocol,omitempty"`
	Version   string          `json:"version,omitempty"`
	StreamSID string          `json:"streamSid,omitempty"`
	Start     json.RawMessage `json:"start,omitempty"`
	Media     *mediaEvent     `json:"media,omitempty"`
	Mark      *markEvent      `json:"mark,omitempty"`
	Stop      json.RawMessage `json:"stop,omitempty"`
}

type mediaEvent struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type markEvent struct {
	Name string `json:"name"`
}

type caller struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	streamSID string
	callSID   string
	logger    zerolog.Logger

	framesOut atomic.Uint64
	framesIn  atomic.Uint64
	marksIn   atomic.Uint64
	clears    atomic.Uint64
}

func main() {
	var (
		serverURL = flag.String("url", "ws://localhost:8080/telephony/stream", "Media stream endpoint")
		from      = flag.String("from", "+15550001000", "Caller number")
		to        = flag.String("to", "+15550002000", "Called number")
		duration  = flag.Duration("duration", 20*time.Second, "How long the call stays up")
		logLevel  = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Str("service", "callsim").
		Logger()

	c := &caller{
		streamSID: "MZ" + uuid.New().String(),
		callSID:   "CA" + uuid.New().String(),
		logger:    logger,
	}

	logger.Info().
		Str("url", *serverURL).
		Str("call_sid", c.callSID).
		Dur("duration", *duration).
		Msg("dialing media stream")

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect")
	}
	c.conn = conn
	defer conn.Close()

	if err := c.openStream(*from, *to); err != nil {
		logger.Fatal().Err(err).Msg("failed to open stream")
	}

	done := make(chan struct{})
	go c.readLoop(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	hangup := time.After(*duration)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	start := time.Now()
loop:
	for {
		select {
		case <-ticker.C:
			if err := c.sendMediaFrame(time.Since(start)); err != nil {
				logger.Error().Err(err).Msg("media send failed")
				break loop
			}
		case <-hangup:
			logger.Info().Msg("call duration reached, hanging up")
			break loop
		case <-sigChan:
			logger.Info().Msg("interrupted, hanging up")
			break loop
		case <-done:
			logger.Warn().Msg("server closed the stream")
			break loop
		}
	}

	c.sendStop()
	conn.Close()
	<-done

	logger.Info().
		Uint64("frames_sent", c.framesOut.Load()).
		Uint64("frames_received", c.framesIn.Load()).
		Uint64("marks_received", c.marksIn.Load()).
		Uint64("clears_received", c.clears.Load()).
		Msg("call finished")
}

// writeJSON serializes writes, the mark echo goroutine shares the socket
// with the media ticker.
func (c *caller) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *caller) openStream(from, to string) error {
	connected := streamEvent{Event: "connected", Protocol: "Call", Version: "1.0.0"}
	if err := c.writeJSON(connected); err != nil {
		return fmt.Errorf("connected event: %w", err)
	}

	start := map[string]interface{}{
		"event":     "start",
		"streamSid": c.streamSID,
		"start": map[string]interface{}{
			"streamSid":  c.streamSID,
			"callSid":    c.callSID,
			"accountSid": "AC" + uuid.New().String(),
			"tracks":     []string{"inbound"},
			"mediaFormat": map[string]interface{}{
				"encoding":   "audio/x-mulaw",
				"sampleRate": 8000,
				"channels":   1,
			},
			"customParameters": map[string]string{
				"from": from,
				"to":   to,
			},
		},
	}
	if err := c.writeJSON(start); err != nil {
		return fmt.Errorf("start event: %w", err)
	}
	return nil
}

func (c *caller) sendMediaFrame(elapsed time.Duration) error {
	// mulaw silence
	payload := make([]byte, frameBytes)
	for i := range payload {
		payload[i] = 0xFF
	}

	chunk := c.framesOut.Add(1)
	msg := streamEvent{
		Event:     "media",
		StreamSID: c.streamSID,
		Media: &mediaEvent{
			Track:     "inbound",
			Chunk:     strconv.FormatUint(chunk, 10),
			Timestamp: strconv.FormatInt(elapsed.Milliseconds(), 10),
			Payload:   base64.StdEncoding.EncodeToString(payload),
		},
	}
	return c.writeJSON(msg)
}

func (c *caller) sendStop() {
	msg := streamEvent{
		Event:     "stop",
		StreamSID: c.streamSID,
		Stop:      json.RawMessage(fmt.Sprintf(`{"callSid":%q}`, c.callSID)),
	}
	if err := c.writeJSON(msg); err != nil {
		c.logger.Debug().Err(err).Msg("stop event not delivered")
	}
}

func (c *caller) readLoop(done chan struct{}) {
	defer close(done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg streamEvent
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("unparseable server message")
			continue
		}
		switch msg.Event {
		case "media":
			c.framesIn.Add(1)
		case "mark":
			if msg.Mark == nil {
				continue
			}
			c.marksIn.Add(1)
			c.logger.Debug().Str("mark", msg.Mark.Name).Msg("mark received, echoing after playback")
			go c.echoMark(msg.Mark.Name)
		case "clear":
			c.clears.Add(1)
			c.logger.Info().Msg("clear received, dropping buffered playback")
		default:
			c.logger.Debug().Str("event", msg.Event).Msg("ignoring server event")
		}
	}
}

// echoMark simulates playback completing before the provider acknowledges the
// mark back to the server.
func (c *caller) echoMark(name string) {
	time.Sleep(playbackDelay)
	msg := streamEvent{
		Event:     "mark",
		StreamSID: c.streamSID,
		Mark:      &markEvent{Name: name},
	}
	if err := c.writeJSON(msg); err != nil {
		c.logger.Debug().Err(err).Str("mark", name).Msg("mark echo failed")
	}
}
