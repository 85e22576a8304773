package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/types"
)

// outbound control verbs multiplexed onto the single writer goroutine
type outboundKind int

const (
	outMedia outboundKind = iota
	outMark
	outClear
)

type outboundMsg struct {
	kind    outboundKind
	payload []byte // encoded audio for outMedia
	mark    string // mark name for outMark
}

// StreamConn wraps one telephony media-stream websocket. All reads happen on
// readPump and all writes happen on writePump, so callers interact only
// through channels and the enqueue methods.
type StreamConn struct {
	conn   *websocket.Conn
	config *config.Config
	logger zerolog.Logger

	send chan outboundMsg

	started chan StartInfo
	frames  chan types.AudioFrame
	marks   chan string
	stopped chan struct{}
	failed  chan error

	streamSID string
	seq       uint64

	closeOnce sync.Once
	stopOnce  sync.Once
	failOnce  sync.Once
}

// NewStreamConn creates a StreamConn over an upgraded websocket connection
func NewStreamConn(conn *websocket.Conn, cfg *config.Config, logger zerolog.Logger) *StreamConn {
	return &StreamConn{
		conn:    conn,
		config:  cfg,
		logger:  logger,
		send:    make(chan outboundMsg, 256),
		started: make(chan StartInfo, 1),
		frames:  make(chan types.AudioFrame, 256),
		marks:   make(chan string, 16),
		stopped: make(chan struct{}),
		failed:  make(chan error, 1),
	}
}

// Start starts the stream's read and write pumps
func (s *StreamConn) Start() {
	go s.writePump()
	go s.readPump()
}

// Started delivers the stream's start event once the far end sends it
func (s *StreamConn) Started() <-chan StartInfo { return s.started }

// Frames delivers decoded inbound caller audio
func (s *StreamConn) Frames() <-chan types.AudioFrame { return s.frames }

// Marks delivers playback acknowledgements for marks sent with SendMark
func (s *StreamConn) Marks() <-chan string { return s.marks }

// Stopped is closed when the far end ends the stream cleanly
func (s *StreamConn) Stopped() <-chan struct{} { return s.stopped }

// Failed delivers at most one transport error. A socket that closes without
// a stop event counts as a failure.
func (s *StreamConn) Failed() <-chan error { return s.failed }

// Send enqueues an audio frame for the caller. Frames are dropped with a
// warning when the writer is backed up, matching telephony's real-time
// delivery model where stale audio is worse than missing audio.
func (s *StreamConn) Send(frame types.AudioFrame) {
	select {
	case s.send <- outboundMsg{kind: outMedia, payload: frame.Payload}:
	default:
		s.logger.Warn().Int("queue_size", len(s.send)).Msg("outbound audio queue full, dropping frame")
	}
}

// SendMark enqueues a mark after previously sent audio. The far end echoes
// it back once playback of everything before the mark has finished.
func (s *StreamConn) SendMark(name string) {
	select {
	case s.send <- outboundMsg{kind: outMark, mark: name}:
	default:
		s.logger.Warn().Str("mark", name).Msg("outbound queue full, dropping mark")
	}
}

// Clear tells the far end to discard all buffered, not-yet-played audio.
// Used for barge-in so the caller stops hearing the stale response.
func (s *StreamConn) Clear() {
	// drain queued audio first so the flush is not immediately refilled
	for {
		select {
		case <-s.send:
		default:
			select {
			case s.send <- outboundMsg{kind: outClear}:
			default:
				s.logger.Warn().Msg("outbound queue full, dropping clear")
			}
			return
		}
	}
}

// Close tears down the websocket connection
func (s *StreamConn) Close() {
	s.closeOnce.Do(func() {
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(s.config.WriteWait))
		s.conn.Close()
	})
}

func (s *StreamConn) markStopped() {
	s.stopOnce.Do(func() { close(s.stopped) })
}

func (s *StreamConn) fail(err error) {
	s.failOnce.Do(func() {
		select {
		case s.failed <- err:
		default:
		}
	})
}

// readPump pumps messages from the websocket connection to the event channels
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (s *StreamConn) readPump() {
	defer func() {
		s.conn.Close()
		close(s.frames)
	}()

	s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopped:
				// clean stop already seen, socket close is expected
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					s.logger.Error().Err(err).Msg("media stream read error")
				}
				s.fail(fmt.Errorf("media stream closed without stop event: %w", err))
			}
			return
		}

		var msg streamMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed media stream message")
			continue
		}
		s.handleEvent(&msg)
	}
}

func (s *StreamConn) handleEvent(msg *streamMessage) {
	switch msg.Event {
	case "connected":
		s.logger.Debug().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("media stream connected")

	case "start":
		if msg.Start == nil {
			s.logger.Warn().Msg("start event without start payload")
			return
		}
		s.streamSID = msg.Start.StreamSID
		s.logger = s.logger.With().Str("call_sid", msg.Start.CallSID).Str("stream_sid", msg.Start.StreamSID).Logger()
		s.logger.Info().Str("encoding", msg.Start.MediaFormat.Encoding).Int("sample_rate", msg.Start.MediaFormat.SampleRate).Msg("media stream started")
		select {
		case s.started <- StartInfo{
			StreamSID:    msg.Start.StreamSID,
			CallSID:      msg.Start.CallSID,
			AccountSID:   msg.Start.AccountSID,
			Format:       msg.Start.MediaFormat,
			CustomParams: msg.Start.CustomParams,
		}:
		default:
			s.logger.Warn().Msg("duplicate start event ignored")
		}

	case "media":
		if msg.Media == nil {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping media with invalid base64 payload")
			return
		}
		s.seq++
		seq := s.seq
		if msg.Media.Chunk != "" {
			if n, err := strconv.ParseUint(msg.Media.Chunk, 10, 64); err == nil {
				seq = n
			}
		}
		frame := types.AudioFrame{
			Seq:       seq,
			Timestamp: time.Now(),
			Payload:   audio,
		}
		select {
		case s.frames <- frame:
		default:
			s.logger.Warn().Uint64("seq", seq).Msg("inbound frame buffer full, dropping frame")
		}

	case "mark":
		if msg.Mark == nil {
			return
		}
		select {
		case s.marks <- msg.Mark.Name:
		default:
			s.logger.Warn().Str("mark", msg.Mark.Name).Msg("mark buffer full, dropping ack")
		}

	case "stop":
		s.logger.Info().Msg("media stream stopped")
		s.markStopped()

	default:
		s.logger.Debug().Str("event", msg.Event).Msg("ignoring unknown media stream event")
	}
}

// writePump pumps queued outbound messages to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (s *StreamConn) writePump() {
	ticker := time.NewTicker(s.config.PingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			data, err := s.encodeOutbound(msg)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to encode outbound message")
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.stopped:
			return
		}
	}
}

func (s *StreamConn) encodeOutbound(msg outboundMsg) ([]byte, error) {
	switch msg.kind {
	case outMedia:
		return json.Marshal(streamMessage{
			Event:     "media",
			StreamSID: s.streamSID,
			Media:     &mediaPayload{Payload: base64.StdEncoding.EncodeToString(msg.payload)},
		})
	case outMark:
		return json.Marshal(streamMessage{
			Event:     "mark",
			StreamSID: s.streamSID,
			Mark:      &markPayload{Name: msg.mark},
		})
	case outClear:
		return json.Marshal(streamMessage{
			Event:     "clear",
			StreamSID: s.streamSID,
		})
	default:
		return nil, fmt.Errorf("unknown outbound message kind %d", msg.kind)
	}
}
