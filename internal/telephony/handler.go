package telephony

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The media stream endpoint is dialed by the telephony provider's
		// servers, not browsers, so origin checking does not apply here.
		return true
	},
}

// StreamAttacher is whatever takes ownership of a freshly accepted media
// stream. The bridge runner implements this.
type StreamAttacher interface {
	Attach(stream *StreamConn)
}

// StreamHandler handles media-stream websocket upgrade requests
type StreamHandler struct {
	attacher StreamAttacher
	config   *config.Config
	logger   zerolog.Logger
}

// NewStreamHandler creates a new media-stream websocket handler
func NewStreamHandler(attacher StreamAttacher, cfg *config.Config, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		attacher: attacher,
		config:   cfg,
		logger:   logger,
	}
}

// ServeHTTP upgrades the connection and hands the stream to the attacher
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade media stream connection")
		return
	}

	stream := NewStreamConn(conn, h.config, h.logger.With().Str("component", "media_stream").Logger())
	stream.Start()
	h.attacher.Attach(stream)
}
