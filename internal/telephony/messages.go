package telephony

import "github.com/jmaddux/frontdesk/internal/types"

// Media-stream wire messages. One JSON text frame per event; audio payloads
// are base64 inside the media event.
type streamMessage struct {
	Event     string        `json:"event"`
	Protocol  string        `json:"protocol,omitempty"`
	Version   string        `json:"version,omitempty"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Mark      *markPayload  `json:"mark,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  types.MediaFormat `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64 encoded audio
}

type markPayload struct {
	Name string `json:"name"`
}

type stopPayload struct {
	AccountSID string `json:"accountSid,omitempty"`
	CallSID    string `json:"callSid,omitempty"`
}

// StartInfo is what the bridge needs from the stream's start event
type StartInfo struct {
	StreamSID    string
	CallSID      string
	AccountSID   string
	Format       types.MediaFormat
	CustomParams map[string]string
}
