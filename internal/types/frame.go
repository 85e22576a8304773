package types

import "time"

// AudioFrame is one opaque chunk of encoded audio. Frames are immutable once
// produced; ownership passes from the producing adapter through the bridge to
// the consuming adapter, never aliased.
type AudioFrame struct {
	Seq        uint64
	Timestamp  time.Time
	Encoding   string
	SampleRate int
	Payload    []byte
}

// MediaFormat is the audio format negotiated on the telephony stream
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}
