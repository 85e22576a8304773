package agent

// Voice-agent wire messages. The handshake and events are JSON text frames;
// caller audio flows upstream as binary frames.

// settingsMessage is the configuration handshake sent immediately after dial
type settingsMessage struct {
	Type    string          `json:"type"`
	Audio   audioSettings   `json:"audio"`
	Agent   agentSettings   `json:"agent"`
	Context contextSettings `json:"context"`
}

type audioSettings struct {
	Input  audioFormat `json:"input"`
	Output audioFormat `json:"output"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type agentSettings struct {
	Listen listenSettings `json:"listen"`
	Think  thinkSettings  `json:"think"`
	Speak  speakSettings  `json:"speak"`
}

type listenSettings struct {
	Model string `json:"model"`
}

type thinkSettings struct {
	Provider     thinkProvider `json:"provider"`
	Instructions string        `json:"instructions"`
}

type thinkProvider struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type speakSettings struct {
	Model string `json:"model"`
}

type contextSettings struct {
	Messages []contextMessage `json:"messages"`
	Replay   bool             `json:"replay"`
}

type contextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// eventMessage is the envelope for all inbound JSON events
type eventMessage struct {
	Type        string         `json:"type"`
	Channel     *resultChannel `json:"channel,omitempty"`
	IsFinal     bool           `json:"is_final,omitempty"`
	Text        string         `json:"text,omitempty"`
	Data        string         `json:"data,omitempty"` // base64 audio
	Message     string         `json:"message,omitempty"`
	Description string         `json:"description,omitempty"`
}

type resultChannel struct {
	Alternatives []resultAlternative `json:"alternatives"`
}

type resultAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Transcript is one speech recognition result from the agent's listener
type Transcript struct {
	Text       string
	Confidence float64
	IsFinal    bool
}
