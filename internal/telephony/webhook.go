package telephony

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/admission"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/types"
)

// TwiML response document
type twimlResponse struct {
	XMLName struct{}      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Reject  *twimlReject  `xml:"Reject,omitempty"`
	Pause   *twimlPause   `xml:"Pause,omitempty"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Value string `xml:",chardata"`
}

type twimlConnect struct {
	Stream *twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlReject struct {
	Reason string `xml:"reason,attr,omitempty"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

// WebhookHandler serves the telephony provider's HTTP callbacks: the voice
// webhook that answers an incoming call and the status callback that reports
// call lifecycle transitions.
type WebhookHandler struct {
	config  *config.Config
	limiter *admission.Limiter
	store   storage.Store
	logger  zerolog.Logger
}

// NewWebhookHandler creates a webhook handler
func NewWebhookHandler(cfg *config.Config, limiter *admission.Limiter, store storage.Store, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		config:  cfg,
		limiter: limiter,
		store:   store,
		logger:  logger.With().Str("component", "webhook").Logger(),
	}
}

// HandleVoice answers the provider's incoming-call webhook. An admitted call
// gets a stream-connect document pointing at the media websocket; a rejected
// call gets 429 with Retry-After so the provider can fail fast.
func (h *WebhookHandler) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Error().Err(err).Msg("failed to parse voice webhook form")
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	callSID := r.PostFormValue("CallSid")
	from := r.PostFormValue("From")
	to := r.PostFormValue("To")

	if callSID == "" || from == "" {
		http.Error(w, "missing CallSid or From", http.StatusBadRequest)
		return
	}

	decision := h.limiter.Allow(from)
	if !decision.Allowed {
		metrics.Get().RecordCallRejected()
		h.logger.Warn().
			Str("call_sid", callSID).
			Str("from", from).
			Str("reason", decision.Reason).
			Dur("retry_after", decision.RetryAfter).
			Msg("call rejected by admission control")

		w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusTooManyRequests)
		writeTwiML(w, &twimlResponse{Reject: &twimlReject{Reason: "busy"}})
		return
	}

	session := types.CallSession{
		CallSID:   callSID,
		ClinicID:  h.config.ClinicID,
		From:      from,
		To:        to,
		Direction: types.DirectionInbound,
		Status:    types.CallStatusRinging,
		StartTime: time.Now(),
	}
	if err := h.store.SaveCallSession(r.Context(), session); err != nil {
		// answer the call anyway, persistence failures must not drop callers
		h.logger.Error().Err(err).Str("call_sid", callSID).Msg("failed to persist call session")
	}

	h.logger.Info().Str("call_sid", callSID).Str("from", from).Msg("answering incoming call")

	w.Header().Set("Content-Type", "application/xml")
	writeTwiML(w, &twimlResponse{
		Connect: &twimlConnect{
			Stream: &twimlStream{
				URL: h.streamURL(),
				Parameters: []twimlParameter{
					{Name: "from", Value: from},
					{Name: "to", Value: to},
				},
			},
		},
	})
}

// HandleStatus processes the provider's call status callback and finalizes
// the stored call session.
func (h *WebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	callSID := r.PostFormValue("CallSid")
	callStatus := r.PostFormValue("CallStatus")
	if callSID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	h.logger.Info().Str("call_sid", callSID).Str("status", callStatus).Msg("call status update")

	session, err := h.store.GetCallSession(r.Context(), callSID)
	if err != nil {
		if err == storage.ErrNotFound {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error().Err(err).Str("call_sid", callSID).Msg("failed to load call session")
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	switch callStatus {
	case "in-progress", "answered":
		session.Status = types.CallStatusInProgress
	case "completed":
		session.Status = types.CallStatusCompleted
		session.EndTime = &now
	case "failed", "busy", "canceled":
		session.Status = types.CallStatusFailed
		session.EndTime = &now
	case "no-answer":
		session.Status = types.CallStatusNoAnswer
		session.EndTime = &now
	default:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.store.SaveCallSession(r.Context(), *session); err != nil {
		h.logger.Error().Err(err).Str("call_sid", callSID).Msg("failed to update call session")
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// streamURL derives the websocket endpoint the provider should connect its
// media stream to from the public base URL.
func (h *WebhookHandler) streamURL() string {
	base := h.config.PublicBaseURL
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return fmt.Sprintf("%s/telephony/stream", strings.TrimSuffix(base, "/"))
}

func writeTwiML(w http.ResponseWriter, doc *twimlResponse) {
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(doc)
	w.Write([]byte("\n"))
}
