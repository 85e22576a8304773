package telephony

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/jmaddux/frontdesk/internal/admission"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
)

// Dialer places outbound calls. Every outbound call passes the consent gate
// and the rate limiter before any provider API is touched.
type Dialer struct {
	config  *config.Config
	gate    *admission.Gate
	limiter *admission.Limiter
	client  *twilio.RestClient
	logger  zerolog.Logger
}

// NewDialer creates a dialer. In sandbox mode no provider client is built
// and Dial logs the call instead of placing it.
func NewDialer(cfg *config.Config, gate *admission.Gate, limiter *admission.Limiter, logger zerolog.Logger) *Dialer {
	d := &Dialer{
		config:  cfg,
		gate:    gate,
		limiter: limiter,
		logger:  logger.With().Str("component", "dialer").Logger(),
	}
	if cfg.TelephonyMode == config.ModeLive {
		d.client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioSID,
			Password: cfg.TwilioToken,
		})
	}
	return d
}

// Dial places an outbound call to the given number and returns the call SID.
// The callee is answered through the same voice webhook as inbound calls, so
// the media stream and bridge path is identical in both directions.
func (d *Dialer) Dial(ctx context.Context, to string) (string, error) {
	if err := d.gate.Authorize(ctx, to); err != nil {
		metrics.Get().RecordConsentDenied()
		return "", err
	}

	decision := d.limiter.Allow(to)
	if !decision.Allowed {
		metrics.Get().RecordCallRejected()
		return "", fmt.Errorf("%w: %s (retry after %s)", admission.ErrRejected, decision.Reason, decision.RetryAfter)
	}

	if d.config.TelephonyMode == config.ModeSandbox {
		sid := "CA" + uuid.New().String()
		d.logger.Info().Str("to", to).Str("call_sid", sid).Msg("sandbox mode, outbound call logged but not placed")
		return sid, nil
	}

	voiceURL := d.config.PublicBaseURL + "/telephony/voice"
	statusURL := d.config.PublicBaseURL + "/telephony/status"

	params := &twilioapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.config.TwilioFrom)
	params.SetUrl(voiceURL)
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackEvent([]string{"answered", "completed"})

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to place outbound call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("provider returned call without SID")
	}

	d.logger.Info().Str("to", to).Str("call_sid", *resp.Sid).Msg("outbound call placed")
	return *resp.Sid, nil
}
