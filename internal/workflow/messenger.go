package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/jmaddux/frontdesk/internal/config"
)

// Messenger delivers one outbound text message to a caller
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// LogMessenger records sends in the log instead of delivering them. Used in
// sandbox mode and whenever no SMS credentials are configured.
type LogMessenger struct {
	logger zerolog.Logger
}

// NewLogMessenger creates a log-backed messenger
func NewLogMessenger(logger zerolog.Logger) *LogMessenger {
	return &LogMessenger{logger: logger.With().Str("component", "messenger").Logger()}
}

// Send logs the message and reports success
func (m *LogMessenger) Send(_ context.Context, to, body string) error {
	m.logger.Info().Str("to", to).Str("body", body).Msg("sandbox mode, message logged but not sent")
	return nil
}

// TwilioMessenger sends SMS through the telephony provider
type TwilioMessenger struct {
	client *twilio.RestClient
	from   string
	logger zerolog.Logger
}

// NewTwilioMessenger creates an SMS messenger using the provider credentials
func NewTwilioMessenger(cfg *config.Config, logger zerolog.Logger) *TwilioMessenger {
	return &TwilioMessenger{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioSID,
			Password: cfg.TwilioToken,
		}),
		from:   cfg.TwilioFrom,
		logger: logger.With().Str("component", "messenger").Logger(),
	}
}

// Send delivers one SMS
func (m *TwilioMessenger) Send(_ context.Context, to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(m.from)
	params.SetBody(body)

	resp, err := m.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	m.logger.Info().Str("to", to).Str("message_sid", sid).Msg("message sent")
	return nil
}

// NewMessenger picks the messenger matching the telephony mode
func NewMessenger(cfg *config.Config, logger zerolog.Logger) Messenger {
	if cfg.TelephonyMode == config.ModeLive && cfg.TwilioSID != "" {
		return NewTwilioMessenger(cfg, logger)
	}
	return NewLogMessenger(logger)
}
