package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/rs/zerolog"
)

// ErrConsentRequired is returned when a live outbound call is attempted for a
// number with no stored affirmative consent. It is a distinct condition from
// rate rejection and is never downgraded to a retry.
var ErrConsentRequired = errors.New("recipient has not consented to calls")

// ErrRejected marks a rate-limit rejection of an outbound attempt
var ErrRejected = errors.New("admission rejected")

// ConsentStore is the narrow persistence surface the gate depends on
type ConsentStore interface {
	HasConsent(ctx context.Context, number string) (bool, error)
}

// Gate enforces the regulatory consent requirement for placing live calls
// over the public telephone network. In sandbox mode no consent is required.
type Gate struct {
	mode   config.TelephonyMode
	store  ConsentStore
	logger zerolog.Logger
}

// NewGate creates a consent gate for the given telephony mode
func NewGate(mode config.TelephonyMode, store ConsentStore, logger zerolog.Logger) *Gate {
	return &Gate{mode: mode, store: store, logger: logger}
}

// Authorize returns nil if a call to number may be placed. In live mode the
// number must carry a stored affirmative consent flag.
func (g *Gate) Authorize(ctx context.Context, number string) error {
	if g.mode == config.ModeSandbox {
		return nil
	}

	ok, err := g.store.HasConsent(ctx, number)
	if err != nil {
		return fmt.Errorf("consent lookup for %s: %w", number, err)
	}
	if !ok {
		g.logger.Warn().Str("number", number).Msg("call blocked: no stored consent")
		return ErrConsentRequired
	}
	return nil
}
