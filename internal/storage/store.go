package storage

import (
	"context"
	"errors"

	"github.com/jmaddux/frontdesk/internal/types"
)

// ErrAlreadyDispatched is returned by ClaimAction when another run has
// already claimed the same call/action pair.
var ErrAlreadyDispatched = errors.New("action already dispatched for this call")

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store defines the storage interface
type Store interface {
	SaveCallSession(ctx context.Context, session types.CallSession) error
	GetCallSession(ctx context.Context, callSID string) (*types.CallSession, error)
	ListCallSessions(ctx context.Context, dateKey string) ([]types.CallSession, error)

	SaveWorkflowResult(ctx context.Context, result types.WorkflowResult) error
	GetWorkflowResult(ctx context.Context, callSID string) (*types.WorkflowResult, error)

	HasConsent(ctx context.Context, number string) (bool, error)
	SetConsent(ctx context.Context, number string, granted bool) error

	// ClaimAction atomically records that an externally-visible action is
	// about to be sent for a call. A second claim for the same pair returns
	// ErrAlreadyDispatched.
	ClaimAction(ctx context.Context, callSID string, kind types.ActionKind) error
}
