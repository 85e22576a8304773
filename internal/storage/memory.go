package storage

import (
	"context"
	"sync"

	"github.com/jmaddux/frontdesk/internal/types"
)

// MemStore is a mutex-guarded in-memory Store used in tests and when
// DynamoDB is disabled.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]types.CallSession
	results  map[string]types.WorkflowResult
	consent  map[string]bool
	claims   map[string]bool
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]types.CallSession),
		results:  make(map[string]types.WorkflowResult),
		consent:  make(map[string]bool),
		claims:   make(map[string]bool),
	}
}

func (s *MemStore) SaveCallSession(_ context.Context, session types.CallSession) error {
	if session.DateKey == "" {
		session.DateKey = session.StartTime.Format("2006-01-02")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.CallSID] = session
	return nil
}

func (s *MemStore) GetCallSession(_ context.Context, callSID string) (*types.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *MemStore) ListCallSessions(_ context.Context, dateKey string) ([]types.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.CallSession
	for _, session := range s.sessions {
		if session.DateKey == dateKey {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *MemStore) SaveWorkflowResult(_ context.Context, result types.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.CallSID] = result
	return nil
}

func (s *MemStore) GetWorkflowResult(_ context.Context, callSID string) (*types.WorkflowResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[callSID]
	if !ok {
		return nil, ErrNotFound
	}
	return &result, nil
}

func (s *MemStore) HasConsent(_ context.Context, number string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consent[number], nil
}

func (s *MemStore) SetConsent(_ context.Context, number string, granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent[number] = granted
	return nil
}

func (s *MemStore) ClaimAction(_ context.Context, callSID string, kind types.ActionKind) error {
	key := callSID + "#" + string(kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claims[key] {
		return ErrAlreadyDispatched
	}
	s.claims[key] = true
	return nil
}
