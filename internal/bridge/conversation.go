package bridge

import (
	"sync"
	"time"

	"github.com/jmaddux/frontdesk/internal/types"
)

// ConversationState accumulates what has been said on one call. Turns are
// append-only; slots are overwritable scratch state (partial transcript,
// caller intent hints) that never feeds the persisted transcript.
type ConversationState struct {
	mu           sync.Mutex
	turns        []types.Turn
	slots        map[string]string
	lastActivity time.Time
}

// NewConversationState creates an empty conversation state
func NewConversationState() *ConversationState {
	return &ConversationState{
		slots:        make(map[string]string),
		lastActivity: time.Now(),
	}
}

// AppendCallerTurn records a finalized caller utterance
func (c *ConversationState) AppendCallerTurn(text string) {
	c.appendTurn(types.RoleCaller, text)
}

// AppendAgentTurn records an agent response
func (c *ConversationState) AppendAgentTurn(text string) {
	c.appendTurn(types.RoleAgent, text)
}

func (c *ConversationState) appendTurn(role types.TurnRole, text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	c.turns = append(c.turns, types.Turn{Role: role, Text: text, Timestamp: time.Now()})
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// SetSlot stores transient per-call state such as the current partial
// transcript. Slots may be overwritten at any time.
func (c *ConversationState) SetSlot(key, value string) {
	c.mu.Lock()
	c.slots[key] = value
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// Slot returns a previously stored slot value
func (c *ConversationState) Slot(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slots[key]
}

// Touch records activity without mutating conversation content
func (c *ConversationState) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent frame or transcript
func (c *ConversationState) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Turns returns a copy of the recorded turns in insertion order
func (c *ConversationState) Turns() []types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Transcript flattens the recorded turns into the persisted transcript form
func (c *ConversationState) Transcript() string {
	return types.FlattenTurns(c.Turns())
}
