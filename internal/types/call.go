package types

import (
	"fmt"
	"strings"
	"time"
)

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
)

// CallDirection distinguishes inbound from outbound calls
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// CallSession is the durable record of one phone call. It is created when the
// telephony transport signals call start, mutated by the bridge (status,
// timestamps, transcript) and by the workflow engine (outcome), and persisted
// through the storage layer.
type CallSession struct {
	CallSID    string        `json:"callSid" dynamodbav:"CallID"`
	ClinicID   string        `json:"clinicId" dynamodbav:"ClinicID"`
	From       string        `json:"from" dynamodbav:"From"`
	To         string        `json:"to" dynamodbav:"To"`
	Direction  CallDirection `json:"direction" dynamodbav:"Direction"`
	Status     CallStatus    `json:"status" dynamodbav:"Status"`
	Consent    bool          `json:"consent" dynamodbav:"Consent"`
	Outcome    CallOutcome   `json:"outcome,omitempty" dynamodbav:"Outcome,omitempty"`
	Transcript string        `json:"transcript,omitempty" dynamodbav:"Transcript,omitempty"`
	StartTime  time.Time     `json:"startTime" dynamodbav:"StartTime"`
	EndTime    *time.Time    `json:"endTime,omitempty" dynamodbav:"EndTime,omitempty"`
	DateKey    string        `json:"dateKey" dynamodbav:"DateKey"`
}

// Duration returns the call duration, or zero if the call has not ended.
func (s *CallSession) Duration() time.Duration {
	if s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// TurnRole attributes an utterance to one side of the conversation
type TurnRole string

const (
	RoleCaller TurnRole = "caller"
	RoleAgent  TurnRole = "agent"
)

// Turn is one utterance in a conversation, attributed to caller or agent
type Turn struct {
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// FlattenTurns joins turns in insertion order into the final transcript form,
// one "role: text" line per turn.
func FlattenTurns(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, t.Text)
	}
	return b.String()
}
