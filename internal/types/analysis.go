package types

import "time"

// Sentiment classifies the caller's overall mood on a finished call
type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
	SentimentUnknown    Sentiment = "unknown"
)

// CallOutcome classifies what a finished call achieved
type CallOutcome string

const (
	OutcomeBooked     CallOutcome = "booked"
	OutcomeInquiry    CallOutcome = "inquiry"
	OutcomeCancelled  CallOutcome = "cancelled"
	OutcomeVoicemail  CallOutcome = "voicemail"
	OutcomeIncomplete CallOutcome = "incomplete"
	OutcomeUnknown    CallOutcome = "unknown"
)

// CallAnalysis is the immutable classification of one finished call
type CallAnalysis struct {
	Sentiment       Sentiment   `json:"sentiment"`
	Outcome         CallOutcome `json:"outcome"`
	QualityScore    int         `json:"qualityScore"` // 0-100
	QualityIssues   []string    `json:"qualityIssues,omitempty"`
	ActionItems     []string    `json:"actionItems,omitempty"`
	AppointmentDate string      `json:"appointmentDate,omitempty"`
	AppointmentTime string      `json:"appointmentTime,omitempty"`
	Degraded        bool        `json:"degraded,omitempty"` // analysis was unavailable, neutral defaults used
}

// ActionKind identifies one category of post-call follow-up
type ActionKind string

const (
	ActionConfirmation  ActionKind = "confirmation"
	ActionFollowUp      ActionKind = "followup"
	ActionReminder      ActionKind = "reminder"
	ActionReviewRequest ActionKind = "review_request"
	ActionStaffAlert    ActionKind = "staff_alert"
	ActionQualityAlert  ActionKind = "quality_alert"
	ActionItemsLog      ActionKind = "action_items"
	ActionNone          ActionKind = "none"
)

// FollowUpAction records one attempted side effect after a call. Actions are
// independent; failure of one never invalidates another.
type FollowUpAction struct {
	Kind    ActionKind `json:"kind"`
	Success bool       `json:"success"`
	Detail  string     `json:"detail,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ScheduledAction describes a deferred action recorded for later dispatch,
// never executed inline by the workflow engine.
type ScheduledAction struct {
	Kind    ActionKind `json:"kind"`
	DueAt   time.Time  `json:"dueAt"`
	Payload string     `json:"payload,omitempty"`
}

// WorkflowResult aggregates one post-call workflow run. It is produced at
// most once per call.
type WorkflowResult struct {
	CallSID       string           `json:"callSid" dynamodbav:"CallID"`
	Analysis      CallAnalysis     `json:"analysis" dynamodbav:"Analysis"`
	Actions       []FollowUpAction `json:"actions" dynamodbav:"Actions"`
	Errors        []string         `json:"errors,omitempty" dynamodbav:"Errors,omitempty"`
	NextScheduled *ScheduledAction `json:"nextScheduled,omitempty" dynamodbav:"NextScheduled,omitempty"`
	CompletedAt   time.Time        `json:"completedAt" dynamodbav:"CompletedAt"`
}
