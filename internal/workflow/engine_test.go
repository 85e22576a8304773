package workflow

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/types"
)

type fakeMessenger struct {
	mu   sync.Mutex
	sent []string // bodies
	to   []string
	err  error
}

func (m *fakeMessenger) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, body)
	m.to = append(m.to, to)
	return nil
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type fakeAnalyzer struct {
	analysis types.CallAnalysis
	failures int // number of calls that error before succeeding
	calls    int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, _ string) (types.CallAnalysis, error) {
	a.calls++
	if a.calls <= a.failures {
		return types.CallAnalysis{}, ErrAnalysisUnavailable
	}
	return a.analysis, nil
}

func engineConfig() *config.Config {
	return &config.Config{
		ClinicName:       "Lakeside Dental",
		ClinicPhone:      "+15551230000",
		QualityThreshold: 60,
		ReviewDelay:      24 * time.Hour,
	}
}

func newTestEngine(cfg *config.Config, analyzer Analyzer, messenger Messenger) (*Engine, *storage.MemStore) {
	store := storage.NewMemStore()
	return NewEngine(cfg, store, analyzer, messenger, zerolog.New(&bytes.Buffer{})), store
}

func testInput() CallInput {
	return CallInput{
		CallSID:      "CA1",
		Transcript:   "caller: I'd like a cleaning\nagent: You're all set, confirmed for tomorrow at 2pm. Thank you!",
		CallerNumber: "+15550001111",
		Duration:     90 * time.Second,
	}
}

func findAction(result types.WorkflowResult, kind types.ActionKind) (types.FollowUpAction, int) {
	var found types.FollowUpAction
	count := 0
	for _, a := range result.Actions {
		if a.Kind == kind {
			found = a
			count++
		}
	}
	return found, count
}

func TestBookedPositiveCall(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:       types.SentimentPositive,
		Outcome:         types.OutcomeBooked,
		QualityScore:    90,
		AppointmentDate: "tomorrow",
		AppointmentTime: "2pm",
	}}
	messenger := &fakeMessenger{}
	engine, _ := newTestEngine(engineConfig(), analyzer, messenger)

	result := engine.Run(context.Background(), testInput())

	confirmation, n := findAction(result, types.ActionConfirmation)
	if n != 1 {
		t.Fatalf("expected exactly one confirmation action, got %d", n)
	}
	if !confirmation.Success {
		t.Errorf("expected confirmation success, got error %s", confirmation.Error)
	}
	if _, n := findAction(result, types.ActionFollowUp); n != 0 {
		t.Error("booked call must not also get a generic follow-up")
	}
	if messenger.count() != 1 {
		t.Errorf("expected one message sent, got %d", messenger.count())
	}
	if result.NextScheduled == nil {
		t.Fatal("expected a scheduled reminder")
	}
	if result.NextScheduled.Kind != types.ActionReminder {
		t.Errorf("expected reminder, got %s", result.NextScheduled.Kind)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
}

func TestNegativeUnbookedCall(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentNegative,
		Outcome:      types.OutcomeInquiry,
		QualityScore: 70,
	}}
	messenger := &fakeMessenger{}
	engine, _ := newTestEngine(engineConfig(), analyzer, messenger)

	result := engine.Run(context.Background(), testInput())

	if _, n := findAction(result, types.ActionFollowUp); n != 1 {
		t.Error("expected a generic follow-up")
	}
	if _, n := findAction(result, types.ActionStaffAlert); n != 1 {
		t.Error("expected a staff alert for negative sentiment")
	}
	if _, n := findAction(result, types.ActionConfirmation); n != 0 {
		t.Error("unbooked call must not get a confirmation")
	}
}

func TestAnalysisUnavailableDegrades(t *testing.T) {
	analyzer := &fakeAnalyzer{failures: 10}
	messenger := &fakeMessenger{}
	engine, _ := newTestEngine(engineConfig(), analyzer, messenger)

	result := engine.Run(context.Background(), testInput())

	if !result.Analysis.Degraded {
		t.Error("expected degraded analysis")
	}
	if result.Analysis.Outcome != types.OutcomeUnknown {
		t.Errorf("expected unknown outcome, got %s", result.Analysis.Outcome)
	}
	followup, n := findAction(result, types.ActionFollowUp)
	if n != 1 || !followup.Success {
		t.Errorf("expected one successful generic follow-up, got %d (success=%v)", n, followup.Success)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly one error entry, got %v", result.Errors)
	}
	if _, n := findAction(result, types.ActionQualityAlert); n != 0 {
		t.Error("degraded analysis must not trip the quality gate")
	}
}

func TestAnalyzerRetriedOnce(t *testing.T) {
	analyzer := &fakeAnalyzer{
		failures: 1,
		analysis: types.CallAnalysis{Sentiment: types.SentimentNeutral, Outcome: types.OutcomeInquiry, QualityScore: 75},
	}
	engine, _ := newTestEngine(engineConfig(), analyzer, &fakeMessenger{})

	result := engine.Run(context.Background(), testInput())

	if analyzer.calls != 2 {
		t.Errorf("expected one retry, analyzer called %d times", analyzer.calls)
	}
	if result.Analysis.Degraded {
		t.Error("retry succeeded, analysis must not be degraded")
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors after successful retry, got %v", result.Errors)
	}
}

func TestConfirmationIdempotent(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentPositive,
		Outcome:      types.OutcomeBooked,
		QualityScore: 90,
	}}
	messenger := &fakeMessenger{}
	engine, _ := newTestEngine(engineConfig(), analyzer, messenger)

	first := engine.Run(context.Background(), testInput())
	analyzer.calls = 0
	second := engine.Run(context.Background(), testInput())

	if messenger.count() != 1 {
		t.Fatalf("expected exactly one delivered confirmation across runs, got %d", messenger.count())
	}
	if c, _ := findAction(first, types.ActionConfirmation); !c.Success {
		t.Error("first run confirmation should succeed")
	}
	c, n := findAction(second, types.ActionConfirmation)
	if n != 1 || !c.Success {
		t.Errorf("second run should record a suppressed duplicate, got %+v", c)
	}
	if c.Detail != "duplicate suppressed, already dispatched" {
		t.Errorf("unexpected duplicate detail: %s", c.Detail)
	}
}

func TestSendFailureRecordedNotRaised(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentNeutral,
		Outcome:      types.OutcomeBooked,
		QualityScore: 90,
	}}
	messenger := &fakeMessenger{err: fmt.Errorf("sms gateway unreachable")}
	engine, store := newTestEngine(engineConfig(), analyzer, messenger)

	result := engine.Run(context.Background(), testInput())

	confirmation, n := findAction(result, types.ActionConfirmation)
	if n != 1 || confirmation.Success {
		t.Errorf("expected one failed confirmation, got %d (success=%v)", n, confirmation.Success)
	}
	if len(result.Errors) == 0 {
		t.Error("expected the failure in the error list")
	}

	// result still persisted despite the failed send
	saved, err := store.GetWorkflowResult(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("expected persisted result: %v", err)
	}
	if len(saved.Actions) != len(result.Actions) {
		t.Error("persisted result diverges from returned result")
	}
}

func TestQualityGate(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:     types.SentimentNeutral,
		Outcome:       types.OutcomeInquiry,
		QualityScore:  40,
		QualityIssues: []string{"very short conversation"},
	}}
	engine, _ := newTestEngine(engineConfig(), analyzer, &fakeMessenger{})

	result := engine.Run(context.Background(), testInput())

	alert, n := findAction(result, types.ActionQualityAlert)
	if n != 1 {
		t.Fatalf("expected one quality alert, got %d", n)
	}
	if !alert.Success {
		t.Error("quality alert is informational, always successful")
	}
}

func TestReviewRequestScheduled(t *testing.T) {
	cfg := engineConfig()
	cfg.ReviewLink = "https://g.page/lakeside-dental/review"
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentPositive,
		Outcome:      types.OutcomeBooked,
		QualityScore: 95,
	}}
	engine, _ := newTestEngine(cfg, analyzer, &fakeMessenger{})

	result := engine.Run(context.Background(), testInput())

	if result.NextScheduled == nil {
		t.Fatal("expected a scheduled action")
	}
	if result.NextScheduled.Kind != types.ActionReviewRequest {
		t.Errorf("expected review request, got %s", result.NextScheduled.Kind)
	}
	if result.NextScheduled.Payload != cfg.ReviewLink {
		t.Errorf("expected review link payload, got %s", result.NextScheduled.Payload)
	}
	if !result.NextScheduled.DueAt.After(time.Now()) {
		t.Error("scheduled action must be in the future")
	}
}

func TestReminderTakesScheduledSlotOverReview(t *testing.T) {
	cfg := engineConfig()
	cfg.ReviewLink = "https://g.page/lakeside-dental/review"
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:       types.SentimentPositive,
		Outcome:         types.OutcomeBooked,
		QualityScore:    95,
		AppointmentDate: "friday",
		AppointmentTime: "10:30 am",
	}}
	engine, _ := newTestEngine(cfg, analyzer, &fakeMessenger{})

	result := engine.Run(context.Background(), testInput())

	if result.NextScheduled == nil || result.NextScheduled.Kind != types.ActionReminder {
		t.Fatalf("expected reminder in the scheduled slot, got %+v", result.NextScheduled)
	}
	if _, n := findAction(result, types.ActionReviewRequest); n != 1 {
		t.Error("expected the review request recorded as a deferred action entry")
	}
}

func TestActionItemsPassedThrough(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentNeutral,
		Outcome:      types.OutcomeInquiry,
		QualityScore: 75,
		ActionItems:  []string{"agent: I'll have the office call you back with pricing"},
	}}
	engine, _ := newTestEngine(engineConfig(), analyzer, &fakeMessenger{})

	result := engine.Run(context.Background(), testInput())

	items, n := findAction(result, types.ActionItemsLog)
	if n != 1 {
		t.Fatalf("expected one action-items entry, got %d", n)
	}
	if items.Detail == "" {
		t.Error("expected action items in the detail")
	}
}

func TestMissingCallerNumberRecordedAsFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentNeutral,
		Outcome:      types.OutcomeBooked,
		QualityScore: 90,
	}}
	messenger := &fakeMessenger{}
	engine, _ := newTestEngine(engineConfig(), analyzer, messenger)

	input := testInput()
	input.CallerNumber = ""
	result := engine.Run(context.Background(), input)

	confirmation, n := findAction(result, types.ActionConfirmation)
	if n != 1 || confirmation.Success {
		t.Errorf("expected a recorded failure, got %d (success=%v)", n, confirmation.Success)
	}
	if messenger.count() != 0 {
		t.Error("nothing should be sent without a caller number")
	}
}

func TestOutcomeWrittenToSession(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: types.CallAnalysis{
		Sentiment:    types.SentimentPositive,
		Outcome:      types.OutcomeBooked,
		QualityScore: 90,
	}}
	engine, store := newTestEngine(engineConfig(), analyzer, &fakeMessenger{})

	ctx := context.Background()
	if err := store.SaveCallSession(ctx, types.CallSession{
		CallSID: "CA1",
		From:    "+15550001111",
		Status:  types.CallStatusCompleted,
	}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	engine.Run(ctx, testInput())

	session, err := store.GetCallSession(ctx, "CA1")
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if session.Outcome != types.OutcomeBooked {
		t.Errorf("expected session outcome %q, got %q", types.OutcomeBooked, session.Outcome)
	}
}
