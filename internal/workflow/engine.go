package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/types"
)

// CallInput is everything the post-call workflow needs about one call
type CallInput struct {
	CallSID      string
	Transcript   string
	Duration     time.Duration
	CallerNumber string
	CallerName   string
}

// Engine runs the post-call workflow. Run never returns an error: every
// per-step failure is caught, recorded in the result's error list and does
// not prevent subsequent steps.
type Engine struct {
	config    *config.Config
	store     storage.Store
	analyzer  Analyzer
	messenger Messenger
	logger    zerolog.Logger
}

// NewEngine creates a workflow engine
func NewEngine(cfg *config.Config, store storage.Store, analyzer Analyzer, messenger Messenger, logger zerolog.Logger) *Engine {
	return &Engine{
		config:    cfg,
		store:     store,
		analyzer:  analyzer,
		messenger: messenger,
		logger:    logger.With().Str("component", "workflow").Logger(),
	}
}

// Run executes all workflow steps for one call and persists the result
func (e *Engine) Run(ctx context.Context, input CallInput) types.WorkflowResult {
	metrics.Get().RecordWorkflowRun()
	logger := e.logger.With().Str("call_sid", input.CallSID).Logger()

	result := types.WorkflowResult{CallSID: input.CallSID}

	result.Analysis = e.classify(ctx, input, &result)
	e.recordOutcome(ctx, input.CallSID, result.Analysis.Outcome, logger)
	e.primaryAction(ctx, input, &result)
	e.sentimentAlert(&result)
	e.deferredActions(&result)
	e.qualityGate(&result)
	e.actionItems(&result)

	result.CompletedAt = time.Now()

	if err := e.store.SaveWorkflowResult(ctx, result); err != nil {
		logger.Error().Err(err).Msg("failed to persist workflow result")
		result.Errors = append(result.Errors, fmt.Sprintf("persist failed: %v", err))
	}

	logger.Info().
		Str("outcome", string(result.Analysis.Outcome)).
		Str("sentiment", string(result.Analysis.Sentiment)).
		Int("actions", len(result.Actions)).
		Int("errors", len(result.Errors)).
		Msg("workflow completed")
	return result
}

// classify runs the analyzer, retrying once on failure and degrading to a
// neutral analysis when it stays unavailable.
func (e *Engine) classify(ctx context.Context, input CallInput, result *types.WorkflowResult) types.CallAnalysis {
	analysis, err := e.analyzer.Analyze(ctx, input.Transcript)
	if err != nil {
		analysis, err = e.analyzer.Analyze(ctx, input.Transcript)
	}
	if err != nil {
		metrics.Get().RecordAnalysisDegraded()
		metrics.Get().RecordWorkflowStepError()
		result.Errors = append(result.Errors, fmt.Sprintf("analysis degraded: %v", err))
		return types.CallAnalysis{
			Sentiment:    types.SentimentUnknown,
			Outcome:      types.OutcomeUnknown,
			QualityScore: e.config.QualityThreshold, // neutral, does not trip the gate
			Degraded:     true,
		}
	}
	return analysis
}

// recordOutcome writes the classified outcome back onto the call session so
// listings show what the call achieved. Storage failures are logged and the
// workflow continues.
func (e *Engine) recordOutcome(ctx context.Context, callSID string, outcome types.CallOutcome, logger zerolog.Logger) {
	session, err := e.store.GetCallSession(ctx, callSID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load session for outcome update")
		return
	}
	session.Outcome = outcome
	if err := e.store.SaveCallSession(ctx, *session); err != nil {
		logger.Warn().Err(err).Msg("failed to record call outcome on session")
	}
}

// primaryAction sends either an appointment confirmation (booked) or a
// generic thank-you follow-up. The two are mutually exclusive and external
// sends are deduplicated per call through the claim store.
func (e *Engine) primaryAction(ctx context.Context, input CallInput, result *types.WorkflowResult) {
	kind := types.ActionFollowUp
	body := e.followUpBody(input)
	if result.Analysis.Outcome == types.OutcomeBooked {
		kind = types.ActionConfirmation
		body = e.confirmationBody(input, result.Analysis)
	}

	if input.CallerNumber == "" {
		e.recordFailure(result, kind, fmt.Errorf("no caller number on record"))
		return
	}

	switch err := e.store.ClaimAction(ctx, input.CallSID, kind); err {
	case nil:
	case storage.ErrAlreadyDispatched:
		metrics.Get().RecordActionDeduplicated()
		result.Actions = append(result.Actions, types.FollowUpAction{
			Kind:    kind,
			Success: true,
			Detail:  "duplicate suppressed, already dispatched",
		})
		return
	default:
		e.recordFailure(result, kind, fmt.Errorf("dispatch claim failed: %w", err))
		return
	}

	if err := e.messenger.Send(ctx, input.CallerNumber, body); err != nil {
		e.recordFailure(result, kind, err)
		return
	}

	metrics.Get().RecordActionDispatched()
	result.Actions = append(result.Actions, types.FollowUpAction{
		Kind:    kind,
		Success: true,
		Detail:  body,
	})
}

// sentimentAlert flags dissatisfied callers for human review. No external
// send, only a durable record.
func (e *Engine) sentimentAlert(result *types.WorkflowResult) {
	s := result.Analysis.Sentiment
	if s != types.SentimentNegative && s != types.SentimentFrustrated {
		return
	}
	result.Actions = append(result.Actions, types.FollowUpAction{
		Kind:    types.ActionStaffAlert,
		Success: true,
		Detail:  fmt.Sprintf("caller sentiment %s, review recommended", s),
	})
}

// deferredActions schedules, never sends. A booked appointment gets a
// reminder; a happy booked caller with a configured review link additionally
// gets a deferred review request.
func (e *Engine) deferredActions(result *types.WorkflowResult) {
	a := result.Analysis
	if a.Outcome != types.OutcomeBooked {
		return
	}

	if a.AppointmentDate != "" || a.AppointmentTime != "" {
		result.NextScheduled = &types.ScheduledAction{
			Kind:    types.ActionReminder,
			DueAt:   time.Now().Add(e.config.ReviewDelay),
			Payload: strings.TrimSpace(fmt.Sprintf("appointment reminder: %s %s", a.AppointmentDate, a.AppointmentTime)),
		}
	}

	if a.Sentiment == types.SentimentPositive && e.config.ReviewLink != "" {
		scheduled := types.ScheduledAction{
			Kind:    types.ActionReviewRequest,
			DueAt:   time.Now().Add(e.config.ReviewDelay),
			Payload: e.config.ReviewLink,
		}
		if result.NextScheduled == nil {
			result.NextScheduled = &scheduled
		} else {
			// reminder holds the scheduled slot, the review request is
			// recorded as a deferred action entry
			result.Actions = append(result.Actions, types.FollowUpAction{
				Kind:    types.ActionReviewRequest,
				Success: true,
				Detail:  fmt.Sprintf("review request deferred until %s", scheduled.DueAt.Format(time.RFC3339)),
			})
		}
	}
}

// qualityGate records an informational alert for low-scoring calls
func (e *Engine) qualityGate(result *types.WorkflowResult) {
	a := result.Analysis
	if a.Degraded || a.QualityScore >= e.config.QualityThreshold {
		return
	}
	result.Actions = append(result.Actions, types.FollowUpAction{
		Kind:    types.ActionQualityAlert,
		Success: true,
		Detail:  fmt.Sprintf("quality score %d below threshold %d: %s", a.QualityScore, e.config.QualityThreshold, strings.Join(a.QualityIssues, "; ")),
	})
}

// actionItems passes extracted follow-up items through as a log-only action
func (e *Engine) actionItems(result *types.WorkflowResult) {
	items := result.Analysis.ActionItems
	if len(items) == 0 {
		return
	}
	e.logger.Info().Strs("items", items).Str("call_sid", result.CallSID).Msg("action items for staff")
	result.Actions = append(result.Actions, types.FollowUpAction{
		Kind:    types.ActionItemsLog,
		Success: true,
		Detail:  strings.Join(items, " | "),
	})
}

func (e *Engine) recordFailure(result *types.WorkflowResult, kind types.ActionKind, err error) {
	metrics.Get().RecordWorkflowStepError()
	e.logger.Warn().Err(err).Str("kind", string(kind)).Str("call_sid", result.CallSID).Msg("follow-up action failed")
	result.Actions = append(result.Actions, types.FollowUpAction{
		Kind:    kind,
		Success: false,
		Error:   err.Error(),
	})
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", kind, err))
}

func (e *Engine) confirmationBody(input CallInput, a types.CallAnalysis) string {
	when := strings.TrimSpace(a.AppointmentDate + " " + a.AppointmentTime)
	greeting := "Hi"
	if input.CallerName != "" {
		greeting = "Hi " + input.CallerName
	}
	msg := fmt.Sprintf("%s, this is %s. Your appointment is confirmed", greeting, e.config.ClinicName)
	if when != "" {
		msg += " for " + when
	}
	msg += "."
	if e.config.ClinicPhone != "" {
		msg += " Questions? Call " + e.config.ClinicPhone + "."
	}
	return msg
}

func (e *Engine) followUpBody(input CallInput) string {
	greeting := "Hi"
	if input.CallerName != "" {
		greeting = "Hi " + input.CallerName
	}
	msg := fmt.Sprintf("%s, thanks for calling %s. If there is anything else we can help with, just call us back", greeting, e.config.ClinicName)
	if e.config.ClinicPhone != "" {
		msg += " at " + e.config.ClinicPhone
	}
	return msg + "."
}
