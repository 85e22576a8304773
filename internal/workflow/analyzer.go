package workflow

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jmaddux/frontdesk/internal/types"
)

// ErrAnalysisUnavailable signals a transient classification failure. The
// engine retries once and then degrades to a neutral analysis instead of
// aborting the workflow.
var ErrAnalysisUnavailable = errors.New("call analysis unavailable")

// Analyzer classifies a finished call from its transcript
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (types.CallAnalysis, error)
}

var (
	positiveTerms = []string{"thank", "great", "perfect", "wonderful", "appreciate", "awesome", "lovely", "excellent"}
	negativeTerms = []string{"angry", "terrible", "upset", "awful", "unacceptable", "ridiculous", "worst", "complaint"}
	frustrated    = []string{"frustrat", "annoyed", "third time", "still waiting", "nobody called"}

	bookedPhrases    = []string{"booked", "you're all set", "confirmed for", "scheduled you", "see you on", "see you at", "appointment is set"}
	cancelPhrases    = []string{"cancel my", "cancel the", "cancel that appointment", "need to cancel"}
	voicemailPhrases = []string{"leave a message", "voicemail", "after the beep"}
	inquiryPhrases   = []string{"how much", "do you take", "what are your hours", "are you open", "wondering if", "question about"}

	actionItemPhrases = []string{"call you back", "call back", "follow up with", "check with the", "send you the", "have the office"}

	timePattern = regexp.MustCompile(`\b\d{1,2}(:\d{2})?\s?(am|pm)\b`)
	dayPattern  = regexp.MustCompile(`\b(today|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// LexiconAnalyzer is a deterministic rule-based classifier. It stands in for
// an LLM-backed analyzer and produces the same CallAnalysis shape.
type LexiconAnalyzer struct{}

// NewLexiconAnalyzer creates the rule-based analyzer
func NewLexiconAnalyzer() *LexiconAnalyzer {
	return &LexiconAnalyzer{}
}

// Analyze classifies the transcript. It is a pure function of its input.
func (a *LexiconAnalyzer) Analyze(_ context.Context, transcript string) (types.CallAnalysis, error) {
	lower := strings.ToLower(transcript)

	if strings.TrimSpace(transcript) == "" {
		return types.CallAnalysis{
			Sentiment:     types.SentimentUnknown,
			Outcome:       types.OutcomeIncomplete,
			QualityScore:  30,
			QualityIssues: []string{"empty transcript"},
		}, nil
	}

	analysis := types.CallAnalysis{
		Sentiment: a.sentiment(lower),
		Outcome:   a.outcome(lower),
	}
	analysis.AppointmentDate, analysis.AppointmentTime = a.appointment(lower)
	analysis.ActionItems = a.actionItems(transcript)
	analysis.QualityScore, analysis.QualityIssues = a.quality(transcript, analysis)
	return analysis, nil
}

func (a *LexiconAnalyzer) sentiment(lower string) types.Sentiment {
	for _, term := range frustrated {
		if strings.Contains(lower, term) {
			return types.SentimentFrustrated
		}
	}

	var pos, neg int
	for _, term := range positiveTerms {
		pos += strings.Count(lower, term)
	}
	for _, term := range negativeTerms {
		neg += strings.Count(lower, term)
	}

	switch {
	case neg > pos:
		return types.SentimentNegative
	case pos > neg:
		return types.SentimentPositive
	default:
		return types.SentimentNeutral
	}
}

func (a *LexiconAnalyzer) outcome(lower string) types.CallOutcome {
	for _, p := range cancelPhrases {
		if strings.Contains(lower, p) {
			return types.OutcomeCancelled
		}
	}
	for _, p := range bookedPhrases {
		if strings.Contains(lower, p) {
			return types.OutcomeBooked
		}
	}
	for _, p := range voicemailPhrases {
		if strings.Contains(lower, p) {
			return types.OutcomeVoicemail
		}
	}
	for _, p := range inquiryPhrases {
		if strings.Contains(lower, p) {
			return types.OutcomeInquiry
		}
	}
	return types.OutcomeUnknown
}

func (a *LexiconAnalyzer) appointment(lower string) (date, timeOfDay string) {
	if m := dayPattern.FindString(lower); m != "" {
		date = m
	}
	if m := timePattern.FindString(lower); m != "" {
		timeOfDay = m
	}
	return date, timeOfDay
}

func (a *LexiconAnalyzer) actionItems(transcript string) []string {
	var items []string
	for _, line := range strings.Split(transcript, "\n") {
		lower := strings.ToLower(line)
		for _, p := range actionItemPhrases {
			if strings.Contains(lower, p) {
				items = append(items, strings.TrimSpace(line))
				break
			}
		}
	}
	return items
}

func (a *LexiconAnalyzer) quality(transcript string, analysis types.CallAnalysis) (int, []string) {
	score := 80
	var issues []string

	lines := strings.Count(transcript, "\n") + 1
	if lines < 3 {
		score -= 30
		issues = append(issues, "very short conversation")
	}
	if analysis.Sentiment == types.SentimentFrustrated || analysis.Sentiment == types.SentimentNegative {
		score -= 25
		issues = append(issues, "caller dissatisfaction detected")
	}
	if analysis.Outcome == types.OutcomeBooked {
		score += 15
	}
	if analysis.Outcome == types.OutcomeUnknown {
		score -= 10
		issues = append(issues, "call purpose unresolved")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, issues
}
