package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Call metrics
	CallsStartedTotal   int64
	CallsCompletedTotal int64
	CallsFailedTotal    int64
	CallsRejectedTotal  int64
	ConsentDeniedTotal  int64
	activeCalls         int64

	// Media metrics
	InboundFramesTotal  int64
	OutboundFramesTotal int64
	BargeInsTotal       int64

	// Agent connection metrics
	AgentErrorsTotal int64

	// Workflow metrics
	WorkflowRunsTotal     int64
	WorkflowStepErrors    int64
	AnalysisDegradedTotal int64
	ActionsDispatched     int64
	ActionsDeduplicated   int64

	// HTTP metrics
	httpRequestsTotal map[string]map[int]int64 // endpoint -> status -> count

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			httpRequestsTotal: make(map[string]map[int]int64),
			startTime:         time.Now(),
		}
	})
	return instance
}

// RecordCallStarted increments call counters
func (m *Metrics) RecordCallStarted() {
	m.mu.Lock()
	m.CallsStartedTotal++
	m.activeCalls++
	m.mu.Unlock()
}

// RecordCallCompleted records a call that ended cleanly
func (m *Metrics) RecordCallCompleted() {
	m.mu.Lock()
	m.CallsCompletedTotal++
	m.activeCalls--
	m.mu.Unlock()
}

// RecordCallFailed records a call that ended on a transport or agent error
func (m *Metrics) RecordCallFailed() {
	m.mu.Lock()
	m.CallsFailedTotal++
	m.activeCalls--
	m.mu.Unlock()
}

// RecordCallRejected records an admission rejection
func (m *Metrics) RecordCallRejected() {
	m.mu.Lock()
	m.CallsRejectedTotal++
	m.mu.Unlock()
}

// RecordConsentDenied records an outbound call blocked by the consent gate
func (m *Metrics) RecordConsentDenied() {
	m.mu.Lock()
	m.ConsentDeniedTotal++
	m.mu.Unlock()
}

// RecordInboundFrame increments the caller audio frame counter
func (m *Metrics) RecordInboundFrame() {
	m.mu.Lock()
	m.InboundFramesTotal++
	m.mu.Unlock()
}

// RecordOutboundFrame increments the agent audio frame counter
func (m *Metrics) RecordOutboundFrame() {
	m.mu.Lock()
	m.OutboundFramesTotal++
	m.mu.Unlock()
}

// RecordBargeIn increments the barge-in counter
func (m *Metrics) RecordBargeIn() {
	m.mu.Lock()
	m.BargeInsTotal++
	m.mu.Unlock()
}

// RecordAgentError increments the voice agent error counter
func (m *Metrics) RecordAgentError() {
	m.mu.Lock()
	m.AgentErrorsTotal++
	m.mu.Unlock()
}

// RecordWorkflowRun increments the workflow run counter
func (m *Metrics) RecordWorkflowRun() {
	m.mu.Lock()
	m.WorkflowRunsTotal++
	m.mu.Unlock()
}

// RecordWorkflowStepError increments the workflow step error counter
func (m *Metrics) RecordWorkflowStepError() {
	m.mu.Lock()
	m.WorkflowStepErrors++
	m.mu.Unlock()
}

// RecordAnalysisDegraded records a workflow run that fell back to defaults
func (m *Metrics) RecordAnalysisDegraded() {
	m.mu.Lock()
	m.AnalysisDegradedTotal++
	m.mu.Unlock()
}

// RecordActionDispatched increments the dispatched action counter
func (m *Metrics) RecordActionDispatched() {
	m.mu.Lock()
	m.ActionsDispatched++
	m.mu.Unlock()
}

// RecordActionDeduplicated records an action skipped by the idempotency claim
func (m *Metrics) RecordActionDeduplicated() {
	m.mu.Lock()
	m.ActionsDeduplicated++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++
}

// GetActiveCalls returns the number of calls currently bridged
func (m *Metrics) GetActiveCalls() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCalls
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("frontdesk_uptime_seconds", time.Since(m.startTime).Seconds())

		// Call metrics
		write("frontdesk_calls_started_total", m.CallsStartedTotal)
		write("frontdesk_calls_completed_total", m.CallsCompletedTotal)
		write("frontdesk_calls_failed_total", m.CallsFailedTotal)
		write("frontdesk_calls_rejected_total", m.CallsRejectedTotal)
		write("frontdesk_consent_denied_total", m.ConsentDeniedTotal)
		write("frontdesk_active_calls", m.activeCalls)

		// Media metrics
		write("frontdesk_inbound_frames_total", m.InboundFramesTotal)
		write("frontdesk_outbound_frames_total", m.OutboundFramesTotal)
		write("frontdesk_barge_ins_total", m.BargeInsTotal)

		// Agent connection metrics
		write("frontdesk_agent_errors_total", m.AgentErrorsTotal)

		// Workflow metrics
		write("frontdesk_workflow_runs_total", m.WorkflowRunsTotal)
		write("frontdesk_workflow_step_errors_total", m.WorkflowStepErrors)
		write("frontdesk_analysis_degraded_total", m.AnalysisDegradedTotal)
		write("frontdesk_actions_dispatched_total", m.ActionsDispatched)
		write("frontdesk_actions_deduplicated_total", m.ActionsDeduplicated)

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("frontdesk_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
