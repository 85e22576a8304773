package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/bridge"
)

// Sink adapts the workflow engine to the bridge's record hand-off. Each call
// record starts an independent workflow run; nothing here blocks the bridge.
type Sink struct {
	engine *Engine
	logger zerolog.Logger
}

// NewSink creates a workflow sink for finished calls
func NewSink(engine *Engine, logger zerolog.Logger) *Sink {
	return &Sink{
		engine: engine,
		logger: logger.With().Str("component", "workflow_sink").Logger(),
	}
}

// Submit runs the post-call workflow in the background
func (s *Sink) Submit(record bridge.CallRecord) {
	input := CallInput{
		CallSID:      record.CallSID,
		Transcript:   record.Transcript,
		Duration:     record.EndTime.Sub(record.StartTime),
		CallerNumber: record.From,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.engine.Run(ctx, input)
	}()
}
