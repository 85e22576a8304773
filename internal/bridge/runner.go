package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jmaddux/frontdesk/internal/agent"
	"github.com/jmaddux/frontdesk/internal/config"
	"github.com/jmaddux/frontdesk/internal/metrics"
	"github.com/jmaddux/frontdesk/internal/storage"
	"github.com/jmaddux/frontdesk/internal/telephony"
	"github.com/jmaddux/frontdesk/internal/types"
)

// Runner accepts freshly upgraded media streams, dials a voice agent for
// each and runs a bridge per call. Finished calls are persisted and handed
// to the downstream sink (the post-call workflow).
type Runner struct {
	config   *config.Config
	store    storage.Store
	registry *Registry
	sink     RecordSink
	logger   zerolog.Logger

	ctx context.Context
}

// NewRunner creates a bridge runner. ctx bounds the lifetime of all calls;
// cancelling it drains every live bridge.
func NewRunner(ctx context.Context, cfg *config.Config, store storage.Store, registry *Registry, sink RecordSink, logger zerolog.Logger) *Runner {
	return &Runner{
		config:   cfg,
		store:    store,
		registry: registry,
		sink:     sink,
		logger:   logger.With().Str("component", "runner").Logger(),
		ctx:      ctx,
	}
}

// Attach takes ownership of a media stream and runs the call to completion
func (r *Runner) Attach(stream *telephony.StreamConn) {
	go r.runCall(stream)
}

func (r *Runner) runCall(stream *telephony.StreamConn) {
	agentConn := agent.NewConn(r.config, r.logger)
	if err := agentConn.Connect(r.ctx); err != nil {
		r.logger.Error().Err(err).Msg("failed to connect voice agent, dropping call")
		r.abortCall(stream)
		return
	}

	b := New(r.config, stream, agentConn, r, r.registry, r.logger)
	b.Run(r.ctx)
}

// abortCall ends a call whose voice agent never came up. The caller is
// disconnected, but the call still produces a failed record so downstream
// alerting sees the drop. The stream's start event carries the identifiers;
// waiting for it is bounded by the handshake timeout.
func (r *Runner) abortCall(stream *telephony.StreamConn) {
	metrics.Get().RecordCallStarted()
	metrics.Get().RecordCallFailed()

	startTime := time.Now()
	var info telephony.StartInfo
	select {
	case info = <-stream.Started():
	case <-stream.Stopped():
	case <-stream.Failed():
	case <-time.After(r.config.HandshakeTimeout):
	case <-r.ctx.Done():
	}
	stream.Close()

	r.Submit(CallRecord{
		CallSID:   info.CallSID,
		StreamSID: info.StreamSID,
		From:      info.CustomParams["from"],
		To:        info.CustomParams["to"],
		StartTime: startTime,
		EndTime:   time.Now(),
		Failed:    true,
	})
}

// Submit persists the finished call and forwards the record to the workflow
// sink. Persistence failures are logged, never propagated: the workflow must
// still see the call.
func (r *Runner) Submit(record CallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r.persistSession(ctx, record)

	if r.sink != nil {
		r.sink.Submit(record)
	}
}

func (r *Runner) persistSession(ctx context.Context, record CallRecord) {
	if record.CallSID == "" {
		return
	}

	session, err := r.store.GetCallSession(ctx, record.CallSID)
	if err != nil {
		if err != storage.ErrNotFound {
			r.logger.Error().Err(err).Str("call_sid", record.CallSID).Msg("failed to load session for finalization")
			return
		}
		// calls placed without a webhook pass (sandbox) get a session here
		session = &types.CallSession{
			CallSID:   record.CallSID,
			ClinicID:  r.config.ClinicID,
			From:      record.From,
			To:        record.To,
			Direction: types.DirectionInbound,
			StartTime: record.StartTime,
		}
	}

	session.Transcript = record.Transcript
	session.EndTime = &record.EndTime
	if record.Failed {
		session.Status = types.CallStatusFailed
	} else {
		session.Status = types.CallStatusCompleted
	}

	if err := r.store.SaveCallSession(ctx, *session); err != nil {
		r.logger.Error().Err(err).Str("call_sid", record.CallSID).Msg("failed to finalize call session")
	}
}
