package interview

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/screener/internal/observability"
	"github.com/ent0n29/screener/internal/records"
)

// finalize ends a live connection exactly once: it lets the subtitle drain
// finish, waits out the grace period, commits any turn still open, persists
// the transcript and only then tears the connection down. A Reset during any
// wait abandons it.
func (c *Controller) finalize(h *connection, trigger Trigger) {
	c.mu.Lock()
	if c.conn != h || h.finalizing || c.status != StatusActive {
		c.mu.Unlock()
		return
	}
	h.finalizing = true
	if h.timer != nil {
		h.timer.Stop()
	}
	subtitles := h.subtitles
	c.mu.Unlock()

	started := c.now()
	ctx, span := tracer.Start(h.ctx, "interview finalize")
	defer span.End()
	span.SetAttributes(attribute.String("interview.trigger", string(trigger)))

	lg := c.logger(h)
	lg.Info().Str("trigger", string(trigger)).Msg("finalizing interview")
	c.deps.Metrics.SessionEvent("finalize_" + string(trigger))

	drainStarted := c.now()
	drainCtx, cancel := context.WithTimeout(ctx, c.cfg.DrainTimeout)
	err := subtitles.WaitIdle(drainCtx)
	cancel()
	c.deps.Metrics.ObserveStage(observability.StageSubtitleDrain, c.now().Sub(drainStarted))
	if h.ctx.Err() != nil {
		return
	}
	if err != nil {
		lg.Warn().Int("pending_runes", subtitles.Pending()).Msg("subtitle drain timed out")
	}
	span.AddEvent("subtitles drained", trace.WithAttributes(attribute.Bool("drain.timed_out", err != nil)))

	if c.cfg.FinalizeGrace > 0 {
		t := time.NewTimer(c.cfg.FinalizeGrace)
		select {
		case <-h.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	// Text shown for a turn whose done never arrived is committed here.
	subtitles.Flush()

	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return
	}
	final := append([]Entry(nil), c.transcript...)
	c.mu.Unlock()

	c.persist(ctx, final)

	c.mu.Lock()
	if c.conn != h {
		c.mu.Unlock()
		return
	}
	h.closing = true
	c.conn = nil
	c.mu.Unlock()

	c.release(h)

	c.mu.Lock()
	if c.gen != h.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusCompleted
	c.activity = ActivityIdle
	c.subtitle = ""
	auto := c.cfg.AutoEvaluate
	c.unlockAndPublish(c.statusUpdateLocked(), c.activityUpdateLocked(), Update{Kind: UpdateSubtitle})

	c.deps.Metrics.SessionEvent("completed")
	c.deps.Metrics.ObserveFinalizeDuration(c.now().Sub(started))
	lg.Info().Int("entries", len(final)).Msg("interview completed")

	if auto {
		c.RequestEvaluation()
	}
}

// persist writes the final transcript. Failure is logged and does not block
// completion.
func (c *Controller) persist(ctx context.Context, final []Entry) {
	if c.sc.SessionID == "" || c.deps.Store == nil {
		return
	}
	lines := make([]records.TranscriptLine, 0, len(final))
	for _, e := range final {
		lines = append(lines, records.TranscriptLine{Speaker: string(e.Speaker), Text: e.Text})
	}
	// The write outlives the connection context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
	defer cancel()
	started := c.now()
	defer func() { c.deps.Metrics.ObserveStage(observability.StagePersist, c.now().Sub(started)) }()
	err := c.deps.Store.UpdateSessionRecord(pctx, c.sc.SessionID, records.Fields{
		Status:          records.StatusPtr(records.StatusCompleted),
		FinalTranscript: lines,
		CompletedAt:     records.TimePtr(c.now().UTC()),
	})
	if err != nil {
		perr := &PersistenceError{SessionID: c.sc.SessionID, Err: err}
		c.deps.Metrics.SessionEvent("persist_failed")
		log.Error().Err(perr).Str("component", "interview").Str("session_id", c.sc.SessionID).Msg("final transcript not saved")
	}
}
