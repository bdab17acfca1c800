package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-fin/meridian/internal/apperr"
	"github.com/meridian-fin/meridian/internal/consolidation"
	jobmetrics "github.com/meridian-fin/meridian/internal/jobs"
)

// defaultStaleAfter is how long an InProgress run may go without a heartbeat
// before the recovery sweep re-enqueues it.
const defaultStaleAfter = 15 * time.Minute

// RunProcessor executes consolidation runs delivered through the queue and
// sweeps up runs whose worker died mid-pipeline. The engine's persisted step
// records make a re-enqueued run resume instead of starting over.
type RunProcessor struct {
	logger     *slog.Logger
	engine     *consolidation.Engine
	repo       consolidation.Repository
	client     *Client
	metrics    *jobmetrics.Metrics
	staleAfter time.Duration
}

// NewRunProcessor wires the consolidation task handlers.
func NewRunProcessor(logger *slog.Logger, engine *consolidation.Engine, repo consolidation.Repository,
	client *Client, metrics *jobmetrics.Metrics) *RunProcessor {
	return &RunProcessor{
		logger:     logger,
		engine:     engine,
		repo:       repo,
		client:     client,
		metrics:    metrics,
		staleAfter: defaultStaleAfter,
	}
}

// Handlers returns the task registrations for worker setup.
func (p *RunProcessor) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskConsolidationRun, Handler: p.HandleRun},
		{Type: TaskConsolidationRecover, Handler: p.HandleRecover},
	}
}

// HandleRun drives one run to a terminal status.
func (p *RunProcessor) HandleRun(ctx context.Context, t *asynq.Task) error {
	var payload ConsolidationRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("consolidation run payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := p.metrics.Track("consolidation_run")
	err := p.engine.Execute(ctx, payload.OrgID, payload.RunID)
	switch {
	case err == nil:
		return tracker.End(nil)
	case errors.Is(err, consolidation.ErrRunActive):
		// Another worker holds the period lock; it owns the run now.
		p.logger.Info("consolidation run already locked",
			slog.String("runId", payload.RunID.String()))
		return tracker.End(nil)
	case errors.Is(err, consolidation.ErrRunNotFound):
		return tracker.End(fmt.Errorf("run %s not found: %w", payload.RunID, asynq.SkipRetry))
	}

	// Business failures are recorded on the run record itself; retrying would
	// reproduce the same result. Infrastructure errors stay retryable.
	var appErr *apperr.E
	if errors.As(err, &appErr) {
		p.logger.Warn("consolidation run failed",
			slog.String("runId", payload.RunID.String()),
			slog.Any("error", err))
		return tracker.End(fmt.Errorf("%v: %w", err, asynq.SkipRetry))
	}
	return tracker.End(err)
}

// HandleRecover re-enqueues InProgress runs with no recent heartbeat. The
// period advisory lock makes the sweep safe against false positives: a run
// whose worker is alive simply fails to reacquire the lock.
func (p *RunProcessor) HandleRecover(ctx context.Context, t *asynq.Task) error {
	tracker := p.metrics.Track("consolidation_recover")
	refs, err := p.repo.StalledRuns(ctx, time.Now().Add(-p.staleAfter))
	if err != nil {
		return tracker.End(err)
	}
	for _, ref := range refs {
		if err := p.client.EnqueueRun(ctx, ref.OrgID, ref.RunID); err != nil {
			p.logger.Error("re-enqueue stalled consolidation run",
				slog.String("runId", ref.RunID.String()),
				slog.Any("error", err))
			continue
		}
		p.logger.Info("re-enqueued stalled consolidation run",
			slog.String("runId", ref.RunID.String()))
	}
	return tracker.End(nil)
}
