// Package scheduler runs due scheduled transfers on a fixed interval.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneygo/internal/domain"
	"moneygo/internal/errors"
	"moneygo/internal/observability"
)

const (
	OutcomeExecuted = "executed"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeSkipped  = "skipped"
)

// Executor is the part of the scheduled transfer engine the poller drives.
type Executor interface {
	ListDue(ctx context.Context, limit int) ([]*domain.ScheduledTransfer, error)
	Execute(ctx context.Context, id uuid.UUID) (*domain.ScheduledTransfer, error)
}

type Config struct {
	Interval         time.Duration
	BatchSize        int
	ExecutionTimeout time.Duration
}

type Poller struct {
	exec    Executor
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewPoller(exec Executor, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 30 * time.Second
	}
	return &Poller{
		exec:    exec,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run polls until ctx is cancelled. An execution in progress when ctx is
// cancelled runs to completion.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("Scheduled transfer poller started",
		"interval", p.cfg.Interval,
		"batch_size", p.cfg.BatchSize,
		"execution_timeout", p.cfg.ExecutionTimeout)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Scheduled transfer poller stopped")
			return nil
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// Result counts the outcomes of one polling cycle.
type Result struct {
	Executed int
	Failed   int
	Deferred int
	Skipped  int
}

// RunOnce executes one batch of due schedules. Each schedule is handled on
// its own; a failure or panic does not stop the batch.
func (p *Poller) RunOnce(ctx context.Context) Result {
	var result Result

	due, err := p.exec.ListDue(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("Failed to list due scheduled transfers", "error", err)
		return result
	}
	if len(due) == 0 {
		return result
	}

	p.logger.Info("Executing due scheduled transfers", "count", len(due))
	for _, schedule := range due {
		if ctx.Err() != nil {
			break
		}
		switch p.executeOne(ctx, schedule.ID) {
		case OutcomeExecuted:
			result.Executed++
		case OutcomeDeferred:
			result.Deferred++
		case OutcomeSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
	}

	p.logger.Info("Scheduled transfer batch finished",
		"executed", result.Executed,
		"failed", result.Failed,
		"deferred", result.Deferred,
		"skipped", result.Skipped)
	return result
}

func (p *Poller) executeOne(ctx context.Context, id uuid.UUID) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Scheduled transfer execution panicked", "schedule_id", id, "panic", fmt.Sprint(r))
			outcome = OutcomeFailed
		}
		p.metrics.IncrScheduledProcessed(outcome)
	}()

	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ExecutionTimeout)
	defer cancel()

	_, err := p.exec.Execute(execCtx, id)
	switch {
	case err == nil:
		return OutcomeExecuted
	case stderrors.Is(err, errors.ErrAlreadySettled):
		return OutcomeSkipped
	case errors.Retryable(err):
		return OutcomeDeferred
	default:
		p.logger.Warn("Scheduled transfer execution failed", "schedule_id", id, "error", err)
		return OutcomeFailed
	}
}
