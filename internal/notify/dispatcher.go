package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"moneygo/internal/observability"
)

// Hook receives events after the unit of work that produced them committed.
type Hook interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Dispatcher fans events out to hooks. Every hook call runs in its own
// goroutine; errors and panics are logged and counted and never reach the
// caller.
type Dispatcher struct {
	hooks   []Hook
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, metrics *observability.Metrics, timeout time.Duration, hooks ...Hook) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		hooks:   hooks,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch returns immediately. The request context only contributes its
// values; cancelling it does not cancel delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) {
	if d == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, e := range events {
		for _, h := range d.hooks {
			d.wg.Add(1)
			go d.run(base, h, e)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, h Hook, e Event) {
	defer d.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			d.fail(h, e, fmt.Errorf("panic: %v", p))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := h.Notify(ctx, e); err != nil {
		d.fail(h, e, err)
	}
}

func (d *Dispatcher) fail(h Hook, e Event, err error) {
	d.logger.Error("Notification hook failed", "hook", h.Name(), "event", e.Name(), "error", err)
	d.metrics.IncrNotificationFailure(h.Name())
}

// Wait blocks until every dispatched hook call has returned.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
