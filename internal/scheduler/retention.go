// Package scheduler runs the periodic housekeeping of the export server.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/clipforge/internal/observability"
	"github.com/jmylchreest/clipforge/internal/service"
)

// Pruner removes finished exports older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (service.PruneResult, error)
}

// Retention removes published outputs and job history once they are older
// than the retention period, on a cron schedule.
type Retention struct {
	pruner    Pruner
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewRetention creates a retention sweep. A zero retention disables it.
func NewRetention(pruner Pruner, schedule string, retention time.Duration) *Retention {
	return &Retention{
		pruner:    pruner,
		schedule:  schedule,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (r *Retention) WithLogger(logger *slog.Logger) *Retention {
	r.logger = observability.WithComponent(logger, "retention")
	return r
}

// Enabled reports whether sweeps will run.
func (r *Retention) Enabled() bool {
	return r.retention > 0
}

// Start registers the sweep with a cron scheduler and starts it. It is a
// no-op when retention is disabled.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.Enabled() {
		r.logger.InfoContext(ctx, "output retention disabled")
		return nil
	}
	if r.cron != nil {
		return fmt.Errorf("retention already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLogger(cronLogger{r.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})),
	)
	if _, err := c.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("scheduling retention %q: %w", r.schedule, err)
	}
	c.Start()

	r.cron = c
	r.cancel = cancel

	r.logger.InfoContext(ctx, "output retention scheduled",
		slog.String("schedule", r.schedule),
		slog.Duration("retention", r.retention),
		slog.Time("next_run", r.nextLocked()),
	)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	r.logger.Info("output retention stopped")
}

// Next returns the time of the next scheduled sweep, or zero if none.
func (r *Retention) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked()
}

func (r *Retention) nextLocked() time.Time {
	if r.cron == nil {
		return time.Time{}
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce performs a single sweep immediately.
func (r *Retention) RunOnce(ctx context.Context) (service.PruneResult, error) {
	if !r.Enabled() {
		return service.PruneResult{}, nil
	}

	before := r.now().Add(-r.retention)
	var err error
	done := observability.TimedOperationWithError(ctx, r.logger, "retention_sweep", &err)
	defer done()

	var res service.PruneResult
	res, err = r.pruner.Prune(ctx, before)
	if res.Records > 0 || res.Outputs > 0 {
		r.logger.InfoContext(ctx, "pruned expired exports",
			slog.Time("before", before),
			slog.Int("records", res.Records),
			slog.Int("outputs", res.Outputs),
		)
	}
	return res, err
}

// cronLogger adapts slog to cron's logger. Routine scheduling chatter goes
// to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
