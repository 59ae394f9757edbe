// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/taskboard/pkg/observability"
)

// DefaultPurgeSchedule runs the token janitor every ten minutes
const DefaultPurgeSchedule = "@every 10m"

const defaultRunTimeout = time.Minute

// TokenPurger clears verification and reset tokens that expired before now
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Janitor periodically purges expired temporary tokens
type Janitor struct {
	purger   TokenPurger
	schedule string
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
	cron     *cron.Cron
}

type Option func(*Janitor)

func WithMetrics(m *observability.Metrics) Option {
	return func(j *Janitor) { j.metrics = m }
}

func WithLogger(l *observability.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// NewJanitor validates schedule and registers the purge job. The scheduler is
// not started until Start.
func NewJanitor(purger TokenPurger, schedule string, opts ...Option) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	j := &Janitor{
		purger:   purger,
		schedule: schedule,
		timeout:  defaultRunTimeout,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) run() {
	defer observability.RecoverPanic(j.logger, "token janitor")

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.WithError(err).Warn("Expired token purge failed")
	}
}

// RunOnce purges expired tokens immediately and returns how many were cleared
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.purger.PurgeExpiredTokens(ctx, j.now())
	if err != nil {
		return 0, err
	}
	j.metrics.RecordTokensPurged(n)
	if n > 0 {
		j.logger.WithField("purged", n).Info("Purged expired tokens")
	}
	return n, nil
}

// Start runs the schedule in the background
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.WithField("schedule", j.schedule).Info("Token janitor started")
}

// Stop halts the schedule and waits for a running purge, bounded by ctx
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
