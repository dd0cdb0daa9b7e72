// Package scheduler triggers pipeline runs on a cron schedule and retries runs
// that fail as a whole.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Runner performs a single pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (domain.RunSummary, error)
}

// Options configure the schedule and the retry policy.
type Options struct {
	Schedule   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Clock      clockwork.Clock
}

// Scheduler runs the pipeline on a cron schedule. A run still in progress
// when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates the cron expression and registers the job. Call Start to begin.
func New(runner Runner, opts Options, logger *slog.Logger) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{cron: c, runner: runner, opts: opts, logger: logger}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if _, err := c.AddFunc(opts.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "schedule", s.opts.Schedule, "next", s.Next())
	s.cron.Start()
}

// Stop prevents further ticks, cancels any retry wait in progress, and waits
// for a running job to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for running job")
	}
}

// Next returns the next scheduled fire time.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(s.opts.Clock.Now().UTC())
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// RunOnce performs one scheduled run, retrying run-level failures up to the
// configured count with a fixed delay between attempts. Per-entity failures
// inside a completed run are not retried.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("retrying scheduled run",
				"attempt", attempt+1,
				"max_attempts", s.opts.Retries+1,
				"delay", s.opts.RetryDelay,
				"error", err,
			)
			if !sleepWithContext(ctx, s.opts.Clock, s.opts.RetryDelay) {
				return fmt.Errorf("run cancelled during retry wait: %w", err)
			}
		}

		err = s.attempt(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("run failed after %d attempts: %w", s.opts.Retries+1, err)
}

func (s *Scheduler) attempt(ctx context.Context) error {
	runCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	_, err := s.runner.Run(runCtx, pipeline.Request{})
	return err
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
