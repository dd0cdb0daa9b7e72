package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	deadline bool
}

func (r *scriptedRunner) Run(ctx context.Context, _ pipeline.Request) (domain.RunSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, r.deadline = ctx.Deadline()
	i := r.calls
	r.calls++
	if i < len(r.errs) {
		return domain.RunSummary{}, r.errs[i]
	}
	return domain.RunSummary{RunID: "ok"}, nil
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestScheduler(t *testing.T, r Runner, retries int, clock clockwork.Clock) *Scheduler {
	t.Helper()
	s, err := New(r, Options{
		Schedule:   "0 12 * * *",
		Timeout:    time.Minute,
		Retries:    retries,
		RetryDelay: 2 * time.Minute,
		Clock:      clock,
	}, discard())
	require.NoError(t, err)
	return s
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&scriptedRunner{}, Options{Schedule: "every day at noon"}, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse schedule")
}

func TestNext_DailyAtNoonUTC(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, &scriptedRunner{}, 0, clock)

	want := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(s.Next()), "got %s", s.Next())
}

func TestRunOnce_SuccessFirstTry(t *testing.T) {
	r := &scriptedRunner{}
	s := newTestScheduler(t, r, 2, clockwork.NewFakeClock())

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, r.callCount())
	assert.True(t, r.deadline, "each attempt carries the run timeout")
}

func TestRunOnce_RetriesAfterDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &scriptedRunner{errs: []error{domain.ErrStoreUnavailable}}
	s := newTestScheduler(t, r, 2, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, r.callCount(), "second attempt waits for the retry delay")
	clock.Advance(2 * time.Minute)

	require.NoError(t, <-done)
	assert.Equal(t, 2, r.callCount())
}

func TestRunOnce_GivesUpAfterRetries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fail := errors.New("store down")
	r := &scriptedRunner{errs: []error{fail, fail, fail, fail}}
	s := newTestScheduler(t, r, 2, clock)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.RunOnce(ctx) }()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(2 * time.Minute)
	}

	err := <-done
	require.ErrorIs(t, err, fail)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, r.callCount())
}

func TestRunOnce_StopCancelsRetryWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &scriptedRunner{errs: []error{errors.New("store down")}}
	s := newTestScheduler(t, r, 2, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunOnce(ctx) }()

	bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	cancel()

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancelled during retry wait")
	assert.Equal(t, 1, r.callCount())
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, &scriptedRunner{}, 0, nil)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Error(t, s.ctx.Err(), "stop cancels in-flight job context")
}
