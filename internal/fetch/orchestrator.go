package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the in-flight cap used when none is configured.
const DefaultConcurrency = 10

// Fetcher retrieves one observation from the data source.
type Fetcher interface {
	Fetch(ctx context.Context, entityKey string) (domain.ObservationDraft, error)
}

// Results holds the outcome of a fan-out. Successes keep the order of the
// input keys. Every requested key appears in exactly one of the two.
type Results struct {
	Successes []domain.ObservationDraft
	Failures  map[string]*domain.FetchFailure
}

// Orchestrator fans data source calls out across entity keys with a cap on
// in-flight requests. A failing or panicking task never affects another.
type Orchestrator struct {
	fetcher     Fetcher
	concurrency int64
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates an Orchestrator. A non-positive concurrency uses DefaultConcurrency.
func New(f Fetcher, concurrency int, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		fetcher:     f,
		concurrency: int64(concurrency),
		logger:      logger,
		metrics:     metrics,
	}
}

type outcome struct {
	draft domain.ObservationDraft
	err   *domain.FetchFailure
}

// FetchAll launches one task per key and waits for all of them to finish.
// Keys are expected to be normalized; duplicates would share one outcome slot.
func (o *Orchestrator) FetchAll(ctx context.Context, keys []string) Results {
	outcomes := make([]outcome, len(keys))
	sem := semaphore.NewWeighted(o.concurrency)

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = o.run(ctx, sem, key)
		}()
	}
	wg.Wait()

	res := Results{
		Successes: make([]domain.ObservationDraft, 0, len(keys)),
		Failures:  make(map[string]*domain.FetchFailure),
	}
	for i, key := range keys {
		if outcomes[i].err != nil {
			res.Failures[key] = outcomes[i].err
			continue
		}
		res.Successes = append(res.Successes, outcomes[i].draft)
	}
	o.logger.Info("fetch complete",
		"requested", len(keys),
		"succeeded", len(res.Successes),
		"failed", len(res.Failures),
	)
	return res
}

// run executes a single fetch task and converts every failure mode, including
// a panic in the fetcher, into a FetchFailure.
func (o *Orchestrator) run(ctx context.Context, sem *semaphore.Weighted, key string) (out outcome) {
	if err := sem.Acquire(ctx, 1); err != nil {
		out.err = &domain.FetchFailure{Kind: domain.FailureTransport, Detail: fmt.Sprintf("not started: %v", err)}
		o.record(key, out.err)
		return out
	}
	defer sem.Release(1)

	o.metrics.FetchInFlight.Inc()
	defer o.metrics.FetchInFlight.Dec()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: &domain.FetchFailure{Kind: domain.FailureTransport, Detail: fmt.Sprintf("panic: %v", r)}}
		}
		o.metrics.FetchDuration.Observe(time.Since(start).Seconds())
		o.record(key, out.err)
	}()

	draft, err := o.fetcher.Fetch(ctx, key)
	if err != nil {
		return outcome{err: domain.AsFetchFailure(err)}
	}
	draft.EntityKey = key
	return outcome{draft: draft.Normalize()}
}

func (o *Orchestrator) record(key string, ff *domain.FetchFailure) {
	if ff == nil {
		o.metrics.FetchRequests.WithLabelValues("success").Inc()
		return
	}
	o.metrics.FetchRequests.WithLabelValues(string(ff.Kind)).Inc()
	o.logger.Warn("fetch failed", "entity_key", key, "kind", ff.Kind, "error", ff)
}
