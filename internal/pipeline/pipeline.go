package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/fetch"
	"github.com/couchcryptid/weather-collector/internal/lock"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"github.com/google/uuid"
)

// ErrNoEntityKeys is returned when a run resolves to an empty target list.
var ErrNoEntityKeys = errors.New("no entity keys to collect")

// ErrInvalidMinAge is returned for a negative freshness window.
var ErrInvalidMinAge = errors.New("min_age_minutes must not be negative")

// BatchFetcher fans the data source out over a list of entity keys.
type BatchFetcher interface {
	FetchAll(ctx context.Context, keys []string) fetch.Results
}

// Store is the persistence surface the coordinator writes through.
type Store interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, d domain.ObservationDraft) (domain.Observation, error)
}

// FreshnessGate decides whether an entity already has a recent observation.
type FreshnessGate interface {
	Decide(ctx context.Context, entityKey string, minAge time.Duration) (domain.Decision, error)
}

// Publisher forwards run results to downstream consumers.
type Publisher interface {
	PublishObservations(ctx context.Context, runID string, obs []domain.Observation) error
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}

// pinger is implemented by lockers backed by a remote server.
type pinger interface {
	Ping(ctx context.Context) error
}

// Options are the defaults applied when a Request leaves a field unset.
type Options struct {
	EntityKeys    []string
	MinAgeMinutes int
	SkipIfFresh   bool
	// FailOpen treats a failed freshness read as Accept instead of failing the entity.
	FailOpen bool
}

// Request describes one run. Nil fields fall back to Options.
type Request struct {
	EntityKeys    []string
	MinAgeMinutes *int
	SkipIfFresh   *bool
}

// Coordinator runs fetch, freshness gate, and conditional insert as one unit.
type Coordinator struct {
	fetcher   BatchFetcher
	store     Store
	gate      FreshnessGate
	locker    lock.Locker
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	metrics   *observability.Metrics
	last      atomic.Pointer[domain.RunSummary]
}

// New creates a Coordinator. A nil locker uses an in-process keyed mutex and a
// nil publisher disables event forwarding.
func New(f BatchFetcher, s Store, g FreshnessGate, l lock.Locker, p Publisher, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Coordinator {
	if l == nil {
		l = lock.NewKeyedMutex()
	}
	return &Coordinator{
		fetcher:   f,
		store:     s,
		gate:      g,
		locker:    l,
		publisher: p,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness reports whether the store, and a remote entity lock when
// configured, are reachable.
func (c *Coordinator) CheckReadiness(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return err
	}
	if p, ok := c.locker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("entity lock: %w", err)
		}
	}
	return nil
}

// LastRun returns the summary of the most recent completed run, if any.
func (c *Coordinator) LastRun() (domain.RunSummary, bool) {
	s := c.last.Load()
	if s == nil {
		return domain.RunSummary{}, false
	}
	return *s, true
}

// Run performs one collection pass. Per-entity failures are reported in the
// summary; an error is returned only when no work could be done at all.
func (c *Coordinator) Run(ctx context.Context, req Request) (domain.RunSummary, error) {
	keys, minAge, skipIfFresh, err := c.resolve(req)
	if err != nil {
		return domain.RunSummary{}, err
	}

	summary := domain.RunSummary{
		RunID:         uuid.NewString(),
		StartedAt:     domain.Now(),
		MinAgeMinutes: minAge,
		SkipIfFresh:   skipIfFresh,
		Requested:     len(keys),
		Outcomes:      make(map[string]domain.EntityOutcome, len(keys)),
	}
	log := c.logger.With("run_id", summary.RunID)
	start := time.Now()

	if err := c.store.Ping(ctx); err != nil {
		c.metrics.Runs.WithLabelValues("failed").Inc()
		log.Error("run aborted, store unreachable", "error", err)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return domain.RunSummary{}, err
	}

	log.Info("run started", "requested", len(keys), "min_age_minutes", minAge, "skip_if_fresh", skipIfFresh)

	res := c.fetcher.FetchAll(ctx, keys)
	for _, key := range keys {
		if ff, ok := res.Failures[key]; ok {
			summary.Record(domain.EntityOutcome{
				EntityKey:   key,
				Status:      domain.StatusFetchFailed,
				FailureKind: ff.Kind,
				Error:       ff.Error(),
			})
		}
	}

	window := time.Duration(minAge) * time.Minute
	saved := make([]domain.Observation, 0, len(res.Successes))
	for _, draft := range res.Successes {
		out := c.persist(ctx, log, draft, window, skipIfFresh)
		summary.Record(out)
		if out.Status == domain.StatusSaved {
			saved = append(saved, *out.Observation)
		}
	}

	summary.FinishedAt = domain.Now()
	c.metrics.Runs.WithLabelValues("completed").Inc()
	c.metrics.RunDuration.Observe(time.Since(start).Seconds())
	c.last.Store(&summary)

	log.Info("run finished",
		"requested", summary.Requested,
		"saved", summary.Saved,
		"skipped", summary.Skipped,
		"fetch_failed", summary.FetchFailed,
		"save_failed", summary.SaveFailed,
		"duration", summary.Duration(),
	)

	c.publish(ctx, log, summary, saved)
	return summary, nil
}

func (c *Coordinator) resolve(req Request) (keys []string, minAge int, skipIfFresh bool, err error) {
	raw := req.EntityKeys
	if raw == nil {
		raw = c.opts.EntityKeys
	}
	keys = domain.NormalizeKeys(raw)
	if len(keys) == 0 {
		return nil, 0, false, ErrNoEntityKeys
	}

	minAge = c.opts.MinAgeMinutes
	if req.MinAgeMinutes != nil {
		minAge = *req.MinAgeMinutes
	}
	if minAge < 0 {
		return nil, 0, false, ErrInvalidMinAge
	}

	skipIfFresh = c.opts.SkipIfFresh
	if req.SkipIfFresh != nil {
		skipIfFresh = *req.SkipIfFresh
	}
	return keys, minAge, skipIfFresh, nil
}

// persist runs the gate and the insert for one observation under the entity
// lock, so concurrent runs see each other's writes.
func (c *Coordinator) persist(ctx context.Context, log *slog.Logger, draft domain.ObservationDraft, window time.Duration, skipIfFresh bool) domain.EntityOutcome {
	key := draft.EntityKey
	out := domain.EntityOutcome{EntityKey: key}

	release, err := c.locker.Lock(ctx, key)
	if err != nil {
		c.metrics.SaveErrors.Inc()
		log.Warn("entity lock failed", "entity_key", key, "error", err)
		out.Status = domain.StatusSaveFailed
		out.Error = fmt.Sprintf("lock: %v", err)
		return out
	}
	defer release()

	if skipIfFresh {
		decision, err := c.gate.Decide(ctx, key, window)
		switch {
		case err != nil && c.opts.FailOpen:
			c.metrics.GateErrors.Inc()
			log.Warn("freshness check failed, inserting anyway", "entity_key", key, "error", err)
		case err != nil:
			c.metrics.GateErrors.Inc()
			log.Warn("freshness check failed, entity not written", "entity_key", key, "error", err)
			out.Status = domain.StatusGateFailed
			out.Error = err.Error()
			return out
		case !decision.Accepted():
			c.metrics.ObservationsSkipped.Inc()
			age := decision.AgeMinutes()
			log.Debug("fresh observation exists, skipping", "entity_key", key, "age_minutes", age)
			out.Status = domain.StatusSkipped
			out.AgeMinutes = &age
			out.Observation = decision.Last
			return out
		}
	}

	obs, err := c.store.Insert(ctx, draft)
	if err != nil {
		c.metrics.SaveErrors.Inc()
		log.Warn("insert failed", "entity_key", key, "error", err)
		out.Status = domain.StatusSaveFailed
		out.Error = err.Error()
		return out
	}
	c.metrics.ObservationsSaved.Inc()
	out.Status = domain.StatusSaved
	out.Observation = &obs
	return out
}

// publish forwards results best-effort. Failures never change the summary.
func (c *Coordinator) publish(ctx context.Context, log *slog.Logger, summary domain.RunSummary, saved []domain.Observation) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishObservations(ctx, summary.RunID, saved); err != nil {
		c.metrics.PublishErrors.Inc()
		log.Warn("publish observations failed", "error", err)
	}
	if err := c.publisher.PublishSummary(ctx, summary); err != nil {
		c.metrics.PublishErrors.Inc()
		log.Warn("publish run summary failed", "error", err)
	}
}
