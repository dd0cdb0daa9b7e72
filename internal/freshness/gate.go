// Package freshness decides whether a new observation is worth persisting
// given the age of the last one stored for the same entity.
package freshness

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/jonboulle/clockwork"
)

// LatestReader returns the most recent stored observation for a key, or nil
// when none exists.
type LatestReader interface {
	MostRecent(ctx context.Context, entityKey string) (*domain.Observation, error)
}

// Gate compares the age of the latest stored observation against a window.
// It never writes.
type Gate struct {
	store LatestReader
	clock clockwork.Clock
}

// NewGate creates a Gate. A nil clock uses real time.
func NewGate(store LatestReader, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gate{store: store, clock: clock}
}

// Decide returns Accept when no observation exists for entityKey or the latest
// one is at least minAge old, and Skip with the measured age otherwise.
// A store read failure is returned as-is; the caller owns that policy.
func (g *Gate) Decide(ctx context.Context, entityKey string, minAge time.Duration) (domain.Decision, error) {
	last, err := g.store.MostRecent(ctx, entityKey)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("freshness check for %q: %w", entityKey, err)
	}
	if last == nil {
		return domain.Decision{Verdict: domain.VerdictAccept}, nil
	}

	age := Age(g.clock.Now(), last.CreatedAt)
	d := domain.Decision{Verdict: domain.VerdictAccept, Age: age, Last: last}
	if age < minAge {
		d.Verdict = domain.VerdictSkip
	}
	return d, nil
}

// Age returns now - createdAt with both sides in UTC. Timestamps read without
// zone information are taken to be UTC already.
func Age(now, createdAt time.Time) time.Duration {
	return now.UTC().Sub(createdAt.UTC())
}
