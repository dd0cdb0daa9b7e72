// Package memory provides a concurrency-safe in-process observation store
// for local runs and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Store keeps observations per entity key in insertion order.
type Store struct {
	mu     sync.RWMutex
	clock  clockwork.Clock
	nextID int64
	data   map[string][]domain.Observation
}

// New creates an empty store. A nil clock uses real time.
func New(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{clock: clock, data: make(map[string][]domain.Observation)}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// EnsureSchema is a no-op.
func (s *Store) EnsureSchema(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Insert assigns the next id and the current clock time to d and stores it.
func (s *Store) Insert(ctx context.Context, d domain.ObservationDraft) (domain.Observation, error) {
	if err := ctx.Err(); err != nil {
		return domain.Observation{}, &domain.StoreError{Op: "insert", Err: err}
	}
	d = d.Normalize()
	if d.EntityKey == "" {
		return domain.Observation{}, &domain.StoreError{Op: "insert", Err: errors.New("entity key is empty")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	obs := domain.FromDraft(d, s.nextID, s.clock.Now().UTC())
	s.data[d.EntityKey] = append(s.data[d.EntityKey], obs)
	return obs, nil
}

// MostRecent returns the newest observation for entityKey, or nil if none.
func (s *Store) MostRecent(_ context.Context, entityKey string) (*domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[entityKey]
	if len(history) == 0 {
		return nil, nil
	}
	obs := history[len(history)-1]
	return &obs, nil
}

// Recent returns up to limit observations across all keys, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]domain.Observation, error) {
	s.mu.RLock()
	all := make([]domain.Observation, 0)
	for _, history := range s.data {
		all = append(all, history...)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit >= 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Len returns the number of stored observations for entityKey.
func (s *Store) Len(entityKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[entityKey])
}
