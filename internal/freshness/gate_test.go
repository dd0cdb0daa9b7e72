package freshness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	last *domain.Observation
	err  error
	keys []string
}

func (s *stubReader) MostRecent(_ context.Context, key string) (*domain.Observation, error) {
	s.keys = append(s.keys, key)
	return s.last, s.err
}

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDecide_NoPriorObservation(t *testing.T) {
	g := NewGate(&stubReader{}, clockwork.NewFakeClockAt(now))

	d, err := g.Decide(context.Background(), "Moscow,ru", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Accepted())
	assert.Nil(t, d.Last)
}

func TestDecide_Window(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want domain.Verdict
	}{
		{"just written", 0, domain.VerdictSkip},
		{"ten minutes", 10 * time.Minute, domain.VerdictSkip},
		{"one second short", 30*time.Minute - time.Second, domain.VerdictSkip},
		{"exactly at threshold", 30 * time.Minute, domain.VerdictAccept},
		{"older", 45 * time.Minute, domain.VerdictAccept},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			last := &domain.Observation{ID: 7, EntityKey: "Moscow,ru", CreatedAt: now.Add(-tc.age)}
			g := NewGate(&stubReader{last: last}, clockwork.NewFakeClockAt(now))

			d, err := g.Decide(context.Background(), "Moscow,ru", 30*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tc.want, d.Verdict)
			assert.Equal(t, tc.age, d.Age)
			assert.Same(t, last, d.Last)
		})
	}
}

func TestDecide_ZeroWindowAlwaysAccepts(t *testing.T) {
	last := &domain.Observation{CreatedAt: now}
	g := NewGate(&stubReader{last: last}, clockwork.NewFakeClockAt(now))

	d, err := g.Decide(context.Background(), "A", 0)
	require.NoError(t, err)
	assert.True(t, d.Accepted())
}

func TestDecide_TimezoneNormalized(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	// 14:50 MSK == 11:50 UTC, ten minutes before now.
	last := &domain.Observation{CreatedAt: time.Date(2024, 6, 1, 14, 50, 0, 0, msk)}
	g := NewGate(&stubReader{last: last}, clockwork.NewFakeClockAt(now))

	d, err := g.Decide(context.Background(), "Moscow,ru", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictSkip, d.Verdict)
	assert.InDelta(t, 10.0, d.AgeMinutes(), 1e-9)
}

func TestDecide_ReadFailurePropagates(t *testing.T) {
	storeErr := &domain.StoreError{Op: "most_recent", Err: errors.New("connection refused")}
	g := NewGate(&stubReader{err: storeErr}, clockwork.NewFakeClockAt(now))

	_, err := g.Decide(context.Background(), "A", 30*time.Minute)
	require.Error(t, err)
	var se *domain.StoreError
	assert.ErrorAs(t, err, &se)
}

func TestDecide_AdvancingClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(now)
	last := &domain.Observation{CreatedAt: now}
	g := NewGate(&stubReader{last: last}, clock)

	d, err := g.Decide(context.Background(), "A", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, d.Accepted())

	clock.Advance(31 * time.Minute)
	d, err = g.Decide(context.Background(), "A", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Accepted())
}
