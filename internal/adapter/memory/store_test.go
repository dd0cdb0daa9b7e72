package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func draft(key string, temp float64) domain.ObservationDraft {
	return domain.ObservationDraft{EntityKey: key, Temperature: temp, Description: "clear"}
}

func TestInsertAndMostRecent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := New(clock)
	ctx := context.Background()

	first, err := s.Insert(ctx, draft("A", 1.04))
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := s.Insert(ctx, draft("A", 2))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.InDelta(t, 1.0, first.Temperature, 1e-9)
	assert.Equal(t, clock.Now(), second.CreatedAt)

	got, err := s.MostRecent(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, *got)

	none, err := s.MostRecent(ctx, "B")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRecent_NewestFirstWithLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	ctx := context.Background()

	for _, k := range []string{"A", "B", "C"} {
		_, err := s.Insert(ctx, draft(k, 0))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0].EntityKey)
	assert.Equal(t, "B", got[1].EntityKey)
}

func TestInsert_Failures(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	_, err := s.Insert(ctx, draft("  ", 0))
	var se *domain.StoreError
	require.ErrorAs(t, err, &se)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Insert(cancelled, draft("A", 0))
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len("A"))
}

func TestInsert_Concurrent(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Insert(ctx, draft("A", 0))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len("A"))
	got, err := s.MostRecent(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.ID)
}
