package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MemoryStoreEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Atlantis,xx" {
			http.Error(w, `{"cod":"404","message":"city not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"main":{"temp":11.26,"humidity":80,"pressure":1009},"weather":[{"description":"облачно"}]}`)
	}))
	defer upstream.Close()

	cfg := &config.Config{
		OpenWeatherAPIKey:  "k",
		OpenWeatherBaseURL: upstream.URL,
		OpenWeatherUnits:   "metric",
		OpenWeatherLang:    "ru",
		FetchTimeout:       time.Second,
		FetchConcurrency:   4,
		EntityKeys:         []string{"Moscow,ru", "Atlantis,xx"},
		MinAgeMinutes:      30,
		SkipIfFresh:        true,
		StoreDriver:        "memory",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a, err := New(ctx, cfg, logger, observability.NewMetricsForTesting())
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Coordinator.Run(ctx, pipeline.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Saved)
	assert.Equal(t, 1, summary.FetchFailed)
	assert.Equal(t, domain.FailureUpstreamError, summary.Outcomes["Atlantis,xx"].FailureKind)

	latest, err := a.Store.MostRecent(ctx, "Moscow,ru")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 11.3, latest.Temperature, 1e-9)

	again, err := a.Coordinator.Run(ctx, pipeline.Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.NoError(t, a.Close())
}
