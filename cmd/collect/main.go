// Command collect performs a single collection run over the configured entity
// keys and prints the run summary as JSON. It exits non-zero only when the run
// could not be performed at all.
//
// Usage:
//
//	go run ./cmd/collect \
//	  -keys "Moscow,ru;Izhevsk,ru" \
//	  -min-age 30
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/couchcryptid/weather-collector/internal/app"
	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		slog.Error("collect failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	keys := flag.String("keys", "", "entity keys separated by ';' (default: ENTITY_KEYS)")
	minAge := flag.Int("min-age", -1, "freshness window in minutes (default: MIN_AGE_MINUTES)")
	noSkip := flag.Bool("no-skip", false, "insert even when a fresh observation exists")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	var req pipeline.Request
	if *keys != "" {
		req.EntityKeys = strings.Split(*keys, ";")
	}
	if *minAge >= 0 {
		req.MinAgeMinutes = minAge
	}
	if *noSkip {
		off := false
		req.SkipIfFresh = &off
	}

	summary, err := a.Coordinator.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
