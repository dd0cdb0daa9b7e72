// Package app assembles the collector from configuration. It is shared by the
// long-running service and the one-shot command.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-collector/internal/adapter/kafka"
	"github.com/couchcryptid/weather-collector/internal/adapter/memory"
	"github.com/couchcryptid/weather-collector/internal/adapter/openweather"
	"github.com/couchcryptid/weather-collector/internal/adapter/postgres"
	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/fetch"
	"github.com/couchcryptid/weather-collector/internal/freshness"
	"github.com/couchcryptid/weather-collector/internal/lock"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"github.com/couchcryptid/weather-collector/internal/pipeline"
	"github.com/redis/go-redis/v9"
)

// Store is the full persistence surface used across the service.
type Store interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	Insert(ctx context.Context, d domain.ObservationDraft) (domain.Observation, error)
	MostRecent(ctx context.Context, entityKey string) (*domain.Observation, error)
	Recent(ctx context.Context, limit int) ([]domain.Observation, error)
	Close() error
}

// App holds the wired components and the resources that need closing.
type App struct {
	Coordinator *pipeline.Coordinator
	Store       Store

	closers []func() error
	logger  *slog.Logger
}

// New wires the data source, orchestrator, gate, store, lock, and publisher.
// The schema is created before returning.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{logger: logger}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if err := store.EnsureSchema(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	var locker lock.Locker
	if cfg.RedisEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		locker = lock.NewRedisLocker(rdb, cfg.LockTTL, logger)
		logger.Info("redis entity lock enabled", "addr", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	var publisher pipeline.Publisher
	if cfg.KafkaEnabled {
		p := kafka.NewPublisher(cfg, logger)
		a.closers = append(a.closers, p.Close)
		publisher = p
		logger.Info("kafka publishing enabled",
			"brokers", cfg.KafkaBrokers,
			"observations_topic", cfg.KafkaObsTopic,
			"summary_topic", cfg.KafkaRunTopic,
		)
	}

	client := openweather.NewClient(cfg, logger)
	orchestrator := fetch.New(client, cfg.FetchConcurrency, logger, metrics)
	gate := freshness.NewGate(store, domain.Clock())

	a.Coordinator = pipeline.New(orchestrator, store, gate, locker, publisher, pipeline.Options{
		EntityKeys:    cfg.EntityKeys,
		MinAgeMinutes: cfg.MinAgeMinutes,
		SkipIfFresh:   cfg.SkipIfFresh,
		FailOpen:      cfg.FreshnessFailOpen,
	}, logger, metrics)

	return a, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store, observations are lost on exit")
		return memory.New(domain.Clock()), nil
	default:
		s, err := postgres.Open(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("close failed", "error", err)
		return err
	}
	return nil
}
