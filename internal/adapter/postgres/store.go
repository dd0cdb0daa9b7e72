package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/lib/pq"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS observations (
	id          BIGSERIAL PRIMARY KEY,
	entity_key  VARCHAR(100) NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	humidity    INTEGER,
	pressure    INTEGER,
	description VARCHAR(200) NOT NULL,
	wind_speed  DOUBLE PRECISION,
	clouds      INTEGER,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	createIndex = `CREATE INDEX IF NOT EXISTS idx_observations_entity_created
	ON observations (entity_key, created_at DESC)`

	columns = `id, entity_key, temperature, humidity, pressure, description, wind_speed, clouds, created_at`

	insertQuery = `INSERT INTO observations
	(entity_key, temperature, humidity, pressure, description, wind_speed, clouds)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at`
	mostRecentQuery = `SELECT ` + columns + ` FROM observations
	WHERE entity_key = $1 ORDER BY created_at DESC, id DESC LIMIT 1`
	recentQuery = `SELECT ` + columns + ` FROM observations
	ORDER BY created_at DESC, id DESC LIMIT $1`
)

// PostgreSQL error codes tolerated during concurrent schema creation.
const (
	codeDuplicateTable  = "42P07"
	codeUniqueViolation = "23505"
	codeDuplicateObject = "42710"
)

// Store persists observations in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open connects to the configured database and applies pool limits.
// It does not ping; call Ping or EnsureSchema to verify connectivity.
func Open(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	return New(db, logger), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// EnsureSchema creates the observations table and its lookup index when
// absent. Safe to call repeatedly and from concurrent processes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTable, createIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !alreadyExists(err) {
			return &domain.StoreError{Op: "ensure_schema", Err: err}
		}
	}
	s.logger.Debug("observations schema ready")
	return nil
}

// alreadyExists reports whether err is the loser's side of a concurrent
// CREATE ... IF NOT EXISTS race.
func alreadyExists(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case codeDuplicateTable, codeUniqueViolation, codeDuplicateObject:
		return true
	}
	return false
}

// Insert writes one observation and returns it with its assigned id and
// creation time. The write is a single statement.
func (s *Store) Insert(ctx context.Context, d domain.ObservationDraft) (domain.Observation, error) {
	d = d.Normalize()

	var obs domain.Observation
	row := s.db.QueryRowContext(ctx, insertQuery,
		d.EntityKey,
		d.Temperature,
		nullInt(d.Humidity),
		nullInt(d.Pressure),
		d.Description,
		nullFloat(d.WindSpeed),
		nullInt(d.Clouds),
	)
	if err := row.Scan(&obs.ID, &obs.CreatedAt); err != nil {
		return domain.Observation{}, &domain.StoreError{Op: "insert", Err: err}
	}
	return domain.FromDraft(d, obs.ID, obs.CreatedAt.UTC()), nil
}

// MostRecent returns the newest observation for entityKey, or nil if none.
func (s *Store) MostRecent(ctx context.Context, entityKey string) (*domain.Observation, error) {
	obs, err := scanObservation(s.db.QueryRowContext(ctx, mostRecentQuery, entityKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StoreError{Op: "most_recent", Err: err}
	}
	return &obs, nil
}

// Recent returns up to limit observations across all entities, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Observation, error) {
	rows, err := s.db.QueryContext(ctx, recentQuery, limit)
	if err != nil {
		return nil, &domain.StoreError{Op: "recent", Err: err}
	}
	defer rows.Close()

	out := make([]domain.Observation, 0, limit)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, &domain.StoreError{Op: "recent", Err: err}
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StoreError{Op: "recent", Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObservation(sc scanner) (domain.Observation, error) {
	var (
		obs                      domain.Observation
		humidity, pressure, clds sql.NullInt64
		wind                     sql.NullFloat64
	)
	err := sc.Scan(
		&obs.ID,
		&obs.EntityKey,
		&obs.Temperature,
		&humidity,
		&pressure,
		&obs.Description,
		&wind,
		&clds,
		&obs.CreatedAt,
	)
	if err != nil {
		return domain.Observation{}, err
	}
	obs.Humidity = intFromNull(humidity)
	obs.Pressure = intFromNull(pressure)
	obs.Clouds = intFromNull(clds)
	if wind.Valid {
		obs.WindSpeed = domain.FloatPtr(wind.Float64)
	}
	obs.CreatedAt = obs.CreatedAt.UTC()
	return obs, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	return domain.IntPtr(int(n.Int64))
}
