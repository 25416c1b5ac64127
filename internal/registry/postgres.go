package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresStoreName = "postgres"

// PostgresStore keeps the registry in a single table with upsert
// semantics on the service name.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

// PostgresOptions configures NewPostgresStore.
type PostgresOptions struct {
	DSN      string
	Table    string
	MaxConns int32
}

// NewPostgresStore opens a pool, verifies connectivity and ensures the
// registry table exists.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storeErr(postgresStoreName, "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeErr(postgresStoreName, "ping", err)
	}

	table := opts.Table
	if table == "" {
		table = "service_registry"
	}

	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{table}.Sanitize(),
		now:   time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+s.table+` (
  name TEXT PRIMARY KEY,
  base_url TEXT NOT NULL,
  version TEXT NOT NULL DEFAULT '',
  endpoints TEXT[] NOT NULL DEFAULT '{}',
  healthy BOOLEAN NOT NULL DEFAULT TRUE,
  registered_at TIMESTAMPTZ NOT NULL,
  last_health_check TIMESTAMPTZ
)`)
	return storeErr(postgresStoreName, "migrate", err)
}

// Register implements Registry.
func (s *PostgresStore) Register(ctx context.Context, record ServiceRecord) error {
	rec, err := prepare(record, s.now())
	if err != nil {
		return err
	}

	endpoints := rec.Endpoints
	if endpoints == nil {
		endpoints = []string{}
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO `+s.table+` (name, base_url, version, endpoints, healthy, registered_at, last_health_check)
VALUES ($1, $2, $3, $4, $5, $6, NULL)
ON CONFLICT (name) DO UPDATE SET
  base_url = EXCLUDED.base_url,
  version = EXCLUDED.version,
  endpoints = EXCLUDED.endpoints,
  healthy = EXCLUDED.healthy,
  registered_at = EXCLUDED.registered_at,
  last_health_check = NULL`,
		rec.Name, rec.BaseURL, rec.Version, endpoints, rec.Healthy, rec.RegisteredAt)
	return storeErr(postgresStoreName, "register", err)
}

const selectColumns = `name, base_url, version, endpoints, healthy, registered_at, last_health_check`

func scanRecord(row pgx.Row) (ServiceRecord, error) {
	var rec ServiceRecord
	err := row.Scan(
		&rec.Name, &rec.BaseURL, &rec.Version, &rec.Endpoints,
		&rec.Healthy, &rec.RegisteredAt, &rec.LastHealthCheck,
	)
	if err != nil {
		return ServiceRecord{}, err
	}
	if len(rec.Endpoints) == 0 {
		rec.Endpoints = nil
	}
	rec.RegisteredAt = rec.RegisteredAt.UTC()
	if rec.LastHealthCheck != nil {
		checked := rec.LastHealthCheck.UTC()
		rec.LastHealthCheck = &checked
	}
	return rec, nil
}

// Discover implements Registry.
func (s *PostgresStore) Discover(ctx context.Context, name string) (ServiceRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM `+s.table+` WHERE name = $1`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ServiceRecord{}, ErrServiceNotFound
	}
	if err != nil {
		return ServiceRecord{}, storeErr(postgresStoreName, "discover", err)
	}
	return rec, nil
}

// List implements Registry.
func (s *PostgresStore) List(ctx context.Context) (map[string]ServiceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM `+s.table)
	if err != nil {
		return nil, storeErr(postgresStoreName, "list", err)
	}
	defer rows.Close()

	out := make(map[string]ServiceRecord)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeErr(postgresStoreName, "list", err)
		}
		out[rec.Name] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(postgresStoreName, "list", err)
	}
	return out, nil
}

// UpdateHealth implements Registry.
func (s *PostgresStore) UpdateHealth(ctx context.Context, name string, healthy bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET healthy = $2, last_health_check = $3 WHERE name = $1`,
		name, healthy, s.now().UTC())
	if err != nil {
		return storeErr(postgresStoreName, "update health", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Unregister implements Registry.
func (s *PostgresStore) Unregister(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE name = $1`, name)
	if err != nil {
		return storeErr(postgresStoreName, "unregister", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
