package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"taskfleet/internal/domain"
)

var postgresMigrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS leases (
  id UUID PRIMARY KEY,
  node VARCHAR(200) NOT NULL,
  task_name VARCHAR(200) NOT NULL,
  profile VARCHAR(200) NOT NULL,
  last_run TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leases_key ON leases(task_name, profile, last_run DESC);
`},
	{2, `
ALTER TABLE leases ADD COLUMN IF NOT EXISTS bucket BIGINT;
CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_bucket ON leases(task_name, profile, bucket) WHERE bucket IS NOT NULL;
`},
}

// migrationLockKey serializes concurrent EnsureSchema calls across nodes.
const migrationLockKey int64 = 7310251

type postgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects a pool and pings it.
func OpenPostgres(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return NewPostgresStore(pool, log), nil
}

// NewPostgresStore wraps an existing pool. Close closes the pool.
func NewPostgresStore(pool *pgxpool.Pool, log zerolog.Logger) Store {
	return &postgresStore{pool: pool, log: log}
}

func (s *postgresStore) EnsureSchema(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "select pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range postgresMigrations {
		if err := s.apply(ctx, conn.Conn(), m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *postgresStore) apply(ctx context.Context, conn *pgx.Conn, m migration) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := tx.Exec(ctx, m.stmt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES ($1)`, m.version); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Debug().Int("version", m.version).Msg("applied lease migration")
	return nil
}

func (s *postgresStore) Insert(ctx context.Context, rec domain.LeaseRecord) error {
	rec = normalize(rec)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO leases (id, node, task_name, profile, last_run, bucket)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Node, rec.TaskName, rec.Profile, rec.LastRun, rec.Bucket)
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

func (s *postgresStore) Claim(ctx context.Context, rec domain.LeaseRecord, bucket int64) (bool, error) {
	rec = normalize(rec)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leases (id, node, task_name, profile, last_run, bucket)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_name, profile, bucket) WHERE bucket IS NOT NULL DO NOTHING
	`, rec.ID, rec.Node, rec.TaskName, rec.Profile, rec.LastRun, bucket)
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *postgresStore) Latest(ctx context.Context, task, profile string) (domain.LeaseRecord, error) {
	rec, err := scanPostgres(s.pool.QueryRow(ctx, `
		SELECT id, node, task_name, profile, last_run, bucket
		FROM leases
		WHERE task_name = $1 AND profile = $2
		ORDER BY last_run DESC
		LIMIT 1
	`, task, profile))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeaseRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.LeaseRecord{}, fmt.Errorf("latest lease: %w", err)
	}
	return rec, nil
}

func (s *postgresStore) Recent(ctx context.Context, limit int) ([]domain.LeaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, node, task_name, profile, last_run, bucket
		FROM leases
		ORDER BY last_run DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent leases: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaseRecord
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (domain.LeaseRecord, error) {
	var rec domain.LeaseRecord
	if err := row.Scan(&rec.ID, &rec.Node, &rec.TaskName, &rec.Profile, &rec.LastRun, &rec.Bucket); err != nil {
		return domain.LeaseRecord{}, err
	}
	rec.LastRun = rec.LastRun.UTC()
	return rec, nil
}
