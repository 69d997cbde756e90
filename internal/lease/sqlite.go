package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"taskfleet/internal/domain"
)

type migration struct {
	version int
	stmt    string
}

// last_run is stored as UTC unix nanoseconds so ORDER BY is exact.
var sqliteMigrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS leases (
  id TEXT PRIMARY KEY,
  node TEXT NOT NULL CHECK(length(node) <= 200),
  task_name TEXT NOT NULL CHECK(length(task_name) <= 200),
  profile TEXT NOT NULL CHECK(length(profile) <= 200),
  last_run INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leases_key ON leases(task_name, profile, last_run DESC);
`},
	{2, `
ALTER TABLE leases ADD COLUMN bucket INTEGER;
CREATE UNIQUE INDEX IF NOT EXISTS idx_leases_bucket ON leases(task_name, profile, bucket) WHERE bucket IS NOT NULL;
`},
}

type sqliteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens a file (or ":memory:") database.
func OpenSQLite(cfg Config, log zerolog.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		path = "taskfleet.db"
	}
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)", path)
		if cfg.BusyTimeout > 0 {
			dsn += fmt.Sprintf("&_pragma=busy_timeout(%d)", cfg.BusyTimeout.Milliseconds())
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	db.SetMaxIdleConns(1)
	return NewSQLiteStore(db, log), nil
}

// NewSQLiteStore wraps an already opened database.
func NewSQLiteStore(db *sql.DB, log zerolog.Logger) Store {
	return &sqliteStore{db: db, log: log}
}

func (s *sqliteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range sqliteMigrations {
		if err := s.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) apply(ctx context.Context, m migration) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var n int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return tx.Rollback()
	}
	if _, err = tx.ExecContext(ctx, m.stmt); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug().Int("version", m.version).Msg("applied lease migration")
	return nil
}

func (s *sqliteStore) Insert(ctx context.Context, rec domain.LeaseRecord) error {
	rec = normalize(rec)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO leases (id, node, task_name, profile, last_run, bucket) VALUES (?,?,?,?,?,?)`,
		rec.ID.String(), rec.Node, rec.TaskName, rec.Profile, rec.LastRun.UnixNano(), nullBucket(rec.Bucket))
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

func (s *sqliteStore) Claim(ctx context.Context, rec domain.LeaseRecord, bucket int64) (bool, error) {
	rec = normalize(rec)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO leases (id, node, task_name, profile, last_run, bucket) VALUES (?,?,?,?,?,?)
ON CONFLICT DO NOTHING`,
		rec.ID.String(), rec.Node, rec.TaskName, rec.Profile, rec.LastRun.UnixNano(), bucket)
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim lease: %w", err)
	}
	return n == 1, nil
}

func (s *sqliteStore) Latest(ctx context.Context, task, profile string) (domain.LeaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, node, task_name, profile, last_run, bucket
FROM leases
WHERE task_name = ? AND profile = ?
ORDER BY last_run DESC
LIMIT 1`, task, profile)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LeaseRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.LeaseRecord{}, fmt.Errorf("latest lease: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]domain.LeaseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, node, task_name, profile, last_run, bucket
FROM leases ORDER BY last_run DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent leases: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaseRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (domain.LeaseRecord, error) {
	var (
		rec    domain.LeaseRecord
		id     string
		ns     int64
		bucket sql.NullInt64
	)
	if err := row.Scan(&id, &rec.Node, &rec.TaskName, &rec.Profile, &ns, &bucket); err != nil {
		return domain.LeaseRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.LeaseRecord{}, fmt.Errorf("parse lease id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.LastRun = time.Unix(0, ns).UTC()
	if bucket.Valid {
		b := bucket.Int64
		rec.Bucket = &b
	}
	return rec, nil
}

func normalize(rec domain.LeaseRecord) domain.LeaseRecord {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Profile == "" {
		rec.Profile = domain.DefaultProfile
	}
	if rec.LastRun.IsZero() {
		rec.LastRun = time.Now()
	}
	rec.LastRun = rec.LastRun.UTC()
	return rec
}

func nullBucket(b *int64) any {
	if b == nil {
		return nil
	}
	return *b
}
