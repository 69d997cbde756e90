// Package lease persists lease records shared by every node of the fleet.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"taskfleet/internal/domain"
)

var (
	// ErrNotFound is returned by Latest when no lease exists for the key.
	ErrNotFound = errors.New("lease not found")
	// ErrUnknownDriver is returned by Open for unsupported drivers.
	ErrUnknownDriver = errors.New("unknown lease store driver")
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	// EnsureSchema applies pending migrations. It is safe to call repeatedly.
	EnsureSchema(ctx context.Context) error
	// Insert appends a lease unconditionally.
	Insert(ctx context.Context, rec domain.LeaseRecord) error
	// Claim appends a lease tagged with bucket unless one already exists for
	// (task, profile, bucket). It reports whether this call won.
	Claim(ctx context.Context, rec domain.LeaseRecord, bucket int64) (bool, error)
	// Latest returns the most recent lease for (task, profile).
	Latest(ctx context.Context, task, profile string) (domain.LeaseRecord, error)
	// Recent lists the newest leases across all tasks.
	Recent(ctx context.Context, limit int) ([]domain.LeaseRecord, error)
	Close() error
}

// Config selects and tunes a Store implementation.
type Config struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration
	MaxConns    int32
}

// Open initializes the configured store. The schema is not touched; the
// scheduler provisions it on start.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return OpenSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return OpenPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// Bucket is the interval slot that contains at.
func Bucket(at time.Time, window time.Duration) int64 {
	if window <= 0 {
		return at.UnixNano()
	}
	return at.UnixNano() / int64(window)
}
