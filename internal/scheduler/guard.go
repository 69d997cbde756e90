package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskfleet/internal/domain"
	"taskfleet/internal/lease"
	"taskfleet/internal/registry"
)

// Decision is the guard's verdict for one cycle.
type Decision struct {
	Run bool
	// Holder and LastRun describe the covering lease when Run is false.
	Holder  string
	LastRun time.Time
	// Lost is set when a bucket claim found another node's row.
	Lost bool
}

// Guard decides whether this node runs a task in the current cycle.
//
// The check and the write are separate store calls. Two nodes that both
// read before either writes will both run; BucketClaim narrows that to
// one winner per interval slot.
type Guard struct {
	store    lease.Store
	node     string
	strategy lease.Strategy
	now      func() time.Time
}

func NewGuard(store lease.Store, node string, strategy lease.Strategy) *Guard {
	if strategy == "" {
		strategy = lease.CheckThenWrite
	}
	return &Guard{store: store, node: node, strategy: strategy, now: time.Now}
}

// Node is the identity written into leases.
func (g *Guard) Node() string { return g.node }

// Check reads the newest lease for (task, profile) and reports whether it
// still covers now. It never writes.
func (g *Guard) Check(ctx context.Context, task, profile string, window time.Duration) (Decision, error) {
	last, err := g.store.Latest(ctx, task, profile)
	if errors.Is(err, lease.ErrNotFound) {
		return Decision{Run: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("read lease: %w", err)
	}
	if last.Covers(g.now(), window) {
		return Decision{Run: false, Holder: last.Node, LastRun: last.LastRun}, nil
	}
	return Decision{Run: true}, nil
}

// Claim writes this node's lease for the current cycle. In bucket mode the
// slot is the interval window containing now.
func (g *Guard) Claim(ctx context.Context, task, profile string, window time.Duration) (Decision, error) {
	now := g.now()
	return g.claim(ctx, task, profile, now, lease.Bucket(now, window))
}

// CheckActivation reports whether a lease for (task, profile) was written at
// or after activation. Cron tasks use it so a node's lease for the previous
// activation never covers the next one.
func (g *Guard) CheckActivation(ctx context.Context, task, profile string, activation time.Time) (Decision, error) {
	last, err := g.store.Latest(ctx, task, profile)
	if errors.Is(err, lease.ErrNotFound) {
		return Decision{Run: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("read lease: %w", err)
	}
	if !last.LastRun.Before(activation) {
		return Decision{Run: false, Holder: last.Node, LastRun: last.LastRun}, nil
	}
	return Decision{Run: true}, nil
}

// ClaimActivation writes this node's lease for a cron activation. In bucket
// mode the slot is the activation instant, which every node computes alike.
func (g *Guard) ClaimActivation(ctx context.Context, task, profile string, activation time.Time) (Decision, error) {
	return g.claim(ctx, task, profile, g.now(), activation.UnixNano())
}

func (g *Guard) claim(ctx context.Context, task, profile string, now time.Time, bucket int64) (Decision, error) {
	rec := domain.NewLease(g.node, task, profile, now)

	if g.strategy != lease.BucketClaim {
		if err := g.store.Insert(ctx, rec); err != nil {
			return Decision{}, fmt.Errorf("write lease: %w", err)
		}
		return Decision{Run: true}, nil
	}

	rec.Bucket = &bucket
	won, err := g.store.Claim(ctx, rec, bucket)
	if err != nil {
		return Decision{}, fmt.Errorf("claim lease: %w", err)
	}
	if !won {
		return Decision{Run: false, Lost: true}, nil
	}
	return Decision{Run: true}, nil
}

// Acquire checks and, if the task is due, claims the cycle that was
// scheduled for the given instant.
func (g *Guard) Acquire(ctx context.Context, d *registry.Descriptor, scheduled time.Time) (Decision, error) {
	if d.Settings.Cron != nil {
		activation := d.Settings.Activation(scheduled, g.now())
		dec, err := g.CheckActivation(ctx, d.Name, d.Profile, activation)
		if err != nil || !dec.Run {
			return dec, err
		}
		return g.ClaimActivation(ctx, d.Name, d.Profile, activation)
	}

	window := d.Settings.Interval
	dec, err := g.Check(ctx, d.Name, d.Profile, window)
	if err != nil || !dec.Run {
		return dec, err
	}
	return g.Claim(ctx, d.Name, d.Profile, window)
}
