// Package scheduler runs registered tasks on per-task timers and uses the
// shared lease store so each task runs on at most one node per interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"taskfleet/internal/lease"
	"taskfleet/internal/registry"
	"taskfleet/internal/worker"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNoNode         = errors.New("node identity is required")
)

type Config struct {
	Store    lease.Store
	Registry *registry.Registry
	Resolver registry.SettingsResolver

	// Node is written into every lease this process creates.
	Node     string
	Strategy lease.Strategy
	// MaxConcurrent caps simultaneous executions; 0 is unbounded.
	MaxConcurrent int

	Logger  *zerolog.Logger
	Metrics *Metrics
}

// Service owns the descriptors, their timers and the shutdown signal.
type Service struct {
	store    lease.Store
	registry *registry.Registry
	resolver registry.SettingsResolver
	guard    *Guard
	runner   *worker.Runner
	metrics  *Metrics
	log      zerolog.Logger

	mu      sync.Mutex
	entries []*entry
	started bool
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	wg       sync.WaitGroup

	schemaReady atomic.Bool
}

func NewService(cfg Config) *Service {
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &Service{
		store:    cfg.Store,
		registry: reg,
		resolver: cfg.Resolver,
		guard:    NewGuard(cfg.Store, cfg.Node, cfg.Strategy),
		runner:   worker.NewRunner(cfg.MaxConcurrent),
		metrics:  cfg.Metrics,
		log:      logger.With().Str("component", "scheduler").Str("node", cfg.Node).Logger(),
		stopping: make(chan struct{}),
	}
}

// Start provisions the schema, discovers tasks and arms every timer.
// Only configuration errors are returned; a failing store is logged and
// retried before each lease check.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.guard.Node() == "" {
		return ErrNoNode
	}
	if s.store == nil {
		return errors.New("lease store is required")
	}

	if err := s.ensureSchema(ctx); err != nil {
		s.log.Error().Err(err).Msg("lease schema not ready, will retry before first lease check")
	}

	descs, err := s.registry.Discover(s.resolver)
	if err != nil {
		return fmt.Errorf("discover tasks: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true

	s.entries = make([]*entry, 0, len(descs))
	armedAt := time.Now()
	for _, d := range descs {
		e := newEntry(d)
		s.entries = append(s.entries, e)
		delay := d.Settings.FirstDelay(armedAt)
		e.arm(delay, armedAt)
		s.wg.Add(1)
		go s.loop(e)

		s.log.Info().
			Str("task", d.Name).
			Str("profile", d.Profile).
			Str("owner", d.Owner).
			Dur("interval", d.Settings.Interval).
			Dur("first_run_delay", delay).
			Str("cron", d.Settings.CronExpr).
			Msg("background task armed")
	}
	s.log.Info().Int("tasks", len(descs)).Msg("scheduler started")
	return nil
}

// Stop disables every timer, cancels running tasks and waits for them
// until ctx is done. It returns once drained or at the deadline, whichever
// is first; tasks ignoring cancellation are left running.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	start := time.Now()
	s.log.Info().Msg("stop requested")

	close(s.stopping)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Dur("took", time.Since(start)).Msg("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn().
			Int64("in_flight", s.runner.InFlight()).
			Dur("took", time.Since(start)).
			Msg("shutdown deadline reached with tasks still running")
	}
}

// Snapshot reports every task's runtime state.
func (s *Service) Snapshot() []TaskStatus {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	out := make([]TaskStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	return out
}

// Node is the identity this scheduler writes into leases.
func (s *Service) Node() string { return s.guard.Node() }

func (s *Service) loop(e *entry) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopping:
			e.stop()
			return
		case <-e.timer.C:
		}
		// both channels may have been ready
		if s.isStopping() {
			e.stop()
			return
		}

		scheduled := e.fire(time.Now())
		outcome, err := s.execute(e.desc, scheduled)
		done := time.Now()
		e.complete(done, outcome, err)

		if s.isStopping() {
			e.stop()
			return
		}
		e.arm(e.desc.Settings.NextDelay(done), done)
	}
}

func (s *Service) isStopping() bool {
	select {
	case <-s.stopping:
		return true
	default:
		return false
	}
}

// execute runs the cycle scheduled for the given instant. It never panics;
// the returned error is only kept for bookkeeping.
func (s *Service) execute(d *registry.Descriptor, scheduled time.Time) (outcome Outcome, err error) {
	logger := s.log.With().Str("task", d.Name).Str("profile", d.Profile).Logger()
	var took time.Duration
	defer func() {
		s.metrics.observe(d.Name, d.Profile, outcome, took)
	}()

	release, err := s.runner.Acquire(s.ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("no execution slot before shutdown")
		return OutcomeCancelled, err
	}
	defer release()

	if err := s.ensureSchema(s.ctx); err != nil {
		return s.storeFailure(logger, "lease schema unavailable, skipping cycle", err)
	}

	dec, err := s.guard.Acquire(s.ctx, d, scheduled)
	if err != nil {
		return s.storeFailure(logger, "lease store unavailable, skipping cycle", err)
	}
	if !dec.Run {
		if dec.Lost {
			logger.Info().Msg("interval already claimed by another node")
			return OutcomeLost, nil
		}
		logger.Info().
			Str("holder", dec.Holder).
			Time("last_run", dec.LastRun).
			Msg("background task executed by another node")
		return OutcomeSkipped, nil
	}

	logger.Info().Msg("started executing in background")
	start := time.Now()
	s.metrics.running(1)
	err = s.runner.Run(s.ctx, d.Task)
	s.metrics.running(-1)
	took = time.Since(start)

	if err != nil {
		logger.Error().Err(err).Str("owner", d.Owner).Dur("took", took).Msg("background task failed")
		return OutcomeFailed, err
	}
	logger.Info().Dur("took", took).Msg("background task executed")
	return OutcomeRan, nil
}

// storeFailure classifies a lease store error. Calls aborted by Stop are
// cancellations, not store outages.
func (s *Service) storeFailure(logger zerolog.Logger, msg string, err error) (Outcome, error) {
	if errors.Is(err, context.Canceled) && s.isStopping() {
		logger.Debug().Err(err).Msg("lease check aborted by shutdown")
		return OutcomeCancelled, err
	}
	logger.Error().Err(err).Msg(msg)
	return OutcomeStoreError, err
}

func (s *Service) ensureSchema(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady.Store(true)
	return nil
}
