package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// DefaultProfile is the profile used by tasks that do not name one.
const DefaultProfile = "default"

// Built-in fallback used when neither the task's profile nor the default
// profile is configured.
var (
	DefaultInterval      = Span{Value: 5, Unit: Minute}
	DefaultFirstRunDelay = Span{Value: 0, Unit: Minute}
)

// Settings are the resolved, immutable timings of one task.
type Settings struct {
	Interval      time.Duration
	FirstRunDelay time.Duration

	// Cron replaces Interval for rearming when set; CronExpr is the source text.
	Cron     cron.Schedule
	CronExpr string
}

// FallbackSettings returns the built-in defaults (5m interval, no delay).
func FallbackSettings() Settings {
	return Settings{
		Interval:      DefaultInterval.Duration(),
		FirstRunDelay: DefaultFirstRunDelay.Duration(),
	}
}

// FirstDelay is the delay before the first fire after start.
func (s Settings) FirstDelay(now time.Time) time.Duration {
	if s.Cron != nil {
		return untilNext(s.Cron, now)
	}
	return s.FirstRunDelay
}

// NextDelay is the delay before the next fire, measured from completion.
func (s Settings) NextDelay(completed time.Time) time.Duration {
	if s.Cron != nil {
		return untilNext(s.Cron, completed)
	}
	return s.Interval
}

// Activation is the cron activation a fire belongs to, the instant it was
// scheduled for. Interval tasks have no fixed activations and use now.
func (s Settings) Activation(scheduled, now time.Time) time.Time {
	if s.Cron == nil || scheduled.IsZero() || scheduled.After(now) {
		return now
	}
	return scheduled
}

func untilNext(sched cron.Schedule, from time.Time) time.Duration {
	next := sched.Next(from)
	if next.IsZero() {
		return 0
	}
	if d := next.Sub(from); d > 0 {
		return d
	}
	return 0
}

// LeaseRecord is one persisted claim "node ran task+profile at LastRun".
type LeaseRecord struct {
	ID       uuid.UUID `json:"id"`
	Node     string    `json:"node"`
	TaskName string    `json:"task_name"`
	Profile  string    `json:"profile"`
	LastRun  time.Time `json:"last_run"`
	// Bucket is only set by the bucket claim strategy.
	Bucket *int64 `json:"bucket,omitempty"`
}

// NewLease builds a lease for node at now, normalized to UTC.
func NewLease(node, task, profile string, now time.Time) LeaseRecord {
	return LeaseRecord{
		ID:       uuid.New(),
		Node:     node,
		TaskName: task,
		Profile:  profile,
		LastRun:  now.UTC(),
	}
}

// Covers reports whether the lease still satisfies the task at now.
func (r LeaseRecord) Covers(now time.Time, window time.Duration) bool {
	return now.Sub(r.LastRun) < window
}
