package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"taskfleet/internal/registry"
)

// State of a task's timer.
type State string

const (
	StateIdle    State = "idle"
	StateArmed   State = "armed"
	StateFiring  State = "firing"
	StateStopped State = "stopped"
)

// TaskStatus is a point-in-time view of one task.
type TaskStatus struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Owner       string        `json:"owner,omitempty"`
	Profile     string        `json:"profile"`
	Shape       string        `json:"shape"`
	Interval    time.Duration `json:"interval"`
	FirstDelay  time.Duration `json:"first_run_delay"`
	Cron        string        `json:"cron,omitempty"`
	State       State         `json:"state"`
	NextFire    time.Time     `json:"next_fire,omitempty"`
	LastFire    time.Time     `json:"last_fire,omitempty"`
	LastDone    time.Time     `json:"last_done,omitempty"`
	LastOutcome Outcome       `json:"last_outcome,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	Fires       int64         `json:"fires"`
	Runs        int64         `json:"runs"`
}

// entry is the runtime state of one descriptor. Only the descriptor's own
// goroutine touches the timer; the mutex guards the observable fields.
type entry struct {
	desc  *registry.Descriptor
	timer *time.Timer

	mu          sync.Mutex
	state       State
	nextFire    time.Time
	lastFire    time.Time
	lastDone    time.Time
	lastOutcome Outcome
	lastErr     string
	fires       int64
	runs        int64
}

func newEntry(d *registry.Descriptor) *entry {
	return &entry{desc: d, state: StateIdle}
}

// arm starts or resets the single-shot timer to fire delay after from.
func (e *entry) arm(delay time.Duration, from time.Time) {
	if delay < 0 {
		delay = 0
	}
	if e.timer == nil {
		e.timer = time.NewTimer(delay)
	} else {
		e.timer.Reset(delay)
	}
	e.mu.Lock()
	e.state = StateArmed
	e.nextFire = from.Add(delay)
	e.mu.Unlock()
}

// fire records a fire at at and returns the instant it was scheduled for.
func (e *entry) fire(at time.Time) (scheduled time.Time) {
	e.mu.Lock()
	scheduled = e.nextFire
	e.state = StateFiring
	e.lastFire = at
	e.nextFire = time.Time{}
	e.fires++
	e.mu.Unlock()
	return scheduled
}

func (e *entry) complete(at time.Time, outcome Outcome, err error) {
	e.mu.Lock()
	e.state = StateIdle
	e.lastDone = at
	e.lastOutcome = outcome
	e.lastErr = ""
	if err != nil {
		e.lastErr = err.Error()
	}
	if outcome == OutcomeRan || outcome == OutcomeFailed {
		e.runs++
	}
	e.mu.Unlock()
}

func (e *entry) stop() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.mu.Lock()
	e.state = StateStopped
	e.nextFire = time.Time{}
	e.mu.Unlock()
}

func (e *entry) status() TaskStatus {
	d := e.desc
	e.mu.Lock()
	defer e.mu.Unlock()
	return TaskStatus{
		ID:          d.ID,
		Name:        d.Name,
		Owner:       d.Owner,
		Profile:     d.Profile,
		Shape:       d.Shape.String(),
		Interval:    d.Settings.Interval,
		FirstDelay:  d.Settings.FirstRunDelay,
		Cron:        d.Settings.CronExpr,
		State:       e.state,
		NextFire:    e.nextFire,
		LastFire:    e.lastFire,
		LastDone:    e.lastDone,
		LastOutcome: e.lastOutcome,
		LastError:   e.lastErr,
		Fires:       e.fires,
		Runs:        e.runs,
	}
}
