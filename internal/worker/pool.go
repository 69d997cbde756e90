// Package worker invokes task bodies with failure isolation and an optional
// cap on concurrent executions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"taskfleet/internal/registry"
)

// ErrPanic wraps a value recovered from a panicking task body.
var ErrPanic = errors.New("task panicked")

type Runner struct {
	sem      chan struct{} // nil means unbounded
	inFlight atomic.Int64
}

// NewRunner returns a runner allowing size concurrent executions; size <= 0
// means unbounded.
func NewRunner(size int) *Runner {
	r := &Runner{}
	if size > 0 {
		r.sem = make(chan struct{}, size)
	}
	return r
}

// Acquire reserves an execution slot, waiting until one frees or ctx is done.
func (r *Runner) Acquire(ctx context.Context) (release func(), err error) {
	if r.sem == nil {
		return func() {}, nil
	}
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run executes task and returns its error. A panic is recovered and
// returned as ErrPanic so it never unwinds into the caller.
func (r *Runner) Run(ctx context.Context, task registry.Task) (err error) {
	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrPanic, p, debug.Stack())
		}
	}()
	if task == nil {
		return errors.New("nil task")
	}
	return task.Execute(ctx)
}

// InFlight is the number of task bodies currently executing.
func (r *Runner) InFlight() int64 { return r.inFlight.Load() }
