package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"taskfleet/internal/domain"
)

var (
	// ErrInvalidTask marks declaration problems found at discovery.
	ErrInvalidTask = errors.New("invalid task declaration")
	// ErrUnsupportedSignature is returned for callables that are neither
	// parameterless nor take a single context.
	ErrUnsupportedSignature = errors.New("unsupported task signature")
)

// Task is one executable unit. ctx is cancelled on scheduler shutdown.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Shape records whether the callable observes cancellation.
type Shape int

const (
	ShapeNoArg Shape = iota
	ShapeCancellable
)

func (s Shape) String() string {
	if s == ShapeCancellable {
		return "cancellable"
	}
	return "no-arg"
}

// Provider resolves the owning component each time the task runs.
type Provider[T any] func(ctx context.Context) (T, error)

// Instance returns a Provider that always yields v.
func Instance[T any](v T) Provider[T] {
	return func(context.Context) (T, error) { return v, nil }
}

// Declaration marks a callable as background-executable.
type Declaration struct {
	name    string
	profile string
	owner   string
	shape   Shape
	task    Task
	err     error
}

type Option func(*Declaration)

// WithProfile binds the task to a named settings profile.
func WithProfile(profile string) Option {
	return func(d *Declaration) { d.profile = strings.TrimSpace(profile) }
}

func (d Declaration) Name() string    { return d.name }
func (d Declaration) Profile() string { return d.profile }
func (d Declaration) Owner() string   { return d.owner }
func (d Declaration) Shape() Shape    { return d.shape }

// Err is the declaration problem, if any. Discover reports it.
func (d Declaration) Err() error { return d.err }

// Func declares a free function. Accepted shapes: func(), func() error,
// func(context.Context), func(context.Context) error, or a Task.
func Func(name string, fn any, opts ...Option) Declaration {
	d := newDeclaration(name, "", opts)
	switch f := fn.(type) {
	case Task:
		d.shape, d.task = ShapeCancellable, f
	case func():
		d.shape, d.task = ShapeNoArg, TaskFunc(func(context.Context) error { f(); return nil })
	case func() error:
		d.shape, d.task = ShapeNoArg, TaskFunc(func(context.Context) error { return f() })
	case func(context.Context):
		d.shape, d.task = ShapeCancellable, TaskFunc(func(ctx context.Context) error { f(ctx); return nil })
	case func(context.Context) error:
		d.shape, d.task = ShapeCancellable, TaskFunc(f)
	default:
		d.err = fmt.Errorf("%w: task %q: %T", ErrUnsupportedSignature, name, fn)
	}
	return d
}

// Method declares a callable bound to an owning component of type T, which
// provider resolves per invocation. Accepted shapes are those of Func with
// a leading T, so method expressions like (*Cleaner).Purge fit directly.
func Method[T any](provider Provider[T], name string, fn any, opts ...Option) Declaration {
	d := newDeclaration(name, reflect.TypeFor[T]().String(), opts)
	if provider == nil {
		d.err = fmt.Errorf("%w: task %q: nil provider for %s", ErrInvalidTask, name, d.owner)
		return d
	}

	resolve := func(ctx context.Context) (T, error) {
		inst, err := provider(ctx)
		if err != nil {
			return inst, fmt.Errorf("resolve %s: %w", d.owner, err)
		}
		return inst, nil
	}

	switch f := fn.(type) {
	case func(T):
		d.shape = ShapeNoArg
		d.task = TaskFunc(func(ctx context.Context) error {
			inst, err := resolve(ctx)
			if err != nil {
				return err
			}
			f(inst)
			return nil
		})
	case func(T) error:
		d.shape = ShapeNoArg
		d.task = TaskFunc(func(ctx context.Context) error {
			inst, err := resolve(ctx)
			if err != nil {
				return err
			}
			return f(inst)
		})
	case func(T, context.Context):
		d.shape = ShapeCancellable
		d.task = TaskFunc(func(ctx context.Context) error {
			inst, err := resolve(ctx)
			if err != nil {
				return err
			}
			f(inst, ctx)
			return nil
		})
	case func(T, context.Context) error:
		d.shape = ShapeCancellable
		d.task = TaskFunc(func(ctx context.Context) error {
			inst, err := resolve(ctx)
			if err != nil {
				return err
			}
			return f(inst, ctx)
		})
	default:
		d.err = fmt.Errorf("%w: task %q on %s: %T", ErrUnsupportedSignature, name, d.owner, fn)
	}
	return d
}

func newDeclaration(name, owner string, opts []Option) Declaration {
	d := Declaration{name: strings.TrimSpace(name), owner: owner, profile: domain.DefaultProfile}
	for _, opt := range opts {
		opt(&d)
	}
	if d.profile == "" {
		d.profile = domain.DefaultProfile
	}
	if d.name == "" {
		d.err = fmt.Errorf("%w: task name is required", ErrInvalidTask)
	}
	return d
}
