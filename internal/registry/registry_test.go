package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfleet/internal/domain"
)

type cleaner struct {
	purged int
}

func (c *cleaner) Purge()                             { c.purged++ }
func (c *cleaner) PurgeErr() error                    { c.purged++; return nil }
func (c *cleaner) PurgeCtx(ctx context.Context)       { c.purged++ }
func (c *cleaner) PurgeCtxErr(context.Context) error  { return errors.New("disk full") }
func (c *cleaner) Wrong(limit int)                    {}
func (c *cleaner) TooMany(context.Context, int) error { return nil }

type profiles map[string]domain.Settings

func (p profiles) Resolve(name string) domain.Settings {
	if s, ok := p[name]; ok {
		return s
	}
	return p[domain.DefaultProfile]
}

func TestFuncShapes(t *testing.T) {
	ctx := context.Background()
	var calls int

	decls := []Declaration{
		Func("a", func() { calls++ }),
		Func("b", func() error { calls++; return nil }),
		Func("c", func(context.Context) { calls++ }),
		Func("d", func(context.Context) error { calls++; return nil }),
		Func("e", TaskFunc(func(context.Context) error { calls++; return nil })),
	}
	want := []Shape{ShapeNoArg, ShapeNoArg, ShapeCancellable, ShapeCancellable, ShapeCancellable}

	for i, d := range decls {
		require.NoError(t, d.Err(), d.Name())
		assert.Equal(t, want[i], d.Shape(), d.Name())
		assert.Equal(t, domain.DefaultProfile, d.Profile())
		require.NoError(t, d.task.Execute(ctx))
	}
	assert.Equal(t, 5, calls)
}

func TestFuncUnsupportedSignature(t *testing.T) {
	for _, fn := range []any{
		func(int) {},
		func(context.Context, int) error { return nil },
		func() (int, error) { return 0, nil },
		"not a func",
		nil,
	} {
		d := Func("bad", fn)
		assert.ErrorIs(t, d.Err(), ErrUnsupportedSignature)
	}
}

func TestFuncRequiresName(t *testing.T) {
	d := Func("  ", func() {})
	assert.ErrorIs(t, d.Err(), ErrInvalidTask)
}

func TestMethodResolvesOwnerPerCall(t *testing.T) {
	ctx := context.Background()
	c := &cleaner{}
	var resolved int
	provider := func(context.Context) (*cleaner, error) {
		resolved++
		return c, nil
	}

	d := Method(provider, "purge", (*cleaner).Purge, WithProfile("nightly"))
	require.NoError(t, d.Err())
	assert.Equal(t, "*registry.cleaner", d.Owner())
	assert.Equal(t, "nightly", d.Profile())
	assert.Equal(t, ShapeNoArg, d.Shape())

	require.NoError(t, d.task.Execute(ctx))
	require.NoError(t, d.task.Execute(ctx))
	assert.Equal(t, 2, c.purged)
	assert.Equal(t, 2, resolved)
}

func TestMethodShapes(t *testing.T) {
	ctx := context.Background()
	c := &cleaner{}
	inst := Instance(c)

	noArgErr := Method(inst, "purge-err", (*cleaner).PurgeErr)
	require.NoError(t, noArgErr.Err())
	assert.Equal(t, ShapeNoArg, noArgErr.Shape())
	require.NoError(t, noArgErr.task.Execute(ctx))

	withCtx := Method(inst, "purge-ctx", (*cleaner).PurgeCtx)
	require.NoError(t, withCtx.Err())
	assert.Equal(t, ShapeCancellable, withCtx.Shape())
	require.NoError(t, withCtx.task.Execute(ctx))

	failing := Method(inst, "purge-ctx-err", (*cleaner).PurgeCtxErr)
	require.NoError(t, failing.Err())
	assert.EqualError(t, failing.task.Execute(ctx), "disk full")

	assert.Equal(t, 2, c.purged)
}

func TestMethodUnsupportedSignature(t *testing.T) {
	inst := Instance(&cleaner{})
	assert.ErrorIs(t, Method(inst, "wrong", (*cleaner).Wrong).Err(), ErrUnsupportedSignature)
	assert.ErrorIs(t, Method(inst, "many", (*cleaner).TooMany).Err(), ErrUnsupportedSignature)
	// bound method values lack the receiver parameter
	assert.ErrorIs(t, Method(inst, "bound", (&cleaner{}).Purge).Err(), ErrUnsupportedSignature)
}

func TestMethodNilProvider(t *testing.T) {
	d := Method[*cleaner](nil, "purge", (*cleaner).Purge)
	assert.ErrorIs(t, d.Err(), ErrInvalidTask)
}

func TestMethodProviderError(t *testing.T) {
	boom := errors.New("container closed")
	d := Method(func(context.Context) (*cleaner, error) { return nil, boom }, "purge", (*cleaner).Purge)
	require.NoError(t, d.Err())

	err := d.task.Execute(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "resolve *registry.cleaner")
}

func TestDiscoverResolvesSettings(t *testing.T) {
	res := profiles{
		domain.DefaultProfile: {Interval: time.Minute},
		"nightly":             {Interval: 24 * time.Hour},
	}
	r := New(
		Func("a", func() {}),
		Func("b", func() {}, WithProfile("nightly")),
		Func("c", func() {}, WithProfile("missing")),
	)

	descs, err := r.Discover(res)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	assert.Equal(t, time.Minute, descs[0].Settings.Interval)
	assert.Equal(t, 24*time.Hour, descs[1].Settings.Interval)
	assert.Equal(t, "missing", descs[2].Profile)
	assert.Equal(t, time.Minute, descs[2].Settings.Interval)
	assert.NotEqual(t, descs[0].ID, descs[1].ID)
	assert.Equal(t, "b/nightly", descs[1].Key())
}

func TestDiscoverWithoutResolver(t *testing.T) {
	descs, err := New(Func("a", func() {})).Discover(nil)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, domain.FallbackSettings().Interval, descs[0].Settings.Interval)
}

func TestDiscoverRejectsDuplicates(t *testing.T) {
	r := New(
		Func("purge", func() {}),
		Method(Instance(&cleaner{}), "purge", (*cleaner).Purge),
		Func("purge", func() {}, WithProfile("nightly")),
	)
	_, err := r.Discover(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.Contains(t, err.Error(), "*registry.cleaner")
}

func TestDiscoverCollectsAllErrors(t *testing.T) {
	r := New(Func("", func() {})).Add(Func("bad", 42))
	assert.Equal(t, 2, r.Len())

	_, err := r.Discover(nil)
	assert.ErrorIs(t, err, ErrInvalidTask)
	assert.ErrorIs(t, err, ErrUnsupportedSignature)
}
