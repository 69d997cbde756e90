package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfleet/internal/domain"
)

func span(v float64, u domain.TimeUnit) *domain.Span {
	return &domain.Span{Value: v, Unit: u}
}

func TestResolverFallsBackToBuiltIn(t *testing.T) {
	res, err := NewResolver(Executor{})
	require.NoError(t, err)

	s := res.Resolve("missing")
	assert.Equal(t, 5*time.Minute, s.Interval)
	assert.Zero(t, s.FirstRunDelay)
}

func TestNilResolver(t *testing.T) {
	var res *Resolver
	assert.Equal(t, domain.FallbackSettings(), res.Resolve(domain.DefaultProfile))
}

func TestExplicitDefaultProfileWins(t *testing.T) {
	res, err := NewResolver(Executor{
		Interval: span(1, domain.Minute),
		Profiles: map[string]Profile{
			domain.DefaultProfile: {Interval: span(2, domain.Hour)},
			"fast":                {FirstRunDelay: span(3, domain.Second)},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, res.Resolve(domain.DefaultProfile).Interval)
	assert.Equal(t, 2*time.Hour, res.Resolve("unknown").Interval)

	fast := res.Resolve("fast")
	assert.Equal(t, 2*time.Hour, fast.Interval)
	assert.Equal(t, 3*time.Second, fast.FirstRunDelay)
}

func TestProfileOverridesAllFields(t *testing.T) {
	res, err := NewResolver(Executor{
		Interval:      span(1, domain.Minute),
		FirstRunDelay: span(5, domain.Second),
		Profiles: map[string]Profile{
			"slow": {Interval: span(1, domain.Day), FirstRunDelay: span(0, domain.Minute)},
		},
	})
	require.NoError(t, err)

	slow := res.Resolve("slow")
	assert.Equal(t, 24*time.Hour, slow.Interval)
	assert.Zero(t, slow.FirstRunDelay)
}

func TestExplicitIntervalDropsInheritedCron(t *testing.T) {
	res, err := NewResolver(Executor{
		Cron: "@hourly",
		Profiles: map[string]Profile{
			"plain":  {Interval: span(10, domain.Second)},
			"hourly": {FirstRunDelay: span(1, domain.Second)},
		},
	})
	require.NoError(t, err)

	assert.NotNil(t, res.Resolve(domain.DefaultProfile).Cron)
	assert.NotNil(t, res.Resolve("hourly").Cron)

	plain := res.Resolve("plain")
	assert.Nil(t, plain.Cron)
	assert.Empty(t, plain.CronExpr)
	assert.Equal(t, 10*time.Second, plain.Interval)
}

func TestResolverErrorsNamePath(t *testing.T) {
	_, err := NewResolver(Executor{
		Profiles: map[string]Profile{"fast": {Interval: span(-1, domain.Second)}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "profiles.fast.interval")

	_, err = NewResolver(Executor{Profiles: map[string]Profile{"": {}}})
	assert.ErrorIs(t, err, ErrInvalid)
}
