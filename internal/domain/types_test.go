package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeUnit(t *testing.T) {
	cases := map[string]TimeUnit{
		"millisecond": Millisecond,
		"ms":          Millisecond,
		"SECONDS":     Second,
		" min ":       Minute,
		"hour":        Hour,
		"d":           Day,
	}
	for raw, want := range cases {
		got, err := ParseTimeUnit(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseTimeUnit("fortnight")
	assert.Error(t, err)
}

func TestSpanDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Span{Value: 5, Unit: Minute}.Duration())
	assert.Equal(t, 1500*time.Millisecond, Span{Value: 1.5, Unit: Second}.Duration())
	assert.Equal(t, 48*time.Hour, Span{Value: 2, Unit: Day}.Duration())
	assert.Equal(t, time.Duration(0), Span{Value: 0, Unit: Hour}.Duration())
}

func TestSpanValidate(t *testing.T) {
	assert.NoError(t, Span{Value: 0, Unit: Second}.Validate())
	assert.Error(t, Span{Value: -1, Unit: Second}.Validate())
	assert.Error(t, Span{Value: 1, Unit: "week"}.Validate())
	assert.Error(t, Span{Value: 1e300, Unit: Day}.Validate())
	assert.Error(t, Span{Value: 1e7, Unit: Day}.Validate(), "about 27k years overflows int64 nanoseconds")
	assert.NoError(t, Span{Value: 365, Unit: Day}.Validate())
}

func TestSpanUnmarshalJSON(t *testing.T) {
	var s Span
	require.NoError(t, json.Unmarshal([]byte(`{"value": 10, "unit": "seconds"}`), &s))
	assert.Equal(t, Span{Value: 10, Unit: Second}, s)

	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &s))
	assert.Equal(t, 90*time.Second, s.Duration())

	assert.Error(t, json.Unmarshal([]byte(`{"value": 10}`), &s), "unit is required")
	assert.Error(t, json.Unmarshal([]byte(`{"value": 1, "unit": "week"}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"value": 1, "unit": "s", "extra": 1}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`15`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &s))
}

func TestFallbackSettings(t *testing.T) {
	s := FallbackSettings()
	assert.Equal(t, 5*time.Minute, s.Interval)
	assert.Zero(t, s.FirstRunDelay)
	assert.Nil(t, s.Cron)
}

func TestIntervalSettingsDelays(t *testing.T) {
	s := Settings{Interval: time.Minute, FirstRunDelay: 10 * time.Second}
	now := time.Now()

	assert.Equal(t, 10*time.Second, s.FirstDelay(now))
	assert.Equal(t, time.Minute, s.NextDelay(now))
	assert.Equal(t, now, s.Activation(now.Add(-time.Second), now), "interval tasks have no activations")
}

func TestCronSettingsDelays(t *testing.T) {
	sched, err := cron.ParseStandard("*/15 * * * *")
	require.NoError(t, err)
	s := Settings{Interval: time.Minute, FirstRunDelay: time.Hour, Cron: sched, CronExpr: "*/15 * * * *"}

	at := time.Date(2026, 5, 1, 10, 7, 0, 0, time.UTC)
	assert.Equal(t, 8*time.Minute, s.FirstDelay(at), "first run delay is ignored for cron")
	assert.Equal(t, 8*time.Minute, s.NextDelay(at))

	fire := at.Add(8 * time.Minute)
	assert.Equal(t, fire, s.Activation(fire, fire.Add(40*time.Millisecond)))
	assert.Equal(t, at, s.Activation(time.Time{}, at))
	assert.Equal(t, at, s.Activation(fire, at), "future activations fall back to now")
}

func TestNewLeaseNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("plus3", 3*60*60)
	now := time.Date(2026, 5, 1, 13, 0, 0, 0, loc)

	rec := NewLease("node-a", "purge", DefaultProfile, now)
	assert.Equal(t, time.UTC, rec.LastRun.Location())
	assert.True(t, now.Equal(rec.LastRun))
	assert.NotEqual(t, [16]byte{}, [16]byte(rec.ID))
	assert.Nil(t, rec.Bucket)
}

func TestLeaseCovers(t *testing.T) {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := LeaseRecord{LastRun: base}

	assert.True(t, rec.Covers(base, time.Minute))
	assert.True(t, rec.Covers(base.Add(59*time.Second), time.Minute))
	assert.False(t, rec.Covers(base.Add(time.Minute), time.Minute))
	assert.False(t, rec.Covers(base.Add(2*time.Minute), time.Minute))
}
