package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeUnit is the granularity of a configured Span.
type TimeUnit string

const (
	Millisecond TimeUnit = "millisecond"
	Second      TimeUnit = "second"
	Minute      TimeUnit = "minute"
	Hour        TimeUnit = "hour"
	Day         TimeUnit = "day"
)

var unitDurations = map[TimeUnit]time.Duration{
	Millisecond: time.Millisecond,
	Second:      time.Second,
	Minute:      time.Minute,
	Hour:        time.Hour,
	Day:         24 * time.Hour,
}

var unitAliases = map[string]TimeUnit{
	"ms": Millisecond, "milliseconds": Millisecond,
	"s": Second, "sec": Second, "seconds": Second,
	"m": Minute, "min": Minute, "minutes": Minute,
	"h": Hour, "hours": Hour,
	"d": Day, "days": Day,
}

// ParseTimeUnit accepts the canonical unit names, their plurals and short forms.
func ParseTimeUnit(raw string) (TimeUnit, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := unitDurations[TimeUnit(s)]; ok {
		return TimeUnit(s), nil
	}
	if u, ok := unitAliases[s]; ok {
		return u, nil
	}
	return "", fmt.Errorf("unknown time unit %q", raw)
}

func (u TimeUnit) String() string { return string(u) }

// Valid reports whether u is one of the known units.
func (u TimeUnit) Valid() bool {
	_, ok := unitDurations[u]
	return ok
}

func (u *TimeUnit) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time unit must be a string: %w", err)
	}
	parsed, err := ParseTimeUnit(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Span is a magnitude expressed in a TimeUnit, e.g. {5, minute}.
type Span struct {
	Value float64  `json:"value"`
	Unit  TimeUnit `json:"unit"`
}

// Duration normalizes the span. Unknown units count as minutes.
func (s Span) Duration() time.Duration {
	unit, ok := unitDurations[s.Unit]
	if !ok {
		unit = time.Minute
	}
	return time.Duration(math.Round(s.Value * float64(unit)))
}

func (s Span) IsZero() bool { return s.Value == 0 && s.Unit == "" }

func (s Span) String() string {
	return strconv.FormatFloat(s.Value, 'f', -1, 64) + " " + string(s.Unit)
}

// Validate rejects negative or overflowing magnitudes and unknown units.
func (s Span) Validate() error {
	if s.Value < 0 || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return fmt.Errorf("magnitude must be a finite number >= 0, got %v", s.Value)
	}
	if !s.Unit.Valid() {
		return fmt.Errorf("unknown time unit %q", s.Unit)
	}
	if s.Value*float64(unitDurations[s.Unit]) >= math.MaxInt64 {
		return fmt.Errorf("%v %s does not fit in a duration", s.Value, s.Unit)
	}
	return nil
}

// UnmarshalJSON accepts {"value": 5, "unit": "minute"} or a Go duration
// string such as "90s". A bare number is rejected because its unit is ambiguous.
func (s *Span) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*s = SpanOf(d)
		return nil
	}

	type plain Span
	var p plain
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("expected {value, unit} or duration string: %w", err)
	}
	if p.Unit == "" {
		return fmt.Errorf("time unit is required")
	}
	*s = Span(p)
	return nil
}

// SpanOf expresses d in milliseconds.
func SpanOf(d time.Duration) Span {
	return Span{Value: float64(d) / float64(time.Millisecond), Unit: Millisecond}
}
