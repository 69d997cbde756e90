package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"taskfleet/internal/domain"
	"taskfleet/internal/lease"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Executor is the background_task_executor section.
//
// The top-level timings form the default profile unless profiles contains
// an explicit "default" entry, which wins.
type Executor struct {
	Interval      *domain.Span       `json:"interval,omitempty"`
	FirstRunDelay *domain.Span       `json:"first_run_delay,omitempty"`
	Cron          string             `json:"cron,omitempty"`
	Profiles      map[string]Profile `json:"profiles,omitempty"`

	// MaxConcurrent caps simultaneous executions across tasks; 0 is unbounded.
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	LeaseStrategy string `json:"lease_strategy,omitempty"`
}

// Profile overrides timings for tasks bound to it. Omitted fields inherit
// from the default profile.
type Profile struct {
	Interval      *domain.Span `json:"interval,omitempty"`
	FirstRunDelay *domain.Span `json:"first_run_delay,omitempty"`
	Cron          string       `json:"cron,omitempty"`
}

// Resolver maps profile names to settings. It is immutable once built.
type Resolver struct {
	defaults domain.Settings
	profiles map[string]domain.Settings
}

// NewResolver validates the section and precomputes every profile.
func NewResolver(e Executor) (*Resolver, error) {
	if e.MaxConcurrent < 0 {
		return nil, invalid("background_task_executor.max_concurrent", "must be >= 0")
	}
	if _, err := lease.ParseStrategy(e.LeaseStrategy); err != nil {
		return nil, invalid("background_task_executor.lease_strategy", err.Error())
	}

	defProfile := Profile{Interval: e.Interval, FirstRunDelay: e.FirstRunDelay, Cron: e.Cron}
	defPath := "background_task_executor"
	if p, ok := e.Profiles[domain.DefaultProfile]; ok {
		defProfile = p
		defPath = "background_task_executor.profiles." + domain.DefaultProfile
	}
	defaults, err := compile(defPath, defProfile, domain.FallbackSettings())
	if err != nil {
		return nil, err
	}

	r := &Resolver{defaults: defaults, profiles: make(map[string]domain.Settings, len(e.Profiles))}
	names := make([]string, 0, len(e.Profiles))
	for name := range e.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, invalid("background_task_executor.profiles", "profile name must not be empty")
		}
		if name == domain.DefaultProfile {
			r.profiles[name] = defaults
			continue
		}
		s, err := compile("background_task_executor.profiles."+name, e.Profiles[name], defaults)
		if err != nil {
			return nil, err
		}
		r.profiles[name] = s
	}
	return r, nil
}

// Resolve returns the profile's settings, falling back to the default profile.
func (r *Resolver) Resolve(profile string) domain.Settings {
	if r == nil {
		return domain.FallbackSettings()
	}
	if s, ok := r.profiles[profile]; ok {
		return s
	}
	return r.defaults
}

// Profiles lists the configured profile names.
func (r *Resolver) Profiles() []string {
	out := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func compile(path string, p Profile, inherit domain.Settings) (domain.Settings, error) {
	s := inherit
	if p.Interval != nil {
		if err := p.Interval.Validate(); err != nil {
			return domain.Settings{}, invalid(path+".interval", err.Error())
		}
		s.Interval = p.Interval.Duration()
		// an explicit interval drops an inherited cron schedule
		s.Cron, s.CronExpr = nil, ""
	}
	if s.Interval <= 0 {
		return domain.Settings{}, invalid(path+".interval", "must be > 0")
	}
	if p.FirstRunDelay != nil {
		if err := p.FirstRunDelay.Validate(); err != nil {
			return domain.Settings{}, invalid(path+".first_run_delay", err.Error())
		}
		s.FirstRunDelay = p.FirstRunDelay.Duration()
	}
	if expr := strings.TrimSpace(p.Cron); expr != "" {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return domain.Settings{}, invalid(path+".cron", fmt.Sprintf("parse %q: %v", expr, err))
		}
		s.Cron = sched
		s.CronExpr = expr
	}
	return s, nil
}
