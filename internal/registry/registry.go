// Package registry holds the explicit list of background tasks and turns it
// into descriptors with resolved settings.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"taskfleet/internal/domain"
)

// SettingsResolver maps a profile name to concrete settings.
type SettingsResolver interface {
	Resolve(profile string) domain.Settings
}

// Descriptor is one discovered task. Settings never change after discovery.
type Descriptor struct {
	ID       uuid.UUID
	Name     string
	Owner    string
	Profile  string
	Shape    Shape
	Settings domain.Settings
	Task     Task
}

// Key is the cross-node coordination key.
func (d *Descriptor) Key() string { return d.Name + "/" + d.Profile }

// Registry is the explicit registration list.
type Registry struct {
	mu    sync.Mutex
	decls []Declaration
}

func New(decls ...Declaration) *Registry {
	r := &Registry{}
	r.Add(decls...)
	return r
}

// Add appends declarations. Problems are reported by Discover.
func (r *Registry) Add(decls ...Declaration) *Registry {
	r.mu.Lock()
	r.decls = append(r.decls, decls...)
	r.mu.Unlock()
	return r
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decls)
}

// Discover builds one descriptor per declaration. Any invalid declaration,
// unsupported signature or duplicate (name, profile) fails the whole call.
func (r *Registry) Discover(res SettingsResolver) ([]*Descriptor, error) {
	r.mu.Lock()
	decls := append([]Declaration(nil), r.decls...)
	r.mu.Unlock()

	var (
		errs []error
		out  = make([]*Descriptor, 0, len(decls))
		seen = make(map[string]string, len(decls))
	)
	for _, d := range decls {
		if d.err != nil {
			errs = append(errs, d.err)
			continue
		}
		desc := &Descriptor{
			ID:      uuid.New(),
			Name:    d.name,
			Owner:   d.owner,
			Profile: d.profile,
			Shape:   d.shape,
			Task:    d.task,
		}
		if prev, dup := seen[desc.Key()]; dup {
			errs = append(errs, fmt.Errorf("%w: task %q in profile %q declared by %s and %s",
				ErrInvalidTask, desc.Name, desc.Profile, ownerName(prev), ownerName(desc.Owner)))
			continue
		}
		seen[desc.Key()] = desc.Owner
		if res != nil {
			desc.Settings = res.Resolve(desc.Profile)
		} else {
			desc.Settings = domain.FallbackSettings()
		}
		out = append(out, desc)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func ownerName(owner string) string {
	if owner == "" {
		return "func"
	}
	return owner
}
