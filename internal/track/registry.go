package track

import (
	"fmt"
	"strings"
)

// Registry maintains the closed mapping of provider identifier to
// driver. Unknown identifiers resolve to the no-op driver so that
// outbound sending keeps working when tracking is unavailable for the
// configured provider.
type Registry struct {
	drivers map[string]Driver
	noop    Driver
}

func NewRegistry() *Registry {
	return &Registry{
		drivers: map[string]Driver{},
		noop:    NoopDriver{},
	}
}

func (r *Registry) Register(d Driver) {
	if r == nil || d == nil {
		return
	}
	if r.drivers == nil {
		r.drivers = map[string]Driver{}
	}
	r.drivers[normalizeProvider(d.Name())] = d
}

// Supports reports whether the identifier has a real, non-fallback
// driver.
func (r *Registry) Supports(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.drivers[normalizeProvider(provider)]
	return ok
}

// Resolve returns the driver for the identifier, falling back to the
// no-op driver for unsupported providers. It never fails.
func (r *Registry) Resolve(provider string) Driver {
	if r == nil {
		return NoopDriver{}
	}
	if d, ok := r.drivers[normalizeProvider(provider)]; ok {
		return d
	}
	return r.noop
}

func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		out = append(out, name)
	}
	return out
}

func (r *Registry) MustHaveDrivers() error {
	if r == nil || len(r.drivers) == 0 {
		return fmt.Errorf("empty driver registry")
	}
	return nil
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
