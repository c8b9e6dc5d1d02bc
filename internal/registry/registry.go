// Package registry holds the catalog of managed platform services. The
// registry is populated once from the manifest at startup; descriptors
// are immutable afterwards and safe to share across goroutines.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/netra-systems/service-warden/internal/priority"
)

// ErrNotFound reports a lookup for a service the registry does not know.
var ErrNotFound = errors.New("registry: service not found")

// ProbeKind selects how a service is health checked.
type ProbeKind string

const (
	ProbeNone ProbeKind = "none"
	ProbeHTTP ProbeKind = "http"
	ProbeTCP  ProbeKind = "tcp"
)

// Probe describes the health probe for one service.
type Probe struct {
	Kind   ProbeKind
	Target string
}

// RecoveryStrategy selects how a failed service is brought back.
type RecoveryStrategy string

const (
	RecoveryRestart             RecoveryStrategy = "restart"
	RecoveryDependencyRestart   RecoveryStrategy = "dependency_restart"
	RecoveryGracefulDegradation RecoveryStrategy = "graceful_degradation"
)

// ParseRecoveryStrategy converts a manifest label value into a strategy.
// An empty value defaults to restart.
func ParseRecoveryStrategy(value string) (RecoveryStrategy, error) {
	switch RecoveryStrategy(value) {
	case "":
		return RecoveryRestart, nil
	case RecoveryRestart, RecoveryDependencyRestart, RecoveryGracefulDegradation:
		return RecoveryStrategy(value), nil
	default:
		return "", fmt.Errorf("unknown recovery strategy %q", value)
	}
}

// Descriptor is the immutable definition of one managed service.
type Descriptor struct {
	Name         string
	Image        string
	Dependencies []string
	Priority     priority.Priority
	Probe        Probe
	Recovery     RecoveryStrategy
	Disabled     bool
}

// Registry is the catalog of managed services keyed by name.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Descriptor
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]Descriptor)}
}

// Register adds a service descriptor. Duplicate names and services that
// depend on themselves are rejected.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return errors.New("registry: service name must not be empty")
	}
	for _, dep := range desc.Dependencies {
		if dep == desc.Name {
			return fmt.Errorf("registry: service %s depends on itself", desc.Name)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.services[desc.Name]; exists {
		return fmt.Errorf("registry: service %s already registered", desc.Name)
	}
	desc.Dependencies = append([]string(nil), desc.Dependencies...)
	r.services[desc.Name] = desc
	return nil
}

// Get returns the descriptor for the named service.
func (r *Registry) Get(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.services[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	desc.Dependencies = append([]string(nil), desc.Dependencies...)
	return desc, nil
}

// Has reports whether the named service is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[name]
	return ok
}

// Names returns all registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Validate checks that every declared dependency is itself registered.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, dep := range r.services[name].Dependencies {
			if _, ok := r.services[dep]; !ok {
				return fmt.Errorf("registry: service %s depends on unregistered service %s", name, dep)
			}
		}
	}
	return nil
}

// ExplicitPriorities returns the priorities assigned directly in the
// manifest, for seeding the classifier.
func (r *Registry) ExplicitPriorities() map[string]priority.Priority {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]priority.Priority)
	for name, desc := range r.services {
		if desc.Priority != "" {
			out[name] = desc.Priority
		}
	}
	return out
}
