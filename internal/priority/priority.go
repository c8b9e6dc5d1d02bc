// Package priority assigns each platform service to a criticality tier.
// Tiers drive the weight a service carries in the aggregate health score
// and how its probe failures are masked.
package priority

import (
	"fmt"
	"sort"
	"strings"
)

// Priority ranks how much a service's failure hurts the platform.
type Priority string

const (
	// Critical services take the whole platform down when they fail.
	Critical Priority = "critical"
	// Important services degrade the platform when they fail.
	Important Priority = "important"
	// Optional services never affect overall health on their own.
	Optional Priority = "optional"
)

// Weight returns the aggregation weight for the tier. Unrecognized
// values weigh the same as Important.
func (p Priority) Weight() float64 {
	switch p {
	case Critical:
		return 3.0
	case Optional:
		return 1.0
	default:
		return 2.0
	}
}

// Parse converts a manifest label or override value into a Priority.
func Parse(value string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case Critical:
		return Critical, nil
	case Important:
		return Important, nil
	case Optional:
		return Optional, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

// defaultTiers covers the stock platform services. Anything not listed
// here and not overridden resolves to Important.
var defaultTiers = map[string]Priority{
	"postgres":         Critical,
	"auth":             Critical,
	"redis":            Important,
	"websocket":        Important,
	"system_resources": Important,
	"clickhouse":       Optional,
}

// Classifier resolves the priority tier for a service name. Resolution
// order: explicit manifest assignment, per-environment override, the
// default tier table, then Important.
type Classifier struct {
	environment string
	explicit    map[string]Priority
	overrides   Overrides
}

// Option adjusts a Classifier at construction time.
type Option func(*Classifier)

// WithExplicit registers priorities assigned directly in the manifest.
// They win over every other source.
func WithExplicit(explicit map[string]Priority) Option {
	return func(c *Classifier) {
		for name, p := range explicit {
			c.explicit[name] = p
		}
	}
}

// WithOverrides registers per-environment overrides, usually loaded
// from the overrides file.
func WithOverrides(overrides Overrides) Option {
	return func(c *Classifier) {
		c.overrides = overrides
	}
}

// NewClassifier builds a Classifier for the given deployment environment.
func NewClassifier(environment string, opts ...Option) *Classifier {
	c := &Classifier{
		environment: environment,
		explicit:    make(map[string]Priority),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// For returns the priority tier for the named service.
func (c *Classifier) For(service string) Priority {
	if p, ok := c.explicit[service]; ok {
		return p
	}
	if envOverrides, ok := c.overrides[c.environment]; ok {
		if p, ok := envOverrides[service]; ok {
			return p
		}
	}
	if p, ok := defaultTiers[service]; ok {
		return p
	}
	return Important
}

// Priorities resolves the tier for every named service.
func (c *Classifier) Priorities(names []string) map[string]Priority {
	out := make(map[string]Priority, len(names))
	for _, name := range names {
		out[name] = c.For(name)
	}
	return out
}

// Known returns the sorted service names carrying a non-default tier,
// useful for startup logging.
func (c *Classifier) Known() []string {
	seen := make(map[string]struct{}, len(c.explicit)+len(defaultTiers))
	for name := range c.explicit {
		seen[name] = struct{}{}
	}
	for name := range defaultTiers {
		seen[name] = struct{}{}
	}
	if envOverrides, ok := c.overrides[c.environment]; ok {
		for name := range envOverrides {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
