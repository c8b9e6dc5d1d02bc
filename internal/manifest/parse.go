// Package manifest loads the platform service manifest: a compose
// document whose depends_on edges define startup order and whose
// warden.* labels carry probe, priority, and recovery settings.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"

	"github.com/netra-systems/service-warden/internal/priority"
	"github.com/netra-systems/service-warden/internal/registry"
)

// Label keys recognized on manifest services.
const (
	labelPriority = "warden.priority"
	labelProbe    = "warden.probe"
	labelRecovery = "warden.recovery"
	labelDisabled = "warden.disabled"
)

// Manifest is the parsed service topology.
type Manifest struct {
	Services    []registry.Descriptor
	Fingerprint string
}

// Parse loads a compose document and extracts the managed services.
func Parse(ctx context.Context, body []byte) (Manifest, error) {
	if len(body) == 0 {
		return Manifest{}, errors.New("manifest body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "warden.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("service-warden", false)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest: %w", err)
	}
	if len(project.Services) == 0 {
		return Manifest{}, errors.New("manifest has no services")
	}

	descriptors := make([]registry.Descriptor, 0, len(project.Services))
	for name, service := range project.Services {
		desc, err := toDescriptor(name, service)
		if err != nil {
			return Manifest{}, fmt.Errorf("service %q: %w", name, err)
		}
		descriptors = append(descriptors, desc)
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Manifest{}, err
	}

	return Manifest{Services: descriptors, Fingerprint: fingerprint}, nil
}

// Apply registers every manifest service and validates the result.
func (m Manifest) Apply(reg *registry.Registry) error {
	for _, desc := range m.Services {
		if err := reg.Register(desc); err != nil {
			return err
		}
	}
	return reg.Validate()
}

func toDescriptor(name string, service types.ServiceConfig) (registry.Descriptor, error) {
	desc := registry.Descriptor{
		Name:     name,
		Image:    service.Image,
		Probe:    registry.Probe{Kind: registry.ProbeNone},
		Recovery: registry.RecoveryRestart,
	}

	deps := make([]string, 0, len(service.DependsOn))
	for dep := range service.DependsOn {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	desc.Dependencies = deps

	if value, ok := service.Labels[labelPriority]; ok {
		p, err := priority.Parse(value)
		if err != nil {
			return registry.Descriptor{}, fmt.Errorf("label %s: %w", labelPriority, err)
		}
		desc.Priority = p
	}
	if value, ok := service.Labels[labelProbe]; ok {
		probe, err := parseProbe(value)
		if err != nil {
			return registry.Descriptor{}, fmt.Errorf("label %s: %w", labelProbe, err)
		}
		desc.Probe = probe
	}
	if value, ok := service.Labels[labelRecovery]; ok {
		strategy, err := registry.ParseRecoveryStrategy(value)
		if err != nil {
			return registry.Descriptor{}, fmt.Errorf("label %s: %w", labelRecovery, err)
		}
		desc.Recovery = strategy
	}
	if value, ok := service.Labels[labelDisabled]; ok {
		disabled, err := strconv.ParseBool(value)
		if err != nil {
			return registry.Descriptor{}, fmt.Errorf("label %s: %w", labelDisabled, err)
		}
		desc.Disabled = disabled
	}

	return desc, nil
}

func parseProbe(value string) (registry.Probe, error) {
	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "" || trimmed == "none":
		return registry.Probe{Kind: registry.ProbeNone}, nil
	case strings.HasPrefix(trimmed, "tcp://"):
		target := strings.TrimPrefix(trimmed, "tcp://")
		if target == "" {
			return registry.Probe{}, fmt.Errorf("tcp probe %q missing address", value)
		}
		return registry.Probe{Kind: registry.ProbeTCP, Target: target}, nil
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		parsed, err := url.Parse(trimmed)
		if err != nil || parsed.Host == "" {
			return registry.Probe{}, fmt.Errorf("invalid http probe %q", value)
		}
		return registry.Probe{Kind: registry.ProbeHTTP, Target: trimmed}, nil
	default:
		return registry.Probe{}, fmt.Errorf("unsupported probe scheme in %q", value)
	}
}
