package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/netra-systems/service-warden/internal/registry"
)

// CycleError reports a dependency cycle in the service graph.
type CycleError struct {
	Service string
	Chain   []string
}

func (e *CycleError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("orchestrator: dependency cycle through service %s (%s)",
			e.Service, strings.Join(e.Chain, " -> "))
	}
	return fmt.Sprintf("orchestrator: dependency cycle through service %s", e.Service)
}

// StartupOrder holds the dependency levels for service startup. Level
// zero contains services without dependencies; every other service sits
// one level above its deepest dependency. Services within a level are
// sorted by name and may start concurrently.
type StartupOrder struct {
	Levels [][]string
	Flat   []string

	levelOf map[string]int
}

// LevelOf returns the dependency level of the named service, or -1 if
// the service is unknown.
func (o StartupOrder) LevelOf(name string) int {
	if level, ok := o.levelOf[name]; ok {
		return level
	}
	return -1
}

// ComputeStartupOrder derives dependency levels for every registered
// service. A dependency cycle yields a *CycleError naming a service on
// the cycle.
func ComputeStartupOrder(reg *registry.Registry) (StartupOrder, error) {
	names := reg.Names()
	if len(names) == 0 {
		return StartupOrder{levelOf: map[string]int{}}, nil
	}

	deps := make(map[string][]string, len(names))
	for _, name := range names {
		desc, err := reg.Get(name)
		if err != nil {
			return StartupOrder{}, err
		}
		deps[name] = desc.Dependencies
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	marks := make(map[string]int, len(names))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return &CycleError{Service: name, Chain: cycleChain(stack, name)}
		case visited:
			return nil
		}
		marks[name] = visiting
		stack = append(stack, name)
		for _, dep := range deps[name] {
			if _, ok := deps[dep]; !ok {
				return fmt.Errorf("orchestrator: service %s depends on unknown service %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		marks[name] = visited
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return StartupOrder{}, err
		}
	}

	// Longest path from the roots; safe to memoize once acyclic.
	levelOf := make(map[string]int, len(names))
	var levelFor func(name string) int
	levelFor = func(name string) int {
		if level, ok := levelOf[name]; ok {
			return level
		}
		level := 0
		for _, dep := range deps[name] {
			if depLevel := levelFor(dep) + 1; depLevel > level {
				level = depLevel
			}
		}
		levelOf[name] = level
		return level
	}

	maxLevel := 0
	for _, name := range names {
		if level := levelFor(name); level > maxLevel {
			maxLevel = level
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, name := range names {
		level := levelOf[name]
		levels[level] = append(levels[level], name)
	}
	flat := make([]string, 0, len(names))
	for i := range levels {
		sort.Strings(levels[i])
		flat = append(flat, levels[i]...)
	}

	return StartupOrder{Levels: levels, Flat: flat, levelOf: levelOf}, nil
}

// cycleChain extracts the portion of the DFS stack that forms the cycle.
func cycleChain(stack []string, name string) []string {
	for i, candidate := range stack {
		if candidate == name {
			chain := append([]string(nil), stack[i:]...)
			return append(chain, name)
		}
	}
	return append([]string(nil), stack...)
}
