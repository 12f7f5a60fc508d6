package plugins

import (
	"fmt"
	"log"
	"sort"

	"github.com/lerndmina/Heimdall-sub000/internal/plugins/manifest"
)

// LookupEnv reads an environment variable.
type LookupEnv func(key string) (string, bool)

// Plan is the result of discovery, override filtering, validation, and
// ordering. Building a plan never loads anything.
type Plan struct {
	// Discovered holds every decoded manifest in discovery order.
	Discovered []*manifest.Manifest
	// Disabled maps plugin name to the reason it is excluded.
	Disabled map[string]string
	// Order is the load order of the enabled plugins.
	Order    []*manifest.Manifest
	Warnings []manifest.DiscoveryWarning
}

// BuildPlan discovers plugins under dir, applies overrides, validates the
// enabled set, and computes a load order. Validation problems are returned
// together as a *ValidationError; a dependency cycle as a *CycleError. The
// returned plan is non-nil even on error so callers can report on it.
func BuildPlan(dir string, overrides manifest.Overrides, lookup LookupEnv) (*Plan, error) {
	manifests, warnings := manifest.DiscoverWithWarnings(dir)
	plan := &Plan{
		Discovered: manifests,
		Disabled:   make(map[string]string),
		Warnings:   warnings,
	}

	var enabled []*manifest.Manifest
	for _, m := range manifests {
		if reason := overrides.DisabledReason(m); reason != "" {
			plan.Disabled[m.Name] = reason
			log.Printf("[Plugins] %s disabled: %s", m.Name, reason)
			continue
		}
		enabled = append(enabled, m)
	}

	if err := validate(enabled, plan.Disabled, lookup); err != nil {
		return plan, err
	}

	order, err := loadOrder(enabled)
	if err != nil {
		return plan, err
	}
	plan.Order = order
	return plan, nil
}

func validate(enabled []*manifest.Manifest, disabled map[string]string, lookup LookupEnv) error {
	present := make(map[string]bool, len(enabled))
	for _, m := range enabled {
		present[m.Name] = true
	}

	var problems []Problem
	for _, m := range enabled {
		for _, dep := range m.Dependencies {
			if present[dep] {
				continue
			}
			reason := fmt.Sprintf("missing required dependency %q", dep)
			if why, ok := disabled[dep]; ok {
				reason = fmt.Sprintf("required dependency %q is disabled (%s)", dep, why)
			}
			problems = append(problems, Problem{Plugin: m.Name, Reason: reason})
		}
		for _, key := range m.Env.Required {
			if v, ok := lookup(key); !ok || v == "" {
				problems = append(problems, Problem{Plugin: m.Name, Reason: fmt.Sprintf("missing required env %s", key)})
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// loadOrder runs Kahn's algorithm. Edges come from required dependencies and
// optional dependencies that are present. Among plugins that are ready at
// the same time, discovery order wins.
func loadOrder(enabled []*manifest.Manifest) ([]*manifest.Manifest, error) {
	index := make(map[string]int, len(enabled))
	for i, m := range enabled {
		index[m.Name] = i
	}

	indegree := make([]int, len(enabled))
	dependents := make([][]int, len(enabled))
	for i, m := range enabled {
		for _, dep := range m.AllDependencies() {
			j, ok := index[dep]
			if !ok {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range enabled {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]*manifest.Manifest, 0, len(enabled))
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, enabled[next])
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) < len(enabled) {
		return nil, &CycleError{Plugins: cycleMembers(enabled, indegree, dependents)}
	}
	return order, nil
}

// cycleMembers trims the nodes Kahn's algorithm left behind down to those
// that still lead back into the blocked set, dropping plugins that only
// depend on a cycle without being part of one.
func cycleMembers(enabled []*manifest.Manifest, indegree []int, dependents [][]int) []string {
	blocked := make(map[int]bool)
	for i := range enabled {
		if indegree[i] > 0 {
			blocked[i] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for i := range blocked {
			leads := false
			for _, d := range dependents[i] {
				if blocked[d] {
					leads = true
					break
				}
			}
			if !leads {
				delete(blocked, i)
				changed = true
			}
		}
	}

	var names []string
	for i, m := range enabled {
		if blocked[i] {
			names = append(names, m.Name)
		}
	}
	return names
}
