package sessionkit

import (
	"errors"
	"fmt"
)

var (
	ErrPluginCycle      = errors.New("plugin dependency cycle")
	ErrPluginDuplicate  = errors.New("duplicate plugin id")
	ErrPluginMissingDep = errors.New("plugin dependency not registered")
)

// Plugin extends the engine at build time. Init runs once during
// [Builder.Build], after all plugins are ordered, and may register
// overrides or inspect the config. Plugins run in dependency order;
// independent plugins keep their registration order.
type Plugin struct {
	ID        string
	DependsOn []string
	Init      func(b *Builder) error
}

// sortPlugins orders plugins so every plugin runs after its dependencies.
// Kahn's algorithm over registration order keeps the output deterministic.
func sortPlugins(plugins []Plugin) ([]Plugin, error) {
	index := make(map[string]int, len(plugins))
	for i, p := range plugins {
		if p.ID == "" {
			return nil, errors.New("plugin with empty id")
		}
		if _, ok := index[p.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrPluginDuplicate, p.ID)
		}
		index[p.ID] = i
	}

	indegree := make([]int, len(plugins))
	dependents := make([][]int, len(plugins))
	for i, p := range plugins {
		for _, dep := range p.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q needs %q", ErrPluginMissingDep, p.ID, dep)
			}
			dependents[j] = append(dependents[j], i)
			indegree[i]++
		}
	}

	var ready []int
	for i := range plugins {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Plugin, 0, len(plugins))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, plugins[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				ready = append(ready, j)
			}
		}
	}

	if len(ordered) != len(plugins) {
		var stuck []string
		for i, p := range plugins {
			if indegree[i] > 0 {
				stuck = append(stuck, p.ID)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrPluginCycle, stuck)
	}
	return ordered, nil
}
