package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// ResourceClass identifies the external dependency an agent calls, so the
// scheduler can cap in-flight calls per class.
type ResourceClass string

const (
	ResourceMedia  ResourceClass = "media"
	ResourceVision ResourceClass = "vision"
	ResourceSTT    ResourceClass = "stt"
	ResourceLLM    ResourceClass = "llm"
)

// Descriptor declares an agent's identity and scheduling constraints.
type Descriptor struct {
	Name      string
	DependsOn []string
	Category  string // presentation only
	Optional  bool   // failure yields a fallback slot instead of skipping dependents
	Weight    float64
	Resource  ResourceClass
}

// Result is the output of one agent execution.
type Result struct {
	Payload    any
	Confidence float64
}

// ProgressFunc reports coarse agent-local progress in [0,100].
type ProgressFunc func(pct int)

// Agent is a unit of pipeline work. Execute is invoked at most once per run
// attempt; it must only read upstream slots and return its own result.
type Agent interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, pc *Context, progress ProgressFunc) (Result, error)
}

// Registry is the closed, validated set of agents a scheduler runs.
type Registry struct {
	agents map[string]Agent
	order  []string // topological, for deterministic iteration
}

// NewRegistry validates descriptors (unique names, known dependencies,
// acyclic graph) and returns the registry. A cycle is a registration-time
// error, never a run-time one.
func NewRegistry(agents ...Agent) (*Registry, error) {
	byName := make(map[string]Agent, len(agents))
	for _, a := range agents {
		d := a.Descriptor()
		if d.Name == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if _, dup := byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", d.Name)
		}
		if d.Weight <= 0 {
			return nil, fmt.Errorf("agent %q has non-positive weight", d.Name)
		}
		byName[d.Name] = a
	}

	for name, a := range byName {
		for _, dep := range a.Descriptor().DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("agent %q depends on unknown agent %q", name, dep)
			}
			if dep == name {
				return nil, fmt.Errorf("agent %q depends on itself", name)
			}
		}
	}

	order, err := topoSort(byName)
	if err != nil {
		return nil, err
	}

	return &Registry{agents: byName, order: order}, nil
}

// topoSort runs Kahn's algorithm over the dependency graph.
func topoSort(byName map[string]Agent) ([]string, error) {
	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string, len(byName))
	for name, a := range byName {
		indegree[name] = len(a.Descriptor().DependsOn)
		for _, dep := range a.Descriptor().DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(byName) {
		var stuck []string
		for name, n := range indegree {
			if n > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("dependency cycle involving agents %v", stuck)
	}
	return order, nil
}

// Names returns agent names in topological order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Len returns the number of registered agents.
func (r *Registry) Len() int { return len(r.agents) }

// Dependents returns the direct dependents of the named agent.
func (r *Registry) Dependents(name string) []string {
	var out []string
	for _, n := range r.order {
		for _, dep := range r.agents[n].Descriptor().DependsOn {
			if dep == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
