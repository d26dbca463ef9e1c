// Package actions tracks the externally registered capabilities a
// companion can invoke. The core does not execute actions; it only
// surfaces a digest of them during prompt assembly.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/becomeliminal/companion-core/core"
)

// Registry is a thread-safe action registry. It satisfies the prompt
// package's ActionProvider.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]core.Action
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]core.Action)}
}

// Register adds or replaces an action by name. Registration order is
// preserved for listing, so producers control digest priority.
func (r *Registry) Register(a core.Action) error {
	if a.Name == "" {
		return fmt.Errorf("register action: name is required")
	}
	if a.Category == "" {
		return fmt.Errorf("register action %q: category is required", a.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name]; !exists {
		r.order = append(r.order, a.Name)
	}
	r.actions[a.Name] = a
	return nil
}

// Unregister removes an action. False means the name was unknown.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; !exists {
		return false
	}
	delete(r.actions, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Actions implements prompt.ActionProvider. The user id is accepted for
// interface compatibility; registered actions are currently global.
func (r *Registry) Actions(_ context.Context, _ string) ([]core.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Action, 0, len(r.actions))
	for _, name := range r.order {
		out = append(out, r.actions[name])
	}
	return out, nil
}

// ByCategory groups registered actions by category, sorted by name
// within each group.
func (r *Registry) ByCategory() map[string][]core.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]core.Action)
	for _, a := range r.actions {
		out[a.Category] = append(out[a.Category], a)
	}
	for _, group := range out {
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
	}
	return out
}
