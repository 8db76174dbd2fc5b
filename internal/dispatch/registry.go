package dispatch

import (
	"fmt"
	"sync"

	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/value"
)

// Registry holds every registered route, keyed by its ValueType
// discriminant (spec §4.1 "dispatcher enumerates routes via a registry
// populated at startup").
type Registry struct {
	mu     sync.RWMutex
	routes map[value.ValueType]registeredRoute
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[value.ValueType]registeredRoute)}
}

// register adds a route. It is an error (not a panic) to register a
// route with no test cases — "adding a route requires only defining
// the type" is true at the Go level; conformance is enforced here.
func register(reg *Registry, id value.ValueType, testCaseCount int, r registeredRoute) error {
	if testCaseCount == 0 {
		return fmt.Errorf("dispatch: route %q has zero test cases, refusing registration", id)
	}
	if r.Metadata().ID != id {
		return fmt.Errorf("dispatch: route metadata ID %q does not match registration key %q", r.Metadata().ID, id)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.routes[id]; exists {
		return fmt.Errorf("dispatch: route %q already registered", id)
	}
	reg.routes[id] = r
	return nil
}

// Register adapts and registers a typed route in one call.
func Register[Req any, Resp any](reg *Registry, r routespec.Route[Req, Resp]) error {
	return register(reg, r.Metadata().ID, len(r.TestCases()), Adapt(r))
}

// Lookup returns the route registered under a discriminant.
func (reg *Registry) Lookup(id value.ValueType) (registeredRoute, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.routes[id]
	return r, ok
}

// IDs returns every registered discriminant, for introspection routes
// (ListModels-style "what can this server do" tooling) and tests.
func (reg *Registry) IDs() []value.ValueType {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]value.ValueType, 0, len(reg.routes))
	for id := range reg.routes {
		out = append(out, id)
	}
	return out
}
