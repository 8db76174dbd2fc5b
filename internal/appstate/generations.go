package appstate

import (
	"context"
	"sync"

	"github.com/ocentra/tabagentd/pkg/ids"
)

// generations tracks cancel funcs for in-flight Generate/Chat streams,
// keyed by the RequestId the caller supplied, so StopGeneration (a
// separate route call, with no handle on the Go *stream.Stream value)
// can reach back into a stream it didn't create.
type generations struct {
	mu     sync.Mutex
	cancel map[ids.RequestId]context.CancelFunc
}

func newGenerations() *generations {
	return &generations{cancel: make(map[ids.RequestId]context.CancelFunc)}
}

func (g *generations) register(id ids.RequestId, cancel context.CancelFunc) {
	if id.Empty() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancel[id] = cancel
}

func (g *generations) unregister(id ids.RequestId) {
	if id.Empty() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.cancel, id)
}

// stop cancels the generation's context, if it is still in flight.
// Returns false if id is unknown (already finished or never started).
func (g *generations) stop(id ids.RequestId) bool {
	g.mu.Lock()
	cancel, ok := g.cancel[id]
	delete(g.cancel, id)
	g.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// RegisterGeneration associates a cancel func with a caller-supplied
// RequestId so a later StopGeneration can reach it.
func (as *AppState) RegisterGeneration(id ids.RequestId, cancel context.CancelFunc) {
	as.gens.register(id, cancel)
}

// UnregisterGeneration removes a generation's bookkeeping entry once
// its stream has finished on its own.
func (as *AppState) UnregisterGeneration(id ids.RequestId) {
	as.gens.unregister(id)
}

// StopGeneration cancels an in-flight generation's context.
func (as *AppState) StopGeneration(id ids.RequestId) bool {
	return as.gens.stop(id)
}
