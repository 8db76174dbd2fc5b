package appstate

import (
	"sync"

	"github.com/ocentra/tabagentd/internal/nativeloader"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
)

// loadedModels tracks native Models currently held open, so
// ListModels/UnloadModel have something to enumerate. The ML RPC
// client tracks its own loaded models server-side; this registry only
// covers models loaded through the Native Inference Loader.
type loadedModels struct {
	mu     sync.RWMutex
	models map[ids.ModelId]*nativeloader.Model
}

func newLoadedModels() *loadedModels {
	return &loadedModels{models: make(map[ids.ModelId]*nativeloader.Model)}
}

func (r *loadedModels) put(id ids.ModelId, m *nativeloader.Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[id] = m
}

func (r *loadedModels) get(id ids.ModelId) (*nativeloader.Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

func (r *loadedModels) remove(id ids.ModelId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
}

func (r *loadedModels) ids() []ids.ModelId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ids.ModelId, 0, len(r.models))
	for id := range r.models {
		out = append(out, id)
	}
	return out
}

// LoadNativeModel loads modelID's variant library into a Model and
// registers it, the path LoadModel takes for any pipeline type the
// native loader (rather than the external ML service) serves.
func (as *AppState) LoadNativeModel(id ids.ModelId, libraryPath string, params nativeloader.LoadParams) (*nativeloader.Model, *apperr.Error) {
	if _, ok := as.models.get(id); ok {
		return nil, apperr.New(apperr.Conflict, "model already loaded")
	}
	m, err := as.Loader.Load(as.Variant, libraryPath, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "load native model", err)
	}
	as.models.put(id, m)
	return m, nil
}

// UnloadNativeModel closes and deregisters a previously loaded model.
func (as *AppState) UnloadNativeModel(id ids.ModelId) *apperr.Error {
	m, ok := as.models.get(id)
	if !ok {
		return apperr.NotFoundEntity("model", string(id))
	}
	if err := m.Close(); err != nil {
		return apperr.Wrap(apperr.Backend, "unload native model", err)
	}
	as.models.remove(id)
	return nil
}

// ListLoadedModels returns the ids of natively loaded models.
func (as *AppState) ListLoadedModels() []ids.ModelId { return as.models.ids() }

// GetLoadedModel returns a natively loaded model by id, if any.
func (as *AppState) GetLoadedModel(id ids.ModelId) (*nativeloader.Model, bool) {
	return as.models.get(id)
}
