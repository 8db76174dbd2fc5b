package nativeloader

import (
	"sync"
	"sync/atomic"

	"github.com/ocentra/tabagentd/internal/hardware"
)

// ModelState is the Model lifecycle from §4.5:
//
//	Unloaded --load--> Loading --ok--> Loaded
//	                       \--err--> Unloaded(error)
//	Loaded --unload--> Unloaded
//	Loaded --new_context--> Loaded (with Context borrowed)
type ModelState string

const (
	StateUnloaded ModelState = "Unloaded"
	StateLoading  ModelState = "Loading"
	StateLoaded   ModelState = "Loaded"
)

// Loader owns the shared library registry and constructs Models.
type Loader struct {
	registry *libraryRegistry
}

// LibraryOpener opens the Library for a hardware variant, the single
// seam nativeloader crosses into platform-specific code.
type LibraryOpener func(hardware.VariantPath) (Library, error)

// NewLoader builds a Loader backed by the default plugin-based Library
// opener. Tests substitute a fake opener via NewLoaderWithOpener.
func NewLoader() *Loader {
	return NewLoaderWithOpener(openPluginLibrary)
}

// NewLoaderWithOpener builds a Loader with a custom Library opener,
// used by tests to avoid touching real shared objects.
func NewLoaderWithOpener(opener LibraryOpener) *Loader {
	return &Loader{registry: newLibraryRegistry(opener)}
}

// Model owns a native model handle with exclusive ownership; Close
// frees the handle. A Model with outstanding Contexts cannot be
// closed until they are dropped (enforced here at runtime by a
// counter, per §4.5's "at minimum enforced at runtime by a counter and
// an error" fallback since Go has no borrow checker).
type Model struct {
	lib    Library
	handle uintptr
	meta   ModelMeta

	state     atomic.Value // ModelState
	mu        sync.Mutex
	contexts  int
}

// Load opens (or reuses) the variant's Library and loads a model file
// into it, returning a Model in the Loaded state.
func (l *Loader) Load(variant hardware.VariantPath, path string, params LoadParams) (*Model, error) {
	lib, err := l.registry.get(variant)
	if err != nil {
		return nil, err
	}

	m := &Model{lib: lib}
	m.state.Store(StateLoading)

	handle, meta, err := lib.LoadModel(path, params)
	if err != nil {
		m.state.Store(StateUnloaded)
		return nil, err
	}

	m.handle = handle
	m.meta = meta
	m.state.Store(StateLoaded)
	return m, nil
}

// State returns the Model's current lifecycle state.
func (m *Model) State() ModelState { return m.state.Load().(ModelState) }

// Meta returns the metadata extracted on load.
func (m *Model) Meta() ModelMeta { return m.meta }

// NewContext borrows a Context from this Model. The Context must not
// outlive the Model; callers must call Context.Close before
// Model.Close.
func (m *Model) NewContext(contextSize int) (*Context, error) {
	if m.State() != StateLoaded {
		return nil, &InferenceError{Kind: ErrContextFailed, Message: "model is not loaded"}
	}

	handle, err := m.lib.NewContext(m.handle, contextSize)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.contexts++
	m.mu.Unlock()

	return &Context{model: m, lib: m.lib, handle: handle}, nil
}

func (m *Model) releaseContext() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contexts > 0 {
		m.contexts--
	}
}

// Close frees the native model handle. Fails if any Context borrowed
// from this Model has not been closed yet (§4.5 invariant).
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.contexts > 0 {
		return &InferenceError{Kind: ErrModelInUse, Message: "model has outstanding contexts"}
	}
	if m.State() != StateLoaded {
		return nil
	}

	m.lib.FreeModel(m.handle)
	m.state.Store(StateUnloaded)
	return nil
}
