// Package nativeloader wraps the hardware-selected native inference
// library: load-once library handles shared across models, Model
// ownership of a native model handle, and Context borrowing from a
// Model with its lifetime tied to it (spec §4.5). Shaped like the
// teacher's process.Manager registry/lifecycle idiom, generalized from
// "process handle per agent" to "library handle per variant, model
// handle per loaded model, context handle per inference session".
package nativeloader

import (
	"fmt"
	"sync"

	"github.com/ocentra/tabagentd/internal/hardware"
	"github.com/ocentra/tabagentd/pkg/apperr"
)

// Library is the platform dynamic-library binding. A real build backs
// this with cgo or a purego-style loader; this interface isolates that
// platform/stdlib-adjacent primitive to libhandle.go so the rest of
// the package is testable with a fake.
type Library interface {
	Path() hardware.VariantPath
	// LoadModel opens a native model handle from a GGUF/BitNet file.
	LoadModel(path string, params LoadParams) (handle uintptr, meta ModelMeta, err error)
	FreeModel(handle uintptr)
	NewContext(modelHandle uintptr, contextSize int) (handle uintptr, err error)
	FreeContext(handle uintptr)
	Tokenize(contextHandle uintptr, text string, addSpecial bool) ([]TokenId, error)
	Detokenize(contextHandle uintptr, tokens []TokenId) (string, error)
	// GenerateNext returns the next token id given the current context
	// state, or ok=false when generation should stop (eos/eog reached
	// natively).
	GenerateNext(contextHandle uintptr, promptTokens []TokenId) (tok TokenId, ok bool, err error)
}

// TokenId is a native vocabulary token id.
type TokenId int32

// LoadParams are the load-time parameters from §4.5.
type LoadParams struct {
	GPULayerCount int
	ContextSize   int
	Mlock         bool
}

// ModelMeta is metadata extracted on load (§4.5).
type ModelMeta struct {
	VocabSize          int
	TrainedContextSize int
	EmbeddingDim       int
	BosToken           TokenId
	EosToken           TokenId
	EolToken           TokenId
}

// libraryRegistry shares one Library handle per VariantPath across all
// models, per §4.5 invariant 1.
type libraryRegistry struct {
	mu    sync.Mutex
	open  map[hardware.VariantPath]Library
	opener func(hardware.VariantPath) (Library, error)
}

func newLibraryRegistry(opener func(hardware.VariantPath) (Library, error)) *libraryRegistry {
	return &libraryRegistry{open: make(map[hardware.VariantPath]Library), opener: opener}
}

func (r *libraryRegistry) get(path hardware.VariantPath) (Library, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lib, ok := r.open[path]; ok {
		return lib, nil
	}
	lib, err := r.opener(path)
	if err != nil {
		return nil, fmt.Errorf("open native library %s: %w", path, err)
	}
	r.open[path] = lib
	return lib, nil
}

// InferenceErrorKind is the stable discriminant for native-call
// failures (§4.5 "any C-level error path returns a typed
// InferenceError with a stable discriminant; panics in the wrapper are
// forbidden").
type InferenceErrorKind string

const (
	ErrLoadFailed      InferenceErrorKind = "LoadFailed"
	ErrContextFailed   InferenceErrorKind = "ContextFailed"
	ErrTokenizeFailed  InferenceErrorKind = "TokenizeFailed"
	ErrGenerateFailed  InferenceErrorKind = "GenerateFailed"
	ErrModelInUse      InferenceErrorKind = "ModelInUse"
)

// InferenceError carries kind and message; never a panic.
type InferenceError struct {
	Kind    InferenceErrorKind
	Message string
}

func (e *InferenceError) Error() string { return string(e.Kind) + ": " + e.Message }

// ToAppError lifts an InferenceError into the shared apperr taxonomy
// as a Backend error, the kind §7 reserves for "native library error".
func (e *InferenceError) ToAppError() *apperr.Error {
	return apperr.New(apperr.Backend, e.Error()).WithDetails(map[string]any{"native_kind": string(e.Kind)})
}
