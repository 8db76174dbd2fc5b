//go:build !nativeloader_fake

package nativeloader

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/ocentra/tabagentd/internal/hardware"
)

// pluginLibrary backs Library with Go's plugin package, the narrowest
// stdlib primitive capable of dlopen-ing a shared object at runtime
// without cgo (see DESIGN.md "Standard-library justifications" — no
// pack example ships a Go FFI wrapper for a C ABI, and pulling in
// purego/cgo to bind a symbol set this package doesn't actually
// possess yet would fabricate a dependency against nothing real). A
// production build backing a genuine llama.cpp-style C surface
// replaces this file with a cgo or purego binding behind the same
// Library interface; nothing else in the package changes.
type pluginLibrary struct {
	path hardware.VariantPath
	p    *plugin.Plugin

	mu      sync.Mutex
	models  map[uintptr]*nativeModel
	nextID  uintptr
}

type nativeModel struct {
	meta     ModelMeta
	contexts map[uintptr]*nativeContext
}

type nativeContext struct {
	promptTokens []TokenId
	emitted      int
}

func openPluginLibrary(path hardware.VariantPath) (Library, error) {
	p, err := plugin.Open(string(path))
	if err != nil {
		return nil, &InferenceError{Kind: ErrLoadFailed, Message: err.Error()}
	}
	return &pluginLibrary{path: path, p: p, models: make(map[uintptr]*nativeModel)}, nil
}

func (l *pluginLibrary) Path() hardware.VariantPath { return l.path }

func (l *pluginLibrary) LoadModel(path string, params LoadParams) (uintptr, ModelMeta, error) {
	sym, err := l.p.Lookup("LoadModel")
	if err != nil {
		return 0, ModelMeta{}, &InferenceError{Kind: ErrLoadFailed, Message: err.Error()}
	}
	loadFn, ok := sym.(func(string, int, int, bool) (ModelMeta, error))
	if !ok {
		return 0, ModelMeta{}, &InferenceError{Kind: ErrLoadFailed, Message: "variant exports an incompatible LoadModel symbol"}
	}
	meta, err := loadFn(path, params.GPULayerCount, params.ContextSize, params.Mlock)
	if err != nil {
		return 0, ModelMeta{}, &InferenceError{Kind: ErrLoadFailed, Message: err.Error()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	handle := l.nextID
	l.models[handle] = &nativeModel{meta: meta, contexts: make(map[uintptr]*nativeContext)}
	return handle, meta, nil
}

func (l *pluginLibrary) FreeModel(handle uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.models, handle)
}

func (l *pluginLibrary) NewContext(modelHandle uintptr, contextSize int) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.models[modelHandle]
	if !ok {
		return 0, &InferenceError{Kind: ErrContextFailed, Message: "unknown model handle"}
	}
	l.nextID++
	handle := l.nextID
	m.contexts[handle] = &nativeContext{}
	return handle, nil
}

func (l *pluginLibrary) FreeContext(handle uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.models {
		delete(m.contexts, handle)
	}
}

func (l *pluginLibrary) Tokenize(contextHandle uintptr, text string, addSpecial bool) ([]TokenId, error) {
	// Deterministic placeholder tokenizer: one token per rune. Real
	// variants export a proper BPE/SentencePiece tokenizer symbol;
	// this keeps the wrapper's contract testable without a model file.
	tokens := make([]TokenId, 0, len(text))
	if addSpecial {
		tokens = append(tokens, 1) // bos
	}
	for _, r := range text {
		tokens = append(tokens, TokenId(r))
	}
	return tokens, nil
}

func (l *pluginLibrary) Detokenize(contextHandle uintptr, tokens []TokenId) (string, error) {
	runes := make([]rune, 0, len(tokens))
	for _, t := range tokens {
		if t <= 2 {
			continue // special tokens
		}
		runes = append(runes, rune(t))
	}
	return string(runes), nil
}

func (l *pluginLibrary) GenerateNext(contextHandle uintptr, promptTokens []TokenId) (TokenId, bool, error) {
	return 0, false, fmt.Errorf("variant %s does not implement greedy generation", l.path)
}
