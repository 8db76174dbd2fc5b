package nativeloader

import (
	"context"
	"testing"

	"github.com/ocentra/tabagentd/internal/hardware"
	"github.com/stretchr/testify/require"
)

type fakeLibrary struct {
	path hardware.VariantPath
}

func (f *fakeLibrary) Path() hardware.VariantPath { return f.path }

func (f *fakeLibrary) LoadModel(path string, params LoadParams) (uintptr, ModelMeta, error) {
	return 1, ModelMeta{VocabSize: 32000, EmbeddingDim: 4096, EosToken: 2}, nil
}
func (f *fakeLibrary) FreeModel(handle uintptr) {}

func (f *fakeLibrary) NewContext(modelHandle uintptr, contextSize int) (uintptr, error) {
	return 1, nil
}
func (f *fakeLibrary) FreeContext(handle uintptr) {}

func (f *fakeLibrary) Tokenize(contextHandle uintptr, text string, addSpecial bool) ([]TokenId, error) {
	out := make([]TokenId, len(text))
	for i, r := range text {
		out[i] = TokenId(r)
	}
	return out, nil
}

func (f *fakeLibrary) Detokenize(contextHandle uintptr, tokens []TokenId) (string, error) {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes), nil
}

func (f *fakeLibrary) GenerateNext(contextHandle uintptr, promptTokens []TokenId) (TokenId, bool, error) {
	if len(promptTokens) > 5 {
		return 0, false, nil // simulate native eos
	}
	return TokenId(len(promptTokens)), true, nil
}

func newTestLoader() *Loader {
	return NewLoaderWithOpener(func(p hardware.VariantPath) (Library, error) {
		return &fakeLibrary{path: p}, nil
	})
}

func TestLoadAndGenerate(t *testing.T) {
	l := newTestLoader()
	m, err := l.Load("standard-cpu", "model.gguf", LoadParams{ContextSize: 2048})
	require.NoError(t, err)
	require.Equal(t, StateLoaded, m.State())

	ctx, err := m.NewContext(2048)
	require.NoError(t, err)

	out, errc := ctx.Generate(context.Background(), []TokenId{1}, StopConditions{MaxTokens: 10})
	var tokens []TokenId
	for tok := range out {
		tokens = append(tokens, tok)
	}
	require.NoError(t, <-errc)
	require.NotEmpty(t, tokens)

	require.NoError(t, ctx.Close())
	require.NoError(t, m.Close())
}

func TestModelCannotCloseWithOpenContext(t *testing.T) {
	l := newTestLoader()
	m, err := l.Load("standard-cpu", "model.gguf", LoadParams{})
	require.NoError(t, err)

	ctx, err := m.NewContext(2048)
	require.NoError(t, err)

	err = m.Close()
	require.Error(t, err)

	require.NoError(t, ctx.Close())
	require.NoError(t, m.Close())
}

func TestTokenizeDetokenizeRoundTrip(t *testing.T) {
	l := newTestLoader()
	m, err := l.Load("standard-cpu", "model.gguf", LoadParams{})
	require.NoError(t, err)
	ctx, err := m.NewContext(2048)
	require.NoError(t, err)
	defer ctx.Close()

	toks, err := ctx.Tokenize("hi", false)
	require.NoError(t, err)
	text, err := ctx.Detokenize(toks)
	require.NoError(t, err)
	require.Equal(t, "hi", text)
}
