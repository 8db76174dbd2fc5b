package nativeloader

import (
	"context"
	"sync"
)

// StopReason is why generation stopped, per §4.5 stop conditions.
type StopReason string

const (
	StopEOS        StopReason = "eos"
	StopMaxTokens  StopReason = "max_tokens"
	StopCancelled  StopReason = "cancelled"
)

// StopConditions bounds a Context.Generate call.
type StopConditions struct {
	MaxTokens int
}

// Context borrows from a Model and owns a native context handle. A
// Context is pinned to its creating goroutine/thread per spec §5
// ("the loader assumes not [thread-safe]; Contexts are pinned to
// their creating thread") — callers must not share a Context across
// goroutines without external synchronization.
type Context struct {
	model  *Model
	lib    Library
	handle uintptr

	mu     sync.Mutex
	closed bool
}

// Tokenize converts text to token ids.
func (c *Context) Tokenize(text string, addSpecial bool) ([]TokenId, error) {
	toks, err := c.lib.Tokenize(c.handle, text, addSpecial)
	if err != nil {
		return nil, &InferenceError{Kind: ErrTokenizeFailed, Message: err.Error()}
	}
	return toks, nil
}

// Detokenize converts token ids back to text.
func (c *Context) Detokenize(tokens []TokenId) (string, error) {
	text, err := c.lib.Detokenize(c.handle, tokens)
	if err != nil {
		return "", &InferenceError{Kind: ErrTokenizeFailed, Message: err.Error()}
	}
	return text, nil
}

// Generate runs greedy decoding (argmax over logits, per §4.5 MVP
// policy), emitting tokens one at a time on the returned channel until
// a stop condition is hit or ctx is cancelled. Generation is a
// suspension point; cooperative checkpoints occur after every token.
func (c *Context) Generate(ctx context.Context, promptTokens []TokenId, stop StopConditions) (<-chan TokenId, <-chan error) {
	out := make(chan TokenId)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		tokens := append([]TokenId(nil), promptTokens...)
		emitted := 0
		for stop.MaxTokens <= 0 || emitted < stop.MaxTokens {
			select {
			case <-ctx.Done():
				errc <- &InferenceError{Kind: ErrGenerateFailed, Message: string(StopCancelled)}
				return
			default:
			}

			tok, ok, err := c.lib.GenerateNext(c.handle, tokens)
			if err != nil {
				errc <- &InferenceError{Kind: ErrGenerateFailed, Message: err.Error()}
				return
			}
			if !ok {
				return // native eos/eog
			}

			tokens = append(tokens, tok)
			emitted++

			select {
			case out <- tok:
			case <-ctx.Done():
				errc <- &InferenceError{Kind: ErrGenerateFailed, Message: string(StopCancelled)}
				return
			}
		}
	}()

	return out, errc
}

// Close frees the native context handle and releases the Model's
// outstanding-context count.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.lib.FreeContext(c.handle)
	c.model.releaseContext()
	c.closed = true
	return nil
}
