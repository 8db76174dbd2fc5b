// Package value implements the typed envelope described in spec §3 and
// §4.1: Value[T] carries a static marker type T (phantom, used only at
// compile time to keep call sites type-safe) alongside a runtime
// ValueType discriminant that downcasts are checked against.
package value

import "fmt"

// ValueType is the runtime discriminant for a RequestValue/ResponseValue
// payload. It mirrors the route name so the dispatcher can look up a
// route purely from the discriminant (§4.1 dispatch step 2).
type ValueType string

// Value wraps a concrete payload T with its runtime discriminant. T is
// a phantom type parameter: no Value[T] method inspects T's structure,
// it exists purely so callers that hold a Value[Chat] cannot pass it
// where a Value[Embeddings] is expected without going through As.
type Value[T any] struct {
	vt      ValueType
	payload T
}

// New wraps a payload with its discriminant.
func New[T any](vt ValueType, payload T) Value[T] {
	return Value[T]{vt: vt, payload: payload}
}

// Type returns the runtime discriminant.
func (v Value[T]) Type() ValueType { return v.vt }

// Get returns the wrapped payload. Always safe: T is fixed at
// construction, so there is no partiality here — the unsafe part of
// the system is Envelope.As below, which crosses the dynamic boundary.
func (v Value[T]) Get() T { return v.payload }

// Envelope is the dynamically-typed form used at transport boundaries,
// where the concrete T is not known until the discriminant is read off
// the wire. It holds the discriminant and an untyped payload.
type Envelope struct {
	vt      ValueType
	payload any
}

// NewEnvelope builds a dynamic envelope from a typed Value.
func NewEnvelope[T any](v Value[T]) Envelope {
	return Envelope{vt: v.vt, payload: v.payload}
}

// Type returns the runtime discriminant.
func (e Envelope) Type() ValueType { return e.vt }

// Payload returns the envelope's untyped payload, for callers (transport
// adapters) that only need to serialize it rather than downcast it
// through As.
func (e Envelope) Payload() any { return e.payload }

// As downcasts the envelope to Value[T], checking the discriminant
// against expectedType and the payload's dynamic type against T.
// Returns an error (never panics) if either check fails — this is the
// "downcasts are checked against the discriminant" invariant from §3.
func As[T any](e Envelope, expectedType ValueType) (Value[T], error) {
	var zero Value[T]
	if e.vt != expectedType {
		return zero, fmt.Errorf("value: discriminant mismatch: have %q, want %q", e.vt, expectedType)
	}
	payload, ok := e.payload.(T)
	if !ok {
		return zero, fmt.Errorf("value: payload type mismatch for discriminant %q", e.vt)
	}
	return New(e.vt, payload), nil
}
