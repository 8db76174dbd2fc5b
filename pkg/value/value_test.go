package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type chatPayload struct{ Message string }
type embedPayload struct{ Text string }

func TestAsRoundTrip(t *testing.T) {
	v := New[chatPayload]("Chat", chatPayload{Message: "hi"})
	env := NewEnvelope(v)

	got, err := As[chatPayload](env, "Chat")
	require.NoError(t, err)
	require.Equal(t, "hi", got.Get().Message)
}

func TestAsDiscriminantMismatch(t *testing.T) {
	v := New[chatPayload]("Chat", chatPayload{Message: "hi"})
	env := NewEnvelope(v)

	_, err := As[chatPayload](env, "Embeddings")
	require.Error(t, err)
}

func TestAsPayloadMismatch(t *testing.T) {
	// Force a discriminant that claims "Chat" but carries the wrong
	// payload type, simulating a malformed internal construction.
	env := Envelope{}
	env = NewEnvelope(New[embedPayload]("Chat", embedPayload{Text: "x"}))

	_, err := As[chatPayload](env, "Chat")
	require.Error(t, err)
}
