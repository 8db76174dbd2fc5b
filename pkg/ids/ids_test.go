package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequestIdUnique(t *testing.T) {
	a := NewRequestId()
	b := NewRequestId()
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)
	require.NotEqual(t, a, b)
}

func TestEmpty(t *testing.T) {
	var n NodeId
	require.True(t, n.Empty())
	n = NewNodeId()
	require.False(t, n.Empty())
}
