// Package ids defines the typed identifiers shared across the control
// plane. Each kind is a distinct Go type over a string so that, for
// example, a NodeId can never be passed where an EdgeId is expected
// without an explicit conversion.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NodeId identifies a Node in a storage family.
type NodeId string

// EdgeId identifies an Edge between two nodes.
type EdgeId string

// EmbeddingId identifies a stored embedding vector.
type EmbeddingId string

// ModelId identifies a model artifact set (native or external).
type ModelId string

// RequestId identifies a single request/response round trip across
// every transport. Minted as a 128-bit random value when a caller does
// not supply one.
type RequestId string

// NewRequestId mints a fresh 128-bit random RequestId, hex-encoded.
func NewRequestId() RequestId {
	return RequestId(newOpaqueID("req"))
}

// NewNodeId mints a fresh NodeId.
func NewNodeId() NodeId { return NodeId(newOpaqueID("node")) }

// NewEdgeId mints a fresh EdgeId.
func NewEdgeId() EdgeId { return EdgeId(newOpaqueID("edge")) }

// NewEmbeddingId mints a fresh EmbeddingId.
func NewEmbeddingId() EmbeddingId { return EmbeddingId(newOpaqueID("emb")) }

func newOpaqueID(prefix string) string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failures are effectively impossible on supported
		// platforms; fall back to a degraded but still unique value
		// rather than panicking in a constructor.
		return fmt.Sprintf("%s_fallback", prefix)
	}
	return prefix + "_" + hex.EncodeToString(buf[:])
}

// Empty reports whether the id carries no value, used by validators
// that need to distinguish "not set" from a zero-value string id.
func (id NodeId) Empty() bool      { return id == "" }
func (id EdgeId) Empty() bool      { return id == "" }
func (id EmbeddingId) Empty() bool { return id == "" }
func (id ModelId) Empty() bool     { return id == "" }
func (id RequestId) Empty() bool   { return id == "" }

func (id NodeId) String() string      { return string(id) }
func (id EdgeId) String() string      { return string(id) }
func (id EmbeddingId) String() string { return string(id) }
func (id ModelId) String() string     { return string(id) }
func (id RequestId) String() string   { return string(id) }
