package models

import (
	"time"

	"github.com/ocentra/tabagentd/pkg/ids"
)

// Edge connects two nodes. Invariants (enforced by the storage
// coordinator, not here): endpoints must exist at insert time; deleting
// a node deletes all incident edges atomically (spec §3).
type Edge struct {
	ID         ids.EdgeId        `json:"id"`
	FromNodeID ids.NodeId        `json:"from_node_id"`
	ToNodeID   ids.NodeId        `json:"to_node_id"`
	EdgeType   string            `json:"edge_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
