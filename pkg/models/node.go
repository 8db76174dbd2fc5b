// Package models defines the data model shared across the storage
// coordinator, event bus, scheduler, and route handlers: Node, Edge,
// Embedding, ModelArtifact, and the request/response envelope types.
package models

import (
	"time"

	"github.com/ocentra/tabagentd/pkg/ids"
)

// NodeType is the tagged-union discriminant for Node (spec §3).
type NodeType string

const (
	NodeChat       NodeType = "Chat"
	NodeMessage    NodeType = "Message"
	NodeDocument   NodeType = "Document"
	NodeUser       NodeType = "User"
	NodeEntity     NodeType = "Entity"
	NodeToolResult NodeType = "ToolResult"
	NodeSummary    NodeType = "Summary"
)

// Family names the seven storage database families (§4.6).
type Family string

const (
	FamilyConversations Family = "conversations"
	FamilyKnowledge     Family = "knowledge"
	FamilyEmbeddings    Family = "embeddings"
	FamilyToolResults   Family = "tool_results"
	FamilyExperience    Family = "experience"
	FamilySummaries     Family = "summaries"
	FamilyMeta          Family = "meta"
)

// Tier names a temperature tier within a family (§3 "Temperature tiers").
type Tier string

const (
	TierActive  Tier = "active"  // HOT, RAM-resident
	TierRecent  Tier = "recent"  // WARM, lazy-mapped
	TierArchive Tier = "archive" // COLD, period-sharded
)

// ChatFields holds the fields specific to a NodeChat.
type ChatFields struct {
	Title    string   `json:"title,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// MessageFields holds the fields specific to a NodeMessage.
type MessageFields struct {
	Role    string `json:"role"` // user, assistant, system, tool
	Content string `json:"content"`
	ChatID  ids.NodeId `json:"chat_id,omitempty"`
}

// DocumentFields holds the fields specific to a NodeDocument.
type DocumentFields struct {
	Source   string `json:"source,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text"`
}

// UserFields holds the fields specific to a NodeUser.
type UserFields struct {
	DisplayName string `json:"display_name,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
}

// EntityFields holds the fields specific to a NodeEntity (entity-linker output).
type EntityFields struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

// ToolResultFields holds the fields specific to a NodeToolResult.
type ToolResultFields struct {
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
}

// SummaryFields holds the fields specific to a NodeSummary (from a
// Summarize scheduler task).
type SummaryFields struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Text        string    `json:"text"`
}

// Node is the tagged union over the seven node kinds. Exactly one of
// the *Fields pointers is non-nil, matching Type. Properties carries
// the free-form property map every node also has (spec §3).
type Node struct {
	ID          ids.NodeId      `json:"id"`
	Type        NodeType        `json:"type"`
	Family      Family          `json:"family"`
	Tier        Tier            `json:"tier"`
	Properties  map[string]string `json:"properties,omitempty"`
	EmbeddingID *ids.EmbeddingId `json:"embedding_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Chat       *ChatFields       `json:"chat,omitempty"`
	Message    *MessageFields    `json:"message,omitempty"`
	Document   *DocumentFields   `json:"document,omitempty"`
	User       *UserFields       `json:"user,omitempty"`
	Entity     *EntityFields     `json:"entity,omitempty"`
	ToolResult *ToolResultFields `json:"tool_result,omitempty"`
	Summary    *SummaryFields    `json:"summary,omitempty"`
}

// Validate checks the tagged-union invariant: exactly one typed field
// set matching Type, and (if present) a non-empty EmbeddingID.
func (n *Node) Validate() error {
	set := 0
	for _, present := range []bool{
		n.Type == NodeChat && n.Chat != nil,
		n.Type == NodeMessage && n.Message != nil,
		n.Type == NodeDocument && n.Document != nil,
		n.Type == NodeUser && n.User != nil,
		n.Type == NodeEntity && n.Entity != nil,
		n.Type == NodeToolResult && n.ToolResult != nil,
		n.Type == NodeSummary && n.Summary != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return &nodeUnionError{nodeType: n.Type}
	}
	if n.EmbeddingID != nil && n.EmbeddingID.Empty() {
		return &nodeUnionError{nodeType: n.Type, reason: "embedding_id set but empty"}
	}
	return nil
}

type nodeUnionError struct {
	nodeType NodeType
	reason   string
}

func (e *nodeUnionError) Error() string {
	if e.reason != "" {
		return "node: invalid tagged union for type " + string(e.nodeType) + ": " + e.reason
	}
	return "node: exactly one typed field must be set for type " + string(e.nodeType)
}
