// Package scheduler implements the activity-aware, priority-aware
// background task executor from spec §4.8. Grounded on the teacher's
// internal/retention.Janitor (ticker-driven background loop honoring
// context cancellation) and internal/process.Manager (registry +
// lifecycle bookkeeping guarded by a mutex), generalized into a
// priority/activity admission table with coalescing and cooperative
// cancellation.
package scheduler

import (
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
)

// Priority is the task priority from §4.8.
type Priority string

const (
	Urgent Priority = "Urgent"
	Normal Priority = "Normal"
	Batch  Priority = "Batch"
)

// PayloadKind discriminates the typed task payloads from §4.8.
type PayloadKind string

const (
	PayloadGenerateEmbedding PayloadKind = "GenerateEmbedding"
	PayloadBuildIndex        PayloadKind = "BuildIndex"
	PayloadMigrateTier       PayloadKind = "MigrateTier"
	PayloadSummarize         PayloadKind = "Summarize"
)

// Task is a unit of scheduled work.
type Task struct {
	Kind     PayloadKind
	Priority Priority

	// GenerateEmbedding / MigrateTier shared addressing.
	Family models.Family
	NodeID ids.NodeId
	Text   string
	Class  models.EmbeddingClass

	// BuildIndex fields. FromTier carries the tier the source node lives
	// in — BuildIndex has no migration direction of its own, so it
	// reuses the MigrateTier addressing field rather than adding a
	// third, mostly-redundant tier field to Task.
	Table string

	// MigrateTier fields.
	FromTier models.Tier
	ToTier   models.Tier

	// Summarize fields.
	WindowStart, WindowEnd int64
}

// Identity returns the coalescing key from §4.8: "(task_kind, node_id)".
func (t Task) Identity() string {
	return string(t.Kind) + "|" + string(t.NodeID)
}

// NewGenerateEmbedding builds a GenerateEmbedding task with priority
// fixed by class per §4.8's "Fast-vs-Accurate embedding contract":
// Fast is always Urgent, Accurate is always Normal.
func NewGenerateEmbedding(family models.Family, nodeID ids.NodeId, text string, class models.EmbeddingClass) Task {
	prio := Normal
	if class == models.EmbeddingFast {
		prio = Urgent
	}
	return Task{Kind: PayloadGenerateEmbedding, Priority: prio, Family: family, NodeID: nodeID, Text: text, Class: class}
}

// NewMigrateTier builds a MigrateTier task, always Batch priority —
// tier migration is background housekeeping, never urgent.
func NewMigrateTier(family models.Family, nodeID ids.NodeId, from, to models.Tier) Task {
	return Task{Kind: PayloadMigrateTier, Priority: Batch, Family: family, NodeID: nodeID, FromTier: from, ToTier: to}
}

// NewBuildIndex builds a BuildIndex task at Normal priority, addressing
// the node whose write triggered the enrichment so the handler can
// load it back out of the given family/tier.
func NewBuildIndex(table string, family models.Family, tier models.Tier, nodeID ids.NodeId) Task {
	return Task{Kind: PayloadBuildIndex, Priority: Normal, Table: table, Family: family, FromTier: tier, NodeID: nodeID}
}

// NewSummarize builds a Summarize task at Batch priority for the
// [windowStart, windowEnd) interval, the window
// appstate.runSummarizationTicker uses to periodically submit
// conversation summarization work (§4.7's "Summarize" enrichment).
func NewSummarize(family models.Family, tier models.Tier, windowStart, windowEnd int64) Task {
	return Task{Kind: PayloadSummarize, Priority: Batch, Family: family, FromTier: tier, WindowStart: windowStart, WindowEnd: windowEnd}
}
