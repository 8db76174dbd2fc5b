// Package weaver is the primary eventbus subscriber (spec §4.7). For
// every event it runs a fixed list of enrichment modules; each
// module's OnEvent is pure dispatch — it computes zero or more Tasks
// and submits them to the Scheduler, taking no storage write locks of
// its own.
package weaver

import (
	"context"

	"github.com/ocentra/tabagentd/internal/eventbus"
	"github.com/ocentra/tabagentd/internal/scheduler"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/rs/zerolog"
)

// MaxCauseChainDepth bounds enrichment recursion per §9's "no cycles"
// design note: the Weaver drops, before any module sees it, an event
// whose CauseChainDepth has already reached this bound.
const MaxCauseChainDepth = 8

// Module is one enrichment module (semantic_indexer, entity_linker,
// associative_linker, ...).
type Module interface {
	Name() string
	OnEvent(ev eventbus.Event) []scheduler.Task
}

// Submitter is the subset of Scheduler the Weaver needs.
type Submitter interface {
	Submit(ctx context.Context, t scheduler.Task) error
}

// Weaver subscribes to a Bus and fans each event through every
// registered Module, submitting the resulting tasks to a Scheduler.
type Weaver struct {
	modules []Module
	sched   Submitter
	log     zerolog.Logger
}

// New builds a Weaver over the given modules.
func New(sched Submitter, log zerolog.Logger, modules ...Module) *Weaver {
	return &Weaver{modules: modules, sched: sched, log: log}
}

// Run subscribes to bus and processes events until ctx is cancelled.
func (w *Weaver) Run(ctx context.Context, bus *eventbus.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.dispatch(ctx, ev)
		}
	}
}

func (w *Weaver) dispatch(ctx context.Context, ev eventbus.Event) {
	if ev.CauseChainDepth >= MaxCauseChainDepth {
		w.log.Warn().Str("node_id", string(ev.NodeID)).Int("depth", ev.CauseChainDepth).Msg("cause chain depth exceeded, dropping enrichment")
		return
	}

	for _, m := range w.modules {
		for _, t := range m.OnEvent(ev) {
			if err := w.sched.Submit(ctx, t); err != nil {
				w.log.Warn().Err(err).Str("module", m.Name()).Msg("failed to submit enrichment task")
			}
		}
	}
}

// SemanticIndexer generates embeddings for newly-created Message and
// Document nodes (spec §4.7 example module list).
type SemanticIndexer struct{ Class models.EmbeddingClass }

func (SemanticIndexer) Name() string { return "semantic_indexer" }

func (s SemanticIndexer) OnEvent(ev eventbus.Event) []scheduler.Task {
	if ev.Kind != eventbus.NodeCreated {
		return nil
	}
	if ev.NodeType != models.NodeMessage && ev.NodeType != models.NodeDocument {
		return nil
	}
	return []scheduler.Task{scheduler.NewGenerateEmbedding(ev.Family, ev.NodeID, "", s.Class)}
}

// EntityLinker derives Entity nodes from newly-created Message/Document
// nodes. OnEvent only has the bus Event (no node content), so it
// submits a BuildIndex("entities") task addressed at the triggering
// node; the scheduler handler (appstate.defaultTaskHandler) re-reads
// the node from the Storage Coordinator and does the actual text
// scan, Entity node dedup/insert, and "mentions" edge creation — the
// same division of labor SemanticIndexer already uses for embeddings.
type EntityLinker struct{}

func (EntityLinker) Name() string { return "entity_linker" }

func (EntityLinker) OnEvent(ev eventbus.Event) []scheduler.Task {
	if ev.Kind != eventbus.NodeCreated || (ev.NodeType != models.NodeMessage && ev.NodeType != models.NodeDocument) {
		return nil
	}
	return []scheduler.Task{scheduler.NewBuildIndex("entities", ev.Family, ev.Tier, ev.NodeID)}
}

// AssociativeLinker derives a "precedes" edge to a newly created node
// from its immediate predecessor in the same family/tier,
// the lightweight conversational-neighbor association the scheduler
// handler turns into a real InsertEdge call.
type AssociativeLinker struct{}

func (AssociativeLinker) Name() string { return "associative_linker" }

func (AssociativeLinker) OnEvent(ev eventbus.Event) []scheduler.Task {
	if ev.Kind != eventbus.NodeCreated {
		return nil
	}
	return []scheduler.Task{scheduler.NewBuildIndex("associations", ev.Family, ev.Tier, ev.NodeID)}
}
