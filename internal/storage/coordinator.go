// Package storage implements the storage coordinator from spec §4.6:
// seven database families, each with Active/Recent/Archive temperature
// tiers; node reads returned as value copies (NodeView); atomic multi-table writes across a
// primary table plus secondary indexes; tier migration; event emission
// on every successful write.
//
// Grounded on the teacher's internal/store.Store interface shape
// (composed per-entity sub-interfaces behind one facade) and
// internal/store.MemoryStore (mutex-guarded maps as the concrete
// tier), generalized from "one flat store" to "one tier instance per
// (family, temperature) pair", each independently lockable so writers
// in different tiers never contend.
package storage

import (
	"sync"
	"time"

	"github.com/ocentra/tabagentd/internal/eventbus"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
)

// Coordinator is the single entry point managing every family/tier.
type Coordinator struct {
	bus      *eventbus.Bus
	dataRoot string // "" means memory-only, used by tests
	tiers    map[tierKey]*tier
	mu       sync.RWMutex // guards creation of new tier instances only
}

type tierKey struct {
	family models.Family
	tier   models.Tier
}

// New builds a Coordinator publishing write events onto bus. Every
// family/tier pair persists to <dataRoot>/<family>/<tier>.db (spec §6);
// an empty dataRoot keeps tiers in memory only, for tests that don't
// want files on disk.
func New(bus *eventbus.Bus, dataRoot string) *Coordinator {
	return &Coordinator{bus: bus, dataRoot: dataRoot, tiers: make(map[tierKey]*tier)}
}

// Close releases every opened tier's bbolt handle.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, tr := range c.tiers {
		if err := tr.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Coordinator) tierFor(family models.Family, t models.Tier) (*tier, *apperr.Error) {
	key := tierKey{family, t}

	c.mu.RLock()
	tr, ok := c.tiers[key]
	c.mu.RUnlock()
	if ok {
		return tr, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tr, ok = c.tiers[key]; ok {
		return tr, nil
	}
	tr, err := newTier(c.dataRoot, family, t)
	if err != nil {
		return nil, apperr.Wrap(apperr.Resource, "open storage tier", err)
	}
	c.tiers[key] = tr
	return tr, nil
}

// InsertNode writes a node into its declared family/tier, producing
// exactly one primary write and the indexed writes it requires within
// one atomic transaction, then emits a NodeCreated event (§4.6, §4.7).
func (c *Coordinator) InsertNode(n models.Node) (ids.NodeId, *apperr.Error) {
	if err := n.Validate(); err != nil {
		return "", apperr.Wrap(apperr.Validation, "invalid node", err)
	}
	if n.ID.Empty() {
		n.ID = ids.NewNodeId()
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now

	tr, terr := c.tierFor(n.Family, n.Tier)
	if terr != nil {
		return "", terr
	}
	if err := tr.putNode(n); err != nil {
		return "", apperr.Wrap(apperr.Resource, "persist node", err)
	}

	c.bus.Publish(eventbus.Event{
		Kind: eventbus.NodeCreated, NodeID: n.ID, NodeType: n.Type,
		Tier: n.Tier, Family: n.Family, At: now,
	})
	return n.ID, nil
}

// GetNode returns a NodeView bound to the tier's current snapshot.
// Spec §9 requires "a typed view whose lifetime is bounded by the read
// transaction" backed by a zero-copy archived format; NodeView here is
// a value copy taken under a read lock rather than a pointer into
// shared memory, since Go has no borrow checker to enforce "does not
// outlive the transaction" the way a Rust archive would — the
// invariant a caller must not assume live mutation-tracking is
// preserved by NodeView simply never aliasing the tier's storage.
func (c *Coordinator) GetNode(family models.Family, t models.Tier, id ids.NodeId) (*NodeView, *apperr.Error) {
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return nil, terr
	}
	n, ok := tr.getNode(id)
	if !ok {
		return nil, apperr.NotFoundEntity("node", string(id))
	}
	view := NodeView(n)
	return &view, nil
}

// DeleteNode cascades to incident edges and the owned embedding,
// atomically within the tier, then emits NodeDeleted (§3, §4.6, §8).
func (c *Coordinator) DeleteNode(family models.Family, t models.Tier, id ids.NodeId) *apperr.Error {
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return terr
	}
	n, ok := tr.getNode(id)
	if !ok {
		return apperr.NotFoundEntity("node", string(id))
	}

	if err := tr.deleteNodeCascade(id); err != nil {
		return apperr.Wrap(apperr.Resource, "delete node", err)
	}

	c.bus.Publish(eventbus.Event{Kind: eventbus.NodeDeleted, NodeID: id, NodeType: n.Type, Tier: t, Family: family, At: time.Now().UTC()})
	return nil
}

// InsertEdge validates endpoint existence, writes the edge plus its
// two secondary index entries atomically, and emits EdgeCreated.
func (c *Coordinator) InsertEdge(family models.Family, t models.Tier, e models.Edge) (ids.EdgeId, *apperr.Error) {
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return "", terr
	}

	if _, ok := tr.getNode(e.FromNodeID); !ok {
		return "", apperr.NotFoundEntity("node", string(e.FromNodeID))
	}
	if _, ok := tr.getNode(e.ToNodeID); !ok {
		return "", apperr.NotFoundEntity("node", string(e.ToNodeID))
	}

	if e.ID.Empty() {
		e.ID = ids.NewEdgeId()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	if err := tr.putEdge(e); err != nil {
		return "", apperr.Wrap(apperr.Resource, "persist edge", err)
	}

	c.bus.Publish(eventbus.Event{Kind: eventbus.EdgeCreated, EdgeID: e.ID, Tier: t, Family: family, At: time.Now().UTC()})
	return e.ID, nil
}

// OutgoingEdges returns edges via the edges_by_from secondary table.
func (c *Coordinator) OutgoingEdges(family models.Family, t models.Tier, nodeID ids.NodeId) []models.Edge {
	tr, err := c.tierFor(family, t)
	if err != nil {
		return nil
	}
	return tr.edgesFrom(nodeID)
}

// IncomingEdges returns edges via the edges_by_to secondary table.
func (c *Coordinator) IncomingEdges(family models.Family, t models.Tier, nodeID ids.NodeId) []models.Edge {
	tr, err := c.tierFor(family, t)
	if err != nil {
		return nil
	}
	return tr.edgesTo(nodeID)
}

// InsertEmbedding writes an embedding into the embeddings table of the
// given family/tier, validating the declared vector length against
// its class (spec §3 "vector ... length dictated by model_id").
func (c *Coordinator) InsertEmbedding(family models.Family, t models.Tier, e models.Embedding) (ids.EmbeddingId, *apperr.Error) {
	want := models.ExpectedDimensions(e.Class)
	if len(e.Vector) != want {
		return "", apperr.ValidationField("vector", "length does not match declared embedding class")
	}
	if e.ID.Empty() {
		e.ID = ids.NewEmbeddingId()
	}
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return "", terr
	}
	if err := tr.putEmbedding(e); err != nil {
		return "", apperr.Wrap(apperr.Resource, "persist embedding", err)
	}
	return e.ID, nil
}

// GetEmbedding retrieves one stored embedding by id from a family/tier.
func (c *Coordinator) GetEmbedding(family models.Family, t models.Tier, id ids.EmbeddingId) (*models.Embedding, *apperr.Error) {
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return nil, terr
	}
	e, ok := tr.getEmbedding(id)
	if !ok {
		return nil, apperr.NotFoundEntity("embedding", string(id))
	}
	return &e, nil
}

// NearestEmbeddings ranks a family/tier's stored embeddings by cosine
// similarity to query and returns the k closest ids, the Fast-class
// in-memory read path SemanticSearch/RagQuery use (spec §9(c)); the
// Accurate class is served by pgvectortier.Tier.NearestNeighbors
// instead, which the caller reaches directly since it needs a
// context.Context for the SQL round trip this in-memory path doesn't.
func (c *Coordinator) NearestEmbeddings(family models.Family, t models.Tier, query []float32, k int) []ids.EmbeddingId {
	tr, err := c.tierFor(family, t)
	if err != nil {
		return nil
	}
	return tr.nearestEmbeddings(query, k)
}

// ScanPrefix returns node ids under the given key prefix within a
// table, in insertion order (spec §4.6 "lazy sequence of (key, view)";
// flattened to a slice here since Go iterators add no safety the
// caller needs for this store's size class).
func (c *Coordinator) ScanPrefix(family models.Family, t models.Tier, prefix string) []ids.NodeId {
	tr, err := c.tierFor(family, t)
	if err != nil {
		return nil
	}
	return tr.scanNodePrefix(prefix)
}

// NodeFilter is a SearchNodes filter (§4.6): plain fields give
// exact-match on type and property values; Expr, when set, is an
// expr-lang boolean expression evaluated per node against
// {type, properties}, letting callers express richer boolean property
// predicates than exact-match alone.
type NodeFilter struct {
	Type       models.NodeType
	Properties map[string]string
	Expr       string
}

// SearchNodes returns node ids matching filter.
func (c *Coordinator) SearchNodes(family models.Family, t models.Tier, filter NodeFilter) ([]ids.NodeId, *apperr.Error) {
	tr, terr := c.tierFor(family, t)
	if terr != nil {
		return nil, terr
	}
	return tr.searchNodes(filter)
}

// MigrateNode moves a node from one tier to the cooler one within the
// same family, using the same atomic multi-table write discipline as
// InsertNode (§4.6 "Tier migration"). Idempotent: migrating a node
// already absent from the source tier is a no-op.
func (c *Coordinator) MigrateNode(family models.Family, from, to models.Tier, id ids.NodeId) *apperr.Error {
	src, serr := c.tierFor(family, from)
	if serr != nil {
		return serr
	}
	dst, derr := c.tierFor(family, to)
	if derr != nil {
		return derr
	}

	n, ok := src.getNode(id)
	if !ok {
		return nil // already migrated or never existed: idempotent no-op
	}

	n.Tier = to
	if err := dst.putNode(n); err != nil {
		return apperr.Wrap(apperr.Resource, "persist migrated node", err)
	}
	for _, e := range src.edgesFrom(id) {
		if err := dst.putEdge(e); err != nil {
			return apperr.Wrap(apperr.Resource, "persist migrated edge", err)
		}
	}
	for _, e := range src.edgesTo(id) {
		if err := dst.putEdge(e); err != nil {
			return apperr.Wrap(apperr.Resource, "persist migrated edge", err)
		}
	}
	if err := src.deleteNodeCascade(id); err != nil {
		return apperr.Wrap(apperr.Resource, "delete migrated node from source tier", err)
	}

	return nil
}
