package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	bolt "go.etcd.io/bbolt"
)

// NodeView is a read-only view of a Node. Spec §4.6 calls for a
// zero-copy archived representation directly accessible without
// deserialization; see DESIGN.md "Standard-library justifications" for
// why this repo renders that as a plain value type rather than
// fabricating a flatbuffers/capnproto-equivalent dependency no example
// in the pack uses.
type NodeView models.Node

var (
	bucketNodes      = []byte("nodes")
	bucketEdges      = []byte("edges")
	bucketEmbeddings = []byte("embeddings")
)

// tier is one on-disk database for a single (family, temperature) pair,
// backed by a bbolt file at <data_root>/<family>/<tier>.db (spec §6's
// storage layout). bbolt gives the single-writer/many-reader B+-tree
// with MVCC snapshot reads the spec asks for; this repo layers its own
// in-memory maps and secondary indexes on top so reads and the
// cosine-similarity scan stay lock-free of disk I/O, and write-through
// every mutation to the bucket so state survives a restart. Grounded on
// the teacher's MemoryStore field layout (one map per logical table,
// one sync.RWMutex guarding all of them so a write touching multiple
// tables is trivially atomic) plus go.etcd.io/bbolt, present in the
// pack's dependency manifests (cuemby-warren, prysmaticlabs-prysm).
type tier struct {
	mu          sync.RWMutex
	db          *bolt.DB // nil when the coordinator was built without a data root (tests, ephemeral runs)
	nodes       map[ids.NodeId]models.Node
	nodeOrder   []ids.NodeId // insertion order, for ScanPrefix determinism
	edges       map[ids.EdgeId]models.Edge
	edgesByFrom map[ids.NodeId][]ids.EdgeId
	edgesByTo   map[ids.NodeId][]ids.EdgeId
	embeddings  map[ids.EmbeddingId]models.Embedding
}

// newTier opens (or creates) the bbolt file for one family/tier pair
// and rehydrates the in-memory maps from whatever it already holds. An
// empty dataRoot builds a memory-only tier, used by tests that never
// want files on disk.
func newTier(dataRoot string, family models.Family, tr models.Tier) (*tier, error) {
	t := &tier{
		nodes:       make(map[ids.NodeId]models.Node),
		edges:       make(map[ids.EdgeId]models.Edge),
		edgesByFrom: make(map[ids.NodeId][]ids.EdgeId),
		edgesByTo:   make(map[ids.NodeId][]ids.EdgeId),
		embeddings:  make(map[ids.EmbeddingId]models.Embedding),
	}
	if dataRoot == "" {
		return t, nil
	}

	dir := filepath.Join(dataRoot, string(family))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tier directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, string(tr)+".db")
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("open tier db %s: %w", path, err)
	}

	if err := db.Update(func(btx *bolt.Tx) error {
		for _, name := range [][]byte{bucketNodes, bucketEdges, bucketEmbeddings} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tier buckets %s: %w", path, err)
	}

	if err := db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketNodes).ForEach(func(k, v []byte) error {
			var n models.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("decode node %s: %w", k, err)
			}
			t.nodes[n.ID] = n
			t.nodeOrder = append(t.nodeOrder, n.ID)
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}
	sort.Slice(t.nodeOrder, func(i, j int) bool {
		return t.nodes[t.nodeOrder[i]].CreatedAt.Before(t.nodes[t.nodeOrder[j]].CreatedAt)
	})

	if err := db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketEdges).ForEach(func(k, v []byte) error {
			var e models.Edge
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode edge %s: %w", k, err)
			}
			t.indexEdge(e)
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.View(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketEmbeddings).ForEach(func(k, v []byte) error {
			var e models.Embedding
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode embedding %s: %w", k, err)
			}
			t.embeddings[e.ID] = e
			return nil
		})
	}); err != nil {
		db.Close()
		return nil, err
	}

	t.db = db
	return t, nil
}

// persist writes one key/value into bucket within its own bbolt
// transaction. Called with t.mu already held by the in-memory mutation
// it accompanies, so disk and memory never observe different states.
func (t *tier) persist(bucket, key []byte, v any) error {
	if t.db == nil {
		return nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", bucket, err)
	}
	return t.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucket).Put(key, buf)
	})
}

func (t *tier) persistDelete(bucket, key []byte) error {
	if t.db == nil {
		return nil
	}
	return t.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucket).Delete(key)
	})
}

func (t *tier) close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func (t *tier) putNode(n models.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.persist(bucketNodes, []byte(n.ID), n); err != nil {
		return err
	}
	if _, exists := t.nodes[n.ID]; !exists {
		t.nodeOrder = append(t.nodeOrder, n.ID)
	}
	t.nodes[n.ID] = n
	return nil
}

func (t *tier) getNode(id ids.NodeId) (models.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	return n, ok
}

// deleteNodeCascade removes the node, every edge incident to it (both
// directions, with their secondary-index entries), and the node's
// owned embedding, all under one lock (§3, §4.6, §8 atomicity), and
// write-throughs every removal to the bucket the same way.
func (t *tier) deleteNodeCascade(id ids.NodeId) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.nodes[id]; ok && n.EmbeddingID != nil {
		if err := t.persistDelete(bucketEmbeddings, []byte(*n.EmbeddingID)); err != nil {
			return err
		}
		delete(t.embeddings, *n.EmbeddingID)
	}
	if err := t.persistDelete(bucketNodes, []byte(id)); err != nil {
		return err
	}
	delete(t.nodes, id)
	for i, nid := range t.nodeOrder {
		if nid == id {
			t.nodeOrder = append(t.nodeOrder[:i], t.nodeOrder[i+1:]...)
			break
		}
	}

	for _, edgeID := range t.edgesByFrom[id] {
		if err := t.persistDelete(bucketEdges, []byte(edgeID)); err != nil {
			return err
		}
		delete(t.edges, edgeID)
	}
	for _, edgeID := range t.edgesByTo[id] {
		if err := t.persistDelete(bucketEdges, []byte(edgeID)); err != nil {
			return err
		}
		delete(t.edges, edgeID)
	}
	delete(t.edgesByFrom, id)
	delete(t.edgesByTo, id)

	// Remove the deleted node's edges from the *other* endpoint's index.
	for node, edgeIDs := range t.edgesByFrom {
		t.edgesByFrom[node] = removeDangling(edgeIDs, t.edges)
	}
	for node, edgeIDs := range t.edgesByTo {
		t.edgesByTo[node] = removeDangling(edgeIDs, t.edges)
	}
	return nil
}

func removeDangling(edgeIDs []ids.EdgeId, live map[ids.EdgeId]models.Edge) []ids.EdgeId {
	out := edgeIDs[:0:0]
	for _, id := range edgeIDs {
		if _, ok := live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (t *tier) putEdge(e models.Edge) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.persist(bucketEdges, []byte(e.ID), e); err != nil {
		return err
	}
	t.indexEdge(e)
	return nil
}

// indexEdge records e in the in-memory tables only; callers holding
// t.mu already (rehydration, putEdge) use this directly.
func (t *tier) indexEdge(e models.Edge) {
	t.edges[e.ID] = e
	t.edgesByFrom[e.FromNodeID] = append(t.edgesByFrom[e.FromNodeID], e.ID)
	t.edgesByTo[e.ToNodeID] = append(t.edgesByTo[e.ToNodeID], e.ID)
}

func (t *tier) edgesFrom(nodeID ids.NodeId) []models.Edge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Edge, 0, len(t.edgesByFrom[nodeID]))
	for _, id := range t.edgesByFrom[nodeID] {
		out = append(out, t.edges[id])
	}
	return out
}

func (t *tier) edgesTo(nodeID ids.NodeId) []models.Edge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Edge, 0, len(t.edgesByTo[nodeID]))
	for _, id := range t.edgesByTo[nodeID] {
		out = append(out, t.edges[id])
	}
	return out
}

func (t *tier) putEmbedding(e models.Embedding) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.persist(bucketEmbeddings, []byte(e.ID), e); err != nil {
		return err
	}
	t.embeddings[e.ID] = e
	return nil
}

func (t *tier) getEmbedding(id ids.EmbeddingId) (models.Embedding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.embeddings[id]
	return e, ok
}

// nearestEmbeddings is the in-memory, brute-force counterpart to
// pgvectortier.Tier.NearestNeighbors: it ranks every stored embedding
// by cosine similarity to query and returns the k closest ids. Fine
// for the Fast class's small in-process tiers; the Accurate class
// goes through pgvector's indexed ORDER BY ... <=> instead.
func (t *tier) nearestEmbeddings(query []float32, k int) []ids.EmbeddingId {
	t.mu.RLock()
	type scored struct {
		id    ids.EmbeddingId
		score float64
	}
	candidates := make([]scored, 0, len(t.embeddings))
	for id, e := range t.embeddings {
		candidates = append(candidates, scored{id: id, score: cosineSimilarity64(query, e.Vector)})
	}
	t.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]ids.EmbeddingId, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].id
	}
	return out
}

func cosineSimilarity64(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (t *tier) scanNodePrefix(prefix string) []ids.NodeId {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []ids.NodeId
	for _, id := range t.nodeOrder {
		if strings.HasPrefix(string(id), prefix) {
			out = append(out, id)
		}
	}
	return out
}

func (t *tier) searchNodes(filter NodeFilter) ([]ids.NodeId, *apperr.Error) {
	var program *vm.Program
	if filter.Expr != "" {
		p, err := expr.Compile(filter.Expr, expr.Env(exprEnv{}))
		if err != nil {
			return nil, apperr.ValidationField("filter_expr", err.Error())
		}
		program = p
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []ids.NodeId
	for _, id := range t.nodeOrder {
		n := t.nodes[id]
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		match := true
		for k, v := range filter.Properties {
			if n.Properties[k] != v {
				match = false
				break
			}
		}
		if match && program != nil {
			result, err := expr.Run(program, exprEnv{Type: string(n.Type), Properties: n.Properties})
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "filter_expr evaluation failed", err)
			}
			ok, _ := result.(bool)
			match = ok
		}
		if match {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// exprEnv is the evaluation environment exposed to a NodeFilter.Expr
// predicate: `type == "Message" && properties.lang == "en"`.
type exprEnv struct {
	Type       string            `expr:"type"`
	Properties map[string]string `expr:"properties"`
}
