package appstate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ocentra/tabagentd/internal/scheduler"
	"github.com/ocentra/tabagentd/internal/storage"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
)

// summarizationTickInterval bounds how often runSummarizationTicker
// checks whether a new retention window has elapsed. It is independent
// of the window length itself (RetentionConfig.ActiveWindow), which
// can be hours, so polling at window granularity would make tests and
// short-lived windows impractical.
const summarizationTickInterval = time.Minute

// defaultTaskHandler is the scheduler.Handler wired in by New; it is
// what actually runs a Weaver-submitted Task against the Storage
// Coordinator, Model Cache, and ML RPC client (spec §4.7's tasks are
// pure dispatch, the real work happens here).
func (as *AppState) defaultTaskHandler(ctx context.Context, t scheduler.Task) error {
	switch t.Kind {
	case scheduler.PayloadGenerateEmbedding:
		return as.runGenerateEmbedding(ctx, t)
	case scheduler.PayloadBuildIndex:
		return as.runBuildIndex(ctx, t)
	case scheduler.PayloadMigrateTier:
		if err := as.Storage.MigrateNode(t.Family, t.FromTier, t.ToTier, t.NodeID); err != nil {
			return err
		}
		return nil
	case scheduler.PayloadSummarize:
		return as.runSummarize(ctx, t)
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// runGenerateEmbedding locates the source node across tiers, asks the
// ML RPC client (or falls back to an error if none is configured) for
// a vector, and stores the result in the Embeddings family's Active
// tier for either class; Accurate-class vectors are not written to the
// pgvector tier.
func (as *AppState) runGenerateEmbedding(ctx context.Context, t scheduler.Task) error {
	var node *models.Node
	for _, tier := range []models.Tier{models.TierActive, models.TierRecent, models.TierArchive} {
		v, err := as.Storage.GetNode(t.Family, tier, t.NodeID)
		if err == nil {
			n := models.Node(*v)
			node = &n
			break
		}
	}
	if node == nil {
		return apperr.NotFoundEntity("node", string(t.NodeID))
	}

	text := t.Text
	if text == "" {
		text = sourceText(node)
	}
	if text == "" {
		return nil
	}

	if as.ML == nil {
		return apperr.New(apperr.Backend, "no ml rpc client configured, cannot generate embedding")
	}

	vectors, mlErr := as.ML.GenerateEmbeddings(ctx, []string{text}, "")
	if mlErr != nil {
		return mlErr
	}
	if len(vectors) == 0 {
		return apperr.New(apperr.Backend, "ml service returned no embedding vector")
	}

	_, insErr := as.Storage.InsertEmbedding(models.FamilyEmbeddings, models.TierActive, models.Embedding{
		SourceTextHash: hashText(text),
		Class:          t.Class,
		Vector:         vectors[0],
	})
	if insErr != nil {
		return insErr
	}
	return nil
}

// runBuildIndex is the scheduler-side half of weaver.EntityLinker and
// weaver.AssociativeLinker: both modules only know the triggering
// event, not its content, so they submit a BuildIndex task addressed
// at the node and this handler does the actual read-derive-write work
// against the Storage Coordinator.
func (as *AppState) runBuildIndex(ctx context.Context, t scheduler.Task) error {
	switch t.Table {
	case "entities":
		return as.buildEntityIndex(t)
	case "associations":
		return as.buildAssociationIndex(t)
	default:
		as.Log.Warn().Str("table", t.Table).Msg("build index task for unrecognized table, skipping")
		return nil
	}
}

// properNounPhrase matches a run of one or more capitalized words, the
// lightweight proper-noun heuristic buildEntityIndex uses in place of a
// real NER model (see DESIGN.md's Open Questions for why: no example
// in the pack wires an NLP/NER dependency, so a regex heuristic is the
// smallest faithful rendition of §4.7's "entity_linker" module).
var properNounPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z']*(?:\s+[A-Z][a-zA-Z']*)*\b`)

// sentenceStarters are capitalized words the heuristic must not treat
// as entity names just because they begin a sentence.
var sentenceStarters = map[string]bool{
	"The": true, "A": true, "An": true, "I": true, "It": true, "This": true,
	"That": true, "These": true, "Those": true, "We": true, "You": true,
	"He": true, "She": true, "They": true, "Is": true, "Was": true, "Are": true,
	"In": true, "On": true, "At": true, "But": true, "And": true, "Or": true,
	"So": true, "If": true, "Yes": true, "No": true, "What": true, "Why": true,
	"How": true, "When": true, "Where": true, "Who": true,
}

// extractEntityNames returns the distinct candidate entity names found
// in text, in first-seen order.
func extractEntityNames(text string) []string {
	if text == "" {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, m := range properNounPhrase.FindAllString(text, -1) {
		if sentenceStarters[m] || seen[m] {
			continue
		}
		seen[m] = true
		names = append(names, m)
	}
	return names
}

// buildEntityIndex re-reads the triggering node, extracts candidate
// entity names from its text, and links it to one Entity node per
// name — creating the Entity node first if none with that name exists
// yet in the same family/tier (the dedup "index" the task name
// promises).
func (as *AppState) buildEntityIndex(t scheduler.Task) error {
	v, err := as.Storage.GetNode(t.Family, t.FromTier, t.NodeID)
	if err != nil {
		return err
	}
	node := models.Node(*v)

	names := extractEntityNames(sourceText(&node))
	for _, name := range names {
		entityID, ferr := as.findOrCreateEntity(t.Family, t.FromTier, name)
		if ferr != nil {
			as.Log.Warn().Err(ferr).Str("entity", name).Msg("failed to find or create entity node")
			continue
		}
		if _, eerr := as.Storage.InsertEdge(t.Family, t.FromTier, models.Edge{
			FromNodeID: t.NodeID,
			ToNodeID:   entityID,
			EdgeType:   "mentions",
		}); eerr != nil {
			as.Log.Warn().Err(eerr).Str("entity", name).Msg("failed to insert mentions edge")
		}
	}
	return nil
}

// findOrCreateEntity returns the id of the Entity node named name in
// family/tier, creating one if it doesn't exist yet.
func (as *AppState) findOrCreateEntity(family models.Family, tier models.Tier, name string) (ids.NodeId, *apperr.Error) {
	existing, serr := as.Storage.SearchNodes(family, tier, storage.NodeFilter{
		Type:       models.NodeEntity,
		Properties: map[string]string{"name": name},
	})
	if serr != nil {
		return "", serr
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	return as.Storage.InsertNode(models.Node{
		Type:       models.NodeEntity,
		Family:     family,
		Tier:       tier,
		Properties: map[string]string{"name": name},
		Entity:     &models.EntityFields{Name: name},
	})
}

// buildAssociationIndex links the triggering node to the node that
// immediately precedes it in insertion order within the same
// family/tier — a recency-based conversational-neighbor association,
// the simplest faithful rendition of §4.7's "associative_linker"
// module that needs no extra bookkeeping beyond the tier's existing
// insertion-order index.
func (as *AppState) buildAssociationIndex(t scheduler.Task) error {
	order := as.Storage.ScanPrefix(t.Family, t.FromTier, "")
	idx := -1
	for i, id := range order {
		if id == t.NodeID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil // first node in the tier, or node not found: nothing precedes it
	}

	prev := order[idx-1]
	_, eerr := as.Storage.InsertEdge(t.Family, t.FromTier, models.Edge{
		FromNodeID: prev,
		ToNodeID:   t.NodeID,
		EdgeType:   "precedes",
	})
	if eerr != nil {
		return eerr
	}
	return nil
}

// runSummarizationTicker periodically submits a Summarize task for the
// conversations family covering the window that just elapsed, the
// producer side of scheduler.PayloadSummarize the weaver has no
// trigger event for (summarization is time-windowed, not write-
// triggered). A non-positive ActiveWindow (the zero Config tests
// build) disables the ticker, since every tick would otherwise count
// as a full window and submit a Summarize task.
func (as *AppState) runSummarizationTicker(ctx context.Context) {
	window := as.Config.Retention.ActiveWindow
	if window <= 0 {
		return
	}

	ticker := time.NewTicker(summarizationTickInterval)
	defer ticker.Stop()

	windowStart := time.Now().UTC()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(windowStart) < window {
				continue
			}
			task := scheduler.NewSummarize(models.FamilyConversations, models.TierActive, windowStart.Unix(), now.Unix())
			if err := as.Scheduler.Submit(ctx, task); err != nil {
				as.Log.Warn().Err(err).Msg("failed to submit summarize task")
			}
			windowStart = now
		}
	}
}

// runSummarize gathers every Message/Document node created within
// [WindowStart, WindowEnd) in t.Family/t.FromTier, produces a summary
// (via the ML RPC client's generate_text when one is configured, or a
// deterministic truncation fallback otherwise), and stores it as a
// Summary node linked back to every summarized source by a
// "summarizes" edge.
func (as *AppState) runSummarize(ctx context.Context, t scheduler.Task) error {
	start := time.Unix(t.WindowStart, 0).UTC()
	end := time.Unix(t.WindowEnd, 0).UTC()

	var texts []string
	var sourceIDs []ids.NodeId
	for _, id := range as.Storage.ScanPrefix(t.Family, t.FromTier, "") {
		v, err := as.Storage.GetNode(t.Family, t.FromTier, id)
		if err != nil {
			continue
		}
		if v.Type != models.NodeMessage && v.Type != models.NodeDocument {
			continue
		}
		if v.CreatedAt.Before(start) || !v.CreatedAt.Before(end) {
			continue
		}
		node := models.Node(*v)
		text := sourceText(&node)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		sourceIDs = append(sourceIDs, id)
	}
	if len(texts) == 0 {
		return nil
	}

	summary := as.summarizeTexts(ctx, texts)
	if summary == "" {
		return nil
	}

	summaryID, insErr := as.Storage.InsertNode(models.Node{
		Type:    models.NodeSummary,
		Family:  t.Family,
		Tier:    t.FromTier,
		Summary: &models.SummaryFields{WindowStart: start, WindowEnd: end, Text: summary},
	})
	if insErr != nil {
		return insErr
	}

	for _, sid := range sourceIDs {
		if _, eerr := as.Storage.InsertEdge(t.Family, t.FromTier, models.Edge{
			FromNodeID: summaryID,
			ToNodeID:   sid,
			EdgeType:   "summarizes",
		}); eerr != nil {
			as.Log.Warn().Err(eerr).Msg("failed to insert summarizes edge")
		}
	}
	return nil
}

// summarizeTexts drains a streamed generate_text completion into a
// single string when an ML RPC client is configured; absent one, it
// falls back to a deterministic extractive truncation so summarization
// still produces something rather than silently doing nothing.
func (as *AppState) summarizeTexts(ctx context.Context, texts []string) string {
	joined := strings.Join(texts, "\n")

	if as.ML == nil {
		const maxRunes = 280
		r := []rune(joined)
		if len(r) <= maxRunes {
			return joined
		}
		return string(r[:maxRunes]) + "..."
	}

	prompt := "Summarize the following conversation window in 2-3 sentences:\n\n" + joined
	deltas, errs := as.ML.GenerateText(ctx, models.GenerateRequest{Prompt: prompt, MaxTokens: 256})

	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String()
		case d, ok := <-deltas:
			if !ok {
				return b.String()
			}
			b.WriteString(d.Text)
			if d.Done {
				return b.String()
			}
		case err, ok := <-errs:
			if ok && err != nil {
				as.Log.Warn().Err(err).Msg("ml generate_text failed during summarization, using partial text")
				return b.String()
			}
		}
	}
}

func sourceText(n *models.Node) string {
	if n.Message != nil {
		return n.Message.Content
	}
	if n.Document != nil {
		return n.Document.Text
	}
	return ""
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
