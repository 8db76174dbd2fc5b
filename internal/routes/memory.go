package routes

import (
	"context"

	"github.com/ocentra/tabagentd/internal/storage"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/ocentra/tabagentd/pkg/routespec"
)

// ── SearchNodes ──────────────────────────────────────────────

type SearchNodesRequest struct {
	Family     models.Family     `json:"family"`
	Tier       models.Tier       `json:"tier"`
	Type       models.NodeType   `json:"type,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Expr       string            `json:"expr,omitempty"`
}

type SearchNodesResponse struct {
	NodeIDs []ids.NodeId `json:"node_ids"`
}

type SearchNodesRoute struct{}

func (SearchNodesRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "SearchNodes", Description: "filter nodes within a family/tier", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 10},
	}
}

func (SearchNodesRoute) Validate(req SearchNodesRequest) *apperr.Error {
	if req.Family == "" {
		return apperr.ValidationField("family", "required")
	}
	if req.Tier == "" {
		return apperr.ValidationField("tier", "required")
	}
	return nil
}

func (SearchNodesRoute) Handle(_ context.Context, req SearchNodesRequest, state any) (SearchNodesResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return SearchNodesResponse{}, apperr.Wrap(apperr.Internal, "search_nodes", serr)
	}
	nodeIDs, err := as.Storage.SearchNodes(req.Family, req.Tier, storage.NodeFilter{
		Type: req.Type, Properties: req.Properties, Expr: req.Expr,
	})
	if err != nil {
		return SearchNodesResponse{}, err
	}
	return SearchNodesResponse{NodeIDs: nodeIDs}, nil
}

func (SearchNodesRoute) TestCases() []routespec.TestCase[SearchNodesRequest, SearchNodesResponse] {
	return []routespec.TestCase[SearchNodesRequest, SearchNodesResponse]{
		{Name: "requires family and tier", Input: SearchNodesRequest{}},
	}
}

// ── GetNodeDetails ───────────────────────────────────────────

type GetNodeDetailsRequest struct {
	Family models.Family `json:"family"`
	Tier   models.Tier   `json:"tier"`
	NodeID ids.NodeId    `json:"node_id"`
}

type GetNodeDetailsResponse struct {
	Node models.Node `json:"node"`
}

type GetNodeDetailsRoute struct{}

func (GetNodeDetailsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "GetNodeDetails", Description: "fetch one node by id", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 5},
	}
}

func (GetNodeDetailsRoute) Validate(req GetNodeDetailsRequest) *apperr.Error {
	if req.NodeID.Empty() {
		return apperr.ValidationField("node_id", "required")
	}
	return nil
}

func (GetNodeDetailsRoute) Handle(_ context.Context, req GetNodeDetailsRequest, state any) (GetNodeDetailsResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return GetNodeDetailsResponse{}, apperr.Wrap(apperr.Internal, "get_node_details", serr)
	}
	view, err := as.Storage.GetNode(req.Family, req.Tier, req.NodeID)
	if err != nil {
		return GetNodeDetailsResponse{}, err
	}
	return GetNodeDetailsResponse{Node: models.Node(*view)}, nil
}

func (GetNodeDetailsRoute) TestCases() []routespec.TestCase[GetNodeDetailsRequest, GetNodeDetailsResponse] {
	return []routespec.TestCase[GetNodeDetailsRequest, GetNodeDetailsResponse]{
		{Name: "requires node id", Input: GetNodeDetailsRequest{}},
	}
}

// ── SemanticSearch ───────────────────────────────────────────

type SemanticSearchRequest struct {
	Family  models.Family          `json:"family"`
	Tier    models.Tier            `json:"tier"`
	Query   string                 `json:"query"`
	Class   models.EmbeddingClass  `json:"class,omitempty"` // default Fast
	ModelID ids.ModelId            `json:"model_id,omitempty"`
	K       int                    `json:"k,omitempty"` // default 10
}

type SemanticSearchResult struct {
	EmbeddingID ids.EmbeddingId `json:"embedding_id"`
}

type SemanticSearchResponse struct {
	Results []SemanticSearchResult `json:"results"`
}

type SemanticSearchRoute struct{}

func (SemanticSearchRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "SemanticSearch", Description: "nearest embeddings to a query string", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitExpensive, Timeout: routespec.TimeoutSpec{Seconds: 30},
	}
}

func (SemanticSearchRoute) Validate(req SemanticSearchRequest) *apperr.Error {
	if req.Query == "" {
		return apperr.ValidationField("query", "required")
	}
	if req.Family == "" {
		return apperr.ValidationField("family", "required")
	}
	return nil
}

func (SemanticSearchRoute) Handle(ctx context.Context, req SemanticSearchRequest, state any) (SemanticSearchResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return SemanticSearchResponse{}, apperr.Wrap(apperr.Internal, "semantic_search", serr)
	}
	if as.ML == nil {
		return SemanticSearchResponse{}, apperr.New(apperr.Backend, "no ml rpc client configured")
	}

	class := req.Class
	if class == "" {
		class = models.EmbeddingFast
	}
	k := req.K
	if k <= 0 {
		k = 10
	}

	vectors, err := as.ML.GenerateEmbeddings(ctx, []string{req.Query}, req.ModelID)
	if err != nil {
		return SemanticSearchResponse{}, err
	}
	if len(vectors) == 0 {
		return SemanticSearchResponse{}, apperr.New(apperr.Backend, "ml service returned no vectors")
	}
	query := vectors[0]

	if class == models.EmbeddingAccurate && as.Accurate != nil {
		nearest, nerr := as.Accurate.NearestNeighbors(ctx, query, k)
		if nerr != nil {
			return SemanticSearchResponse{}, nerr
		}
		return SemanticSearchResponse{Results: toSemanticResults(nearest)}, nil
	}

	tier := req.Tier
	if tier == "" {
		tier = models.TierActive
	}
	nearest := as.Storage.NearestEmbeddings(req.Family, tier, query, k)
	return SemanticSearchResponse{Results: toSemanticResults(nearest)}, nil
}

func toSemanticResults(embeddingIDs []ids.EmbeddingId) []SemanticSearchResult {
	out := make([]SemanticSearchResult, len(embeddingIDs))
	for i, id := range embeddingIDs {
		out[i] = SemanticSearchResult{EmbeddingID: id}
	}
	return out
}

func (SemanticSearchRoute) TestCases() []routespec.TestCase[SemanticSearchRequest, SemanticSearchResponse] {
	return []routespec.TestCase[SemanticSearchRequest, SemanticSearchResponse]{
		{Name: "requires query and family", Input: SemanticSearchRequest{}},
	}
}

// ── RagQuery ─────────────────────────────────────────────────

// RagQueryRequest composes SemanticSearch's retrieval with GenerateText
// — spec §9(c) names "retrieval-augmented generation" as a supported
// flow without a dedicated RPC, so this assembles the two existing
// operations rather than adding one the wire protocol doesn't name.
type RagQueryRequest struct {
	Family      models.Family         `json:"family"`
	Tier        models.Tier           `json:"tier"`
	Query       string                `json:"query"`
	Class       models.EmbeddingClass `json:"class,omitempty"`
	ModelID     ids.ModelId           `json:"model_id,omitempty"`
	GenModelID  ids.ModelId           `json:"gen_model_id,omitempty"`
	K           int                   `json:"k,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
}

type RagQueryResponse struct {
	ContextNodeIDs []ids.EmbeddingId `json:"context_embedding_ids"`
	Answer         string            `json:"answer"`
}

type RagQueryRoute struct{}

func (RagQueryRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "RagQuery", Description: "retrieve nearest embeddings then generate an answer grounded on them",
		Auth: routespec.AuthAPIKey, RateLimit: routespec.RateLimitExpensive,
		Timeout: routespec.TimeoutSpec{Seconds: 120},
	}
}

func (RagQueryRoute) Validate(req RagQueryRequest) *apperr.Error {
	if req.Query == "" {
		return apperr.ValidationField("query", "required")
	}
	if req.Family == "" {
		return apperr.ValidationField("family", "required")
	}
	return nil
}

func (RagQueryRoute) Handle(ctx context.Context, req RagQueryRequest, state any) (RagQueryResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return RagQueryResponse{}, apperr.Wrap(apperr.Internal, "rag_query", serr)
	}
	if as.ML == nil {
		return RagQueryResponse{}, apperr.New(apperr.Backend, "no ml rpc client configured")
	}

	search, serr2 := SemanticSearchRoute{}.Handle(ctx, SemanticSearchRequest{
		Family: req.Family, Tier: req.Tier, Query: req.Query, Class: req.Class,
		ModelID: req.ModelID, K: req.K,
	}, state)
	if serr2 != nil {
		return RagQueryResponse{}, serr2
	}

	contextIDs := make([]ids.EmbeddingId, len(search.Results))
	var sourceHashes string
	for i, r := range search.Results {
		contextIDs[i] = r.EmbeddingID
		tier := req.Tier
		if tier == "" {
			tier = models.TierActive
		}
		if e, eerr := as.Storage.GetEmbedding(req.Family, tier, r.EmbeddingID); eerr == nil {
			sourceHashes += e.SourceTextHash + "\n"
		}
	}

	prompt := "Context:\n" + sourceHashes + "\nQuestion: " + req.Query + "\nAnswer:"
	deltas, errs := as.ML.GenerateText(ctx, models.GenerateRequest{
		ModelID: req.GenModelID, Prompt: prompt, MaxTokens: req.MaxTokens, Temperature: req.Temperature,
	})

	var answer string
	for {
		select {
		case <-ctx.Done():
			return RagQueryResponse{ContextNodeIDs: contextIDs, Answer: answer}, apperr.Wrap(apperr.Internal, "rag_query", ctx.Err())
		case d, ok := <-deltas:
			if !ok {
				return RagQueryResponse{ContextNodeIDs: contextIDs, Answer: answer}, nil
			}
			answer += d.Text
			if d.Done {
				return RagQueryResponse{ContextNodeIDs: contextIDs, Answer: answer}, nil
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return RagQueryResponse{ContextNodeIDs: contextIDs, Answer: answer}, apperr.Wrap(apperr.Backend, "rag_query generation", err)
			}
		}
	}
}

func (RagQueryRoute) TestCases() []routespec.TestCase[RagQueryRequest, RagQueryResponse] {
	return []routespec.TestCase[RagQueryRequest, RagQueryResponse]{
		{Name: "requires query and family", Input: RagQueryRequest{}},
	}
}
