package routes

import (
	"context"
	"math"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/ocentra/tabagentd/pkg/stream"
)

// ── Generate ─────────────────────────────────────────────────

type GenerateRequest struct {
	ModelID      ids.ModelId    `json:"model_id"`
	Prompt       string         `json:"prompt"`
	MaxTokens    int            `json:"max_tokens,omitempty"`
	Temperature  float32        `json:"temperature,omitempty"`
	GenerationID ids.RequestId  `json:"generation_id,omitempty"` // enables StopGeneration
}

type GenerateResponse = *stream.Stream[models.TextDelta]

type GenerateRoute struct{}

func (GenerateRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Generate", Description: "streaming text generation", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitExpensive, Timeout: routespec.TimeoutSpec{Seconds: 300},
	}
}

func (GenerateRoute) Validate(req GenerateRequest) *apperr.Error {
	if req.Prompt == "" {
		return apperr.ValidationField("prompt", "required")
	}
	if err := validateTemperature(req.Temperature); err != nil {
		return err
	}
	return nil
}

func (GenerateRoute) Handle(ctx context.Context, req GenerateRequest, state any) (GenerateResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return nil, apperr.Wrap(apperr.Internal, "generate", serr)
	}
	if as.ML == nil {
		return nil, apperr.New(apperr.Backend, "no ml rpc client configured")
	}

	genCtx, cancel := context.WithCancel(ctx)
	as.RegisterGeneration(req.GenerationID, cancel)

	deltas, errs := as.ML.GenerateText(genCtx, models.GenerateRequest{
		ModelID: req.ModelID, Prompt: req.Prompt, MaxTokens: req.MaxTokens, Temperature: req.Temperature,
	})

	s := stream.New[models.TextDelta](genCtx, func(ctx context.Context, out chan<- stream.Frame[models.TextDelta]) {
		defer as.UnregisterGeneration(req.GenerationID)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				out <- stream.Frame[models.TextDelta]{Item: d, Done: d.Done}
				if d.Done {
					return
				}
			case err, ok := <-errs:
				if ok && err != nil {
					out <- stream.Frame[models.TextDelta]{Err: err}
					return
				}
			}
		}
	})
	return s, nil
}

func (GenerateRoute) TestCases() []routespec.TestCase[GenerateRequest, GenerateResponse] {
	return []routespec.TestCase[GenerateRequest, GenerateResponse]{
		{Name: "requires prompt", Input: GenerateRequest{}},
		{Name: "rejects out-of-range temperature", Input: GenerateRequest{Prompt: "hi", Temperature: 3}},
	}
}

// ── Chat ─────────────────────────────────────────────────────

type ChatRequest struct {
	ModelID      ids.ModelId          `json:"model_id"`
	Messages     []models.ChatMessage `json:"messages"`
	Temperature  float32              `json:"temperature,omitempty"`
	GenerationID ids.RequestId        `json:"generation_id,omitempty"` // enables StopGeneration
}

type ChatResponse = *stream.Stream[models.ChatDelta]

type ChatRoute struct{}

func (ChatRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Chat", Description: "streaming chat completion", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitExpensive, OpenAICompatible: true,
		Timeout: routespec.TimeoutSpec{Seconds: 300},
	}
}

func (ChatRoute) Validate(req ChatRequest) *apperr.Error {
	if len(req.Messages) == 0 {
		return apperr.ValidationField("messages", "at least one message is required")
	}
	if err := validateTemperature(req.Temperature); err != nil {
		return err
	}
	return nil
}

// validateTemperature enforces the sampling-temperature bound both
// Generate and Chat accept: 0 (deterministic) through 2 (maximally
// random), matching the OpenAI-compatible range these routes expose
// (Metadata().OpenAICompatible on ChatRoute/EmbeddingsRoute).
func validateTemperature(t float32) *apperr.Error {
	if t < 0 || t > 2 {
		return apperr.ValidationField("temperature", "must be between 0 and 2")
	}
	return nil
}

func (ChatRoute) Handle(ctx context.Context, req ChatRequest, state any) (ChatResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return nil, apperr.Wrap(apperr.Internal, "chat", serr)
	}
	if as.ML == nil {
		return nil, apperr.New(apperr.Backend, "no ml rpc client configured")
	}

	genCtx, cancel := context.WithCancel(ctx)
	as.RegisterGeneration(req.GenerationID, cancel)

	deltas, errs := as.ML.ChatCompletion(genCtx, req.Messages, req.ModelID, req.Temperature)

	s := stream.New[models.ChatDelta](genCtx, func(ctx context.Context, out chan<- stream.Frame[models.ChatDelta]) {
		defer as.UnregisterGeneration(req.GenerationID)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				out <- stream.Frame[models.ChatDelta]{Item: d, Done: d.Done}
				if d.Done {
					return
				}
			case err, ok := <-errs:
				if ok && err != nil {
					out <- stream.Frame[models.ChatDelta]{Err: err}
					return
				}
			}
		}
	})
	return s, nil
}

func (ChatRoute) TestCases() []routespec.TestCase[ChatRequest, ChatResponse] {
	return []routespec.TestCase[ChatRequest, ChatResponse]{
		{Name: "requires messages", Input: ChatRequest{}},
		{Name: "rejects out-of-range temperature", Input: ChatRequest{
			Messages:    []models.ChatMessage{{Role: "user", Content: "hi"}},
			Temperature: -1,
		}},
	}
}

// ── Embeddings ───────────────────────────────────────────────

type EmbeddingsRequest struct {
	ModelID ids.ModelId           `json:"model_id"`
	Texts   []string              `json:"texts"`
	Class   models.EmbeddingClass `json:"class"`
}

type EmbeddingsResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

type EmbeddingsRoute struct{}

func (EmbeddingsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Embeddings", Description: "batch text embeddings", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitExpensive, OpenAICompatible: true,
		Timeout: routespec.TimeoutSpec{Seconds: 60},
	}
}

func (EmbeddingsRoute) Validate(req EmbeddingsRequest) *apperr.Error {
	if len(req.Texts) == 0 {
		return apperr.ValidationField("texts", "at least one text is required")
	}
	return nil
}

func (EmbeddingsRoute) Handle(ctx context.Context, req EmbeddingsRequest, state any) (EmbeddingsResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return EmbeddingsResponse{}, apperr.Wrap(apperr.Internal, "embeddings", serr)
	}
	if as.ML == nil {
		return EmbeddingsResponse{}, apperr.New(apperr.Backend, "no ml rpc client configured")
	}
	vectors, err := as.ML.GenerateEmbeddings(ctx, req.Texts, req.ModelID)
	if err != nil {
		return EmbeddingsResponse{}, err
	}
	return EmbeddingsResponse{Vectors: vectors}, nil
}

func (EmbeddingsRoute) TestCases() []routespec.TestCase[EmbeddingsRequest, EmbeddingsResponse] {
	return []routespec.TestCase[EmbeddingsRequest, EmbeddingsResponse]{
		{Name: "requires texts", Input: EmbeddingsRequest{}},
	}
}

// ── Rerank ───────────────────────────────────────────────────

type RerankRequest struct {
	ModelID  ids.ModelId `json:"model_id"`
	Query    string      `json:"query"`
	Document []string    `json:"documents"`
}

type RerankResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

type RerankResponse struct {
	Results []RerankResult `json:"results"`
}

type RerankRoute struct{}

func (RerankRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Rerank", Description: "rerank documents by relevance to a query", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitExpensive, Timeout: routespec.TimeoutSpec{Seconds: 60},
	}
}

func (RerankRoute) Validate(req RerankRequest) *apperr.Error {
	if req.Query == "" {
		return apperr.ValidationField("query", "required")
	}
	if len(req.Document) == 0 {
		return apperr.ValidationField("documents", "at least one document is required")
	}
	return nil
}

// Handle reranks by cosine similarity of the Embeddings route's
// vectors against the query vector — there is no dedicated rerank RPC
// in §4.9, so this composes GenerateEmbeddings rather than adding a
// transport operation the spec doesn't name.
func (RerankRoute) Handle(ctx context.Context, req RerankRequest, state any) (RerankResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return RerankResponse{}, apperr.Wrap(apperr.Internal, "rerank", serr)
	}
	if as.ML == nil {
		return RerankResponse{}, apperr.New(apperr.Backend, "no ml rpc client configured")
	}

	texts := append([]string{req.Query}, req.Document...)
	vectors, err := as.ML.GenerateEmbeddings(ctx, texts, req.ModelID)
	if err != nil {
		return RerankResponse{}, err
	}
	if len(vectors) != len(texts) {
		return RerankResponse{}, apperr.New(apperr.Backend, "ml service returned a mismatched vector count")
	}

	queryVec := vectors[0]
	results := make([]RerankResult, len(req.Document))
	for i, v := range vectors[1:] {
		results[i] = RerankResult{Index: i, Score: cosineSimilarity(queryVec, v)}
	}
	return RerankResponse{Results: results}, nil
}

// ── StopGeneration ───────────────────────────────────────────

type StopGenerationRequest struct {
	GenerationID ids.RequestId `json:"generation_id"`
}

type StopGenerationResponse struct {
	Stopped bool `json:"stopped"`
}

type StopGenerationRoute struct{}

func (StopGenerationRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "StopGeneration", Description: "cancel an in-flight Generate/Chat stream",
		Auth: routespec.AuthAPIKey, RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 2},
	}
}

func (StopGenerationRoute) Validate(req StopGenerationRequest) *apperr.Error {
	if req.GenerationID.Empty() {
		return apperr.ValidationField("generation_id", "required")
	}
	return nil
}

func (StopGenerationRoute) Handle(_ context.Context, req StopGenerationRequest, state any) (StopGenerationResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return StopGenerationResponse{}, apperr.Wrap(apperr.Internal, "stop_generation", serr)
	}
	return StopGenerationResponse{Stopped: as.StopGeneration(req.GenerationID)}, nil
}

func (StopGenerationRoute) TestCases() []routespec.TestCase[StopGenerationRequest, StopGenerationResponse] {
	return []routespec.TestCase[StopGenerationRequest, StopGenerationResponse]{
		{Name: "requires generation id", Input: StopGenerationRequest{}},
	}
}

func cosineSimilarity(a, b []float32) float32 {
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
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (RerankRoute) TestCases() []routespec.TestCase[RerankRequest, RerankResponse] {
	return []routespec.TestCase[RerankRequest, RerankResponse]{
		{Name: "requires query and documents", Input: RerankRequest{}},
	}
}
