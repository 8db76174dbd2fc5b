package routes

import (
	"context"

	"github.com/ocentra/tabagentd/internal/nativeloader"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/ocentra/tabagentd/pkg/routespec"
)

// ── ListModels ───────────────────────────────────────────────

type ListModelsRequest struct{}

type ListModelsResponse struct {
	NativeModelIDs []ids.ModelId `json:"native_model_ids"`
}

type ListModelsRoute struct{}

func (ListModelsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "ListModels", Description: "enumerate currently loaded models", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 2},
	}
}

func (ListModelsRoute) Validate(ListModelsRequest) *apperr.Error { return nil }

func (ListModelsRoute) Handle(_ context.Context, _ ListModelsRequest, state any) (ListModelsResponse, *apperr.Error) {
	as, err := stateOf(state)
	if err != nil {
		return ListModelsResponse{}, apperr.Wrap(apperr.Internal, "list_models", err)
	}
	return ListModelsResponse{NativeModelIDs: as.ListLoadedModels()}, nil
}

func (ListModelsRoute) TestCases() []routespec.TestCase[ListModelsRequest, ListModelsResponse] {
	return []routespec.TestCase[ListModelsRequest, ListModelsResponse]{
		{Name: "empty by default", Input: ListModelsRequest{}, Expected: ListModelsResponse{}},
	}
}

// ── LoadModel ────────────────────────────────────────────────

type LoadModelRequest struct {
	ModelID      ids.ModelId         `json:"model_id"`
	PipelineType models.PipelineType `json:"pipeline_type"`
	LibraryPath  string              `json:"library_path,omitempty"` // native pipelines only
	ContextSize  int                 `json:"context_size,omitempty"`
}

type LoadModelResponse struct {
	RAMBytes  int64 `json:"ram_bytes"`
	VRAMBytes int64 `json:"vram_bytes"`
}

type LoadModelRoute struct{}

func (LoadModelRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "LoadModel", Description: "load a model for a pipeline type", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 120},
	}
}

func (LoadModelRoute) Validate(req LoadModelRequest) *apperr.Error {
	if req.ModelID.Empty() {
		return apperr.ValidationField("model_id", "required")
	}
	return nil
}

func (LoadModelRoute) Handle(ctx context.Context, req LoadModelRequest, state any) (LoadModelResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return LoadModelResponse{}, apperr.Wrap(apperr.Internal, "load_model", serr)
	}

	if req.LibraryPath != "" {
		m, err := as.LoadNativeModel(req.ModelID, req.LibraryPath, nativeloader.LoadParams{ContextSize: req.ContextSize})
		if err != nil {
			return LoadModelResponse{}, err
		}
		meta := m.Meta()
		return LoadModelResponse{RAMBytes: int64(meta.EmbeddingDim) * int64(meta.VocabSize)}, nil
	}

	if as.ML == nil {
		return LoadModelResponse{}, apperr.New(apperr.Backend, "no native library_path given and no ml rpc client configured")
	}
	result, err := as.ML.LoadModel(ctx, req.ModelID, req.PipelineType, nil)
	if err != nil {
		return LoadModelResponse{}, err
	}
	return LoadModelResponse{RAMBytes: result.RAMBytes, VRAMBytes: result.VRAMBytes}, nil
}

func (LoadModelRoute) TestCases() []routespec.TestCase[LoadModelRequest, LoadModelResponse] {
	return []routespec.TestCase[LoadModelRequest, LoadModelResponse]{
		{Name: "requires model id", Input: LoadModelRequest{}},
	}
}

// ── UnloadModel ──────────────────────────────────────────────

type UnloadModelRequest struct {
	ModelID ids.ModelId `json:"model_id"`
}

type UnloadModelResponse struct{}

type UnloadModelRoute struct{}

func (UnloadModelRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "UnloadModel", Description: "release a loaded model", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 30},
	}
}

func (UnloadModelRoute) Validate(req UnloadModelRequest) *apperr.Error {
	if req.ModelID.Empty() {
		return apperr.ValidationField("model_id", "required")
	}
	return nil
}

func (UnloadModelRoute) Handle(ctx context.Context, req UnloadModelRequest, state any) (UnloadModelResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return UnloadModelResponse{}, apperr.Wrap(apperr.Internal, "unload_model", serr)
	}

	if _, ok := as.GetLoadedModel(req.ModelID); ok {
		if err := as.UnloadNativeModel(req.ModelID); err != nil {
			return UnloadModelResponse{}, err
		}
		return UnloadModelResponse{}, nil
	}

	if as.ML == nil {
		return UnloadModelResponse{}, apperr.NotFoundEntity("model", string(req.ModelID))
	}
	if err := as.ML.UnloadModel(ctx, req.ModelID); err != nil {
		return UnloadModelResponse{}, err
	}
	return UnloadModelResponse{}, nil
}

func (UnloadModelRoute) TestCases() []routespec.TestCase[UnloadModelRequest, UnloadModelResponse] {
	return []routespec.TestCase[UnloadModelRequest, UnloadModelResponse]{
		{Name: "requires model id", Input: UnloadModelRequest{}},
	}
}
