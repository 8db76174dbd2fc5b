package routes

import (
	"github.com/ocentra/tabagentd/internal/dispatch"
)

// RegisterAll populates reg with the full canonical route set (spec
// §4.1's "the dispatcher enumerates routes via a registry populated at
// startup"). cmd/server/main.go calls this once before starting any
// transport adapter.
func RegisterAll(reg *dispatch.Registry) error {
	registrations := []func(*dispatch.Registry) error{
		func(r *dispatch.Registry) error { return dispatch.Register[HealthRequest, HealthResponse](r, HealthRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[SystemInfoRequest, SystemInfoResponse](r, SystemInfoRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[StatsRequest, StatsResponse](r, StatsRoute{}) },
		func(r *dispatch.Registry) error {
			return dispatch.Register[GetSystemResourcesRequest, GetSystemResourcesResponse](r, GetSystemResourcesRoute{})
		},
		func(r *dispatch.Registry) error { return dispatch.Register[ListModelsRequest, ListModelsResponse](r, ListModelsRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[LoadModelRequest, LoadModelResponse](r, LoadModelRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[UnloadModelRequest, UnloadModelResponse](r, UnloadModelRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[GenerateRequest, GenerateResponse](r, GenerateRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[ChatRequest, ChatResponse](r, ChatRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[EmbeddingsRequest, EmbeddingsResponse](r, EmbeddingsRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[RerankRequest, RerankResponse](r, RerankRoute{}) },
		func(r *dispatch.Registry) error {
			return dispatch.Register[StopGenerationRequest, StopGenerationResponse](r, StopGenerationRoute{})
		},
		func(r *dispatch.Registry) error { return dispatch.Register[SearchNodesRequest, SearchNodesResponse](r, SearchNodesRoute{}) },
		func(r *dispatch.Registry) error {
			return dispatch.Register[GetNodeDetailsRequest, GetNodeDetailsResponse](r, GetNodeDetailsRoute{})
		},
		func(r *dispatch.Registry) error {
			return dispatch.Register[SemanticSearchRequest, SemanticSearchResponse](r, SemanticSearchRoute{})
		},
		func(r *dispatch.Registry) error { return dispatch.Register[RagQueryRequest, RagQueryResponse](r, RagQueryRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[QueryLogsRequest, QueryLogsResponse](r, QueryLogsRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[GetLogStatsRequest, GetLogStatsResponse](r, GetLogStatsRoute{}) },
		func(r *dispatch.Registry) error { return dispatch.Register[ClearLogsRequest, ClearLogsResponse](r, ClearLogsRoute{}) },
	}
	for _, register := range registrations {
		if err := register(reg); err != nil {
			return err
		}
	}
	return nil
}
