package routes

import (
	"context"
	"testing"

	"github.com/ocentra/tabagentd/internal/appstate"
	"github.com/ocentra/tabagentd/internal/config"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testState(t *testing.T) *appstate.AppState {
	t.Helper()
	cfg := &config.Config{
		Version:    "test",
		DistRoot:   t.TempDir(),
		ModelsRoot: t.TempDir(),
		Scheduler: config.SchedulerConfig{
			HighActivityRequestsPerMin: 30,
			QueueCapacity:              64,
		},
	}
	as, err := appstate.New(cfg, zerolog.Nop(), appstate.WithoutMLRPC())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, as.Close()) })
	return as
}

func TestHealthRoute(t *testing.T) {
	as := testState(t)
	require.Nil(t, HealthRoute{}.Validate(HealthRequest{}))
	resp, err := HealthRoute{}.Handle(context.Background(), HealthRequest{}, as)
	require.Nil(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "test", resp.Version)
}

func TestSystemInfoRoute(t *testing.T) {
	as := testState(t)
	resp, err := SystemInfoRoute{}.Handle(context.Background(), SystemInfoRequest{}, as)
	require.Nil(t, err)
	require.NotEmpty(t, resp.Arch)
}

func TestStatsRoute(t *testing.T) {
	as := testState(t)
	resp, err := StatsRoute{}.Handle(context.Background(), StatsRequest{}, as)
	require.Nil(t, err)
	require.GreaterOrEqual(t, resp.CacheMaxBytes, int64(0))
}

func TestGetSystemResourcesRoute(t *testing.T) {
	resp, err := GetSystemResourcesRoute{}.Handle(context.Background(), GetSystemResourcesRequest{}, nil)
	require.Nil(t, err)
	require.Greater(t, resp.MemoryTotalBytes, uint64(0))
}

func TestListModelsRouteEmptyByDefault(t *testing.T) {
	as := testState(t)
	resp, err := ListModelsRoute{}.Handle(context.Background(), ListModelsRequest{}, as)
	require.Nil(t, err)
	require.Empty(t, resp.NativeModelIDs)
}

func TestLoadModelRouteValidation(t *testing.T) {
	err := LoadModelRoute{}.Validate(LoadModelRequest{})
	require.NotNil(t, err)
	require.Equal(t, apperr.Validation, err.Kind)

	require.Nil(t, LoadModelRoute{}.Validate(LoadModelRequest{ModelID: "m1"}))
}

func TestUnloadModelRouteNotFoundWithoutML(t *testing.T) {
	as := testState(t)
	_, err := UnloadModelRoute{}.Handle(context.Background(), UnloadModelRequest{ModelID: "missing"}, as)
	require.NotNil(t, err)
	require.Equal(t, apperr.NotFound, err.Kind)
}

func TestSearchNodesRouteValidation(t *testing.T) {
	err := SearchNodesRoute{}.Validate(SearchNodesRequest{})
	require.NotNil(t, err)
	require.Nil(t, SearchNodesRoute{}.Validate(SearchNodesRequest{Family: "f", Tier: "active"}))
}

func TestSearchNodesRouteEmptyResult(t *testing.T) {
	as := testState(t)
	resp, err := SearchNodesRoute{}.Handle(context.Background(), SearchNodesRequest{Family: "f", Tier: "active"}, as)
	require.Nil(t, err)
	require.Empty(t, resp.NodeIDs)
}

func TestGetNodeDetailsRouteValidation(t *testing.T) {
	err := GetNodeDetailsRoute{}.Validate(GetNodeDetailsRequest{})
	require.NotNil(t, err)
	require.Nil(t, GetNodeDetailsRoute{}.Validate(GetNodeDetailsRequest{NodeID: "n1"}))
}

func TestSemanticSearchRouteValidation(t *testing.T) {
	err := SemanticSearchRoute{}.Validate(SemanticSearchRequest{})
	require.NotNil(t, err)
	require.Nil(t, SemanticSearchRoute{}.Validate(SemanticSearchRequest{Query: "q", Family: "f"}))
}

func TestSemanticSearchRouteRequiresML(t *testing.T) {
	as := testState(t)
	_, err := SemanticSearchRoute{}.Handle(context.Background(), SemanticSearchRequest{Query: "q", Family: "f"}, as)
	require.NotNil(t, err)
	require.Equal(t, apperr.Backend, err.Kind)
}

func TestRagQueryRouteValidation(t *testing.T) {
	err := RagQueryRoute{}.Validate(RagQueryRequest{})
	require.NotNil(t, err)
	require.Nil(t, RagQueryRoute{}.Validate(RagQueryRequest{Query: "q", Family: "f"}))
}

func TestQueryLogsRouteEmptyBuffer(t *testing.T) {
	as := testState(t)
	resp, err := QueryLogsRoute{}.Handle(context.Background(), QueryLogsRequest{}, as)
	require.Nil(t, err)
	require.Empty(t, resp.Entries)
}

func TestGetLogStatsAndClearLogsRoutes(t *testing.T) {
	as := testState(t)
	statsResp, err := GetLogStatsRoute{}.Handle(context.Background(), GetLogStatsRequest{}, as)
	require.Nil(t, err)
	require.NotNil(t, statsResp.CountByLevel)

	_, err = ClearLogsRoute{}.Handle(context.Background(), ClearLogsRequest{}, as)
	require.Nil(t, err)
}

func TestGenerateRouteRequiresPrompt(t *testing.T) {
	err := GenerateRoute{}.Validate(GenerateRequest{})
	require.NotNil(t, err)
	require.Equal(t, apperr.Validation, err.Kind)
}

func TestGenerateRouteRequiresML(t *testing.T) {
	as := testState(t)
	_, err := GenerateRoute{}.Handle(context.Background(), GenerateRequest{Prompt: "hi"}, as)
	require.NotNil(t, err)
	require.Equal(t, apperr.Backend, err.Kind)
}

func TestChatRouteRequiresMessages(t *testing.T) {
	require.NotNil(t, ChatRoute{}.Validate(ChatRequest{}))
}

func TestChatRouteRejectsTemperatureOutOfRange(t *testing.T) {
	msgs := []models.ChatMessage{{Role: "user", Content: "hi"}}

	err := ChatRoute{}.Validate(ChatRequest{Messages: msgs, Temperature: 2.5})
	require.NotNil(t, err)
	require.Equal(t, apperr.Validation, err.Kind)
	require.Equal(t, "temperature", err.Details["field"])

	err = ChatRoute{}.Validate(ChatRequest{Messages: msgs, Temperature: -0.1})
	require.NotNil(t, err)
	require.Equal(t, "temperature", err.Details["field"])

	require.Nil(t, ChatRoute{}.Validate(ChatRequest{Messages: msgs, Temperature: 1.2}))
}

func TestGenerateRouteRejectsTemperatureOutOfRange(t *testing.T) {
	err := GenerateRoute{}.Validate(GenerateRequest{Prompt: "hi", Temperature: 5})
	require.NotNil(t, err)
	require.Equal(t, apperr.Validation, err.Kind)
	require.Equal(t, "temperature", err.Details["field"])
}

func TestEmbeddingsRouteRequiresTexts(t *testing.T) {
	require.NotNil(t, EmbeddingsRoute{}.Validate(EmbeddingsRequest{}))
}

func TestRerankRouteValidation(t *testing.T) {
	err := RerankRoute{}.Validate(RerankRequest{})
	require.NotNil(t, err)
	require.Nil(t, RerankRoute{}.Validate(RerankRequest{Query: "q", Document: []string{"d"}}))
}

func TestStopGenerationRoute(t *testing.T) {
	as := testState(t)
	err := StopGenerationRoute{}.Validate(StopGenerationRequest{})
	require.NotNil(t, err)

	resp, herr := StopGenerationRoute{}.Handle(context.Background(), StopGenerationRequest{GenerationID: ids.NewRequestId()}, as)
	require.Nil(t, herr)
	require.False(t, resp.Stopped)
}

func TestStopGenerationOnNeverStartedID(t *testing.T) {
	// Generate without an ML client fails before a cancel func is ever
	// registered, so StopGeneration against that GenerationID still
	// reports false rather than panicking on a missing entry.
	as := testState(t)
	genID := ids.NewRequestId()
	_, err := GenerateRoute{}.Handle(context.Background(), GenerateRequest{Prompt: "hi", GenerationID: genID}, as)
	require.NotNil(t, err) // no ML client configured

	resp, herr := StopGenerationRoute{}.Handle(context.Background(), StopGenerationRequest{GenerationID: genID}, as)
	require.Nil(t, herr)
	require.False(t, resp.Stopped)
}
