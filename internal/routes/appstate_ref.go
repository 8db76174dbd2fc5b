// Package routes holds the concrete Route implementations for the
// canonical route set from spec §4.1: Health, SystemInfo, Stats,
// ListModels, LoadModel, UnloadModel, Chat, Generate, Embeddings,
// Rerank, RagQuery, SemanticSearch, SearchNodes, GetNodeDetails,
// QueryLogs, GetLogStats, ClearLogs, GetSystemResources,
// StopGeneration. Grounded on the teacher's per-route handler style in
// internal/api/handlers (one small type per endpoint, validation
// separated from execution) adapted to this repo's Route[Req,Resp]
// interface instead of raw chi handlers.
package routes

import (
	"fmt"

	"github.com/ocentra/tabagentd/internal/appstate"
)

// stateOf type-asserts the dispatcher's `any` state back to
// *appstate.AppState, the single call site routespec.Route documents
// every concrete route should have.
func stateOf(state any) (*appstate.AppState, error) {
	as, ok := state.(*appstate.AppState)
	if !ok {
		return nil, fmt.Errorf("routes: state was %T, want *appstate.AppState", state)
	}
	return as, nil
}
