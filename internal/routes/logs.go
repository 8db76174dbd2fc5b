package routes

import (
	"context"

	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/routespec"
)

// ── QueryLogs ────────────────────────────────────────────────

type QueryLogsRequest struct {
	Limit     int    `json:"limit,omitempty"` // default 100
	Level     string `json:"level,omitempty"`
	Component string `json:"component,omitempty"`
}

type LogEntry struct {
	TimestampUnixMs int64  `json:"timestamp_unix_ms"`
	Level           string `json:"level"`
	Component       string `json:"component"`
	Message         string `json:"message"`
}

type QueryLogsResponse struct {
	Entries []LogEntry `json:"entries"`
}

type QueryLogsRoute struct{}

func (QueryLogsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "QueryLogs", Description: "read recent log entries from the in-process ring buffer",
		Auth: routespec.AuthAPIKey, RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 5},
	}
}

func (QueryLogsRoute) Validate(QueryLogsRequest) *apperr.Error { return nil }

func (QueryLogsRoute) Handle(_ context.Context, req QueryLogsRequest, state any) (QueryLogsResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return QueryLogsResponse{}, apperr.Wrap(apperr.Internal, "query_logs", serr)
	}
	n := req.Limit
	if n <= 0 {
		n = 100
	}
	recent := as.Logs.Recent(n, req.Level, req.Component)
	out := make([]LogEntry, len(recent))
	for i, e := range recent {
		out[i] = LogEntry{
			TimestampUnixMs: e.Timestamp.UnixMilli(),
			Level:           e.Level, Component: e.Component, Message: e.Message,
		}
	}
	return QueryLogsResponse{Entries: out}, nil
}

func (QueryLogsRoute) TestCases() []routespec.TestCase[QueryLogsRequest, QueryLogsResponse] {
	return []routespec.TestCase[QueryLogsRequest, QueryLogsResponse]{
		{Name: "empty buffer", Input: QueryLogsRequest{}, Expected: QueryLogsResponse{}},
	}
}

// ── GetLogStats ──────────────────────────────────────────────

type GetLogStatsRequest struct{}

type GetLogStatsResponse struct {
	CountByLevel map[string]int `json:"count_by_level"`
}

type GetLogStatsRoute struct{}

func (GetLogStatsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "GetLogStats", Description: "counts of buffered log entries by level",
		Auth: routespec.AuthAPIKey, RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 5},
	}
}

func (GetLogStatsRoute) Validate(GetLogStatsRequest) *apperr.Error { return nil }

func (GetLogStatsRoute) Handle(_ context.Context, _ GetLogStatsRequest, state any) (GetLogStatsResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return GetLogStatsResponse{}, apperr.Wrap(apperr.Internal, "get_log_stats", serr)
	}
	return GetLogStatsResponse{CountByLevel: as.Logs.Stats()}, nil
}

func (GetLogStatsRoute) TestCases() []routespec.TestCase[GetLogStatsRequest, GetLogStatsResponse] {
	return []routespec.TestCase[GetLogStatsRequest, GetLogStatsResponse]{
		{Name: "zero state", Input: GetLogStatsRequest{}},
	}
}

// ── ClearLogs ────────────────────────────────────────────────

type ClearLogsRequest struct{}

type ClearLogsResponse struct{}

type ClearLogsRoute struct{}

func (ClearLogsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "ClearLogs", Description: "discard buffered log entries",
		Auth: routespec.AuthAPIKey, RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 5},
	}
}

func (ClearLogsRoute) Validate(ClearLogsRequest) *apperr.Error { return nil }

func (ClearLogsRoute) Handle(_ context.Context, _ ClearLogsRequest, state any) (ClearLogsResponse, *apperr.Error) {
	as, serr := stateOf(state)
	if serr != nil {
		return ClearLogsResponse{}, apperr.Wrap(apperr.Internal, "clear_logs", serr)
	}
	as.Logs.Clear()
	return ClearLogsResponse{}, nil
}

func (ClearLogsRoute) TestCases() []routespec.TestCase[ClearLogsRequest, ClearLogsResponse] {
	return []routespec.TestCase[ClearLogsRequest, ClearLogsResponse]{
		{Name: "clears without error", Input: ClearLogsRequest{}},
	}
}
