package routes

import (
	"context"
	"runtime"

	"github.com/ocentra/tabagentd/internal/hardware"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/routespec"
	"github.com/shirou/gopsutil/v3/mem"
)

// ── Health ───────────────────────────────────────────────────

type HealthRequest struct{}

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

type HealthRoute struct{}

func (HealthRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Health", Description: "liveness check", Auth: routespec.AuthPublic,
		RateLimit: routespec.RateLimitNone, Timeout: routespec.TimeoutSpec{Seconds: 2},
	}
}

func (HealthRoute) Validate(HealthRequest) *apperr.Error { return nil }

func (HealthRoute) Handle(_ context.Context, _ HealthRequest, state any) (HealthResponse, *apperr.Error) {
	as, err := stateOf(state)
	if err != nil {
		return HealthResponse{}, apperr.Wrap(apperr.Internal, "health", err)
	}
	return HealthResponse{OK: true, Version: as.StartedVer}, nil
}

func (HealthRoute) TestCases() []routespec.TestCase[HealthRequest, HealthResponse] {
	return []routespec.TestCase[HealthRequest, HealthResponse]{
		{Name: "ok", Input: HealthRequest{}, Expected: HealthResponse{OK: true}},
	}
}

// ── SystemInfo ───────────────────────────────────────────────

type SystemInfoRequest struct{}

type SystemInfoResponse struct {
	Version  string           `json:"version"`
	OS       string           `json:"os"`
	Arch     string           `json:"arch"`
	NumCPU   int              `json:"num_cpu"`
	CPUClass hardware.CPUClass `json:"cpu_class"`
	GPUClass hardware.GPUClass `json:"gpu_class"`
	Variant  string           `json:"variant"`
}

type SystemInfoRoute struct{}

func (SystemInfoRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "SystemInfo", Description: "static host/build info", Auth: routespec.AuthPublic,
		RateLimit: routespec.RateLimitNone, Timeout: routespec.TimeoutSpec{Seconds: 2},
	}
}

func (SystemInfoRoute) Validate(SystemInfoRequest) *apperr.Error { return nil }

func (SystemInfoRoute) Handle(_ context.Context, _ SystemInfoRequest, state any) (SystemInfoResponse, *apperr.Error) {
	as, err := stateOf(state)
	if err != nil {
		return SystemInfoResponse{}, apperr.Wrap(apperr.Internal, "system_info", err)
	}
	return SystemInfoResponse{
		Version:  as.StartedVer,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		CPUClass: as.Hardware.CPU,
		GPUClass: as.Hardware.GPU,
		Variant:  string(as.Variant),
	}, nil
}

func (SystemInfoRoute) TestCases() []routespec.TestCase[SystemInfoRequest, SystemInfoResponse] {
	return []routespec.TestCase[SystemInfoRequest, SystemInfoResponse]{
		{Name: "reports arch", Input: SystemInfoRequest{}, Expected: SystemInfoResponse{Arch: runtime.GOARCH, OS: runtime.GOOS}},
	}
}

// ── Stats ────────────────────────────────────────────────────

type StatsRequest struct{}

type StatsResponse struct {
	CacheUsedBytes int64 `json:"cache_used_bytes"`
	CacheMaxBytes  int64 `json:"cache_max_bytes"`
	CacheFiles     int   `json:"cache_files"`
	SchedulerQueue int   `json:"scheduler_queue_depth"`
	ActivityLevel  string `json:"activity_level"`
}

type StatsRoute struct{}

func (StatsRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "Stats", Description: "runtime counters", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 2},
	}
}

func (StatsRoute) Validate(StatsRequest) *apperr.Error { return nil }

func (StatsRoute) Handle(_ context.Context, _ StatsRequest, state any) (StatsResponse, *apperr.Error) {
	as, err := stateOf(state)
	if err != nil {
		return StatsResponse{}, apperr.Wrap(apperr.Internal, "stats", err)
	}
	cs := as.Cache.StatsSnapshot()
	return StatsResponse{
		CacheUsedBytes: cs.UsedBytes,
		CacheMaxBytes:  cs.MaxBytes,
		CacheFiles:     cs.Files,
		SchedulerQueue: as.Scheduler.QueueDepth(),
		ActivityLevel:  string(as.Scheduler.ActivityLevel()),
	}, nil
}

func (StatsRoute) TestCases() []routespec.TestCase[StatsRequest, StatsResponse] {
	return []routespec.TestCase[StatsRequest, StatsResponse]{
		{Name: "zero state", Input: StatsRequest{}, Expected: StatsResponse{}},
	}
}

// ── GetSystemResources ──────────────────────────────────────

type GetSystemResourcesRequest struct{}

type GetSystemResourcesResponse struct {
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryPercent    float64 `json:"memory_percent"`
}

type GetSystemResourcesRoute struct{}

func (GetSystemResourcesRoute) Metadata() routespec.Metadata {
	return routespec.Metadata{
		ID: "GetSystemResources", Description: "live host resource usage", Auth: routespec.AuthAPIKey,
		RateLimit: routespec.RateLimitStandard, Timeout: routespec.TimeoutSpec{Seconds: 3},
	}
}

func (GetSystemResourcesRoute) Validate(GetSystemResourcesRequest) *apperr.Error { return nil }

func (GetSystemResourcesRoute) Handle(_ context.Context, _ GetSystemResourcesRequest, _ any) (GetSystemResourcesResponse, *apperr.Error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return GetSystemResourcesResponse{}, apperr.Wrap(apperr.Backend, "read host memory stats", err)
	}
	return GetSystemResourcesResponse{
		MemoryUsedBytes:  vm.Used,
		MemoryTotalBytes: vm.Total,
		MemoryPercent:    vm.UsedPercent,
	}, nil
}

func (GetSystemResourcesRoute) TestCases() []routespec.TestCase[GetSystemResourcesRequest, GetSystemResourcesResponse] {
	return []routespec.TestCase[GetSystemResourcesRequest, GetSystemResourcesResponse]{
		{Name: "returns without error", Input: GetSystemResourcesRequest{}},
	}
}
