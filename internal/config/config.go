// Package config loads the control plane's configuration from
// environment variables with sensible defaults, in the same style as
// the teacher's internal/config/config.go.
package config

import (
	"os"
	"strconv"
	"time"
)

// Mode selects which transports the binary exposes (spec §6 CLI).
type Mode string

const (
	ModeNative Mode = "native"
	ModeHTTP   Mode = "http"
	ModeWebRTC Mode = "webrtc"
	ModeWeb    Mode = "web"
	ModeMCP    Mode = "mcp"
	ModeAll    Mode = "all"
)

// Config holds all configuration for the inference orchestration core.
type Config struct {
	Mode       Mode
	Port       int
	WebRTCPort int
	Version    string

	DataRoot   string // <data_root>/<family>/<tier>.db
	DistRoot   string // variant libraries root
	ModelsRoot string // models/<model_id>/...

	DatabaseEndpoint string // optional remote storage RPC (DATABASE_ENDPOINT)
	MLEndpoint       string // ML_ENDPOINT, default localhost:<port>
	PostgresDSN      string // optional, enables the Accurate-class pgvector tier (POSTGRES_DSN)

	Telemetry TelemetryConfig
	Cache     CacheConfig
	Scheduler SchedulerConfig
	Retention RetentionConfig
}

// TelemetryConfig configures the OTel tracer provider.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// CacheConfig configures the Model Cache's eviction policy.
type CacheConfig struct {
	MaxBytes  int64
	ChunkSize int64
}

// SchedulerConfig configures ActivityLevel thresholds (spec §4.8).
type SchedulerConfig struct {
	HighActivityRequestsPerMin int
	LowActivityIdleFor         time.Duration
	SleepModeIdleFor           time.Duration
	QueueCapacity              int
}

// RetentionConfig configures per-tier retention windows (spec §9(b) —
// "exact retention windows per tier are configuration, not contract").
type RetentionConfig struct {
	ActiveWindow time.Duration
	RecentWindow time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Mode:       Mode(envStr("TABAGENT_MODE", string(ModeAll))),
		Port:       envInt("TABAGENT_PORT", 8080),
		WebRTCPort: envInt("TABAGENT_WEBRTC_PORT", 8081),
		Version:    envStr("TABAGENT_VERSION", "0.1.0"),

		DataRoot:   envStr("TABAGENT_DATA_ROOT", "./data"),
		DistRoot:   envStr("TABAGENT_DIST_ROOT", "./dist"),
		ModelsRoot: envStr("TABAGENT_MODELS_ROOT", "./models"),

		DatabaseEndpoint: envStr("DATABASE_ENDPOINT", ""),
		MLEndpoint:       envStr("ML_ENDPOINT", "localhost:7321"),
		PostgresDSN:      envStr("POSTGRES_DSN", ""),

		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "tabagentd"),
		},
		Cache: CacheConfig{
			MaxBytes:  int64(envInt("TABAGENT_CACHE_MAX_BYTES", 50*1024*1024*1024)),
			ChunkSize: int64(envInt("TABAGENT_CACHE_CHUNK_BYTES", 4*1024*1024)),
		},
		Scheduler: SchedulerConfig{
			HighActivityRequestsPerMin: envInt("TABAGENT_SCHED_HIGH_RPM", 30),
			LowActivityIdleFor:         envDuration("TABAGENT_SCHED_LOW_IDLE", 5*time.Minute),
			SleepModeIdleFor:           envDuration("TABAGENT_SCHED_SLEEP_IDLE", 30*time.Minute),
			QueueCapacity:              envInt("TABAGENT_SCHED_QUEUE_CAP", 1024),
		},
		Retention: RetentionConfig{
			ActiveWindow: envDuration("TABAGENT_TIER_ACTIVE_WINDOW", 24*time.Hour),
			RecentWindow: envDuration("TABAGENT_TIER_RECENT_WINDOW", 90*24*time.Hour),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
