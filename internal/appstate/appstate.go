// Package appstate wires the inference orchestration core's
// subsystems (storage coordinator, model cache, native loader,
// scheduler, event bus + weaver, ML RPC client) into one struct, the
// `state any` every route Handle receives (spec §4.1). This mirrors
// the teacher's cmd/server wiring of ModelRouter + Store + telemetry
// into one long-lived struct passed to every HTTP handler.
package appstate

import (
	"context"
	"fmt"

	"github.com/ocentra/tabagentd/internal/config"
	"github.com/ocentra/tabagentd/internal/eventbus"
	"github.com/ocentra/tabagentd/internal/hardware"
	"github.com/ocentra/tabagentd/internal/logging"
	"github.com/ocentra/tabagentd/internal/mlrpc"
	"github.com/ocentra/tabagentd/internal/modelcache"
	"github.com/ocentra/tabagentd/internal/nativeloader"
	"github.com/ocentra/tabagentd/internal/scheduler"
	"github.com/ocentra/tabagentd/internal/storage"
	"github.com/ocentra/tabagentd/internal/storage/pgvectortier"
	"github.com/ocentra/tabagentd/internal/weaver"
	"github.com/ocentra/tabagentd/pkg/models"
	"github.com/rs/zerolog"
)

// AppState is the single object every route handler type-asserts
// `state any` back to (routespec.Route.Handle's second doc comment).
type AppState struct {
	Config *config.Config
	Log    zerolog.Logger
	Logs   *logging.Buffer

	Bus        *eventbus.Bus
	Storage    *storage.Coordinator
	Cache      *modelcache.Cache
	Loader     *nativeloader.Loader
	Hardware   hardware.Profile
	Variant    hardware.VariantPath
	Scheduler  *scheduler.Scheduler
	Weaver     *weaver.Weaver
	ML         *mlrpc.Client
	Accurate   *pgvectortier.Tier // nil unless cfg.PostgresDSN is set
	StartedVer string

	models *loadedModels
	gens   *generations
}

// Option customizes New before subsystems start.
type Option func(*buildOpts)

type buildOpts struct {
	fetcher         modelcache.Fetcher
	schedulerHandle scheduler.Handler
	skipML          bool
	libOpener       nativeloader.LibraryOpener
	logs            *logging.Buffer
}

// WithLogBuffer attaches the process-wide log ring buffer (created and
// passed to logging.Init by cmd/server) so QueryLogs/GetLogStats/
// ClearLogs read the same entries the logger actually wrote.
func WithLogBuffer(b *logging.Buffer) Option {
	return func(o *buildOpts) { o.logs = b }
}

// WithFetcher overrides the Model Cache's download backend, used by
// tests to avoid real network access.
func WithFetcher(f modelcache.Fetcher) Option {
	return func(o *buildOpts) { o.fetcher = f }
}

// WithSchedulerHandler overrides the scheduler's task handler.
func WithSchedulerHandler(h scheduler.Handler) Option {
	return func(o *buildOpts) { o.schedulerHandle = h }
}

// WithLibraryOpener overrides how the native loader opens a compiled
// variant, used by tests to inject a fake Library.
func WithLibraryOpener(o2 nativeloader.LibraryOpener) Option {
	return func(o *buildOpts) { o.libOpener = o2 }
}

// WithoutMLRPC skips dialing the external ML service, for tests and
// for deployments that only ever use native inference.
func WithoutMLRPC() Option {
	return func(o *buildOpts) { o.skipML = true }
}

// New builds every subsystem without starting any background work;
// Run starts it, and cancelling the ctx passed to Run shuts it down.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*AppState, error) {
	var o buildOpts
	for _, opt := range opts {
		opt(&o)
	}

	logs := o.logs
	if logs == nil {
		logs = logging.NewBuffer(1000)
	}

	bus := eventbus.New()
	store := storage.New(bus, cfg.DataRoot)

	cache := modelcache.New(cfg.ModelsRoot, cfg.Cache.MaxBytes, cfg.Cache.ChunkSize, o.fetcher,
		log.With().Str("component", "modelcache").Logger())

	profile, err := hardware.Detect()
	if err != nil {
		return nil, fmt.Errorf("detect hardware: %w", err)
	}
	variant, verr := hardware.SelectVariant(cfg.DistRoot, profile)
	if verr != nil {
		log.Warn().Err(verr).Msg("no native inference variant found on disk, native loads will fail until dist is populated")
	}

	var loader *nativeloader.Loader
	if o.libOpener != nil {
		loader = nativeloader.NewLoaderWithOpener(o.libOpener)
	} else {
		loader = nativeloader.NewLoader()
	}

	as := &AppState{
		Config:     cfg,
		Log:        log,
		Logs:       logs,
		Bus:        bus,
		Storage:    store,
		Cache:      cache,
		Loader:     loader,
		Hardware:   profile,
		Variant:    variant,
		StartedVer: cfg.Version,
		models:     newLoadedModels(),
		gens:       newGenerations(),
	}

	schedHandler := o.schedulerHandle
	if schedHandler == nil {
		schedHandler = as.defaultTaskHandler
	}
	as.Scheduler = scheduler.New(scheduler.Config{
		Workers:                    4,
		QueueCapacity:              cfg.Scheduler.QueueCapacity,
		HighActivityRequestsPerMin: cfg.Scheduler.HighActivityRequestsPerMin,
		LowActivityIdleFor:         cfg.Scheduler.LowActivityIdleFor,
		SleepModeIdleFor:           cfg.Scheduler.SleepModeIdleFor,
	}, schedHandler, log.With().Str("component", "scheduler").Logger())

	as.Weaver = weaver.New(as.Scheduler, log.With().Str("component", "weaver").Logger(),
		weaver.SemanticIndexer{Class: models.EmbeddingFast},
		weaver.EntityLinker{},
		weaver.AssociativeLinker{},
	)

	if !o.skipML && cfg.MLEndpoint != "" {
		client, derr := mlrpc.Dial(cfg.MLEndpoint)
		if derr != nil {
			log.Warn().Err(derr).Str("endpoint", cfg.MLEndpoint).Msg("could not dial ml service, external pipelines unavailable until it is reachable")
		} else {
			as.ML = client
		}
	}

	if cfg.PostgresDSN != "" {
		acc, perr := pgvectortier.Connect(context.Background(), cfg.PostgresDSN)
		if perr != nil {
			log.Warn().Err(perr).Msg("could not connect accurate-class pgvector tier, RagQuery/SemanticSearch fall back to the Fast class only")
		} else {
			as.Accurate = acc
		}
	}

	return as, nil
}

// Run starts the scheduler's workers, the weaver's event loop, and the
// periodic summarization ticker; all three stop when ctx is cancelled.
func (as *AppState) Run(ctx context.Context) error {
	go as.Weaver.Run(ctx, as.Bus)
	go as.runSummarizationTicker(ctx)
	return as.Scheduler.Start(ctx)
}

// Close releases subsystems that own external resources.
func (as *AppState) Close() error {
	if as.Accurate != nil {
		as.Accurate.Close()
	}
	if err := as.Storage.Close(); err != nil {
		as.Log.Warn().Err(err).Msg("error closing storage tiers")
	}
	if as.ML != nil {
		return as.ML.Close()
	}
	return nil
}
