// tabagentd — the inference orchestration core's server binary. Wires
// config, logging, telemetry, the AppState subsystems, the route
// registry, and the transport adapters selected by --mode, then runs
// until SIGINT/SIGTERM.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocentra/tabagentd/internal/appstate"
	"github.com/ocentra/tabagentd/internal/config"
	"github.com/ocentra/tabagentd/internal/dispatch"
	"github.com/ocentra/tabagentd/internal/logging"
	"github.com/ocentra/tabagentd/internal/routes"
	"github.com/ocentra/tabagentd/internal/telemetry"
	"github.com/ocentra/tabagentd/internal/transport/httpx"
	"github.com/ocentra/tabagentd/internal/transport/mcpstdio"
	"github.com/ocentra/tabagentd/internal/transport/nativemsg"

	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
)

func main() {
	cfg := config.Load()

	var (
		mode       = flag.String("mode", string(cfg.Mode), "transport mode: native, http, webrtc, web, mcp, all")
		port       = flag.Int("port", cfg.Port, "HTTP transport port")
		webrtcPort = flag.Int("webrtc-port", cfg.WebRTCPort, "WebRTC signaling port")
		debug      = flag.Bool("debug", false, "enable debug-level logging")
	)
	flag.Parse()
	cfg.Mode = config.Mode(*mode)
	cfg.Port = *port
	cfg.WebRTCPort = *webrtcPort

	logBuf := logging.NewBuffer(1000)
	logging.Init(*debug, logBuf)

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	as, err := appstate.New(cfg, log.Logger, appstate.WithLogBuffer(logBuf))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize app state")
	}

	reg := dispatch.NewRegistry()
	if err := routes.RegisterAll(reg); err != nil {
		log.Fatal().Err(err).Msg("failed to register routes")
	}
	disp := dispatch.New(reg, dispatch.NewTokenBucketLimiter())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if rerr := as.Run(ctx); rerr != nil && rerr != context.Canceled {
			log.Error().Err(rerr).Msg("scheduler stopped with error")
		}
	}()

	var httpServer *http.Server
	if cfg.Mode == config.ModeHTTP || cfg.Mode == config.ModeAll || cfg.Mode == config.ModeWeb {
		auth := httpx.NewAPIKeyAuth()
		router := httpx.NewRouter(disp, as, auth, log.Logger.With().Str("component", "httpx").Logger())
		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute, // generation/chat streams run long
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			log.Info().Int("port", cfg.Port).Msg("http transport listening")
			if serr := httpServer.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				log.Error().Err(serr).Msg("http transport failed")
			}
		}()
	}

	if cfg.Mode == config.ModeNative || cfg.Mode == config.ModeAll {
		adapter := nativemsg.New(disp, as, log.Logger.With().Str("component", "nativemsg").Logger())
		go func() {
			log.Info().Msg("nativemsg transport listening on stdio")
			if serr := adapter.Serve(ctx, os.Stdin, bufio.NewWriter(os.Stdout)); serr != nil {
				log.Warn().Err(serr).Msg("nativemsg transport stopped")
			}
		}()
	}

	if cfg.Mode == config.ModeMCP {
		adapter := mcpstdio.New(disp, as, log.Logger.With().Str("component", "mcpstdio").Logger())
		go func() {
			log.Info().Msg("mcp stdio transport listening")
			if serr := adapter.Serve(ctx, os.Stdin, os.Stdout); serr != nil {
				log.Warn().Err(serr).Msg("mcp stdio transport stopped")
			}
		}()
	}

	log.Info().Str("mode", string(cfg.Mode)).Msg("tabagentd ready")

	<-ctx.Done()
	log.Info().Msg("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if httpServer != nil {
		if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("http transport shutdown error")
		}
	}
	if cerr := as.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("app state close error")
	}
	if terr := shutdownTelemetry(shutdownCtx); terr != nil {
		log.Warn().Err(terr).Msg("telemetry shutdown error")
	}
}

