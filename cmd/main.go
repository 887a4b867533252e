// Package main is the entry point for the rlm-proxy MCP server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/compresr/rlm-proxy/internal/cache"
	"github.com/compresr/rlm-proxy/internal/config"
	"github.com/compresr/rlm-proxy/internal/executor"
	"github.com/compresr/rlm-proxy/internal/monitoring"
	"github.com/compresr/rlm-proxy/internal/proxy"
	"github.com/compresr/rlm-proxy/internal/upstream"
)

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	configEnv := filepath.Join(homeDir, ".config", "rlm-proxy", ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Local .env can override.
	_ = godotenv.Load()
}

func main() {
	loadEnvFiles()

	configPath := flag.String("config", "", "path to mcp.json (or .yaml) config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	monitoring.SetupLogging(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()

	callLog, err := monitoring.OpenCallLog(cfg.Settings.CallLogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open call log")
	}

	exec := executor.New(0)
	agentCache := cache.NewAgentCache(cfg.Settings)

	manager := upstream.NewManager(metrics)
	manager.Start(ctx, cfg.Servers)

	srv := proxy.New(cfg.Settings, manager, agentCache, metrics, callLog, exec)

	log.Info().
		Int("upstreams", len(manager.Names())).
		Int("max_response_size", cfg.Settings.MaxResponseSize).
		Msg("rlm-proxy serving on stdio")

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("server error")
	}

	manager.Shutdown()
	exec.Shutdown()
	if err := callLog.Close(); err != nil {
		log.Warn().Err(err).Msg("call log close failed")
	}

	for k, v := range metrics.Stats() {
		log.Debug().Int64(k, v).Msg("final metric")
	}
	log.Debug().Interface("cache", agentCache.Stats("")).Msg("final cache stats")
	log.Info().Msg("rlm-proxy stopped")
}
