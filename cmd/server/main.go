// Taskgate - payment-gated task gateway for AI agents
package main

import (
	"context"
	"os"
	"strings"

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/config"
	"github.com/mbd888/taskgate/internal/logging"
	"github.com/mbd888/taskgate/internal/server"
	"github.com/mbd888/taskgate/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting taskgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, logFormat(cfg))

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"agent_id", cfg.AgentID,
		"plans", len(cfg.PlanIDs),
	)

	ctx := context.Background()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
		if err != nil {
			logger.Error("failed to init tracing", "error", err)
			os.Exit(1)
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	// Default agent logic: echo the incoming text back. Deployments replace
	// this by importing the server package and supplying their own executor.
	executor := a2a.NewHandlerExecutor(func(ctx context.Context, rc *a2a.RequestContext) (*a2a.HandlerResponse, error) {
		var parts []string
		for _, p := range rc.Message.Parts {
			if p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		return &a2a.HandlerResponse{Text: strings.Join(parts, " ")}, nil
	}, 1)

	srv, err := server.New(cfg, executor, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func logFormat(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "json"
	}
	return "text"
}
