// Package main is the entry point for the featflow daemon.
// One binary runs the HTTP/WebSocket gateway, the orchestrator, and the
// embedded MCP server against a shared feature store and event bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/featflow/featflow/internal/agent/provider"
	"github.com/featflow/featflow/internal/agent/provider/claude"
	"github.com/featflow/featflow/internal/common/config"
	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events"
	"github.com/featflow/featflow/internal/feature/repository"
	"github.com/featflow/featflow/internal/mcpserver"
	"github.com/featflow/featflow/internal/orchestrator"
	"github.com/featflow/featflow/internal/server"
	"github.com/featflow/featflow/internal/tracing"
	"github.com/featflow/featflow/internal/worktree"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting featflow daemon...")

	if strings.ToLower(cfg.Logging.Level) != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 3. Root context, cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Event bus (in-memory unless NATS is configured)
	eventBus, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()
	if cfg.NATS.URL != "" {
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Using in-memory event bus")
	}

	// 5. Feature store
	store, closeStore, err := repository.Provide(cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize feature store", zap.Error(err))
	}
	defer closeStore()
	log.Info("Feature store initialized", zap.String("driver", cfg.Database.Driver))

	// 6. Agent providers
	providers := provider.NewRegistry()
	cli, err := claude.New(log)
	if err != nil {
		log.Fatal("Failed to load provider catalog", zap.Error(err))
	}
	providers.Register(cli)
	chrome, err := claude.NewChrome(log)
	if err != nil {
		log.Fatal("Failed to load provider catalog", zap.Error(err))
	}
	providers.Register(chrome)

	if status, err := cli.DetectInstallation(ctx); err == nil && status.Installed {
		log.Info("Claude Code CLI detected", zap.String("path", status.Path))
	} else {
		log.Warn("Claude Code CLI not found; feature starts will fail until it is installed")
	}

	// 7. Worktree manager and orchestrator
	worktrees := worktree.NewManager(log)
	orch := orchestrator.NewService(cfg.Orchestrator, cfg.Agent, store, providers, worktrees, eventBus, log)

	// 8. Gateway and embedded MCP server under one lifecycle group
	srv := server.New(cfg.Server, orch, store, eventBus, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Agent.McpServerEnabled {
		mcpSrv, stopMCP, err := mcpserver.Provide(gctx, mcpserver.Config{
			Port:      cfg.Agent.McpServerPort,
			DaemonURL: fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		}, log)
		if err != nil {
			log.Fatal("Failed to start MCP server", zap.Error(err))
		}
		log.Info("MCP server started",
			zap.String("sse_endpoint", mcpSrv.SSEEndpoint()),
			zap.String("streamable_http_endpoint", mcpSrv.StreamableHTTPEndpoint()))
		g.Go(func() error {
			<-gctx.Done()
			return stopMCP()
		})
	}

	log.Info("featflow ready",
		zap.String("addr", srv.Addr()),
		zap.String("websocket", "/ws"),
		zap.String("api", "/api/v1"))

	if err := g.Wait(); err != nil {
		log.Error("Daemon error", zap.Error(err))
	}

	// 9. Drain running sessions, then flush traces
	log.Info("Shutting down featflow...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := orch.Stop(shutdownCtx); err != nil {
		log.Error("Orchestrator stop error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("featflow stopped")
}
