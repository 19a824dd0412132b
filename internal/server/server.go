package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/featflow/featflow/internal/common/config"
	"github.com/featflow/featflow/internal/common/httpmw"
	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events/bus"
	"github.com/featflow/featflow/internal/feature"
	ws "github.com/featflow/featflow/pkg/websocket"
)

const shutdownTimeout = 30 * time.Second

// Server bundles the gin engine, the HTTP listener, and the WebSocket hub
type Server struct {
	cfg      config.ServerConfig
	engine   *gin.Engine
	http     *http.Server
	hub      *Hub
	eventBus bus.EventBus
	logger   *logger.Logger
}

// New assembles the gateway: middleware, API routes, and the /ws endpoint.
// The event broadcaster attaches to the bus when Run starts.
func New(cfg config.ServerConfig, orch Orchestrator, store feature.Store, eventBus bus.EventBus, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}

	hub := NewHub(log)
	if orch != nil {
		hub.SetReplayProvider(replayFromSessions(orch))
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.CORS())
	engine.Use(httpmw.RequestLogger(log, "gateway"))
	engine.Use(httpmw.OtelTracing("gateway"))

	handler := NewHandler(orch, store, eventBus, log)
	wsHandler := NewWSHandler(hub, log)
	registerRoutes(engine, handler, wsHandler)

	return &Server{
		cfg:    cfg,
		engine: engine,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      engine,
			ReadTimeout:  cfg.ReadTimeoutDuration(),
			WriteTimeout: cfg.WriteTimeoutDuration(),
		},
		hub:      hub,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "server")),
	}
}

// registerRoutes wires the REST API and the WebSocket endpoint
func registerRoutes(engine *gin.Engine, h *Handler, wsh *WSHandler) {
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "featflow"})
	})
	engine.GET("/ws", wsh.HandleConnection)

	api := engine.Group("/api/v1")
	{
		features := api.Group("/features")
		{
			features.POST("", h.CreateFeature)
			features.GET("", h.ListFeatures)
			features.GET("/:id", h.GetFeature)
			features.PATCH("/:id", h.UpdateFeature)
			features.GET("/:id/context", h.GetFeatureContext)
			features.POST("/:id/start", h.StartFeature)
			features.POST("/:id/interrupt", h.InterruptFeature)
			features.POST("/:id/continue", h.ContinueFeature)
		}

		orch := api.Group("/orchestrator")
		{
			orch.GET("/status", h.GetOrchestratorStatus)
			orch.PUT("/concurrency", h.SetConcurrency)
		}
	}
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.http.Addr
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. The
// WebSocket hub and the event broadcaster live for the duration of the call.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go s.hub.Run(hubCtx)
	RegisterEventBroadcaster(hubCtx, s.eventBus, s.hub, s.logger)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// replayFromSessions builds the catch-up messages sent on subscription from
// the live session's recent output ring.
func replayFromSessions(orch Orchestrator) ReplayProvider {
	return func(ctx context.Context, featureID string) []*ws.Message {
		sess, ok := orch.Session(featureID)
		if !ok {
			return nil
		}
		lines := sess.RecentOutput()
		if len(lines) == 0 {
			return nil
		}
		msg, err := ws.NewNotification(ws.ActionSessionStream, map[string]any{
			"feature_id":   featureID,
			"message_type": "replay",
			"lines":        lines,
		})
		if err != nil {
			return nil
		}
		return []*ws.Message{msg}
	}
}
