// Package server sets up the HTTP server with all routes: the A2A JSON-RPC
// endpoint, the agent card, health, metrics, and the realtime WebSocket.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/taskgate/internal/a2a"
	"github.com/mbd888/taskgate/internal/agentcard"
	"github.com/mbd888/taskgate/internal/authctx"
	"github.com/mbd888/taskgate/internal/config"
	"github.com/mbd888/taskgate/internal/facilitator"
	"github.com/mbd888/taskgate/internal/handler"
	"github.com/mbd888/taskgate/internal/health"
	"github.com/mbd888/taskgate/internal/idgen"
	"github.com/mbd888/taskgate/internal/logging"
	"github.com/mbd888/taskgate/internal/metrics"
	"github.com/mbd888/taskgate/internal/paywall"
	"github.com/mbd888/taskgate/internal/pushnotify"
	"github.com/mbd888/taskgate/internal/ratelimit"
	"github.com/mbd888/taskgate/internal/realtime"
	"github.com/mbd888/taskgate/internal/x402"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	controller *handler.Controller
	fac        facilitator.Client
	hub        *realtime.Hub
	db         *sql.DB // nil if using in-memory
	checks     *health.Registry
	limiter    *ratelimit.Limiter
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger

	cancelRunCtx context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithFacilitator sets a custom facilitator client (for testing)
func WithFacilitator(fac facilitator.Client) Option {
	return func(s *Server) {
		s.fac = fac
	}
}

// New creates a new server instance around the given agent executor.
func New(cfg *config.Config, executor a2a.AgentExecutor, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set facilitator/logger)
	for _, opt := range opts {
		opt(s)
	}

	if s.fac == nil {
		s.fac = facilitator.NewHTTPClient(cfg.FacilitatorURL, cfg.NvmAPIKey)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var taskStore a2a.Store
	var pushStore pushnotify.ConfigStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		taskStore = a2a.NewPostgresStore(db)
		pushStore = pushnotify.NewPostgresConfigStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		taskStore = a2a.NewMemoryStore()
		pushStore = pushnotify.NewMemoryConfigStore()
		s.logger.Info("using in-memory storage")
	}

	s.hub = realtime.NewHub(s.logger)

	s.checks = health.NewRegistry(5 * time.Second)
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) error {
			return s.db.PingContext(ctx)
		})
	}

	s.limiter = ratelimit.New(ratelimit.DefaultConfig())

	planFetcher, _ := s.fac.(x402.PlanFetcher)
	if planFetcher == nil {
		planFetcher = nullPlanFetcher{}
	}
	resolver := x402.NewResolver(planFetcher, s.logger)
	validator := paywall.NewValidator(s.fac, resolver,
		cfg.AgentID, cfg.AgentDescription, cfg.PlanIDs, s.logger)

	engine := a2a.NewEngine(executor, taskStore, s.logger)
	s.controller = handler.NewController(
		engine, validator, s.fac,
		authctx.NewStore(), pushStore,
		pushnotify.NewNotifier(s.logger),
		cfg.AgentID, cfg.AgentDescription,
		s.logger,
		handler.WithHub(s.hub),
		handler.WithDefaultBlocking(!cfg.AsyncExecution),
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// nullPlanFetcher is used when the facilitator client cannot look up plans
// (e.g. a test double); every plan resolves to the default scheme.
type nullPlanFetcher struct{}

func (nullPlanFetcher) GetPlan(context.Context, string) (*x402.PlanMetadata, error) {
	return nil, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Prometheus metrics
	s.router.Use(metrics.GinMiddleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Per-client rate limiting
	s.router.Use(s.limiter.Middleware())

	// Payment credentials capture
	s.router.Use(paywall.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
		}

		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Agent card discovery
	s.router.GET("/.well-known/agent.json", s.agentCardHandler)

	// A2A JSON-RPC endpoint
	s.router.POST("/a2a", s.rpcHandler)
	s.router.POST("/", s.rpcHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	report := s.checks.Run(c.Request.Context())
	if !report.Healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "checks": report.Checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": report.Checks})
}

func (s *Server) agentCardHandler(c *gin.Context) {
	card := agentcard.Card{
		Name:               s.cfg.AgentName,
		Description:        s.cfg.AgentDescription,
		URL:                s.cfg.AgentURL,
		Version:            "1.0.0",
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Capabilities: agentcard.Capabilities{
			Streaming:         true,
			PushNotifications: true,
			Extensions: []agentcard.Extension{{
				URI:      agentcard.PaymentExtensionURI,
				Required: true,
				Params: agentcard.ExtensionParams{
					AgentID: s.cfg.AgentID,
					PlanIDs: s.cfg.PlanIDs,
				},
			}},
		},
	}
	c.JSON(http.StatusOK, card)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      0, // streaming responses manage their own deadlines
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"agent_id", s.cfg.AgentID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler { return s.router }
