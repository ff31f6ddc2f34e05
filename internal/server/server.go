// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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

	"github.com/authplane/authplane/internal/activity"
	"github.com/authplane/authplane/internal/auth"
	"github.com/authplane/authplane/internal/config"
	"github.com/authplane/authplane/internal/coupon"
	"github.com/authplane/authplane/internal/health"
	"github.com/authplane/authplane/internal/iam"
	"github.com/authplane/authplane/internal/logging"
	"github.com/authplane/authplane/internal/metrics"
	"github.com/authplane/authplane/internal/plan"
	"github.com/authplane/authplane/internal/ratelimit"
	"github.com/authplane/authplane/internal/security"
	"github.com/authplane/authplane/internal/tenant"
	"github.com/authplane/authplane/internal/traces"
	"github.com/authplane/authplane/internal/validation"
	"github.com/authplane/authplane/internal/webhook"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	iam          iam.Client
	authMgr      *auth.Manager
	tenants      tenant.Store
	coupons      *coupon.Service
	orchestrator *tenant.Orchestrator
	dispatcher   *webhook.Dispatcher
	emitter      *webhook.Emitter
	webhookStore webhook.Store
	recorder     *activity.Recorder
	activities   activity.Store
	healthReg    *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	traceStop    func(context.Context) error

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

// WithIAM sets a custom identity backend (for testing)
func WithIAM(client iam.Client) Option {
	return func(s *Server) {
		s.iam = client
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set iam/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		couponStore   coupon.Store
		authStore     auth.Store
		activityStore activity.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.tenants = tenant.NewPostgresStore(db)
		couponStore = coupon.NewPostgresStore(db)
		s.webhookStore = webhook.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		activityStore = activity.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.tenants = tenant.NewMemoryStore()
		couponStore = coupon.NewMemoryStore()
		s.webhookStore = webhook.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		activityStore = activity.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}
	s.activities = activityStore

	// Identity backend: real Keycloak admin API or the in-memory fake
	if s.iam == nil {
		if cfg.IAMURL != "" {
			s.iam = iam.NewKeycloak(cfg.IAMURL, cfg.IAMAdminUser, cfg.IAMAdminPassword, cfg.IAMTimeout)
			s.logger.Info("identity backend configured", "url", cfg.IAMURL)
		} else {
			s.iam = iam.NewFake()
			s.logger.Info("using in-memory identity backend (dev/demo)")
		}
	}

	// Operator authentication
	s.authMgr = auth.NewManager(authStore, cfg.JWTSecret)
	s.logger.Info("operator authentication enabled")

	// Coupons
	s.coupons = coupon.NewService(couponStore, s.logger)

	// Webhook delivery pipeline
	dispatcherCfg := webhook.DefaultDispatcherConfig()
	dispatcherCfg.Workers = cfg.WebhookWorkers
	dispatcherCfg.MaxAttempts = cfg.WebhookMaxAttempts
	s.dispatcher = webhook.NewDispatcher(s.webhookStore, dispatcherCfg, s.logger)
	s.emitter = webhook.NewEmitter(s.webhookStore, s.dispatcher, s.logger)
	s.logger.Info("webhook delivery enabled",
		"workers", dispatcherCfg.Workers,
		"max_attempts", dispatcherCfg.MaxAttempts,
	)

	// Tenant lifecycle orchestration
	s.orchestrator = tenant.NewOrchestrator(s.tenants, s.coupons, s.iam, s.webhookStore, s.emitter, s.logger)

	// Audit trail
	s.recorder = activity.NewRecorder(activityStore, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry(5 * time.Second)
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("iam", func(ctx context.Context) health.Status {
		if err := s.iam.Ping(ctx); err != nil {
			return health.Status{Name: "iam", Detail: err.Error()}
		}
		return health.Status{Name: "iam", Healthy: true}
	})

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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		if realm := c.Param("realm"); realm != "" {
			ctx = logging.WithRealm(ctx, realm)
		}
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

		// Log level based on status code
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
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	tenantHandler := tenant.NewHandler(s.orchestrator, s.tenants, s.iam)
	couponHandler := coupon.NewHandler(s.coupons)
	authHandler := auth.NewHandler(s.authMgr)
	webhookHandler := webhook.NewHandler(s.webhookStore, s.tierFor)
	activityHandler := activity.NewHandler(s.activities)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	authHandler.RegisterPublicRoutes(v1)
	tenantHandler.RegisterPublicRoutes(v1) // signup provisions a realm
	couponHandler.RegisterPublicRoutes(v1) // pre-signup coupon validation

	// PROTECTED ROUTES (operator token required)
	protected := v1.Group("")
	protected.Use(s.authMgr.Middleware())
	authHandler.RegisterProtectedRoutes(protected)

	// Tenant-scoped routes: operators may only touch their own realm,
	// admins may touch any. Mutations land in the audit trail.
	scoped := v1.Group("")
	scoped.Use(s.authMgr.Middleware(), auth.RequireRealm(), activity.Middleware(s.recorder))
	tenantHandler.RegisterProtectedRoutes(scoped)
	webhookHandler.RegisterRoutes(scoped)
	activityHandler.RegisterRoutes(scoped)

	// ADMIN ROUTES (coupon management, fleet dashboard)
	admin := v1.Group("/admin")
	admin.Use(s.authMgr.Middleware(), auth.RequireAdmin())
	couponHandler.RegisterAdminRoutes(admin)
	admin.GET("/dashboard", s.dashboardHandler)
}

// tierFor resolves a realm's current plan for webhook gating.
func (s *Server) tierFor(ctx context.Context, realm string) (plan.Plan, error) {
	t, err := s.tenants.Get(ctx, realm)
	if err != nil {
		return plan.Plan{}, err
	}
	return plan.Resolve(t.Tier)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	tiers := make([]gin.H, 0, len(plan.Catalogue))
	for _, p := range plan.Catalogue {
		tiers = append(tiers, gin.H{
			"tier":      p.Tier,
			"name":      p.Name,
			"price_usd": p.PriceUSD,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "Authplane",
		"description": "Tenant lifecycle and policy enforcement for hosted identity realms",
		"version":     "0.1.0",
		"plans":       tiers,
	})
}

// dashboardHandler returns a fleet summary for platform admins.
func (s *Server) dashboardHandler(c *gin.Context) {
	tenants, err := s.tenants.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list tenants",
		})
		return
	}

	byTier := make(map[string]int)
	byState := make(map[string]int)
	for _, t := range tenants {
		byTier[string(t.Tier)]++
		byState[string(t.State)]++
	}

	c.JSON(http.StatusOK, gin.H{
		"total_tenants": len(tenants),
		"by_tier":       byTier,
		"by_state":      byState,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no endpoint is configured)
	traceStop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.traceStop = traceStop
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start webhook delivery workers
	s.dispatcher.Start(runCtx)

	// Runtime metrics collection
	go metrics.CollectRuntime(runCtx, s.db, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Drain in-flight webhook deliveries
	if s.dispatcher != nil {
		s.dispatcher.Stop()
		s.logger.Info("webhook dispatcher stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.traceStop != nil {
		if err := s.traceStop(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
