package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"trade-mentor-server/config"
	"trade-mentor-server/internal/auth"
	"trade-mentor-server/internal/database"
	"trade-mentor-server/internal/detector"
	"trade-mentor-server/internal/distribution"
	"trade-mentor-server/internal/events"
	"trade-mentor-server/internal/logging"
	"trade-mentor-server/internal/pricebridge"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	repo        *database.Repository // nil when persistence is disabled
	eventBus    *events.EventBus
	detector    *detector.Detector
	bridge      *pricebridge.Bridge
	hub         *distribution.Hub
	distributor *distribution.Distributor
	jwtManager  *auth.JWTManager
	authEnabled bool
	rateLimiter *RateLimiter
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	repo *database.Repository, // Can be nil if persistence is disabled
	eventBus *events.EventBus,
	det *detector.Detector,
	bridge *pricebridge.Bridge,
	hub *distribution.Hub,
	distributor *distribution.Distributor,
	jwtManager *auth.JWTManager, // Can be nil if auth is disabled
	productionMode bool,
) *Server {
	if productionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(traceMiddleware())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 120
	}

	server := &Server{
		router:      router,
		config:      cfg,
		repo:        repo,
		eventBus:    eventBus,
		detector:    det,
		bridge:      bridge,
		hub:         hub,
		distributor: distributor,
		jwtManager:  jwtManager,
		authEnabled: jwtManager != nil,
		rateLimiter: NewRateLimiter(limit, time.Minute),
	}

	server.setupRoutes()

	return server
}

func splitOrigins(origins string) []string {
	if origins == "" {
		return []string{"http://localhost:5173", "http://localhost:8088"}
	}
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// traceMiddleware threads a trace ID through the request context so handler
// logs can be correlated; inbound X-Trace-ID headers are honored
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = logging.GenerateTraceID()
		}
		c.Request = c.Request.WithContext(logging.NewContext(c.Request.Context(), traceID))
		c.Header("X-Trace-ID", traceID)
		c.Next()
	}
}

// rateLimitMiddleware creates a middleware that rate limits requests by endpoint
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	// Read-only endpoints that serve in-memory state - no rate limiting needed
	noRateLimitPaths := map[string]bool{
		"/api/detector/status": true,
		"/api/setups":          true,
		"/api/setups/:symbol":  true,
		"/api/stream/mode":     true,
		"/api/stream/stats":    true,
		"/api/watchlist":       true,
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if noRateLimitPaths[path] {
			c.Next()
			return
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint. Please slow down.",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Auth status endpoint (always available, returns whether auth is enabled)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"auth_enabled": s.authEnabled,
		})
	})

	// API routes (protected when auth is enabled)
	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())

	if s.authEnabled {
		api.Use(auth.Middleware(s.jwtManager))
	}

	{
		// Detector endpoints
		api.GET("/detector/status", s.handleDetectorStatus)
		api.POST("/detector/start", s.handleStartDetector)
		api.POST("/detector/stop", s.handleStopDetector)
		api.POST("/detector/analyze/:symbol", s.handleAnalyzeSymbol)

		// Watchlist endpoints
		api.GET("/watchlist", s.handleGetWatchlist)
		api.POST("/watchlist", s.handleAddToWatchlist)
		api.DELETE("/watchlist/:symbol", s.handleRemoveFromWatchlist)

		// Setup endpoints
		api.GET("/setups", s.handleGetSetups)
		api.GET("/setups/:symbol", s.handleGetSetup)
		api.GET("/setups/:symbol/history", s.handleGetSetupHistory)

		// Stream endpoints (price fan-out subscriptions)
		api.GET("/stream/mode", s.handleGetBroadcastMode)
		api.GET("/stream/stats", s.handleGetStreamStats)
		api.POST("/stream/subscribe", s.handleSubscribeSymbol)
		api.POST("/stream/unsubscribe", s.handleUnsubscribeSymbol)
	}

	// Admin endpoints (requires admin role)
	admin := api.Group("/admin")
	if s.authEnabled {
		admin.Use(auth.RequireAdmin())
	}
	{
		admin.POST("/alert", s.handleAdminAlert)
		admin.POST("/gamma", s.handleSetGammaFlip)
	}

	// WebSocket endpoint (authenticated event stream). OptionalMiddleware
	// honors Authorization headers; browser clients fall back to the query
	// param token inside AuthenticatedWSHandler.
	if s.authEnabled {
		s.router.GET("/ws", auth.OptionalMiddleware(s.jwtManager), AuthenticatedWSHandler(s))
	} else {
		s.router.GET("/ws", AuthenticatedWSHandler(s))
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout := time.Duration(s.config.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.config.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	var err error
	if s.config.TLSEnabled {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":         "healthy",
		"broadcast_mode": string(s.distributor.Mode()),
		"uptime":         time.Now().Format(time.RFC3339),
	}

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.repo.HealthCheck(ctx); err != nil {
			resp["status"] = "unhealthy"
			resp["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "healthy"
	}

	c.JSON(http.StatusOK, resp)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// getUserID returns the user ID from the context, or a fixed ID when auth
// is disabled so single-user deployments still get per-user routing
func (s *Server) getUserID(c *gin.Context) string {
	if !s.authEnabled {
		return "00000000-0000-0000-0000-000000000000"
	}
	return auth.GetUserID(c)
}
