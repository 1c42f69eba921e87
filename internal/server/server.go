// Package server exposes the HTTP API: agent listings, manual run triggers,
// run history, scheduler control, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"briefer/internal/agent"
	"briefer/internal/ident"
	"briefer/internal/logging"
	"briefer/internal/runner"
	"briefer/internal/runstore"
	"briefer/internal/scheduler"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Deps are the collaborators the API serves.
type Deps struct {
	Registry  *agent.Registry
	Store     *runstore.Store
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler
	Logger    logging.Logger
}

// Server wraps the gin engine and the underlying http.Server.
type Server struct {
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
	startTime  time.Time
}

// New builds the router and binds it to addr.
func New(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	s := &Server{
		deps:      deps,
		engine:    engine,
		logger:    logging.OrNop(deps.Logger),
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)

	agents := api.Group("/agents")
	{
		agents.GET("", s.handleListAgents)
		agents.GET("/:id", s.handleGetAgent)
		agents.GET("/:id/config", s.handleGetAgentConfig)
		agents.POST("/:id/run", s.handleTriggerRun)
		agents.GET("/:id/runs", s.handleListRuns)
		agents.GET("/:id/runs/:run_id", s.handleGetRun)
		agents.GET("/:id/runs/:run_id/report", s.handleGetReport)
	}

	api.GET("/scheduler/status", s.handleSchedulerStatus)
	api.POST("/scheduler/reload", s.handleSchedulerReload)

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// requestID tags every response for log correlation, honoring an id the
// client already carries.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = ident.NewRequestID()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
