package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graph8-com/g8browser/internal/agentclient"
	"github.com/graph8-com/g8browser/internal/config"
	"github.com/graph8-com/g8browser/internal/coordinator"
	"github.com/graph8-com/g8browser/internal/taskstore"
	"github.com/graph8-com/g8browser/internal/utils"
	"github.com/graph8-com/g8browser/internal/webhook"
)

// Server exposes the local control API: task submission and inspection,
// configuration, webhook testing, and Prometheus metrics.
type Server struct {
	facade    *coordinator.Facade
	store     *taskstore.Store
	configMgr *config.Manager
	webhooks  *webhook.Dispatcher
	client    *agentclient.Client

	engine     *gin.Engine
	httpServer *http.Server
	gatherer   prometheus.Gatherer

	startTime time.Time
	logger    *utils.Logger
}

// Options collects the collaborators the server routes to.
type Options struct {
	Facade    *coordinator.Facade
	Store     *taskstore.Store
	ConfigMgr *config.Manager
	Webhooks  *webhook.Dispatcher
	Client    *agentclient.Client
	Gatherer  prometheus.Gatherer
	Debug     bool
}

// New builds the HTTP server from the configured host and port.
func New(serverCfg config.ServerConfig, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if serverCfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		engine.Use(cors.New(corsConfig))
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		facade:    opts.Facade,
		store:     opts.Store,
		configMgr: opts.ConfigMgr,
		webhooks:  opts.Webhooks,
		client:    opts.Client,
		engine:    engine,
		gatherer:  gatherer,
		startTime: time.Now(),
		logger:    utils.NewComponentLogger("Server"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.Use(jsonMiddleware())

	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleCreateTask)
		tasks.GET("", s.handleListTasks)
		tasks.DELETE("", s.handleClearTasks)
		tasks.GET("/:id", s.handleGetTask)
		tasks.DELETE("/:id", s.handleDeleteTask)
		tasks.GET("/:id/outcome", s.handleTaskOutcome)
		tasks.POST("/:id/actions", s.handleReportAction)
		tasks.POST("/:id/complete", s.handleCompleteTask)
		tasks.POST("/:id/cancel", s.handleCancelTask)
	}

	cfg := api.Group("/config")
	{
		cfg.GET("", s.handleGetConfig)
		cfg.PUT("", s.handleUpdateConfig)
		cfg.POST("/reset", s.handleResetConfig)
	}

	api.POST("/webhook/test", s.handleWebhookTest)
	api.GET("/status", s.handleStatus)

	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("Starting control API on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping control API")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}

// jsonMiddleware rejects non-JSON bodies on mutating requests.
func jsonMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			contentType := c.ContentType()
			if contentType != "" && contentType != "application/json" {
				c.JSON(http.StatusUnsupportedMediaType, APIResponse{
					Success: false,
					Error:   "Content-Type must be application/json",
				})
				c.Abort()
				return
			}
		}
		c.Next()
	}
}
