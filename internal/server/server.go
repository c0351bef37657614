package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/service"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Scheduler  *service.SchedulerService
	Retry      *service.RetryService
	ABTests    *service.ABTestService
	History    *service.HistoryService
	Dispatcher *service.Dispatcher
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	scheduler := service.NewSchedulerService(&cfg.Scheduler, logger)
	retry := service.NewRetryService(&cfg.Retry, logger)
	abtests := service.NewABTestService(logger)
	history := service.NewHistoryService(db, logger)
	dispatcher := service.NewDispatcher(&cfg.Dispatcher, logger, scheduler, retry, history)

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config:     cfg,
		DB:         db,
		Router:     router,
		Logger:     logger,
		Scheduler:  scheduler,
		Retry:      retry,
		ABTests:    abtests,
		History:    history,
		Dispatcher: dispatcher,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		// Scheduling routes
		publications := api.Group("/publications")
		{
			publications.POST("", s.handleSchedulePublication)
			publications.GET("/upcoming", s.handleGetUpcoming)
			publications.DELETE("/:id", s.handleCancelScheduled)
		}
		api.GET("/channels/:channel/slots", s.handleGetOptimalSlots)

		// Retry routes
		failures := api.Group("/failures")
		{
			failures.GET("", s.handleGetFailures)
			failures.POST("/retry", s.handleRetryFailed)
		}
		api.GET("/alerts", s.handleGetAlerts)

		// A/B test routes
		abtests := api.Group("/abtests")
		{
			abtests.POST("", s.handleCreateTest)
			abtests.GET("/:id", s.handleGetTest)
			abtests.POST("/:id/metrics", s.handleRecordMetric)
			abtests.POST("/:id/analyze", s.handleAnalyzeResults)
		}

		// Stats routes
		api.GET("/stats/channels", s.handleGetChannelStats)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start dispatcher
	if err := s.Dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop dispatcher first
	s.Dispatcher.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
