package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sellerwatch/crawl-cloud/internal/api/middleware"
	"github.com/sellerwatch/crawl-cloud/internal/config"
	"github.com/sellerwatch/crawl-cloud/internal/domain/schedule"
	"github.com/sellerwatch/crawl-cloud/internal/orchestrator"
)

type Router struct {
	engine    *gin.Engine
	server    *http.Server
	cfg       *config.Config
	svc       *orchestrator.Service
	schedules schedule.Repository
	finalizer *orchestrator.Finalizer
	reaper    *orchestrator.Reaper
	retention *orchestrator.Retention
	logger    *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	svc *orchestrator.Service,
	schedules schedule.Repository,
	finalizer *orchestrator.Finalizer,
	reaper *orchestrator.Reaper,
	retention *orchestrator.Retention,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Add recovery middleware
	r.Use(gin.Recovery())

	// Add custom middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:    r,
		cfg:       cfg,
		svc:       svc,
		schedules: schedules,
		finalizer: finalizer,
		reaper:    reaper,
		retention: retention,
		logger:    logger,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	// Simple health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": r.cfg.AppVersion})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api")
	{
		api.POST("/sellers/:seller_id/schedule", r.CreateSchedule)
		api.PUT("/sellers/:seller_id/schedule", r.UpdateSchedule)
		api.DELETE("/sellers/:seller_id/schedule", r.DisableSchedule)
		api.GET("/sellers/:seller_id/schedule", r.GetSchedule)

		api.GET("/operations/:op_id", r.GetOperation)
		api.GET("/operations", r.GetOperationByKey)
	}

	// Admin Routes (Protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.POST("/sweep/finalizer", r.SweepFinalizer)
		admin.POST("/sweep/reaper", r.SweepReaper)
		admin.POST("/sweep/retention", r.SweepRetention)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
