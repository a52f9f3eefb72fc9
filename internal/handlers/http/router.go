package http

import (
	"net/http"

	"voicerooms/internal/core/services"
	"voicerooms/internal/infrastructure/middleware"
	"voicerooms/pkg/config"
	"voicerooms/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Config      *config.Config
	Logger      *zap.SugaredLogger
	Requests    *logger.ContextLogger
	Auth        services.AuthService
	Rooms       *RoomHandler
	Preferences *PreferencesHandler
	Health      *HealthHandler
	// Gateway is nil when the websocket bridge is disabled.
	Gateway http.HandlerFunc
	// Metrics defaults to the default Prometheus gatherer.
	Metrics http.Handler
}

// NewRouter builds the admin API. Guild routes require an operator token
// when auth is enabled.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(middleware.TracingMiddleware())
	if deps.Requests != nil {
		router.Use(middleware.RequestLogMiddleware(deps.Requests))
	}
	router.Use(middleware.ErrorHandlerMiddleware(deps.Logger))

	router.GET("/health", deps.Health.Health)
	router.GET("/ready", deps.Health.Ready)

	if cfg.Monitoring.PrometheusEnabled {
		metrics := deps.Metrics
		if metrics == nil {
			metrics = promhttp.Handler()
		}
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(metrics))
	}

	if cfg.Gateway.Enabled && deps.Gateway != nil {
		router.GET(cfg.Gateway.Path, gin.WrapF(deps.Gateway))
	}

	api := router.Group("/api/v1")
	admin := api.Group("/admin")
	guild := api.Group("/guilds/:guild")
	if cfg.Auth.Enabled && deps.Auth != nil {
		admin.Use(middleware.AuthMiddleware(deps.Auth))
		guild.Use(middleware.AuthMiddleware(deps.Auth), middleware.GuildScopeMiddleware(deps.Auth))
	}
	rateLimit := middleware.NewHTTPRateLimitMiddleware(cfg)
	admin.Use(rateLimit)
	guild.Use(rateLimit)

	admin.POST("/reconcile", deps.Rooms.Reconcile)
	deps.Rooms.SetupRoutes(guild)
	deps.Preferences.SetupRoutes(guild)

	return router
}
