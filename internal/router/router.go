package router

import (
	"aigateway/internal/config"
	"aigateway/internal/handler"
	"aigateway/internal/metrics"
	"aigateway/internal/middleware"

	"github.com/gin-gonic/gin"
)

func Setup(cfg *config.Config, app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.RequestMetrics())
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	ingress := middleware.NewRateLimiter(cfg.IngressRPS, cfg.IngressBurst)

	gatewayHandler := handler.NewGatewayHandler(app.Gateway, app.Usage, cfg.MaxRequestBodyBytes)
	adminHandler := handler.NewAdminHandler(app.Admin, app.CatalogSync)
	healthHandler := handler.NewHealthHandler(app.DB)

	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/v1")
	v1.Use(ingress.RateLimitByIP())
	v1.Use(middleware.KeyAuthMiddleware(app.Credentials))
	{
		v1.POST("/chat/completions", gatewayHandler.ChatCompletions)
		v1.GET("/models", gatewayHandler.ListModels)
		v1.GET("/usage", gatewayHandler.Usage)
	}

	admin := r.Group("/admin")
	admin.Use(ingress.RateLimitByIP())
	admin.Use(middleware.AdminAuthMiddleware(app.JWT))
	{
		quotas := admin.Group("/quotas")
		{
			quotas.POST("", adminHandler.IssueQuota)
			quotas.GET("/:id", adminHandler.GetQuota)
			quotas.DELETE("/:id", adminHandler.DeleteQuota)
			quotas.POST("/:id/restore", adminHandler.RestoreQuota)
			quotas.POST("/:id/reset", adminHandler.ResetQuota)
			quotas.POST("/:id/regenerate-key", adminHandler.RegenerateKey)
			quotas.GET("/:id/usage-records", adminHandler.ListUsageRecords)
			quotas.GET("/:id/logs", adminHandler.ListQuotaLogs)
		}

		alerts := admin.Group("/alerts")
		{
			alerts.GET("", adminHandler.ListAlerts)
			alerts.POST("/:id/resolve", adminHandler.ResolveAlert)
		}

		providers := admin.Group("/providers")
		{
			providers.POST("/sync", adminHandler.SyncAll)
			providers.POST("/:id/sync", adminHandler.SyncProvider)
			providers.POST("/:id/test", adminHandler.TestProvider)
		}
	}

	return r
}
