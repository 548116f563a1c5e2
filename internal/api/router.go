package api

import (
	"fmt"
	"time"

	"storefront-personalization/internal/api/handlers"
	"storefront-personalization/internal/api/handlers/health"
	"storefront-personalization/internal/api/middleware"
	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// 單一請求逾時，包含所有後端往返
	timeoutDuration = 15 * time.Second
	// 請求體大小限制 (1MB)
	maxBodySize = 1 << 20
)

// Deps 路由所需的服務
type Deps struct {
	Resolver   *recommend.Resolver
	Views      *recommend.Views
	Cache      *recommend.Cache
	Sessions   handlers.SessionStore
	Redis      health.Pinger
	Likes      *like.Registry
	Dispatcher *like.Dispatcher
}

func (d Deps) validate() error {
	switch {
	case d.Resolver == nil:
		return fmt.Errorf("resolver is required")
	case d.Views == nil:
		return fmt.Errorf("views registry is required")
	case d.Sessions == nil:
		return fmt.Errorf("session store is required")
	case d.Likes == nil:
		return fmt.Errorf("like registry is required")
	case d.Dispatcher == nil:
		return fmt.Errorf("like dispatcher is required")
	}
	return nil
}

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, deps Deps) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("failed to setup router: %w", err)
	}

	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New(requestid.WithGenerator(common.GenerateUUID)))
	router.Use(middleware.RequestContext(timeoutDuration))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", handlers.HeaderSessionID, handlers.HeaderViewID},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 健康檢查與指標不受限流影響
	healthHandler := health.NewHandler(cfg.App.Version, deps.Redis, deps.Dispatcher, deps.Cache)
	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := handlers.NewHandler(deps.Resolver, deps.Views, deps.Sessions, deps.Likes, deps.Dispatcher)
	dedup := middleware.NewDeduplicator(cfg.DedupWindow)

	api := router.Group("/api/v1")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}
	{
		api.GET("/recommendations", h.HandleRecommendations)

		sessionGroup := api.Group("/sessions")
		{
			sessionGroup.GET("", h.HandleGetSession)
			sessionGroup.POST("/views", dedup.Middleware(), h.HandleRecordView)
			sessionGroup.PUT("/profile", h.HandleSetProfile)
			sessionGroup.PUT("/favorites", h.HandleSetFavorites)
		}

		likeGroup := api.Group("/likes")
		{
			likeGroup.GET("", h.HandleGetLikes)
			likeGroup.POST("/visible", h.HandleShowLikes)
			likeGroup.DELETE("/visible", h.HandleHideLikes)
			likeGroup.POST("/:productId/toggle", h.HandleToggleLike)
		}

		api.POST("/ingredients/classify", h.HandleClassify)
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("cache_enabled", deps.Cache != nil),
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router, nil
}
