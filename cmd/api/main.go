package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-personalization/internal/api"
	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/core/session"
	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/tracing"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 載入 .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	// 載入設定
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	common.LogInfo("config loaded",
		zap.String("backend_base_url", cfg.Backend.BaseURL),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Int("display_count", cfg.Recommend.DisplayCount),
	)

	// 追蹤，未啟用匯出時仍傳遞 trace context 給後端
	tp, err := tracing.InitTracer(context.Background(), cfg.App, cfg.Tracing)
	if err != nil {
		common.LogError("Failed to initialize tracer", zap.Error(err))
		os.Exit(1)
	}

	// 後端客戶端
	client := catalog.NewClient(cfg.Backend)
	defer client.Close()

	// 推薦快取，關閉時為 nil
	cache := recommend.NewCache(cfg.Cache, cfg.Recommend.CacheTTL)
	defer cache.Close()

	resolver := recommend.NewResolver(client, cache, cfg.Recommend.DisplayCount)

	// 工作階段儲存
	store := session.NewRedisStore(cfg.Redis)
	defer store.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		common.LogWarn("redis unreachable at startup, sessions will degrade",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}
	pingCancel()

	// 收藏狀態與派送
	registry := like.NewRegistry(like.NewState(), client, like.NewNotifier(), cfg.Like.SeedConcurrency)
	registry.StartSweeper(cfg.Like.IdleTTL, cfg.Like.SweepInterval)
	dispatcher := like.NewDispatcher(cfg.Like)

	// 設置路由
	router, err := api.SetupRouter(cfg, api.Deps{
		Resolver:   resolver,
		Views:      recommend.NewViews(),
		Cache:      cache,
		Sessions:   store,
		Redis:      store,
		Likes:      registry,
		Dispatcher: dispatcher,
	})
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}

	// 設置 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		common.LogInfo("starting application",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
			zap.Int("port", cfg.Server.Port),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.LogError("Failed to start server",
				zap.Error(err),
			)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("shutting down server...")

	// 設置關閉超時
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.LogError("Server forced to shutdown",
			zap.Error(err),
		)
	}

	// 先排空派送佇列，再讓所有面板失效
	dispatcher.Close()
	registry.CloseAll()

	if err := tracing.Shutdown(ctx, tp); err != nil {
		common.LogError("Failed to shutdown tracer", zap.Error(err))
	}

	common.LogInfo("server exited")
}
