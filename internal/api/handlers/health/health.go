package health

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger 外部依賴的連線檢查
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueReporter 收藏派送佇列狀態
type QueueReporter interface {
	Status() *like.Status
}

// CacheReporter 推薦快取統計
type CacheReporter interface {
	Stats() map[string]interface{}
}

// HealthResponse 健康檢查響應
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime"`
	Queue     *like.Status           `json:"queue,omitempty"`
	Cache     map[string]interface{} `json:"cache,omitempty"`
}

// Handler 健康檢查處理器
type Handler struct {
	version string
	redis   Pinger
	queue   QueueReporter
	cache   CacheReporter
}

// NewHandler 創建健康檢查處理器；任何依賴皆可為 nil
func NewHandler(version string, redis Pinger, queue QueueReporter, cache CacheReporter) *Handler {
	return &Handler{
		version: version,
		redis:   redis,
		queue:   queue,
		cache:   cache,
	}
}

// HealthCheck GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Runtime: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory": map[string]interface{}{
				"alloc":       m.Alloc,
				"total_alloc": m.TotalAlloc,
				"sys":         m.Sys,
				"num_gc":      m.NumGC,
			},
		},
	}
	if h.queue != nil {
		response.Queue = h.queue.Status()
	}
	if h.cache != nil {
		response.Cache = h.cache.Stats()
	}

	common.LogDebug("Health check request",
		zap.String("client_ip", c.ClientIP()),
		zap.String("path", c.Request.URL.Path),
	)

	c.JSON(http.StatusOK, response)
}

// ReadinessCheck GET /ready，Redis 無法連線時回傳 503
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := h.redis.Ping(ctx); err != nil {
			common.LogWarn("readiness check failed", zap.String("dependency", "redis"), zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"redis":  "unreachable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// LivenessCheck GET /live
func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}
