package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"sync"
	"time"

	"storefront-personalization/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deduplicator 在時間窗內拒絕同一工作階段的相同請求
type Deduplicator struct {
	window time.Duration

	mu       sync.Mutex
	requests map[string]time.Time
}

// NewDeduplicator 創建去重器；window 為 0 時使用 1 秒
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = time.Second
	}
	return &Deduplicator{
		window:   window,
		requests: make(map[string]time.Time),
	}
}

// Middleware 請求去重中間件，僅處理 POST
func (d *Deduplicator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		bodyHash := ""
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				common.LogError("Failed to read request body", zap.Error(err))
				c.Next()
				return
			}
			hash := sha256.Sum256(body)
			bodyHash = hex.EncodeToString(hash[:])
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		fingerprint := c.GetHeader("X-Session-ID") + ":" + c.Request.URL.Path + ":" + bodyHash
		if !d.allow(fingerprint, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, common.ErrorResponse{
				Code:    common.ErrCodeTooManyRequests,
				Message: "request too frequent",
			})
			return
		}

		c.Next()
	}
}

func (d *Deduplicator) allow(fingerprint string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.requests[fingerprint]; ok && now.Sub(last) <= d.window {
		return false
	}
	d.requests[fingerprint] = now

	// 順便清理過期指紋
	if len(d.requests) > 1024 {
		for k, t := range d.requests {
			if now.Sub(t) > d.window {
				delete(d.requests, k)
			}
		}
	}
	return true
}
