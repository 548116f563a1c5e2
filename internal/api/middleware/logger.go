package middleware

import (
	"context"
	"time"

	"storefront-personalization/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Logger 日誌中間件
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
			zap.String("request_id", requestid.Get(c)),
		}
		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			fields = append(fields, zap.String("session_id", sessionID))
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		// 根據狀態碼記錄不同級別的日誌
		switch {
		case status >= 500:
			common.LogError("server error",
				append(fields, zap.String("error_type", "server_error"))...,
			)
		case status >= 400:
			common.LogWarn("client error",
				append(fields, zap.String("error_type", "client_error"))...,
			)
		default:
			common.LogInfo("request completed", fields...)
		}
	}
}

// Recovery 恢復中間件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				common.LogError("Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.AbortWithStatusJSON(500, common.ErrorResponse{
					Code:    common.ErrCodeInternalError,
					Message: "internal server error",
				})
			}
		}()

		c.Next()
	}
}

// RequestContext 將請求 ID 放入 context 並套用逾時
func RequestContext(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := common.WithRequestID(c.Request.Context(), requestid.Get(c))
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
