package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront-personalization/internal/core/ingredient"
	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/core/session"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderSessionID 工作階段識別
	HeaderSessionID = "X-Session-ID"
	// HeaderViewID 同一工作階段內的面板識別，未提供時為 main
	HeaderViewID = "X-View-ID"

	defaultViewID = "main"
)

// SessionStore 工作階段資料來源
type SessionStore interface {
	Profile(ctx context.Context, sessionID string) (session.Profile, error)
	SetProfile(ctx context.Context, sessionID string, p session.Profile) error
	RecordView(ctx context.Context, sessionID, productID, category string) error
	Context(ctx context.Context, sessionID string) recommend.ResolveContext
	Favorites(ctx context.Context, userID string) (ingredient.FavoriteSet, error)
	SetFavorites(ctx context.Context, userID string, keys []string) error
}

// Handler 個人化 API 處理程序
type Handler struct {
	resolver   *recommend.Resolver
	views      *recommend.Views
	sessions   SessionStore
	likes      *like.Registry
	dispatcher *like.Dispatcher
}

// NewHandler 創建處理程序
func NewHandler(resolver *recommend.Resolver, views *recommend.Views, sessions SessionStore, likes *like.Registry, dispatcher *like.Dispatcher) *Handler {
	return &Handler{
		resolver:   resolver,
		views:      views,
		sessions:   sessions,
		likes:      likes,
		dispatcher: dispatcher,
	}
}

// sessionID 讀取必要的工作階段標頭
func sessionID(c *gin.Context) (string, error) {
	sid := strings.TrimSpace(c.GetHeader(HeaderSessionID))
	if sid == "" {
		return "", common.ErrInvalidRequest.Wrap(fmt.Errorf("%s header is required", HeaderSessionID))
	}
	return sid, nil
}

// viewKey 工作階段內的面板鍵
func viewKey(c *gin.Context, sid string) string {
	view := strings.TrimSpace(c.GetHeader(HeaderViewID))
	if view == "" {
		view = defaultViewID
	}
	return sid + ":" + view
}

// writeError 將錯誤轉為 {code, message} 回應
func writeError(c *gin.Context, err error) {
	ce := common.AsCustomError(err)
	_ = c.Error(err)

	fields := []zap.Field{
		zap.String("code", ce.Code),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", requestid.Get(c)),
		zap.Error(err),
	}
	if ce.Status >= 500 {
		common.LogError("request failed", fields...)
	} else {
		common.LogDebug("request rejected", fields...)
	}

	resp := common.ErrorResponse{Code: ce.Code, Message: ce.Message}
	if gin.Mode() == gin.DebugMode && ce.Err != nil {
		resp.Details = ce.Err.Error()
	}
	c.AbortWithStatusJSON(ce.Status, resp)
}

// bindError 請求格式錯誤
func bindError(c *gin.Context, err error) {
	var ce *common.CustomError
	if errors.As(err, &ce) {
		writeError(c, err)
		return
	}
	writeError(c, common.ErrInvalidRequest.Wrap(err))
}
