package handlers

import (
	"errors"
	"net/http"

	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/core/session"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-gonic/gin"
)

// RecordViewRequest 記錄商品瀏覽
type RecordViewRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Category  string `json:"category"`
}

// ProfileRequest 設定工作階段的使用者與膚質
type ProfileRequest struct {
	UserID   string `json:"userId"`
	SkinType string `json:"skinType" binding:"omitempty,oneof=dry oily combination sensitive normal none"`
}

// FavoritesRequest 設定收藏成分
type FavoritesRequest struct {
	Favorites []string `json:"favorites" binding:"max=200"`
}

// SessionResponse 工作階段內容
type SessionResponse struct {
	UserID         string                 `json:"userId"`
	SkinType       recommend.SkinType     `json:"skinType"`
	RecentlyViewed []recommend.ViewedItem `json:"recentlyViewed"`
}

// HandleGetSession GET /api/v1/sessions
func (h *Handler) HandleGetSession(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	rc := h.sessions.Context(c.Request.Context(), sid)
	recent := rc.RecentlyViewed
	if recent == nil {
		recent = []recommend.ViewedItem{}
	}
	c.JSON(http.StatusOK, SessionResponse{
		UserID:         rc.UserID,
		SkinType:       rc.SkinType,
		RecentlyViewed: recent,
	})
}

// HandleRecordView POST /api/v1/sessions/views
func (h *Handler) HandleRecordView(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req RecordViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if err := h.sessions.RecordView(c.Request.Context(), sid, req.ProductID, req.Category); err != nil {
		writeError(c, storeError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleSetProfile PUT /api/v1/sessions/profile
func (h *Handler) HandleSetProfile(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	profile := session.Profile{
		UserID:   req.UserID,
		SkinType: recommend.ParseSkinType(req.SkinType),
	}
	if err := h.sessions.SetProfile(c.Request.Context(), sid, profile); err != nil {
		writeError(c, storeError(err))
		return
	}

	// 進行中的推薦是以舊資料計算的
	h.views.Invalidate(viewKey(c, sid))
	c.JSON(http.StatusOK, profile)
}

// HandleSetFavorites PUT /api/v1/sessions/favorites
func (h *Handler) HandleSetFavorites(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req FavoritesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	profile, err := h.sessions.Profile(ctx, sid)
	if err != nil {
		writeError(c, storeError(err))
		return
	}
	if profile.UserID == "" {
		writeError(c, common.ErrAuthRequired)
		return
	}

	if err := h.sessions.SetFavorites(ctx, profile.UserID, req.Favorites); err != nil {
		writeError(c, storeError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// storeError 非預期的儲存錯誤歸類為服務暫不可用
func storeError(err error) error {
	var ce *common.CustomError
	if errors.As(err, &ce) {
		return err
	}
	return common.ErrServiceUnavailable.Wrap(err)
}
