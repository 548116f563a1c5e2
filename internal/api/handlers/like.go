package handlers

import (
	"net/http"

	"storefront-personalization/internal/core/like"

	"github.com/gin-gonic/gin"
)

// VisibleRequest 面板上可見的商品
type VisibleRequest struct {
	ProductIDs []string `json:"productIds" binding:"max=200,dive,required"`
}

// LikesResponse 收藏狀態與待讀通知
type LikesResponse struct {
	States        map[string]like.Entry `json:"states"`
	Notifications []like.Notification   `json:"notifications"`
}

// ToggleResponse 樂觀切換後的狀態
type ToggleResponse struct {
	ProductID string `json:"productId"`
	Liked     bool   `json:"liked"`
	Pending   bool   `json:"pending"`
}

// openCoordinator 依工作階段的使用者取得面板協調器
func (h *Handler) openCoordinator(c *gin.Context) (*like.Coordinator, string, error) {
	sid, err := sessionID(c)
	if err != nil {
		return nil, "", err
	}
	profile, err := h.sessions.Profile(c.Request.Context(), sid)
	if err != nil {
		return nil, "", storeError(err)
	}
	return h.likes.Open(viewKey(c, sid), profile.UserID), profile.UserID, nil
}

// HandleShowLikes POST /api/v1/likes/visible
func (h *Handler) HandleShowLikes(c *gin.Context) {
	var req VisibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	coord, _, err := h.openCoordinator(c)
	if err != nil {
		writeError(c, err)
		return
	}

	states, err := coord.Show(c.Request.Context(), req.ProductIDs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states})
}

// HandleHideLikes DELETE /api/v1/likes/visible；未指定商品時卸載整個面板
func (h *Handler) HandleHideLikes(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req VisibleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	key := viewKey(c, sid)
	if len(req.ProductIDs) == 0 {
		// 先卸載面板，進行中的推薦不會再開啟協調器
		h.views.Close(key)
		h.likes.Close(key)
		c.Status(http.StatusNoContent)
		return
	}
	if coord, ok := h.likes.Get(key); ok {
		coord.Hide(req.ProductIDs)
	}
	c.Status(http.StatusNoContent)
}

// HandleToggleLike POST /api/v1/likes/:productId/toggle
func (h *Handler) HandleToggleLike(c *gin.Context) {
	coord, _, err := h.openCoordinator(c)
	if err != nil {
		writeError(c, err)
		return
	}

	productID := c.Param("productId")
	t, err := coord.Begin(productID)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.dispatcher.Submit(coord, t); err != nil {
		coord.Abort(t)
		writeError(c, err)
		return
	}

	entry, _ := coord.Get(productID)
	c.JSON(http.StatusAccepted, ToggleResponse{
		ProductID: productID,
		Liked:     entry.Liked,
		Pending:   entry.Pending,
	})
}

// HandleGetLikes GET /api/v1/likes
func (h *Handler) HandleGetLikes(c *gin.Context) {
	coord, userID, err := h.openCoordinator(c)
	if err != nil {
		writeError(c, err)
		return
	}

	notes := []like.Notification{}
	if userID != "" {
		notes = h.likes.Notifications(userID)
	}
	c.JSON(http.StatusOK, LikesResponse{
		States:        coord.States(),
		Notifications: notes,
	})
}
