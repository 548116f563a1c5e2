package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"storefront-personalization/internal/core/like"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxDisplayCount 單次推薦數量上限
const maxDisplayCount = 24

// RecommendationsResponse 推薦面板內容
type RecommendationsResponse struct {
	Strategy recommend.Strategy      `json:"strategy"`
	Empty    bool                    `json:"empty"`
	Cards    []recommend.ProductCard `json:"cards"`
	Likes    map[string]like.Entry   `json:"likes"`
}

// HandleRecommendations GET /api/v1/recommendations
func (h *Handler) HandleRecommendations(c *gin.Context) {
	sid, err := sessionID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	count := 0
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxDisplayCount {
			writeError(c, common.ErrInvalidRequest.Wrap(fmt.Errorf("count must be between 1 and %d", maxDisplayCount)))
			return
		}
		count = n
	}

	ctx := c.Request.Context()
	rc := h.sessions.Context(ctx, sid)
	rc.DisplayCount = count

	key := viewKey(c, sid)
	view := h.views.Acquire(key)
	defer h.views.Release(key, view)

	result, err := h.resolver.ResolveFor(ctx, view, rc)
	if err != nil {
		writeError(c, err)
		return
	}

	// 佔位卡不進入收藏狀態
	states, err := h.attachLikes(c, key, sid, view, result.ProductIDs())
	if err != nil {
		writeError(c, err)
		return
	}
	for i := range result.Cards {
		if s, ok := states[result.Cards[i].ID]; ok {
			result.Cards[i].Liked = s.Liked
		}
	}

	c.JSON(http.StatusOK, RecommendationsResponse{
		Strategy: result.Strategy,
		Empty:    result.Empty,
		Cards:    result.Cards,
		Likes:    states,
	})
}

// attachLikes 以面板協調器取得收藏狀態。面板已卸載時回傳 ErrStaleView；
// 工作階段讀取失敗時不附加狀態，也不以匿名身分取代原本的協調器
func (h *Handler) attachLikes(c *gin.Context, key, sid string, view *recommend.View, productIDs []string) (map[string]like.Entry, error) {
	ctx := c.Request.Context()
	profile, err := h.sessions.Profile(ctx, sid)
	if err != nil {
		common.LogWarn("session profile unavailable, skipping like state",
			zap.String("session_id", sid),
			zap.Error(err),
		)
		return map[string]like.Entry{}, nil
	}

	coord, ok := h.likes.OpenIf(key, profile.UserID, view.Active)
	if !ok {
		return nil, common.ErrStaleView
	}
	states, err := coord.Replace(ctx, productIDs)
	switch {
	case errors.Is(err, common.ErrStaleView):
		return nil, err
	case err != nil:
		common.LogWarn("failed to attach like state",
			zap.String("session_id", sid),
			zap.Error(err),
		)
		return map[string]like.Entry{}, nil
	}
	return states, nil
}
