package handlers

import (
	"net/http"
	"strings"

	"storefront-personalization/internal/core/ingredient"
	"storefront-personalization/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ClassifyRequest 成分分類請求；未提供 favorites 時使用工作階段使用者的收藏
type ClassifyRequest struct {
	Ingredients []ingredient.Record `json:"ingredients" binding:"max=500"`
	Favorites   *[]string           `json:"favorites"`
}

// ClassifyResponse 分類結果與安全狀態
type ClassifyResponse struct {
	ingredient.Classified
	AllergenStatus ingredient.Status `json:"allergenStatus"`
	CautionStatus  ingredient.Status `json:"cautionStatus"`
}

// HandleClassify POST /api/v1/ingredients/classify
func (h *Handler) HandleClassify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	favorites := ingredient.NewFavoriteSet()
	if req.Favorites != nil {
		favorites = ingredient.NewFavoriteSet(*req.Favorites...)
	} else if sid := strings.TrimSpace(c.GetHeader(HeaderSessionID)); sid != "" {
		favorites = h.sessionFavorites(c, sid)
	}

	result := ingredient.Classify(req.Ingredients, favorites)
	c.JSON(http.StatusOK, ClassifyResponse{
		Classified:     result,
		AllergenStatus: result.AllergenStatus(),
		CautionStatus:  result.CautionStatus(),
	})
}

// sessionFavorites 讀取失敗時以空集合分類
func (h *Handler) sessionFavorites(c *gin.Context, sid string) ingredient.FavoriteSet {
	ctx := c.Request.Context()
	profile, err := h.sessions.Profile(ctx, sid)
	if err != nil || profile.UserID == "" {
		return ingredient.NewFavoriteSet()
	}

	favorites, err := h.sessions.Favorites(ctx, profile.UserID)
	if err != nil {
		common.LogWarn("favorites unavailable, classifying without them",
			zap.String("user_id", profile.UserID),
			zap.Error(err),
		)
		return ingredient.NewFavoriteSet()
	}
	return favorites
}
