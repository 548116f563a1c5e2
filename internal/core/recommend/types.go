package recommend

import (
	"encoding/json"
	"strings"
)

// SkinType 使用者膚質
type SkinType string

const (
	SkinUnset       SkinType = ""
	SkinDry         SkinType = "dry"
	SkinOily        SkinType = "oily"
	SkinCombination SkinType = "combination"
	SkinSensitive   SkinType = "sensitive"
	SkinNormal      SkinType = "normal"
)

// ParseSkinType 解析膚質字串；"none"、空字串與未知值皆視為未設定
func ParseSkinType(s string) SkinType {
	switch t := SkinType(strings.ToLower(strings.TrimSpace(s))); t {
	case SkinDry, SkinOily, SkinCombination, SkinSensitive, SkinNormal:
		return t
	default:
		return SkinUnset
	}
}

// Known 是否為可用於推薦的膚質
func (s SkinType) Known() bool {
	return ParseSkinType(string(s)) != SkinUnset
}

// ViewedItem 最近瀏覽紀錄
type ViewedItem struct {
	ProductID string `json:"productId"`
	Category  string `json:"category"`
}

// ResolveContext 推薦輸入；RecentlyViewed 第一筆為最近瀏覽
type ResolveContext struct {
	UserID         string
	SkinType       SkinType
	RecentlyViewed []ViewedItem
	// DisplayCount 為 0 時使用預設顯示數量
	DisplayCount int
}

// ProductCard 正規化後的商品卡片；ID 為空代表佔位卡
type ProductCard struct {
	ID       string
	Name     string
	Brand    string
	Price    float64
	ImageRef string
	Rating   float64
	Liked    bool
}

// IsPlaceholder 是否為佔位卡
func (c ProductCard) IsPlaceholder() bool {
	return c.ID == ""
}

type productCardJSON struct {
	ID       *string `json:"id"`
	Name     string  `json:"name"`
	Brand    string  `json:"brand"`
	Price    float64 `json:"price"`
	ImageRef string  `json:"imageRef"`
	Rating   float64 `json:"rating"`
	Liked    bool    `json:"liked"`
}

// MarshalJSON 佔位卡輸出 "id": null
func (c ProductCard) MarshalJSON() ([]byte, error) {
	out := productCardJSON{
		Name:     c.Name,
		Brand:    c.Brand,
		Price:    c.Price,
		ImageRef: c.ImageRef,
		Rating:   c.Rating,
		Liked:    c.Liked,
	}
	if !c.IsPlaceholder() {
		id := c.ID
		out.ID = &id
	}
	return json.Marshal(out)
}

// Strategy 實際提供結果的推薦來源
type Strategy string

const (
	StrategySkinType       Strategy = "skin_type"
	StrategyRecentlyViewed Strategy = "recently_viewed"
	StrategyPopular        Strategy = "popular"
	StrategyNone           Strategy = "none"
)

// Result 推薦結果。所有來源都失敗時 Empty 為 true，Cards 全為佔位卡
type Result struct {
	Cards    []ProductCard `json:"cards"`
	Strategy Strategy      `json:"strategy"`
	Empty    bool          `json:"empty"`
}

// ProductIDs 非佔位卡的商品 id
func (r Result) ProductIDs() []string {
	ids := make([]string, 0, len(r.Cards))
	for _, c := range r.Cards {
		if !c.IsPlaceholder() {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
