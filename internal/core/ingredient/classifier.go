// Package ingredient 成分分類：機能性、過敏原、注意成分與中性成分
package ingredient

import "strings"

// Record 後端成分資料
type Record struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	IsAllergen      bool    `json:"isAllergen"`
	IsCautionListed bool    `json:"isCautionListed"`
	FunctionalNote  *string `json:"functionalNote"`
}

// Status 分類安全狀態
type Status string

const (
	StatusSafe    Status = "safe"
	StatusWarning Status = "warning"
)

// Reason 需避免成分的標示理由
type Reason string

const (
	ReasonAllergen Reason = "allergen"
	ReasonCaution  Reason = "caution"
)

// FunctionalEntry 機能性成分；僅因收藏而入選時 Note 為空
type FunctionalEntry struct {
	Ingredient Record `json:"ingredient"`
	Note       string `json:"note"`
	Favorite   bool   `json:"favorite"`
}

// AvoidEntry 需避免成分，同時為過敏原與注意成分時以注意成分標示
type AvoidEntry struct {
	Ingredient Record `json:"ingredient"`
	Reason     Reason `json:"reason"`
}

// Classified 分類結果，每次輸入變動時重新計算
type Classified struct {
	Functional   []FunctionalEntry `json:"functional"`
	Allergens    []Record          `json:"allergens"`
	Cautions     []Record          `json:"cautions"`
	Avoid        []AvoidEntry      `json:"avoid"`
	NeutralCount int               `json:"neutralCount"`
	TotalCount   int               `json:"totalCount"`
}

// AllergenStatus 過敏原清單為空時為 safe
func (c Classified) AllergenStatus() Status {
	if len(c.Allergens) == 0 {
		return StatusSafe
	}
	return StatusWarning
}

// CautionStatus 注意成分清單為空時為 safe
func (c Classified) CautionStatus() Status {
	if len(c.Cautions) == 0 {
		return StatusSafe
	}
	return StatusWarning
}

// FavoriteSet 使用者追蹤的成分，可用 id 或名稱比對（名稱不分大小寫）
type FavoriteSet struct {
	ids   map[string]struct{}
	names map[string]struct{}
}

// NewFavoriteSet 以 id 或名稱建立收藏集合
func NewFavoriteSet(keys ...string) FavoriteSet {
	fs := FavoriteSet{
		ids:   make(map[string]struct{}, len(keys)),
		names: make(map[string]struct{}, len(keys)),
	}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k == "" {
			continue
		}
		fs.ids[k] = struct{}{}
		fs.names[normalizeName(k)] = struct{}{}
	}
	return fs
}

// Len 收藏數量
func (fs FavoriteSet) Len() int {
	return len(fs.ids)
}

// Contains 判斷成分是否被收藏
func (fs FavoriteSet) Contains(r Record) bool {
	if len(fs.ids) == 0 {
		return false
	}
	if r.ID != "" {
		if _, ok := fs.ids[r.ID]; ok {
			return true
		}
	}
	_, ok := fs.names[normalizeName(r.Name)]
	return ok
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify 將成分分為機能性、過敏原、注意成分與需避免清單，不修改輸入。
// 輸出順序與輸入相同；nil 輸入回傳空結果。
func Classify(ingredients []Record, favorites FavoriteSet) Classified {
	out := Classified{
		Functional: []FunctionalEntry{},
		Allergens:  []Record{},
		Cautions:   []Record{},
		Avoid:      []AvoidEntry{},
		TotalCount: len(ingredients),
	}

	seenFunctional := make(map[string]struct{})
	seenAvoid := make(map[string]struct{})
	flagged := make(map[string]struct{})
	for _, r := range ingredients {
		key := identity(r)

		isFavorite := favorites.Contains(r)
		if r.FunctionalNote != nil || isFavorite {
			flagged[key] = struct{}{}
			if _, dup := seenFunctional[key]; !dup {
				seenFunctional[key] = struct{}{}
				entry := FunctionalEntry{Ingredient: r, Favorite: isFavorite}
				if r.FunctionalNote != nil {
					entry.Note = *r.FunctionalNote
				}
				out.Functional = append(out.Functional, entry)
			}
		}

		if r.IsAllergen {
			out.Allergens = append(out.Allergens, r)
		}
		if r.IsCautionListed {
			out.Cautions = append(out.Cautions, r)
		}

		if r.IsAllergen || r.IsCautionListed {
			flagged[key] = struct{}{}
			if _, dup := seenAvoid[key]; !dup {
				seenAvoid[key] = struct{}{}
				reason := ReasonAllergen
				if r.IsCautionListed {
					reason = ReasonCaution
				}
				out.Avoid = append(out.Avoid, AvoidEntry{Ingredient: r, Reason: reason})
			}
		}
	}

	out.NeutralCount = out.TotalCount - len(flagged)
	if out.NeutralCount < 0 {
		out.NeutralCount = 0
	}
	return out
}

// identity 成分識別鍵，沒有 id 時以名稱代替
func identity(r Record) string {
	if r.ID != "" {
		return "id:" + r.ID
	}
	return "name:" + normalizeName(r.Name)
}
