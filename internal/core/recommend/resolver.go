// Package recommend 推薦來源選擇：膚質 → 最近瀏覽分類 → 熱門，依序退回
package recommend

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"go.uber.org/zap"
)

// DefaultDisplayCount 預設推薦數量
const DefaultDisplayCount = 4

// errEmptyCategory 分類推薦沒有結果，視同來源失敗
var errEmptyCategory = errors.New("category match returned no products")

// Source 推薦資料來源
type Source interface {
	RecommendBySkinType(ctx context.Context, skinType string, limit int) ([]catalog.RawProduct, error)
	RecommendByCategory(ctx context.Context, category string, excludeIDs []string, limit int) ([]catalog.RawProduct, error)
	RecommendPopular(ctx context.Context, limit int) ([]catalog.RawProduct, error)
}

// Resolver 推薦解析器
type Resolver struct {
	source       Source
	cache        *Cache
	displayCount int
}

// NewResolver 創建推薦解析器；cache 可為 nil
func NewResolver(source Source, cache *Cache, displayCount int) *Resolver {
	if displayCount <= 0 {
		displayCount = DefaultDisplayCount
	}
	return &Resolver{
		source:       source,
		cache:        cache,
		displayCount: displayCount,
	}
}

// strategyStep 一個推薦策略；fetch 只在 applicable 時呼叫
type strategyStep struct {
	strategy   Strategy
	applicable bool
	key        string
	exclude    map[string]struct{}
	fetch      func(ctx context.Context) ([]catalog.RawProduct, error)
	// 分類策略的空結果視為失敗
	emptyFails bool
}

// Resolve 依序嘗試各策略，第一個成功的來源提供結果。
// 策略失敗不回傳錯誤，只有熱門也失敗時回傳 Empty 結果。
func (r *Resolver) Resolve(ctx context.Context, rc ResolveContext) Result {
	n := rc.DisplayCount
	if n <= 0 {
		n = r.displayCount
	}

	for _, step := range r.steps(rc, n) {
		if !step.applicable {
			metrics.RecommendStrategyTotal.WithLabelValues(string(step.strategy), "skipped").Inc()
			continue
		}

		cards, err := r.run(ctx, step, n)
		if err != nil {
			metrics.RecommendStrategyTotal.WithLabelValues(string(step.strategy), "failed").Inc()
			common.LogWarn("recommendation strategy failed, falling through",
				zap.String("strategy", string(step.strategy)),
				zap.String("user_id", rc.UserID),
				zap.Error(err),
			)
			continue
		}

		metrics.RecommendStrategyTotal.WithLabelValues(string(step.strategy), "served").Inc()
		return Result{Cards: pad(cards, n), Strategy: step.strategy}
	}

	common.LogError("all recommendation strategies failed", zap.String("user_id", rc.UserID))
	return Result{Cards: pad(nil, n), Strategy: StrategyNone, Empty: true}
}

func (r *Resolver) steps(rc ResolveContext, n int) []strategyStep {
	limit := strconv.Itoa(n)
	steps := make([]strategyStep, 0, 3)

	skin := ParseSkinType(string(rc.SkinType))
	steps = append(steps, strategyStep{
		strategy:   StrategySkinType,
		applicable: skin != SkinUnset,
		key:        cacheKey(StrategySkinType, string(skin), limit),
		fetch: func(ctx context.Context) ([]catalog.RawProduct, error) {
			return r.source.RecommendBySkinType(ctx, string(skin), n)
		},
	})

	var category string
	var excludeIDs []string
	exclude := make(map[string]struct{}, len(rc.RecentlyViewed))
	if len(rc.RecentlyViewed) > 0 {
		category = strings.TrimSpace(rc.RecentlyViewed[0].Category)
		for _, item := range rc.RecentlyViewed {
			if _, dup := exclude[item.ProductID]; item.ProductID == "" || dup {
				continue
			}
			exclude[item.ProductID] = struct{}{}
			excludeIDs = append(excludeIDs, item.ProductID)
		}
	}
	sortedExclude := append([]string(nil), excludeIDs...)
	sort.Strings(sortedExclude)
	steps = append(steps, strategyStep{
		strategy:   StrategyRecentlyViewed,
		applicable: category != "",
		key:        cacheKey(StrategyRecentlyViewed, category, strings.Join(sortedExclude, ","), limit),
		exclude:    exclude,
		emptyFails: true,
		fetch: func(ctx context.Context) ([]catalog.RawProduct, error) {
			return r.source.RecommendByCategory(ctx, category, excludeIDs, n)
		},
	})

	steps = append(steps, strategyStep{
		strategy:   StrategyPopular,
		applicable: true,
		key:        cacheKey(StrategyPopular, limit),
		fetch: func(ctx context.Context) ([]catalog.RawProduct, error) {
			return r.source.RecommendPopular(ctx, n)
		},
	})
	return steps
}

// run 執行單一策略：先查快取，否則呼叫來源一次
func (r *Resolver) run(ctx context.Context, step strategyStep, n int) ([]ProductCard, error) {
	products, ok := r.cache.Get(step.key)
	if !ok {
		var err error
		products, err = step.fetch(ctx)
		if err != nil {
			return nil, err
		}
		r.cache.Set(step.key, products)
	}

	cards := normalize(products, step.exclude, n)
	if len(cards) == 0 && step.emptyFails {
		return nil, errEmptyCategory
	}
	return cards, nil
}

// normalize 轉為商品卡片，略過重複與排除的 id
func normalize(products []catalog.RawProduct, exclude map[string]struct{}, n int) []ProductCard {
	cards := make([]ProductCard, 0, n)
	seen := make(map[string]struct{}, len(products))
	for _, p := range products {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		if _, skip := exclude[p.ID]; skip {
			continue
		}
		seen[p.ID] = struct{}{}
		cards = append(cards, ProductCard{
			ID:       p.ID,
			Name:     p.Name,
			Brand:    p.Brand,
			Price:    p.Price,
			ImageRef: p.ImageRef,
			Rating:   p.Rating,
		})
	}
	return cards
}

// pad 截斷或補上佔位卡到剛好 n 張
func pad(cards []ProductCard, n int) []ProductCard {
	if len(cards) > n {
		cards = cards[:n]
	}
	out := make([]ProductCard, n)
	copy(out, cards)
	return out
}

// ResolveFor 為指定面板解析推薦；面板在請求期間被卸載或重新請求時丟棄結果
func (r *Resolver) ResolveFor(ctx context.Context, view *View, rc ResolveContext) (Result, error) {
	token := view.gen.Advance()
	result := r.Resolve(ctx, rc)
	if !view.gen.IsCurrent(token) || !view.Active() {
		common.LogDebug("discarding stale recommendation result", zap.String("strategy", string(result.Strategy)))
		return Result{}, common.ErrStaleView
	}
	return result, nil
}
