package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"
)

type fakeSource struct {
	mu    sync.Mutex
	calls []string

	skin     []catalog.RawProduct
	skinErr  error
	cat      []catalog.RawProduct
	catErr   error
	popular  []catalog.RawProduct
	popErr   error
	gotCat   string
	gotExcl  []string
	gotLimit int

	// block 非 nil 時熱門來源會等待
	block chan struct{}
}

func (f *fakeSource) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeSource) RecommendBySkinType(ctx context.Context, skinType string, limit int) ([]catalog.RawProduct, error) {
	f.record("skin:" + skinType)
	return f.skin, f.skinErr
}

func (f *fakeSource) RecommendByCategory(ctx context.Context, category string, excludeIDs []string, limit int) ([]catalog.RawProduct, error) {
	f.record("category:" + category)
	f.mu.Lock()
	f.gotCat, f.gotExcl, f.gotLimit = category, excludeIDs, limit
	f.mu.Unlock()
	return f.cat, f.catErr
}

func (f *fakeSource) RecommendPopular(ctx context.Context, limit int) ([]catalog.RawProduct, error) {
	f.record("popular")
	if f.block != nil {
		<-f.block
	}
	return f.popular, f.popErr
}

func (f *fakeSource) callLog() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.calls, ",")
}

func products(ids ...string) []catalog.RawProduct {
	out := make([]catalog.RawProduct, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog.RawProduct{ID: id, Name: "product " + id})
	}
	return out
}

func cardIDs(cards []ProductCard) []string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return ids
}

var errBackend = common.ErrSourceUnavailable.Wrap(errors.New("connection refused"))

func TestResolveStrategyChain(t *testing.T) {
	viewed := []ViewedItem{{ProductID: "v1", Category: "toner"}, {ProductID: "v2", Category: "serum"}}

	tests := []struct {
		name         string
		src          *fakeSource
		rc           ResolveContext
		wantStrategy Strategy
		wantCalls    string
		wantIDs      []string
	}{
		{
			name:         "skin type served",
			src:          &fakeSource{skin: products("s1", "s2", "s3", "s4", "s5")},
			rc:           ResolveContext{SkinType: SkinDry, RecentlyViewed: viewed},
			wantStrategy: StrategySkinType,
			wantCalls:    "skin:dry",
			wantIDs:      []string{"s1", "s2", "s3", "s4"},
		},
		{
			name:         "skin type failure falls to category once",
			src:          &fakeSource{skinErr: errBackend, cat: products("c1")},
			rc:           ResolveContext{SkinType: SkinOily, RecentlyViewed: viewed},
			wantStrategy: StrategyRecentlyViewed,
			wantCalls:    "skin:oily,category:toner",
			wantIDs:      []string{"c1", "", "", ""},
		},
		{
			name:         "unset skin type skips to category",
			src:          &fakeSource{cat: products("c1", "c2")},
			rc:           ResolveContext{SkinType: "none", RecentlyViewed: viewed},
			wantStrategy: StrategyRecentlyViewed,
			wantCalls:    "category:toner",
			wantIDs:      []string{"c1", "c2", "", ""},
		},
		{
			name:         "empty category falls to popular",
			src:          &fakeSource{cat: []catalog.RawProduct{}, popular: products("p1", "p2", "p3", "p4")},
			rc:           ResolveContext{RecentlyViewed: viewed},
			wantStrategy: StrategyPopular,
			wantCalls:    "category:toner,popular",
			wantIDs:      []string{"p1", "p2", "p3", "p4"},
		},
		{
			name:         "category returning only viewed ids falls to popular",
			src:          &fakeSource{cat: products("v1", "v2"), popular: products("p1")},
			rc:           ResolveContext{RecentlyViewed: viewed},
			wantStrategy: StrategyPopular,
			wantCalls:    "category:toner,popular",
			wantIDs:      []string{"p1", "", "", ""},
		},
		{
			name:         "both personalized sources fail",
			src:          &fakeSource{skinErr: errBackend, catErr: errBackend, popular: products("p1", "p2")},
			rc:           ResolveContext{SkinType: SkinSensitive, RecentlyViewed: viewed},
			wantStrategy: StrategyPopular,
			wantCalls:    "skin:sensitive,category:toner,popular",
			wantIDs:      []string{"p1", "p2", "", ""},
		},
		{
			name:         "no context goes straight to popular",
			src:          &fakeSource{popular: products("p1", "p2")},
			rc:           ResolveContext{},
			wantStrategy: StrategyPopular,
			wantCalls:    "popular",
			wantIDs:      []string{"p1", "p2", "", ""},
		},
		{
			name:         "popular failure is an empty panel",
			src:          &fakeSource{popErr: errBackend},
			rc:           ResolveContext{},
			wantStrategy: StrategyNone,
			wantCalls:    "popular",
			wantIDs:      []string{"", "", "", ""},
		},
		{
			name:         "skin type success with no items does not fall through",
			src:          &fakeSource{skin: []catalog.RawProduct{}, popular: products("p1")},
			rc:           ResolveContext{SkinType: SkinNormal},
			wantStrategy: StrategySkinType,
			wantCalls:    "skin:normal",
			wantIDs:      []string{"", "", "", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.src, nil, 4)
			got := r.Resolve(context.Background(), tt.rc)

			if got.Strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", got.Strategy, tt.wantStrategy)
			}
			if calls := tt.src.callLog(); calls != tt.wantCalls {
				t.Errorf("calls = %q, want %q", calls, tt.wantCalls)
			}
			if ids := cardIDs(got.Cards); strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("cards = %v, want %v", ids, tt.wantIDs)
			}
			if got.Empty != (tt.wantStrategy == StrategyNone) {
				t.Errorf("empty = %v", got.Empty)
			}
		})
	}
}

func TestResolveCategoryQuery(t *testing.T) {
	src := &fakeSource{cat: products("v2", "c1", "c1", "c2")}
	r := NewResolver(src, nil, 4)

	got := r.Resolve(context.Background(), ResolveContext{
		RecentlyViewed: []ViewedItem{
			{ProductID: "v1", Category: "cream"},
			{ProductID: "v2", Category: "toner"},
			{ProductID: "v1", Category: "cream"},
		},
	})

	if src.gotCat != "cream" {
		t.Errorf("category = %q, want most recent entry's category", src.gotCat)
	}
	if strings.Join(src.gotExcl, ",") != "v1,v2" {
		t.Errorf("exclude = %v, want [v1 v2]", src.gotExcl)
	}
	if ids := strings.Join(cardIDs(got.Cards), ","); ids != "c1,c2,," {
		t.Errorf("cards = %q, want viewed and duplicate ids removed", ids)
	}
}

func TestResolveNormalizesCards(t *testing.T) {
	src := &fakeSource{popular: []catalog.RawProduct{{ID: "p1", Name: "Sun Cream", Brand: "Acme", Price: 19.9, ImageRef: "/p1.png"}}}
	r := NewResolver(src, nil, 2)

	got := r.Resolve(context.Background(), ResolveContext{})

	want := ProductCard{ID: "p1", Name: "Sun Cream", Brand: "Acme", Price: 19.9, ImageRef: "/p1.png"}
	if got.Cards[0] != want {
		t.Errorf("card = %+v, want %+v", got.Cards[0], want)
	}
	if !got.Cards[1].IsPlaceholder() {
		t.Errorf("second card should be a placeholder")
	}
	if ids := got.ProductIDs(); len(ids) != 1 || ids[0] != "p1" {
		t.Errorf("ProductIDs() = %v", ids)
	}

	data, err := json.Marshal(got.Cards)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"id":null`) || !strings.Contains(string(data), `"id":"p1"`) {
		t.Errorf("unexpected json %s", data)
	}
}

func TestResolveDisplayCountOverride(t *testing.T) {
	src := &fakeSource{popular: products("p1", "p2", "p3")}
	r := NewResolver(src, nil, 4)

	got := r.Resolve(context.Background(), ResolveContext{DisplayCount: 2})
	if len(got.Cards) != 2 {
		t.Errorf("cards = %d, want 2", len(got.Cards))
	}
}

func TestResolveUsesCache(t *testing.T) {
	cache := NewCache(config.CacheConfig{Enabled: true, MaxSize: 10}, time.Minute)
	defer cache.Close()

	src := &fakeSource{skinErr: errBackend, popular: products("p1")}
	r := NewResolver(src, cache, 4)

	rc := ResolveContext{SkinType: SkinDry}
	first := r.Resolve(context.Background(), rc)
	second := r.Resolve(context.Background(), rc)

	if first.Strategy != StrategyPopular || second.Strategy != StrategyPopular {
		t.Fatalf("strategies = %s/%s", first.Strategy, second.Strategy)
	}
	// 失敗不快取，成功的熱門結果第二次命中快取
	if calls := src.callLog(); calls != "skin:dry,popular,skin:dry" {
		t.Errorf("calls = %q", calls)
	}
}

func TestResolveForDiscardsStaleResult(t *testing.T) {
	src := &fakeSource{popular: products("p1"), block: make(chan struct{})}
	r := NewResolver(src, nil, 4)
	view := NewView()

	done := make(chan error, 1)
	go func() {
		_, err := r.ResolveFor(context.Background(), view, ResolveContext{})
		done <- err
	}()

	// 等待請求進入來源後卸載面板
	for src.callLog() == "" {
		time.Sleep(time.Millisecond)
	}
	view.Invalidate()
	close(src.block)

	if err := <-done; !errors.Is(err, common.ErrStaleView) {
		t.Fatalf("expected ErrStaleView, got %v", err)
	}

	src.block = nil
	got, err := r.ResolveFor(context.Background(), view, ResolveContext{})
	if err != nil || got.Strategy != StrategyPopular {
		t.Fatalf("fresh request: %+v, %v", got, err)
	}
}

func TestClosedViewDiscardsResultAndIsReplaced(t *testing.T) {
	src := &fakeSource{popular: products("p1"), block: make(chan struct{})}
	r := NewResolver(src, nil, 4)
	views := NewViews()

	view := views.Acquire("s:main")
	done := make(chan error, 1)
	go func() {
		_, err := r.ResolveFor(context.Background(), view, ResolveContext{})
		done <- err
	}()

	for src.callLog() == "" {
		time.Sleep(time.Millisecond)
	}
	views.Close("s:main")
	if views.Len() != 0 {
		t.Fatalf("closed view still tracked")
	}

	// 卸載後的新請求取得新的面板，舊請求的 Release 不影響它
	next := views.Acquire("s:main")
	if next == view || !next.Active() || view.Active() {
		t.Fatal("expected a fresh active view after close")
	}

	close(src.block)
	if err := <-done; !errors.Is(err, common.ErrStaleView) {
		t.Fatalf("expected ErrStaleView, got %v", err)
	}
	views.Release("s:main", view)
	if views.Len() != 1 {
		t.Errorf("release of closed view dropped the new one, len = %d", views.Len())
	}
	views.Release("s:main", next)
	if views.Len() != 0 {
		t.Errorf("len = %d after release", views.Len())
	}

	src.block = nil
	if _, err := r.ResolveFor(context.Background(), view, ResolveContext{}); !errors.Is(err, common.ErrStaleView) {
		t.Errorf("closed view accepted a new result: %v", err)
	}
}

func TestParseSkinType(t *testing.T) {
	tests := map[string]SkinType{
		"dry":         SkinDry,
		" Oily ":      SkinOily,
		"COMBINATION": SkinCombination,
		"none":        SkinUnset,
		"":            SkinUnset,
		"scaly":       SkinUnset,
	}
	for in, want := range tests {
		if got := ParseSkinType(in); got != want {
			t.Errorf("ParseSkinType(%q) = %q, want %q", in, got, want)
		}
	}
}
