package like

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Remote 收藏的遠端資料來源
type Remote interface {
	LikeExists(ctx context.Context, userID, productID string) (bool, error)
	LikeExistsBatch(ctx context.Context, userID string, productIDs []string) (map[string]bool, error)
	AddLike(ctx context.Context, userID, productID string) error
	RemoveLike(ctx context.Context, userID, productID string) error
}

// Coordinator 一個面板的收藏狀態協調器。狀態本身存放於共用的 State
type Coordinator struct {
	state           *State
	remote          Remote
	notifier        *Notifier
	userID          string
	seedConcurrency int

	mu      sync.Mutex
	visible map[string]struct{}
	closed  bool
}

// NewCoordinator 創建協調器；userID 為空代表匿名工作階段
func NewCoordinator(state *State, remote Remote, notifier *Notifier, userID string, seedConcurrency int) *Coordinator {
	if seedConcurrency <= 0 {
		seedConcurrency = 1
	}
	return &Coordinator{
		state:           state,
		remote:          remote,
		notifier:        notifier,
		userID:          userID,
		seedConcurrency: seedConcurrency,
		visible:         make(map[string]struct{}),
	}
}

// UserID 面板所屬使用者
func (c *Coordinator) UserID() string {
	return c.userID
}

// Show 將商品加入可見集合並初始化狀態。匿名時全部為未收藏且不發出請求
func (c *Coordinator) Show(ctx context.Context, productIDs []string) (map[string]Entry, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, common.ErrStaleView
	}
	added := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id == "" {
			continue
		}
		if _, ok := c.visible[id]; ok {
			continue
		}
		c.visible[id] = struct{}{}
		added = append(added, id)
	}
	// 可見集合與參照在同一把鎖內建立
	created := c.state.acquire(c.userID, added, c.userID == "")
	c.mu.Unlock()

	if len(created) > 0 {
		c.seed(ctx, created)
	}
	return c.state.snapshot(c.userID, productIDs), nil
}

// seed 批次查詢初始收藏狀態，不支援批次時改為有限併發的逐筆查詢
func (c *Coordinator) seed(ctx context.Context, created map[string]uint64) {
	ids := make([]string, 0, len(created))
	for id := range created {
		ids = append(ids, id)
	}

	values, err := c.remote.LikeExistsBatch(ctx, c.userID, ids)
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrBatchUnsupported):
		values = c.seedEach(ctx, ids)
	default:
		common.LogWarn("batch like check failed, defaulting to not liked",
			zap.String("user_id", c.userID),
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
		values = map[string]bool{}
	}

	for id, epoch := range created {
		c.state.seed(c.userID, id, epoch, values[id])
	}
}

func (c *Coordinator) seedEach(ctx context.Context, ids []string) map[string]bool {
	var mu sync.Mutex
	values := make(map[string]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.seedConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			liked, err := c.remote.LikeExists(gctx, c.userID, id)
			if err != nil {
				// 單筆失敗不影響其他商品
				common.LogWarn("like check failed, defaulting to not liked",
					zap.String("user_id", c.userID),
					zap.String("product_id", id),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			values[id] = liked
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return values
}

// Replace 將可見集合換成 productIDs，不再出現的商品會被移除
func (c *Coordinator) Replace(ctx context.Context, productIDs []string) (map[string]Entry, error) {
	states, err := c.Show(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		keep[id] = struct{}{}
	}
	c.mu.Lock()
	var stale []string
	for id := range c.visible {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	c.Hide(stale)
	return states, nil
}

// Hide 將商品移出可見集合，進行中的變更完成後會被忽略
func (c *Coordinator) Hide(productIDs []string) {
	c.mu.Lock()
	removed := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := c.visible[id]; ok {
			delete(c.visible, id)
			removed = append(removed, id)
		}
	}
	c.mu.Unlock()

	c.state.release(c.userID, removed)
}

// Close 面板卸載，釋放所有項目
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ids := make([]string, 0, len(c.visible))
	for id := range c.visible {
		ids = append(ids, id)
	}
	c.visible = make(map[string]struct{})
	c.mu.Unlock()

	c.state.release(c.userID, ids)
}

// Get 讀取單一商品狀態
func (c *Coordinator) Get(productID string) (Entry, bool) {
	if !c.isVisible(productID) {
		return Entry{}, false
	}
	return c.state.get(c.userID, productID)
}

// States 目前可見商品的狀態
func (c *Coordinator) States() map[string]Entry {
	c.mu.Lock()
	ids := make([]string, 0, len(c.visible))
	for id := range c.visible {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	return c.state.snapshot(c.userID, ids)
}

func (c *Coordinator) isVisible(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.visible[productID]
	return ok
}

// Begin 樂觀切換收藏狀態，不發出任何請求
func (c *Coordinator) Begin(productID string) (Transition, error) {
	if c.userID == "" {
		metrics.LikeTogglesTotal.WithLabelValues("unauthenticated").Inc()
		return Transition{}, common.ErrAuthRequired
	}
	if !c.isVisible(productID) {
		metrics.LikeTogglesTotal.WithLabelValues("unknown").Inc()
		return Transition{}, common.ErrUnknownProduct
	}

	t, err := c.state.begin(c.userID, productID)
	if err != nil {
		if errors.Is(err, common.ErrTogglePending) {
			metrics.LikeTogglesTotal.WithLabelValues("pending").Inc()
		} else {
			metrics.LikeTogglesTotal.WithLabelValues("rejected").Inc()
		}
		return Transition{}, err
	}
	return t, nil
}

// Commit 送出遠端變更；失敗時回滾並發出通知
func (c *Coordinator) Commit(ctx context.Context, t Transition) error {
	var err error
	if t.To {
		err = c.remote.AddLike(ctx, t.UserID, t.ProductID)
	} else {
		err = c.remote.RemoveLike(ctx, t.UserID, t.ProductID)
	}

	applied := c.state.settle(t, err == nil)
	switch {
	case !applied:
		metrics.LikeTogglesTotal.WithLabelValues("stale").Inc()
		common.LogDebug("ignoring like completion for discarded entry",
			zap.String("user_id", t.UserID),
			zap.String("product_id", t.ProductID),
		)
	case err != nil:
		metrics.LikeTogglesTotal.WithLabelValues("rolled_back").Inc()
		common.LogWarn("like mutation failed, rolled back",
			zap.String("user_id", t.UserID),
			zap.String("product_id", t.ProductID),
			zap.Bool("liked", t.From),
			zap.Error(err),
		)
		if c.notifier != nil {
			c.notifier.Push(t.UserID, Notification{
				ProductID: t.ProductID,
				Liked:     t.From,
				Message:   failureMessage(t.To),
				At:        time.Now(),
			})
		}
	default:
		metrics.LikeTogglesTotal.WithLabelValues("committed").Inc()
	}
	return err
}

// Abort 未送出的切換直接回滾，不發出通知
func (c *Coordinator) Abort(t Transition) {
	c.state.settle(t, false)
}

// Toggle Begin 後同步 Commit
func (c *Coordinator) Toggle(ctx context.Context, productID string) (Entry, error) {
	t, err := c.Begin(productID)
	if err != nil {
		return Entry{}, err
	}
	err = c.Commit(ctx, t)
	entry, _ := c.state.get(c.userID, productID)
	return entry, err
}

func failureMessage(adding bool) string {
	if adding {
		return "could not add to favorites, please try again"
	}
	return "could not remove from favorites, please try again"
}
