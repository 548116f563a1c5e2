package like

import (
	"sync"
	"time"

	"storefront-personalization/internal/pkg/common"

	"go.uber.org/zap"
)

// Registry 依面板 id 管理協調器，所有協調器共用同一個 State
type Registry struct {
	state           *State
	remote          Remote
	notifier        *Notifier
	seedConcurrency int

	mu     sync.Mutex
	coords map[string]*openView

	stopSweep chan struct{}
	sweepOnce sync.Once
}

type openView struct {
	coord    *Coordinator
	lastUsed time.Time
}

// NewRegistry 創建協調器登記表
func NewRegistry(state *State, remote Remote, notifier *Notifier, seedConcurrency int) *Registry {
	return &Registry{
		state:           state,
		remote:          remote,
		notifier:        notifier,
		seedConcurrency: seedConcurrency,
		coords:          make(map[string]*openView),
		stopSweep:       make(chan struct{}),
	}
}

// Open 取得面板的協調器；使用者變更時關閉舊的並建立新的
func (r *Registry) Open(viewID, userID string) *Coordinator {
	c, _ := r.OpenIf(viewID, userID, nil)
	return c
}

// OpenIf 與 Open 相同，但 live 回傳 false 時不建立也不取得協調器。
// live 在登記表的鎖內檢查，與 Close 互斥
func (r *Registry) OpenIf(viewID, userID string, live func() bool) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if live != nil && !live() {
		return nil, false
	}

	now := time.Now()
	if v, ok := r.coords[viewID]; ok {
		if v.coord.UserID() == userID {
			v.lastUsed = now
			return v.coord, true
		}
		v.coord.Close()
	}

	c := NewCoordinator(r.state, r.remote, r.notifier, userID, r.seedConcurrency)
	r.coords[viewID] = &openView{coord: c, lastUsed: now}
	return c, true
}

// Get 取得已開啟的協調器
func (r *Registry) Get(viewID string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.coords[viewID]
	if !ok {
		return nil, false
	}
	v.lastUsed = time.Now()
	return v.coord, true
}

// Close 卸載面板
func (r *Registry) Close(viewID string) {
	r.mu.Lock()
	v, ok := r.coords[viewID]
	delete(r.coords, viewID)
	r.mu.Unlock()

	if ok {
		v.coord.Close()
	}
}

// CloseAll 停止清理並關閉所有面板
func (r *Registry) CloseAll() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })

	r.mu.Lock()
	coords := r.coords
	r.coords = make(map[string]*openView)
	r.mu.Unlock()

	for _, v := range coords {
		v.coord.Close()
	}
}

// StartSweeper 定期關閉閒置超過 idleTTL 的面板
func (r *Registry) StartSweeper(idleTTL, interval time.Duration) {
	if idleTTL <= 0 || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := r.sweep(time.Now().Add(-idleTTL)); n > 0 {
					common.LogDebug("closed idle like views", zap.Int("count", n), zap.Int("open", r.Len()))
				}
			case <-r.stopSweep:
				return
			}
		}
	}()
}

// sweep 關閉 cutoff 之前最後使用的面板
func (r *Registry) sweep(cutoff time.Time) int {
	r.mu.Lock()
	var idle []*Coordinator
	for id, v := range r.coords {
		if v.lastUsed.Before(cutoff) {
			idle = append(idle, v.coord)
			delete(r.coords, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	return len(idle)
}

// Notifications 取出並清空使用者的通知
func (r *Registry) Notifications(userID string) []Notification {
	if r.notifier == nil {
		return []Notification{}
	}
	return r.notifier.Drain(userID)
}

// Len 已開啟的面板數
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coords)
}
