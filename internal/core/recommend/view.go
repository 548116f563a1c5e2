package recommend

import (
	"sync"
	"sync/atomic"

	"storefront-personalization/internal/pkg/common"
)

// View 一個推薦面板的生命週期
type View struct {
	gen    common.Generation
	closed atomic.Bool
}

// NewView 創建面板
func NewView() *View {
	return &View{}
}

// Invalidate 面板內容更換，進行中的結果將被丟棄
func (v *View) Invalidate() {
	v.gen.Advance()
}

// Close 面板卸載；之後完成的請求一律丟棄
func (v *View) Close() {
	v.closed.Store(true)
	v.gen.Advance()
}

// Active 面板尚未卸載
func (v *View) Active() bool {
	return !v.closed.Load()
}

// Views 依工作階段追蹤面板，沒有進行中請求時釋放
type Views struct {
	mu    sync.Mutex
	views map[string]*viewRef
}

type viewRef struct {
	view     *View
	inflight int
}

// NewViews 創建面板登記表
func NewViews() *Views {
	return &Views{views: make(map[string]*viewRef)}
}

// Acquire 取得面板並登記一個進行中的請求，完成後需以同一個 View 呼叫 Release
func (vs *Views) Acquire(key string) *View {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	ref, ok := vs.views[key]
	if !ok {
		ref = &viewRef{view: NewView()}
		vs.views[key] = ref
	}
	ref.inflight++
	return ref.view
}

// Release 結束一個進行中的請求；面板已卸載並被取代時不影響新的面板
func (vs *Views) Release(key string, view *View) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	ref, ok := vs.views[key]
	if !ok || ref.view != view {
		return
	}
	if ref.inflight--; ref.inflight <= 0 {
		delete(vs.views, key)
	}
}

// Invalidate 使面板進行中的請求失效
func (vs *Views) Invalidate(key string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if ref, ok := vs.views[key]; ok {
		ref.view.Invalidate()
	}
}

// Close 卸載面板；進行中的請求會被丟棄，之後的請求取得新的面板
func (vs *Views) Close(key string) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if ref, ok := vs.views[key]; ok {
		ref.view.Close()
		delete(vs.views, key)
	}
}

// Len 目前追蹤的面板數
func (vs *Views) Len() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.views)
}
