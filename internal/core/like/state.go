// Package like 收藏狀態協調：樂觀更新、每商品單一進行中變更、失敗回滾
package like

import (
	"sync"

	"storefront-personalization/internal/pkg/common"
)

// Entry 對外公開的單一商品狀態
type Entry struct {
	Liked   bool `json:"liked"`
	Pending bool `json:"pending"`
}

// Transition 一次樂觀切換，From 為切換前的值
type Transition struct {
	UserID    string
	ProductID string
	From      bool
	To        bool
	epoch     uint64
}

type entry struct {
	liked   bool
	pending bool
	seeded  bool
	// refs 顯示此商品的面板數，歸零時移除
	refs int
	// epoch 建立時指派，移除後重建的項目不會接受舊的完成結果
	epoch uint64
}

// State 所有面板共用的收藏狀態，以使用者與商品 id 為鍵，可併發使用
type State struct {
	mu        sync.Mutex
	users     map[string]map[string]*entry
	nextEpoch uint64
}

// NewState 創建共用狀態
func NewState() *State {
	return &State{users: make(map[string]map[string]*entry)}
}

// acquire 為每個 id 增加一個參照，回傳新建立、需要初始化的項目
func (s *State) acquire(userID string, productIDs []string, seeded bool) map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.users[userID]
	if !ok {
		entries = make(map[string]*entry)
		s.users[userID] = entries
	}

	created := make(map[string]uint64)
	for _, id := range productIDs {
		if e, exists := entries[id]; exists {
			e.refs++
			continue
		}
		s.nextEpoch++
		entries[id] = &entry{refs: 1, seeded: seeded, epoch: s.nextEpoch}
		if !seeded {
			created[id] = s.nextEpoch
		}
	}
	return created
}

// seed 設定初始值；項目已被移除或重建時忽略
func (s *State) seed(userID, productID string, epoch uint64, liked bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(userID, productID)
	if e == nil || e.epoch != epoch || e.seeded {
		return false
	}
	e.liked = liked
	e.seeded = true
	return true
}

// release 減少參照，歸零時移除
func (s *State) release(userID string, productIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.users[userID]
	for _, id := range productIDs {
		e, ok := entries[id]
		if !ok {
			continue
		}
		if e.refs--; e.refs <= 0 {
			delete(entries, id)
		}
	}
	if len(entries) == 0 {
		delete(s.users, userID)
	}
}

// begin 在同一把鎖內檢查 pending 並套用樂觀更新
func (s *State) begin(userID, productID string) (Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(userID, productID)
	switch {
	case e == nil:
		return Transition{}, common.ErrUnknownProduct
	case !e.seeded:
		return Transition{}, common.ErrNotSeeded
	case e.pending:
		return Transition{}, common.ErrTogglePending
	}

	t := Transition{
		UserID:    userID,
		ProductID: productID,
		From:      e.liked,
		To:        !e.liked,
		epoch:     e.epoch,
	}
	e.liked = t.To
	e.pending = true
	return t, nil
}

// settle 結束進行中的變更；失敗時回到 From。項目已不存在時回傳 false
func (s *State) settle(t Transition, ok bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(t.UserID, t.ProductID)
	if e == nil || e.epoch != t.epoch || !e.pending {
		return false
	}
	if !ok {
		e.liked = t.From
	}
	e.pending = false
	return true
}

// get 讀取單一商品狀態
func (s *State) get(userID, productID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(userID, productID)
	if e == nil {
		return Entry{}, false
	}
	return Entry{Liked: e.liked, Pending: e.pending}, true
}

// snapshot 讀取多個商品狀態，不存在的 id 不會出現在結果中
func (s *State) snapshot(userID string, productIDs []string) map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(productIDs))
	for _, id := range productIDs {
		if e := s.lookup(userID, id); e != nil {
			out[id] = Entry{Liked: e.liked, Pending: e.pending}
		}
	}
	return out
}

// Len 目前追蹤的項目總數
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, entries := range s.users {
		n += len(entries)
	}
	return n
}

func (s *State) lookup(userID, productID string) *entry {
	entries, ok := s.users[userID]
	if !ok {
		return nil
	}
	return entries[productID]
}
