package like

import (
	"sync"
	"time"
)

const maxNotificationsPerUser = 50

// Notification 非致命通知，例如收藏變更失敗已回滾
type Notification struct {
	ProductID string    `json:"productId"`
	Liked     bool      `json:"liked"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier 依使用者暫存通知，讀取後清空
type Notifier struct {
	mu     sync.Mutex
	byUser map[string][]Notification
}

// NewNotifier 創建通知暫存
func NewNotifier() *Notifier {
	return &Notifier{byUser: make(map[string][]Notification)}
}

// Push 新增通知，超過上限時捨棄最舊的
func (n *Notifier) Push(userID string, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	list := append(n.byUser[userID], note)
	if len(list) > maxNotificationsPerUser {
		list = list[len(list)-maxNotificationsPerUser:]
	}
	n.byUser[userID] = list
}

// Drain 取出並清空使用者的通知
func (n *Notifier) Drain(userID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	list := n.byUser[userID]
	delete(n.byUser, userID)
	if list == nil {
		return []Notification{}
	}
	return list
}
