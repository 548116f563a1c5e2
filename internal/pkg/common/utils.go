package common

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

type ctxKeyRequestID struct{}

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// WithRequestID 將請求 ID 放入 context，供後端呼叫轉傳
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, requestID)
}

// RequestID 取出 context 中的請求 ID
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID{}).(string); ok {
		return v
	}
	return ""
}

// Generation 視圖世代計數。視圖卸載或內容更換時 Advance，
// 進行中的請求完成時以 IsCurrent 判斷結果是否仍可套用。
type Generation struct {
	n atomic.Uint64
}

// Current 目前世代
func (g *Generation) Current() uint64 {
	return g.n.Load()
}

// Advance 進入下一世代並回傳新值
func (g *Generation) Advance() uint64 {
	return g.n.Add(1)
}

// IsCurrent 判斷 token 是否仍為目前世代
func (g *Generation) IsCurrent(token uint64) bool {
	return g.n.Load() == token
}
