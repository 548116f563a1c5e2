package like

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"go.uber.org/zap"
)

// job 待送出的收藏變更
type job struct {
	coord *Coordinator
	t     Transition
}

// Status 派送佇列狀態
type Status struct {
	QueueLength    int   `json:"queue_length"`
	ProcessedCount int64 `json:"processed_count"`
	FailedCount    int64 `json:"failed_count"`
	MaxQueueSize   int   `json:"max_queue_size"`
	Workers        int   `json:"workers"`
}

// Dispatcher 以固定數量的 worker 非同步送出收藏變更
type Dispatcher struct {
	queue   chan job
	workers int
	timeout time.Duration

	processed int64
	failed    int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher 創建並啟動派送器
func NewDispatcher(cfg config.LikeConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}

	d := &Dispatcher{
		queue:   make(chan job, size),
		workers: workers,
		timeout: cfg.MutationTimeout,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	common.LogInfo("like dispatcher started",
		zap.Int("workers", workers),
		zap.Int("queue_size", size),
	)
	return d
}

// Submit 將已 Begin 的切換加入佇列；佇列已滿時回傳 ErrDispatchFull，呼叫端需 Abort
func (d *Dispatcher) Submit(c *Coordinator, t Transition) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return common.ErrServiceUnavailable.Wrap(fmt.Errorf("like dispatcher is closed"))
	}

	select {
	case d.queue <- job{coord: c, t: t}:
		metrics.LikeDispatchQueueLength.Set(float64(len(d.queue)))
		common.LogDebug("like mutation enqueued",
			zap.String("product_id", t.ProductID),
			zap.Int("queue_length", len(d.queue)),
		)
		return nil
	default:
		common.LogWarn("like dispatcher queue full",
			zap.Int("queue_length", len(d.queue)),
			zap.Int("max_queue_size", cap(d.queue)),
		)
		return common.ErrDispatchFull
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for j := range d.queue {
		metrics.LikeDispatchQueueLength.Set(float64(len(d.queue)))

		ctx := context.Background()
		cancel := func() {}
		if d.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
		}
		if err := j.coord.Commit(ctx, j.t); err != nil {
			atomic.AddInt64(&d.failed, 1)
		}
		cancel()
		atomic.AddInt64(&d.processed, 1)
	}
	common.LogDebug("like dispatcher worker stopped", zap.Int("worker", id))
}

// Status 佇列狀態
func (d *Dispatcher) Status() *Status {
	return &Status{
		QueueLength:    len(d.queue),
		ProcessedCount: atomic.LoadInt64(&d.processed),
		FailedCount:    atomic.LoadInt64(&d.failed),
		MaxQueueSize:   cap(d.queue),
		Workers:        d.workers,
	}
}

// Close 停止接受新工作，等待佇列中的變更送出
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	common.LogInfo("like dispatcher stopped", zap.Int64("processed", atomic.LoadInt64(&d.processed)))
}
