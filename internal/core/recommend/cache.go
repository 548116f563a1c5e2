package recommend

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"storefront-personalization/internal/core/catalog"
	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Cache 推薦來源回應快取，TTL 到期或容量滿時以最少使用淘汰
type Cache struct {
	mu      sync.Mutex
	store   map[string]cacheEntry
	ttl     time.Duration
	maxSize int
	stats   cacheStats

	stop      chan struct{}
	closeOnce sync.Once
}

type cacheEntry struct {
	products    []catalog.RawProduct
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

type cacheStats struct {
	hits      int64
	misses    int64
	evictions int64
}

// NewCache 創建快取；停用或 TTL 為 0 時回傳 nil，所有方法皆可安全使用 nil
func NewCache(cfg config.CacheConfig, ttl time.Duration) *Cache {
	if !cfg.Enabled || ttl <= 0 {
		common.LogInfo("recommendation cache disabled")
		return nil
	}

	c := &Cache{
		store:   make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: cfg.MaxSize,
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.startCleanup(cfg.CleanupInterval)
	}

	common.LogInfo("recommendation cache initialized",
		zap.Int("max_size", cfg.MaxSize),
		zap.Duration("ttl", ttl),
		zap.Duration("cleanup_interval", cfg.CleanupInterval),
	)
	return c
}

// Get 取得快取的來源回應
func (c *Cache) Get(key string) ([]catalog.RawProduct, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store[key]
	if !ok {
		c.stats.misses++
		metrics.RecommendCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.store, key)
		c.stats.evictions++
		c.stats.misses++
		metrics.RecommendCacheTotal.WithLabelValues("expired").Inc()
		return nil, false
	}

	entry.lastAccess = time.Now()
	entry.accessCount++
	c.store[key] = entry
	c.stats.hits++
	metrics.RecommendCacheTotal.WithLabelValues("hit").Inc()
	return entry.products, true
}

// Set 儲存來源回應
func (c *Cache) Set(key string, products []catalog.RawProduct) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && c.maxSize > 0 && len(c.store) >= c.maxSize {
		if c.cleanup() == 0 {
			c.evictLRU()
		}
	}

	now := time.Now()
	stored := make([]catalog.RawProduct, len(products))
	copy(stored, products)
	c.store[key] = cacheEntry{
		products:   stored,
		expiresAt:  now.Add(c.ttl),
		lastAccess: now,
	}
}

// Stats 快取統計
func (c *Cache) Stats() map[string]interface{} {
	if c == nil {
		return map[string]interface{}{"enabled": false}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := 0.0
	if total := c.stats.hits + c.stats.misses; total > 0 {
		ratio = float64(c.stats.hits) / float64(total)
	}
	return map[string]interface{}{
		"enabled":   true,
		"size":      len(c.store),
		"max_size":  c.maxSize,
		"hits":      c.stats.hits,
		"misses":    c.stats.misses,
		"evictions": c.stats.evictions,
		"hit_ratio": ratio,
	}
}

// Close 停止清理協程並清空快取
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() { close(c.stop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]cacheEntry)
	common.LogInfo("recommendation cache closed",
		zap.Int64("hits", c.stats.hits),
		zap.Int64("misses", c.stats.misses),
		zap.Int64("evictions", c.stats.evictions),
	)
	return nil
}

func (c *Cache) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.cleanup()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// cleanup 移除過期項目，呼叫端需持有鎖
func (c *Cache) cleanup() int {
	now := time.Now()
	count := 0
	for key, entry := range c.store {
		if now.After(entry.expiresAt) {
			delete(c.store, key)
			count++
		}
	}
	c.stats.evictions += int64(count)

	if count > 0 {
		common.LogDebug("cleaned up expired recommendation entries",
			zap.Int("count", count),
			zap.Int("remaining", len(c.store)),
		)
	}
	return count
}

// evictLRU 淘汰存取次數最少且最久未使用的項目，呼叫端需持有鎖
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestAccess time.Time
	lowestCount := 0

	for key, entry := range c.store {
		if oldestKey == "" ||
			entry.accessCount < lowestCount ||
			(entry.accessCount == lowestCount && entry.lastAccess.Before(oldestAccess)) {
			oldestKey = key
			oldestAccess = entry.lastAccess
			lowestCount = entry.accessCount
		}
	}

	if oldestKey != "" {
		delete(c.store, oldestKey)
		c.stats.evictions++
	}
}

// cacheKey 依來源與查詢參數產生快取鍵
func cacheKey(strategy Strategy, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return string(strategy) + ":" + hex.EncodeToString(hash[:8])
}
