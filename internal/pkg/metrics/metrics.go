// Package metrics 核心套件共用的 Prometheus 指標
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BackendRequestsTotal 後端呼叫次數，依操作與結果分類
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_backend_requests_total",
			Help: "Total number of backend requests",
		},
		[]string{"operation", "outcome"},
	)

	// BackendRequestDuration 後端呼叫耗時
	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_backend_request_duration_seconds",
			Help:    "Duration of backend requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// RecommendStrategyTotal 推薦策略嘗試結果
	RecommendStrategyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_recommend_strategy_total",
			Help: "Recommendation strategy attempts by outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// RecommendCacheTotal 推薦快取查詢結果
	RecommendCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_recommend_cache_total",
			Help: "Recommendation cache lookups by result",
		},
		[]string{"result"},
	)

	// LikeTogglesTotal 收藏切換結果
	LikeTogglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_like_toggles_total",
			Help: "Like toggles by outcome",
		},
		[]string{"outcome"},
	)

	// LikeDispatchQueueLength 等待送出的收藏變更數
	LikeDispatchQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_like_dispatch_queue_length",
			Help: "Like mutations waiting for a worker",
		},
	)
)

func init() {
	prometheus.MustRegister(BackendRequestsTotal)
	prometheus.MustRegister(BackendRequestDuration)
	prometheus.MustRegister(RecommendStrategyTotal)
	prometheus.MustRegister(RecommendCacheTotal)
	prometheus.MustRegister(LikeTogglesTotal)
	prometheus.MustRegister(LikeDispatchQueueLength)
}
