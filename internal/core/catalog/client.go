package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// 後端操作名稱，同時作為斷路器名稱與指標標籤
const (
	opSkinType  = "recommend_skin_type"
	opCategory  = "recommend_category"
	opPopular   = "recommend_popular"
	opLikeRead  = "like_read"
	opLikeWrite = "like_write"
)

var tracer = otel.Tracer("storefront-personalization/catalog")

// statusError 後端回傳非 2xx
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.code, e.body)
}

// Client 商店後端 API 客戶端
type Client struct {
	http     *resty.Client
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient 創建後端客戶端，每個操作各有一個斷路器
func NewClient(cfg config.BackendConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	c := &Client{
		http:     httpClient,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, op := range []string{opSkinType, opCategory, opPopular, opLikeRead, opLikeWrite} {
		c.breakers[op] = newBreaker(op, cfg.Breaker)
	}
	return c
}

func newBreaker(name string, cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// 4xx 代表請求本身的問題，不算後端故障
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			common.LogWarn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// do 執行單次後端呼叫：斷路器、追蹤、指標、狀態碼檢查
func (c *Client) do(ctx context.Context, op string, send func(req *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	ctx, span := tracer.Start(ctx, "backend."+op)
	defer span.End()
	span.SetAttributes(attribute.String("backend.operation", op))

	start := time.Now()
	out, err := c.breakers[op].Execute(func() (interface{}, error) {
		req := c.http.R().SetContext(ctx)
		if requestID := common.RequestID(ctx); requestID != "" {
			req.SetHeader("X-Request-ID", requestID)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := send(req)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, &statusError{code: resp.StatusCode(), body: truncate(resp.String(), 200)}
		}
		return resp, nil
	})
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			outcome = "circuit_open"
		}
		metrics.BackendRequestsTotal.WithLabelValues(op, outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, common.ErrSourceUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}

	metrics.BackendRequestsTotal.WithLabelValues(op, "ok").Inc()
	return out.(*resty.Response), nil
}

// Close 關閉閒置連線
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
