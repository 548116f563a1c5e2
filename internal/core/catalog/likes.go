package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"storefront-personalization/internal/pkg/common"

	"github.com/go-resty/resty/v2"
)

// ErrBatchUnsupported 後端沒有批次查詢端點，呼叫端應改為逐筆查詢
var ErrBatchUnsupported = errors.New("batch like check unsupported")

type likeRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
}

type batchLikeRequest struct {
	UserID     string   `json:"userId"`
	ProductIDs []string `json:"productIds"`
}

// LikeExists GET /likes/exists
func (c *Client) LikeExists(ctx context.Context, userID, productID string) (bool, error) {
	resp, err := c.do(ctx, opLikeRead, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParams(map[string]string{
			"userId":    userID,
			"productId": productID,
		}).Get("/likes/exists")
	})
	if err != nil {
		return false, err
	}

	var raw interface{}
	if err := common.ParseJSONBytes(resp.Body(), &raw); err != nil {
		return false, common.ErrMalformedPayload.Wrap(fmt.Errorf("like exists: %w", err))
	}
	switch t := raw.(type) {
	case bool:
		return t, nil
	case map[string]interface{}:
		for _, key := range []string{"exists", "liked", "data"} {
			if b, ok := t[key].(bool); ok {
				return b, nil
			}
		}
	}
	return false, common.ErrMalformedPayload.Wrap(fmt.Errorf("like exists: unexpected payload %s", truncate(resp.String(), 100)))
}

// LikeExistsBatch POST /likes/exists/batch；未出現在回應中的商品視為未收藏
func (c *Client) LikeExistsBatch(ctx context.Context, userID string, productIDs []string) (map[string]bool, error) {
	resp, err := c.do(ctx, opLikeRead, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(batchLikeRequest{UserID: userID, ProductIDs: productIDs}).Post("/likes/exists/batch")
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.code == http.StatusNotFound || se.code == http.StatusMethodNotAllowed) {
			return nil, ErrBatchUnsupported
		}
		return nil, err
	}

	var raw map[string]interface{}
	if err := common.ParseJSONBytes(resp.Body(), &raw); err != nil {
		return nil, common.ErrMalformedPayload.Wrap(fmt.Errorf("like batch: %w", err))
	}
	if inner, ok := raw["likes"].(map[string]interface{}); ok {
		raw = inner
	}

	result := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		result[id] = false
	}
	for id, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, common.ErrMalformedPayload.Wrap(fmt.Errorf("like batch: product %q: unexpected type %T", id, v))
		}
		if _, wanted := result[id]; wanted {
			result[id] = b
		}
	}
	return result, nil
}

// AddLike POST /likes
func (c *Client) AddLike(ctx context.Context, userID, productID string) error {
	_, err := c.do(ctx, opLikeWrite, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(likeRequest{UserID: userID, ProductID: productID}).Post("/likes")
	})
	return err
}

// RemoveLike DELETE /likes
func (c *Client) RemoveLike(ctx context.Context, userID, productID string) error {
	_, err := c.do(ctx, opLikeWrite, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParams(map[string]string{
			"userId":    userID,
			"productId": productID,
		}).Delete("/likes")
	})
	return err
}
