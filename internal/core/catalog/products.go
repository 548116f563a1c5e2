package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"storefront-personalization/internal/pkg/common"
	"storefront-personalization/internal/pkg/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
)

// RawProduct 後端商品，已通過欄位別名對應與驗證
type RawProduct struct {
	ID       string  `json:"id" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Brand    string  `json:"brand"`
	Price    float64 `json:"price" validate:"gte=0"`
	ImageRef string  `json:"imageRef"`
	Rating   float64 `json:"rating" validate:"gte=0"`
	Category string  `json:"category"`
}

var validate = validator.New()

// 各端點對同一欄位使用不同名稱
var (
	idKeys       = []string{"id", "productId", "product_id"}
	nameKeys     = []string{"name", "productName", "product_name"}
	brandKeys    = []string{"brand", "brandName", "brand_name"}
	priceKeys    = []string{"price", "salePrice", "sale_price"}
	imageKeys    = []string{"imageUrl", "image_url", "thumbnail", "image"}
	ratingKeys   = []string{"rating", "averageRating", "average_rating"}
	categoryKeys = []string{"category", "categoryName", "category_name"}

	envelopeKeys = []string{"data", "items", "products", "content"}
)

// RecommendBySkinType GET /recommend/skin-type
func (c *Client) RecommendBySkinType(ctx context.Context, skinType string, limit int) ([]RawProduct, error) {
	resp, err := c.do(ctx, opSkinType, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParams(map[string]string{
			"skinType": skinType,
			"limit":    strconv.Itoa(limit),
		}).Get("/recommend/skin-type")
	})
	if err != nil {
		return nil, err
	}
	return decodeProductsFor(opSkinType, resp.Body())
}

// RecommendByCategory GET /recommend/category
func (c *Client) RecommendByCategory(ctx context.Context, category string, excludeIDs []string, limit int) ([]RawProduct, error) {
	resp, err := c.do(ctx, opCategory, func(req *resty.Request) (*resty.Response, error) {
		params := map[string]string{
			"category": category,
			"limit":    strconv.Itoa(limit),
		}
		if len(excludeIDs) > 0 {
			params["excludeIds"] = strings.Join(excludeIDs, ",")
		}
		return req.SetQueryParams(params).Get("/recommend/category")
	})
	if err != nil {
		return nil, err
	}
	return decodeProductsFor(opCategory, resp.Body())
}

// RecommendPopular GET /recommend/popular
func (c *Client) RecommendPopular(ctx context.Context, limit int) ([]RawProduct, error) {
	resp, err := c.do(ctx, opPopular, func(req *resty.Request) (*resty.Response, error) {
		return req.SetQueryParam("limit", strconv.Itoa(limit)).Get("/recommend/popular")
	})
	if err != nil {
		return nil, err
	}
	return decodeProductsFor(opPopular, resp.Body())
}

func decodeProductsFor(op string, body []byte) ([]RawProduct, error) {
	products, err := DecodeProducts(body)
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(op, "malformed").Inc()
		return nil, common.ErrMalformedPayload.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	return products, nil
}

// DecodeProducts 將任一種後端清單格式轉為 RawProduct。
// 接受裸陣列，或以 data/items/products/content 包裝的物件（最多兩層）。
// 任一筆不合法即視為整份回應不合法。
func DecodeProducts(body []byte) ([]RawProduct, error) {
	var raw interface{}
	if err := common.ParseJSONBytes(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	items, ok := unwrapList(raw, 2)
	if !ok {
		return nil, fmt.Errorf("no product list in payload")
	}

	products := make([]RawProduct, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("item %d: not an object", i)
		}
		p, err := toRawProduct(m)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		products = append(products, p)
	}
	return products, nil
}

func unwrapList(v interface{}, depth int) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case map[string]interface{}:
		if depth == 0 {
			return nil, false
		}
		for _, key := range envelopeKeys {
			if inner, exists := t[key]; exists {
				if list, ok := unwrapList(inner, depth-1); ok {
					return list, true
				}
			}
		}
	}
	return nil, false
}

func toRawProduct(m map[string]interface{}) (RawProduct, error) {
	var p RawProduct
	var err error

	if p.ID, err = stringField(m, idKeys); err != nil {
		return p, err
	}
	if p.Name, err = stringField(m, nameKeys); err != nil {
		return p, err
	}
	if p.Brand, err = stringField(m, brandKeys); err != nil {
		return p, err
	}
	if p.ImageRef, err = stringField(m, imageKeys); err != nil {
		return p, err
	}
	if p.Category, err = stringField(m, categoryKeys); err != nil {
		return p, err
	}
	if p.Price, err = numberField(m, priceKeys); err != nil {
		return p, err
	}
	if p.Rating, err = numberField(m, ratingKeys); err != nil {
		return p, err
	}
	return p, nil
}

func lookup(m map[string]interface{}, keys []string) (interface{}, string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// stringField 字串欄位，數字 id 轉為字串
func stringField(m map[string]interface{}, keys []string) (string, error) {
	v, key, ok := lookup(m, keys)
	if !ok {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("field %q: unexpected type %T", key, v)
	}
}

// numberField 數值欄位，缺少時為 0
func numberField(m map[string]interface{}, keys []string) (float64, error) {
	v, key, ok := lookup(m, keys)
	if !ok {
		return 0, nil
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return f, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q: unexpected type %T", key, v)
	}
}
