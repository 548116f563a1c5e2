// Package session 工作階段的使用者、膚質、最近瀏覽與收藏成分，存放於 Redis
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"storefront-personalization/internal/core/ingredient"
	"storefront-personalization/internal/core/recommend"
	"storefront-personalization/internal/infrastructure/config"
	"storefront-personalization/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	fieldUserID   = "userId"
	fieldSkinType = "skinType"
)

// Profile 工作階段的使用者資料；UserID 為空代表匿名
type Profile struct {
	UserID   string             `json:"userId"`
	SkinType recommend.SkinType `json:"skinType"`
}

// RedisStore 工作階段儲存
type RedisStore struct {
	client    *redis.Client
	prefix    string
	recentCap int
	ttl       time.Duration
}

// NewRedisStore 依設定建立 Redis 連線
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg)
}

// NewRedisStoreWithClient 使用既有的 Redis 客戶端
func NewRedisStoreWithClient(client *redis.Client, cfg config.RedisConfig) *RedisStore {
	recentCap := cfg.RecentCap
	if recentCap <= 0 {
		recentCap = 20
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "storefront"
	}
	return &RedisStore{
		client:    client,
		prefix:    prefix,
		recentCap: recentCap,
		ttl:       cfg.TTL,
	}
}

// Ping 檢查連線
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 關閉連線
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) profileKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:profile", s.prefix, sessionID)
}

func (s *RedisStore) recentKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:recent", s.prefix, sessionID)
}

func (s *RedisStore) categoryKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:recent_category", s.prefix, sessionID)
}

func (s *RedisStore) favoritesKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:favorites", s.prefix, userID)
}

func requireID(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return common.ErrInvalidRequest.Wrap(fmt.Errorf("%s is required", name))
	}
	return nil
}

// Profile 讀取工作階段資料，不存在時回傳匿名
func (s *RedisStore) Profile(ctx context.Context, sessionID string) (Profile, error) {
	if err := requireID("session id", sessionID); err != nil {
		return Profile{}, err
	}

	values, err := s.client.HGetAll(ctx, s.profileKey(sessionID)).Result()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return Profile{
		UserID:   values[fieldUserID],
		SkinType: recommend.ParseSkinType(values[fieldSkinType]),
	}, nil
}

// SetProfile 更新工作階段資料
func (s *RedisStore) SetProfile(ctx context.Context, sessionID string, p Profile) error {
	if err := requireID("session id", sessionID); err != nil {
		return err
	}

	key := s.profileKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			fieldUserID:   strings.TrimSpace(p.UserID),
			fieldSkinType: string(recommend.ParseSkinType(string(p.SkinType))),
		})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// RecordView 記錄瀏覽，重複的商品移到最前面，超過上限的舊紀錄移除
func (s *RedisStore) RecordView(ctx context.Context, sessionID, productID, category string) error {
	if err := requireID("session id", sessionID); err != nil {
		return err
	}
	if err := requireID("product id", productID); err != nil {
		return err
	}

	recentKey := s.recentKey(sessionID)
	catKey := s.categoryKey(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, recentKey, 0, productID)
		pipe.LPush(ctx, recentKey, productID)
		pipe.LTrim(ctx, recentKey, 0, int64(s.recentCap-1))
		pipe.HSet(ctx, catKey, productID, strings.TrimSpace(category))
		if s.ttl > 0 {
			pipe.Expire(ctx, recentKey, s.ttl)
			pipe.Expire(ctx, catKey, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record view: %w", err)
	}
	return nil
}

// RecentlyViewed 最近瀏覽紀錄，第一筆為最近一次
func (s *RedisStore) RecentlyViewed(ctx context.Context, sessionID string) ([]recommend.ViewedItem, error) {
	if err := requireID("session id", sessionID); err != nil {
		return nil, err
	}

	ids, err := s.client.LRange(ctx, s.recentKey(sessionID), 0, int64(s.recentCap-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent views: %w", err)
	}
	if len(ids) == 0 {
		return []recommend.ViewedItem{}, nil
	}

	categories, err := s.client.HMGet(ctx, s.categoryKey(sessionID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent categories: %w", err)
	}

	items := make([]recommend.ViewedItem, 0, len(ids))
	for i, id := range ids {
		item := recommend.ViewedItem{ProductID: id}
		if cat, ok := categories[i].(string); ok {
			item.Category = cat
		}
		items = append(items, item)
	}
	return items, nil
}

// FavoriteKeys 使用者收藏的成分 id 或名稱
func (s *RedisStore) FavoriteKeys(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return []string{}, nil
	}
	keys, err := s.client.SMembers(ctx, s.favoritesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read favorites: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Favorites 使用者收藏的成分集合
func (s *RedisStore) Favorites(ctx context.Context, userID string) (ingredient.FavoriteSet, error) {
	keys, err := s.FavoriteKeys(ctx, userID)
	if err != nil {
		return ingredient.NewFavoriteSet(), err
	}
	return ingredient.NewFavoriteSet(keys...), nil
}

// SetFavorites 取代使用者的收藏成分
func (s *RedisStore) SetFavorites(ctx context.Context, userID string, keys []string) error {
	if err := requireID("user id", userID); err != nil {
		return err
	}

	members := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			members = append(members, k)
		}
	}

	key := s.favoritesKey(userID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save favorites: %w", err)
	}
	return nil
}

// Context 組合推薦輸入；讀取失敗時退回匿名、無瀏覽紀錄
func (s *RedisStore) Context(ctx context.Context, sessionID string) recommend.ResolveContext {
	var rc recommend.ResolveContext
	if sessionID == "" {
		return rc
	}

	profile, err := s.Profile(ctx, sessionID)
	if err != nil {
		common.LogWarn("session profile unavailable, treating as anonymous",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else {
		rc.UserID = profile.UserID
		rc.SkinType = profile.SkinType
	}

	recent, err := s.RecentlyViewed(ctx, sessionID)
	if err != nil {
		common.LogWarn("recent views unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else {
		rc.RecentlyViewed = recent
	}
	return rc
}
