// Package cache 提供 Redis 缓存功能
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dumeirei/merch-settlement/internal/common/config"
	"github.com/redis/go-redis/v9"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache: miss")

// NewClient 创建并探活 Redis 客户端
func NewClient(cfg *config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return rdb, nil
}

// Store 对 Redis 的 JSON 读写封装
type Store struct {
	rdb redis.UniversalClient
}

// NewStore 创建缓存存储
func NewStore(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Client 返回底层客户端
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

// SetJSON 以 JSON 写入缓存
func (s *Store) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.rdb.Set(ctx, key, data, expiration).Err()
}

// GetJSON 读取 JSON 缓存，未命中返回 ErrMiss
func (s *Store) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete 删除缓存
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// IncrWindow 固定窗口计数，首次计数时设置过期时间
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// 缓存键前缀
const (
	KeyPrefixBalance   = "ledger:balance:"
	KeyPrefixRateLimit = "ratelimit:"
	KeyPrefixAccount   = "payout:account:"
)

// BuildKey 构建缓存键
func BuildKey(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return strings.TrimSuffix(prefix, ":")
	}
	return prefix + strings.Join(parts, ":")
}
