package rembg

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/util"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}

// RedisCache 以原图 MD5 为键缓存抠图结果
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(opts *redis.Options, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}
}

func (s *RedisCache) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // 缓存未命中
		}
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisCache) Set(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisCache) Close() error {
	return s.client.Close()
}

// CachedRemover 先查缓存；缓存不可用时直接调用下游
type CachedRemover struct {
	next  Remover
	cache Cache
}

func NewCachedRemover(next Remover, cache Cache) *CachedRemover {
	return &CachedRemover{next: next, cache: cache}
}

func CacheKey(data []byte) string {
	return "cutout:" + util.BytesMD5(data)
}

func (c *CachedRemover) Remove(ctx context.Context, in Input) ([]byte, error) {
	key := CacheKey(in.Data)

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		util.Logger.Warn("failed to get cache", zap.String("cache_key", key), zap.Error(err))
	}
	if ok {
		util.Logger.Info("cache hit", zap.String("cache_key", key))
		return data, nil
	}

	data, err = c.next.Remove(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, data); err != nil {
		util.Logger.Warn("failed to set cache", zap.String("cache_key", key), zap.Error(err))
	}
	return data, nil
}
