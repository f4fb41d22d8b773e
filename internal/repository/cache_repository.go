package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// URLCacheRepository кэш успешных ответов url-service (shortCode -> longUrl).
// Агрегаты кликов здесь не кэшируются.
type URLCacheRepository interface {
	Get(ctx context.Context, shortCode string) (string, error)
	Set(ctx context.Context, shortCode, longURL string, ttl time.Duration) error
}

type urlCacheRepository struct {
	redis *RedisDB
}

func NewURLCacheRepository(redis *RedisDB) URLCacheRepository {
	return &urlCacheRepository{redis: redis}
}

func (r *urlCacheRepository) Get(ctx context.Context, shortCode string) (string, error) {
	longURL, err := r.redis.Client.Get(ctx, r.key(shortCode)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return longURL, nil
}

func (r *urlCacheRepository) Set(ctx context.Context, shortCode, longURL string, ttl time.Duration) error {
	return r.redis.Client.Set(ctx, r.key(shortCode), longURL, ttl).Err()
}

func (r *urlCacheRepository) key(shortCode string) string {
	return "analytics:longurl:" + shortCode
}
