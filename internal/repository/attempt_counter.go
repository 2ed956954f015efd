package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AttemptCounter 统计事件处理失败次数，用于决定何时放弃重试。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type redisAttemptCounter struct {
	redisClient *redis.Client
}

// NewAttemptCounter 创建一个基于 Redis 的 AttemptCounter，计数保留 24 小时。
func NewAttemptCounter(redisClient *redis.Client) AttemptCounter {
	return &redisAttemptCounter{redisClient: redisClient}
}

func (r *redisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	k := fmt.Sprintf("kafka:attempts:%s", key)
	n, err := r.redisClient.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	_ = r.redisClient.Expire(ctx, k, 24*time.Hour).Err()
	return n, nil
}

func (r *redisAttemptCounter) Reset(ctx context.Context, key string) error {
	return r.redisClient.Del(ctx, fmt.Sprintf("kafka:attempts:%s", key)).Err()
}
