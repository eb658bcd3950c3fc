package resource

import (
	"context"

	"github.com/redis/go-redis/v9"

	"acquisition-service/pkg/config"
	"acquisition-service/pkg/redisclient"
)

// RedisResource 事件桥的 Redis 连接
type RedisResource struct {
	client *redisclient.Client
}

// NewRedisResource 连接 Redis，失败时直接返回错误
func NewRedisResource(ctx context.Context, cfg config.RedisConfig) (*RedisResource, error) {
	client, err := redisclient.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RedisResource{client: client}, nil
}

func (r *RedisResource) Close() {
	if r != nil && r.client != nil {
		_ = r.client.Close()
	}
}

// Client 供 eventbridge 收发消息
func (r *RedisResource) Client() *redis.Client {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.PubSub()
}
