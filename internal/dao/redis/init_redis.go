package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"dm_chat_server/internal/config"

	"github.com/redis/go-redis/v9"
)

// Init 按配置创建 Redis 客户端并探活，返回带异步 Worker 的缓存实例
func Init(ctx context.Context, cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password:     cfg.Password,
		DB:           cfg.Db,
		PoolSize:     50,
		MinIdleConns: cfg.Workers,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", client.Options().Addr, err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	taskSize := cfg.TaskSize
	if taskSize <= 0 {
		taskSize = 1000
	}
	return NewRedisCache(client, workers, taskSize), nil
}
