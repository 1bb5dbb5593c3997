// Package redis 定义缓存服务接口及其 Redis 实现
// Service 层只依赖接口，测试中可以替换为 miniredis
package redis

import (
	"context"
	"time"
)

// CacheService 缓存服务接口
type CacheService interface {
	// Set 设置键值对并指定过期时间
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get 获取值，键不存在时返回空字符串和 nil
	Get(ctx context.Context, key string) (string, error)
	// Incr 自增并刷新过期时间，返回自增后的值
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete 删除键，不存在时不报错
	Delete(ctx context.Context, key string) error

	AddToSet(ctx context.Context, key string, members ...any) error
	RemoveFromSet(ctx context.Context, key string, members ...any) error
}

// AsyncCacheService 在 CacheService 之上提供异步任务提交
// 消息投递和在线状态只需要尽力而为的缓存更新，不能阻塞连接处理
type AsyncCacheService interface {
	CacheService
	// SubmitTask 提交异步缓存任务，队列满时同步执行
	SubmitTask(action func())
}
