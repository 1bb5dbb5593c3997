// Package presence 维护进程内 userId -> 连接 的在线表
// 每个用户最多一个连接，后连接的替换先连接的
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/internal/infrastructure/mq"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/protocol"

	"go.uber.org/zap"
)

// Handle 可推送事件的连接，Send 不能阻塞，发送失败返回 false
type Handle interface {
	ID() string
	Send(evt protocol.Event) bool
}

// Registration Register 的凭据，Unregister 时用 Generation 识别是否已被替换
type Registration struct {
	UserID     string
	Generation uint64
}

// Directory 在线目录
// 单进程实现为 *Table，多实例部署时可替换为共享存储实现
type Directory interface {
	Register(ctx context.Context, userID string, h Handle) Registration
	Unregister(ctx context.Context, reg Registration) bool
	IsOnline(userID string) bool
	Route(userID string) (Handle, bool)
	OnlineUserIDs() []string
}

// StatusStore 持久化最近一次已知的在线状态
type StatusStore interface {
	SetOnline(ctx context.Context, uuid string) error
	SetOffline(ctx context.Context, uuid string, lastSeen time.Time) error
}

// TaskRunner 异步执行旁路任务，RedisCache 实现了它
type TaskRunner interface {
	SubmitTask(action func())
}

type entry struct {
	handle     Handle
	generation uint64
}

// Table 进程内在线表，所有修改在同一把锁内完成
type Table struct {
	mu      sync.RWMutex
	entries map[string]entry
	gen     uint64

	store     StatusStore
	cache     myredis.CacheService
	runner    TaskRunner
	publisher mq.Publisher
	now       func() time.Time
}

// Option 配置 Table 的可选依赖
type Option func(*Table)

// WithCache 把在线集合镜像到 Redis
func WithCache(cache myredis.AsyncCacheService) Option {
	return func(t *Table) {
		t.cache = cache
		t.runner = cache
	}
}

// WithPublisher 发布上下线事件
func WithPublisher(p mq.Publisher) Option {
	return func(t *Table) { t.publisher = p }
}

// WithClock 替换时间源，测试用
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// NewTable 创建在线表，store 为 nil 时不落库
func NewTable(store StatusStore, opts ...Option) *Table {
	t := &Table{
		entries: make(map[string]entry),
		store:   store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Directory = (*Table)(nil)

// Register 登记 userID 的连接，已存在时直接替换
// 锁内完成：替换条目、向其他连接广播上线、向新连接发送在线快照
// 锁外完成：落库、Redis 镜像、事件发布
func (t *Table) Register(ctx context.Context, userID string, h Handle) Registration {
	t.mu.Lock()
	t.gen++
	reg := Registration{UserID: userID, Generation: t.gen}
	prev, replaced := t.entries[userID]
	t.entries[userID] = entry{handle: h, generation: reg.Generation}

	online := protocol.OnlineStatusChanged(userID, true)
	ids := make([]string, 0, len(t.entries))
	for id, e := range t.entries {
		ids = append(ids, id)
		if id == userID {
			continue
		}
		e.handle.Send(online)
	}
	sort.Strings(ids)
	h.Send(protocol.AllOnlineUsers(ids))
	metrics.SetOnlineUsers(len(t.entries))
	t.mu.Unlock()

	if replaced {
		zap.L().Info("连接被替换",
			zap.String("user_id", userID),
			zap.String("old_conn", prev.handle.ID()),
			zap.String("new_conn", h.ID()),
		)
	}

	// 锁外落库期间本次登记可能已被 Unregister，只在仍是当前登记时写入在线，
	// 写入后用户已离线则补写离线
	if t.store != nil && t.isCurrent(reg) {
		if err := t.store.SetOnline(ctx, userID); err != nil {
			zap.L().Warn("写入在线状态失败", zap.String("user_id", userID), zap.Error(err))
		}
		if !t.IsOnline(userID) {
			if err := t.store.SetOffline(ctx, userID, t.now()); err != nil {
				zap.L().Warn("写入离线状态失败", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	t.afterChange(userID, true)
	return reg
}

// isCurrent reg 是否仍是该用户当前的登记
func (t *Table) isCurrent(reg Registration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cur, ok := t.entries[reg.UserID]
	return ok && cur.generation == reg.Generation
}

// Unregister 移除登记；条目已不存在或已被更新的连接替换时不做任何事并返回 false
func (t *Table) Unregister(ctx context.Context, reg Registration) bool {
	t.mu.Lock()
	cur, ok := t.entries[reg.UserID]
	if !ok || cur.generation != reg.Generation {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, reg.UserID)

	offline := protocol.OnlineStatusChanged(reg.UserID, false)
	for _, e := range t.entries {
		e.handle.Send(offline)
	}
	metrics.SetOnlineUsers(len(t.entries))
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SetOffline(ctx, reg.UserID, t.now()); err != nil {
			zap.L().Warn("写入离线状态失败", zap.String("user_id", reg.UserID), zap.Error(err))
		}
		// 落库期间该用户可能已重新上线，以内存表为准纠正
		if t.IsOnline(reg.UserID) {
			if err := t.store.SetOnline(ctx, reg.UserID); err != nil {
				zap.L().Warn("写入在线状态失败", zap.String("user_id", reg.UserID), zap.Error(err))
			}
		}
	}
	t.afterChange(reg.UserID, false)
	return true
}

func (t *Table) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[userID]
	return ok
}

func (t *Table) Route(userID string) (Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[userID]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// OnlineUserIDs 当前在线用户，已排序
func (t *Table) OnlineUserIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// afterChange 异步同步 Redis 镜像并发布事件
// 镜像任务执行时重新读取内存表，乱序执行也能收敛到最新状态
func (t *Table) afterChange(userID string, online bool) {
	at := t.now()
	t.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if t.cache != nil {
			var err error
			if t.IsOnline(userID) {
				err = t.cache.AddToSet(ctx, constants.RedisKeyOnlineUsers, userID)
			} else {
				err = t.cache.RemoveFromSet(ctx, constants.RedisKeyOnlineUsers, userID)
			}
			if err != nil {
				zap.L().Warn("同步在线集合失败", zap.String("user_id", userID), zap.Error(err))
			}
		}

		if t.publisher != nil {
			key := mq.RoutingPresenceOff
			if online {
				key = mq.RoutingPresenceOnline
			}
			_ = t.publisher.Publish(ctx, key, mq.PresenceEvent{UserID: userID, Online: online, At: at})
		}
	})
}

func (t *Table) submit(fn func()) {
	if t.cache == nil && t.publisher == nil {
		return
	}
	if t.runner != nil {
		t.runner.SubmitTask(fn)
		return
	}
	fn()
}
