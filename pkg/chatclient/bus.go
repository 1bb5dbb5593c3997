package chatclient

import (
	"sync"

	"go.uber.org/zap"
)

// Handler 事件回调，在 Publish 的调用方协程中同步执行
type Handler func(Event)

type subscription struct {
	fn Handler
}

// Bus 按事件类型分发的进程内事件总线
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]*subscription)}
}

// Subscribe 返回的函数用于取消订阅，可重复调用
func (b *Bus) Subscribe(kind Kind, fn Handler) func() {
	sub := &subscription{fn: fn}
	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, sub) })
	}
}

func (b *Bus) remove(kind Kind, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	for i, s := range list {
		if s == sub {
			b.subs[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish 依次调用订阅者，单个订阅者 panic 只记录日志
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	list := b.subs[evt.Kind()]
	b.mu.RUnlock()

	for _, sub := range list {
		b.call(evt, sub.fn)
	}
}

func (b *Bus) call(evt Event, fn Handler) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("chatclient subscriber panic", zap.String("event", string(evt.Kind())), zap.Any("panic", r))
		}
	}()
	fn(evt)
}

// Close 移除全部订阅者
func (b *Bus) Close() {
	b.mu.Lock()
	b.subs = make(map[Kind][]*subscription)
	b.mu.Unlock()
}
