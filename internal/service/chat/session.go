package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/internal/model"
	"dm_chat_server/internal/service/auth"
	"dm_chat_server/internal/service/presence"
	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/protocol"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// State 连接会话的状态
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Transport 会话下层的连接
// Close 在已排队的事件写完后关闭连接，可重复调用
type Transport interface {
	presence.Handle
	Close()
}

// Session 一条连接上的状态机：Unauthenticated -> Authenticating -> Active -> Closed
type Session struct {
	server    *ChatServer
	transport Transport
	state     atomic.Int32
	authTimer *time.Timer

	mu   sync.Mutex
	user *model.UserInfo
	reg  presence.Registration

	closeOnce sync.Once
}

func (s *Session) State() State { return State(s.state.Load()) }

// Active 是否已认证
func (s *Session) Active() bool { return s.State() == StateActive }

// User 认证成功后的用户，之前为 nil
func (s *Session) User() *model.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Send 推送事件给本连接
func (s *Session) Send(evt protocol.Event) bool {
	return s.transport.Send(evt)
}

// Dispatch 处理一帧入站数据
// 无法解析的帧和未知事件只记录日志
func (s *Session) Dispatch(ctx context.Context, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		zap.L().Warn("丢弃无法解析的帧", zap.String("conn_id", s.transport.ID()), zap.Error(err))
		return
	}
	metrics.IncWSEvent(env.Event)

	switch env.Event {
	case protocol.EventAuthenticate:
		if !s.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticating)) {
			zap.L().Debug("忽略重复认证", zap.String("conn_id", s.transport.ID()), zap.Stringer("state", s.State()))
			return
		}
		s.authenticate(ctx, env.Token())
	case protocol.EventSendMessage:
		var req request.SendMessageRequest
		if err := env.DecodeData(&req); err != nil {
			zap.L().Warn("sendMessage 载荷解析失败", zap.String("conn_id", s.transport.ID()), zap.Error(err))
		}
		_ = s.server.delivery.Submit(ctx, s, req)
	default:
		zap.L().Debug("忽略未知事件", zap.String("event", env.Event))
	}
}

func (s *Session) authenticate(ctx context.Context, token string) {
	ctx, span := tracer.Start(ctx, "ws.authenticate")
	defer span.End()

	user, err := s.server.auth.Authenticate(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		zap.L().Info("WebSocket 认证失败", zap.String("conn_id", s.transport.ID()), zap.Error(err))
		s.state.Store(int32(StateClosed))
		s.transport.Send(protocol.Error(auth.ClientMessage(err)))
		s.transport.Close()
		return
	}
	span.SetAttributes(attribute.String("user.id", user.Uuid))

	reg := s.server.directory.Register(ctx, user.Uuid, s.transport)

	s.mu.Lock()
	if s.State() == StateClosed {
		// 认证期间连接已断开
		s.mu.Unlock()
		s.server.directory.Unregister(ctx, reg)
		return
	}
	s.user = user
	s.reg = reg
	s.mu.Unlock()

	s.transport.Send(protocol.UnreadMessages(s.unreadDigest(ctx, user.Uuid)))
	s.transport.Send(protocol.Authenticated())

	s.mu.Lock()
	if s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateActive)) {
		s.authTimer.Stop()
	}
	s.mu.Unlock()
	zap.L().Info("用户上线", zap.String("user_id", user.Uuid), zap.String("conn_id", s.transport.ID()))
}

// unreadDigest 每个有未读消息的发送者一项，发送者已不存在时用占位名
func (s *Session) unreadDigest(ctx context.Context, userID string) []protocol.UnreadSender {
	senders, err := s.server.messages.UnreadSenders(ctx, userID)
	if err != nil {
		zap.L().Error("查询未读发送者失败", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if len(senders) == 0 {
		return nil
	}

	names := make(map[string]string, len(senders))
	users, err := s.server.users.FindByUuids(ctx, senders)
	if err != nil {
		zap.L().Warn("查询未读发送者信息失败", zap.Error(err))
	}
	for _, u := range users {
		names[u.Uuid] = u.Username
	}

	digest := make([]protocol.UnreadSender, 0, len(senders))
	for _, id := range senders {
		name, ok := names[id]
		if !ok {
			name = constants.UnknownUsername
		}
		digest = append(digest, protocol.UnreadSender{SenderId: id, Username: name})
	}
	return digest
}

func (s *Session) onAuthTimeout() {
	if s.State() != StateUnauthenticated {
		return
	}
	zap.L().Info("连接未在限定时间内认证，关闭", zap.String("conn_id", s.transport.ID()))
	s.transport.Close()
}

// Close 连接断开时调用，只生效一次
// 已认证的会话从在线表注销，被新连接替换后注销为空操作
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.authTimer.Stop()

		s.mu.Lock()
		prev := State(s.state.Swap(int32(StateClosed)))
		reg, user := s.reg, s.user
		s.mu.Unlock()

		if user == nil {
			return
		}
		if s.server.directory.Unregister(ctx, reg) {
			zap.L().Info("用户下线", zap.String("user_id", user.Uuid), zap.Stringer("prev_state", prev))
		}
	})
}
