package websocket

import (
	"context"

	"dm_chat_server/internal/service/chat"
)

// Session 连接上的会话状态机，chat.Session 实现了它
type Session interface {
	Dispatch(ctx context.Context, raw []byte)
	Close(ctx context.Context)
}

// NewSessionFunc 为每条新连接创建会话
// 用于解耦 websocket 包对 chat.ChatServer 的依赖
type NewSessionFunc func(t chat.Transport) Session

// FromChatServer 把 ChatServer 适配为 NewSessionFunc
func FromChatServer(cs *chat.ChatServer) NewSessionFunc {
	return func(t chat.Transport) Session {
		return cs.NewSession(t)
	}
}
