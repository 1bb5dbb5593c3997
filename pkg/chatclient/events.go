// Package chatclient 是聊天服务的 Go 客户端
// Conn 负责连接、认证和重连，把服务端推送解码为 Bus 上的事件；
// Store 订阅这些事件，维护会话列表、消息、在线状态与未读数，并实现乐观发送
package chatclient

import (
	"errors"

	"dm_chat_server/pkg/protocol"
)

var (
	ErrInvalidPayload  = errors.New("chatclient: invalid message data")
	ErrNotConnected    = errors.New("chatclient: not connected to chat server")
	ErrDeliveryTimeout = errors.New("chatclient: message send timeout")
)

// Kind 事件类型
type Kind string

const (
	KindMessageReceived        Kind = "messageReceived"
	KindMessageSent            Kind = "messageSent"
	KindOnlineStatusChanged    Kind = "onlineStatusChanged"
	KindAllOnlineUsers         Kind = "allOnlineUsers"
	KindAuthenticated          Kind = "authenticated"
	KindError                  Kind = "error"
	KindUnreadMessages         Kind = "unreadMessages"
	KindConnectionStateChanged Kind = "connectionStateChanged"
	KindDeliveryTimeout        Kind = "deliveryTimeout"
)

// Event Bus 上传递的事件
type Event interface {
	Kind() Kind
}

type MessageReceived struct {
	Message protocol.Message
}

type MessageSent struct {
	Response protocol.MessageSent
}

type OnlineStatusChanged struct {
	UserID string
	Online bool
}

type AllOnlineUsers struct {
	UserIDs []string
}

type Authenticated struct {
	Message string
}

// ServerError 服务端 error 事件，认证前收到表示认证失败
type ServerError struct {
	Message string
}

type UnreadMessages struct {
	Senders []protocol.UnreadSender
}

// ConnectionStateChanged Err 仅在断开时可能非空
type ConnectionStateChanged struct {
	State ConnState
	Err   error
}

// DeliveryTimeout 乐观消息在 PendingTimeout 内未收到确认
type DeliveryTimeout struct {
	TempID     string
	ReceiverID string
}

func (MessageReceived) Kind() Kind        { return KindMessageReceived }
func (MessageSent) Kind() Kind            { return KindMessageSent }
func (OnlineStatusChanged) Kind() Kind    { return KindOnlineStatusChanged }
func (AllOnlineUsers) Kind() Kind         { return KindAllOnlineUsers }
func (Authenticated) Kind() Kind          { return KindAuthenticated }
func (ServerError) Kind() Kind            { return KindError }
func (UnreadMessages) Kind() Kind         { return KindUnreadMessages }
func (ConnectionStateChanged) Kind() Kind { return KindConnectionStateChanged }
func (DeliveryTimeout) Kind() Kind        { return KindDeliveryTimeout }

// ConnState 连接状态
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating // 已建立连接，等待 authenticated
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
