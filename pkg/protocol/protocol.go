// Package protocol 定义 WebSocket 上双向传输的事件信封和载荷
// 服务端与 pkg/chatclient 共用，保证两端字段一致
package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

// 客户端 -> 服务端
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "sendMessage"
)

// 服务端 -> 客户端
const (
	EventAuthenticated  = "authenticated"
	EventError          = "error"
	EventUnreadMessages = "unreadMessages"
	EventAllOnlineUsers = "allOnlineUsers"
	EventOnlineStatus   = "onlineStatus"
	EventReceiveMessage = "receiveMessage"
	EventMessageSent    = "messageSent"
)

// 错误事件中的固定文案
const (
	MsgAuthSuccess     = "Authentication successful"
	MsgNoToken         = "No token provided"
	MsgInvalidToken    = "Invalid token"
	MsgServerError     = "Server error"
	MsgInvalidMessage  = "Invalid message data"
	MsgSendFailed      = "Failed to send message"
	MsgTooManyMessages = "Too many messages"
)

var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Event 出站事件，Data 由编码时序列化
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Envelope 入站事件，Data 延迟到分发时按事件类型解码
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode 解析一帧，缺少 event 字段视为非法
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, ErrInvalidEnvelope
	}
	return env, nil
}

// Encode 序列化出站事件
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// DecodeData 把信封的 Data 解到 v，Data 为空时返回 ErrInvalidEnvelope
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ErrInvalidEnvelope
	}
	return json.Unmarshal(e.Data, v)
}

// ==================== 载荷 ====================

// Notice authenticated 与 error 事件的载荷
type Notice struct {
	Message string `json:"message"`
}

// UnreadSender unreadMessages 列表中的一项
type UnreadSender struct {
	SenderId string `json:"senderId"`
	Username string `json:"username"`
}

// OnlineStatus 单个用户的上下线通知
type OnlineStatus struct {
	UserId string `json:"userId"`
	Online bool   `json:"online"`
}

// PeerRef 消息中的用户引用
type PeerRef struct {
	Id       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Message 消息的对外形态
type Message struct {
	Id        string    `json:"_id"`
	Sender    PeerRef   `json:"sender"`
	Receiver  PeerRef   `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// MessageSent 发送方收到的确认，TempId 原样带回客户端生成的临时 ID
type MessageSent struct {
	Success bool    `json:"success"`
	Message Message `json:"message"`
	TempId  string  `json:"tempId,omitempty"`
}

// SendMessage sendMessage 事件的载荷
type SendMessage struct {
	ReceiverId string `json:"receiverId"`
	Content    string `json:"content"`
	TempId     string `json:"tempId,omitempty"`
}

// ==================== 构造 ====================

func Authenticated() Event {
	return Event{Event: EventAuthenticated, Data: Notice{Message: MsgAuthSuccess}}
}

func Error(msg string) Event {
	return Event{Event: EventError, Data: Notice{Message: msg}}
}

func UnreadMessages(senders []UnreadSender) Event {
	if senders == nil {
		senders = []UnreadSender{}
	}
	return Event{Event: EventUnreadMessages, Data: senders}
}

func AllOnlineUsers(ids []string) Event {
	if ids == nil {
		ids = []string{}
	}
	return Event{Event: EventAllOnlineUsers, Data: ids}
}

func OnlineStatusChanged(userID string, online bool) Event {
	return Event{Event: EventOnlineStatus, Data: OnlineStatus{UserId: userID, Online: online}}
}

func ReceiveMessage(m Message) Event {
	return Event{Event: EventReceiveMessage, Data: m}
}

func Sent(m Message, tempID string) Event {
	return Event{Event: EventMessageSent, Data: MessageSent{Success: true, Message: m, TempId: tempID}}
}

// ==================== 客户端构造 ====================

// Authenticate 认证事件，data 直接是 token 字符串
func Authenticate(token string) Event {
	return Event{Event: EventAuthenticate, Data: token}
}

func Send(req SendMessage) Event {
	return Event{Event: EventSendMessage, Data: req}
}

// Token 取出 authenticate 事件中的 token
// 兼容 "token" 与 {"token": "..."} 两种写法，无法识别时返回空串
func (e Envelope) Token() string {
	var token string
	if err := json.Unmarshal(e.Data, &token); err == nil {
		return token
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(e.Data, &obj); err == nil {
		return obj.Token
	}
	return ""
}
