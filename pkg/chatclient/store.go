package chatclient

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tempIDPrefix = "temp_"

// Transport 发送 sendMessage 事件，Conn 实现了它
type Transport interface {
	SendMessage(receiverID, content, tempID string) error
}

// ChatSummary 会话列表中的一项，与 GET /api/messages/ 的响应一致
type ChatSummary struct {
	PartnerId            string    `json:"partnerId"`
	PartnerUsername      string    `json:"partnerUsername"`
	PartnerEmail         string    `json:"partnerEmail"`
	IsOnline             bool      `json:"isOnline"`
	LastMessage          string    `json:"lastMessage"`
	LastMessageTimestamp time.Time `json:"lastMessageTimestamp"`
	LastMessageSender    string    `json:"lastMessageSender"`
	UnreadCount          int64     `json:"unreadCount"`
}

// ChatMessage 会话中的一条消息
// 乐观消息 Id 为空、TempID 非空、Sending 为 true，确认后替换为服务端消息
type ChatMessage struct {
	protocol.Message
	TempID  string
	Sending bool
}

type Options struct {
	PendingTimeout time.Duration // 乐观消息等待确认的时间，默认 10s
}

// Store 客户端聊天状态，所有方法并发安全
type Store struct {
	self      protocol.PeerRef
	bus       *Bus
	transport Transport
	opts      Options

	mu            sync.Mutex
	state         ConnState
	connErr       error
	messageErr    error
	chatList      []ChatSummary
	messages      map[string][]ChatMessage // partnerId -> 按时间升序
	selected      string
	online        map[string]struct{}
	unread        map[string]int
	shouldRefetch bool
	pending       map[string]*time.Timer // tempId -> 超时计时器
	unsubscribe   []func()
}

// NewStore self 为当前登录用户
func NewStore(self protocol.PeerRef, bus *Bus, transport Transport, opts Options) *Store {
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = constants.DefaultPendingTimeout
	}
	s := &Store{self: self, bus: bus, transport: transport, opts: opts}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.state = StateDisconnected
	s.connErr = nil
	s.messageErr = nil
	s.chatList = nil
	s.messages = make(map[string][]ChatMessage)
	s.selected = ""
	s.online = make(map[string]struct{})
	s.unread = make(map[string]int)
	s.shouldRefetch = false
	s.pending = make(map[string]*time.Timer)
}

// Init 清理卡在发送中的已确认消息，并订阅 Bus 上的事件
// 重复调用会先取消之前的订阅
func (s *Store) Init() {
	s.mu.Lock()
	for partner, list := range s.messages {
		for i := range list {
			if list[i].Sending && list[i].Id != "" {
				list[i].Sending = false
			}
		}
		s.messages[partner] = list
	}
	old := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	for _, unsub := range old {
		unsub()
	}

	subs := []func(){
		s.bus.Subscribe(KindMessageReceived, func(e Event) { s.HandleMessageReceived(e.(MessageReceived).Message) }),
		s.bus.Subscribe(KindMessageSent, func(e Event) { s.HandleMessageSent(e.(MessageSent).Response) }),
		s.bus.Subscribe(KindOnlineStatusChanged, func(e Event) {
			evt := e.(OnlineStatusChanged)
			s.HandleOnlineStatus(evt.UserID, evt.Online)
		}),
		s.bus.Subscribe(KindAllOnlineUsers, func(e Event) { s.HandleAllOnlineUsers(e.(AllOnlineUsers).UserIDs) }),
		s.bus.Subscribe(KindUnreadMessages, func(e Event) { s.HandleUnreadMessages(e.(UnreadMessages).Senders) }),
		s.bus.Subscribe(KindAuthenticated, func(Event) { s.setState(StateConnected, nil) }),
		s.bus.Subscribe(KindError, func(e Event) { s.handleServerError(e.(ServerError).Message) }),
		s.bus.Subscribe(KindConnectionStateChanged, func(e Event) {
			evt := e.(ConnectionStateChanged)
			s.setState(evt.State, evt.Err)
		}),
	}

	s.mu.Lock()
	s.unsubscribe = subs
	s.mu.Unlock()
}

// Cleanup 停止所有计时器、取消订阅并清空状态
func (s *Store) Cleanup() {
	s.mu.Lock()
	for _, t := range s.pending {
		t.Stop()
	}
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	s.reset()
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Store) setState(state ConnState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.connErr = err
}

// handleServerError 认证完成前的 error 视为认证失败，之后的视为发送失败
func (s *Store) handleServerError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		s.state = StateDisconnected
		s.connErr = &authError{msg: msg}
		return
	}
	s.messageErr = &serverError{msg: msg}
}

// SendMessage 乐观发送：先插入占位消息，再交给 Transport
// 返回占位消息的 tempId；PendingTimeout 内未确认时占位消息被移除并发布 DeliveryTimeout
func (s *Store) SendMessage(receiverID, content string) (string, error) {
	content = strings.TrimSpace(content)
	receiverID = strings.TrimSpace(receiverID)

	s.mu.Lock()
	if receiverID == "" || content == "" || utf8.RuneCountInString(content) > constants.MAX_CONTENT_LENGTH {
		s.messageErr = ErrInvalidPayload
		s.mu.Unlock()
		return "", ErrInvalidPayload
	}
	if s.state != StateConnected {
		s.messageErr = ErrNotConnected
		s.mu.Unlock()
		return "", ErrNotConnected
	}

	tempID := tempIDPrefix + uuid.NewString()
	s.messages[receiverID] = append(s.messages[receiverID], ChatMessage{
		Message: protocol.Message{
			Sender:    s.self,
			Receiver:  protocol.PeerRef{Id: receiverID},
			Content:   content,
			Timestamp: time.Now().UTC(),
		},
		TempID:  tempID,
		Sending: true,
	})
	s.pending[tempID] = time.AfterFunc(s.opts.PendingTimeout, func() {
		s.expire(receiverID, tempID)
	})
	s.messageErr = nil
	s.mu.Unlock()

	if err := s.transport.SendMessage(receiverID, content, tempID); err != nil {
		s.mu.Lock()
		s.dropPending(receiverID, tempID)
		s.messageErr = err
		s.mu.Unlock()
		return "", err
	}
	return tempID, nil
}

// expire 计时器到期，已确认或已清理时什么也不做
func (s *Store) expire(receiverID, tempID string) {
	s.mu.Lock()
	if _, ok := s.pending[tempID]; !ok {
		s.mu.Unlock()
		return
	}
	s.dropPending(receiverID, tempID)
	s.messageErr = ErrDeliveryTimeout
	s.mu.Unlock()

	zap.L().Warn("chatclient message send timeout", zap.String("tempId", tempID), zap.String("receiverId", receiverID))
	s.bus.Publish(DeliveryTimeout{TempID: tempID, ReceiverID: receiverID})
}

// dropPending 停止计时器并移除占位消息，调用方持有锁
func (s *Store) dropPending(receiverID, tempID string) {
	if t, ok := s.pending[tempID]; ok {
		t.Stop()
		delete(s.pending, tempID)
	}
	s.messages[receiverID] = slices.DeleteFunc(s.messages[receiverID], func(m ChatMessage) bool {
		return m.TempID == tempID && m.Id == ""
	})
}

// HandleMessageSent 用服务端确认替换占位消息
// 带 tempId 的确认只按 tempId 精确匹配，占位消息已超时被移除时按服务端 id 去重或追加；
// 不带 tempId 时才取第一条内容和发送者都相同的发送中占位消息
func (s *Store) HandleMessageSent(resp protocol.MessageSent) {
	if !resp.Success {
		return
	}
	msg := resp.Message
	partner := msg.Receiver.Id

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[partner]
	var idx int
	if resp.TempId != "" {
		idx = slices.IndexFunc(list, func(m ChatMessage) bool { return m.TempID == resp.TempId })
	} else {
		idx = slices.IndexFunc(list, func(m ChatMessage) bool {
			return m.Sending && m.Id == "" && m.TempID != "" &&
				m.Content == msg.Content && m.Sender.Id == msg.Sender.Id
		})
	}

	switch {
	case idx >= 0:
		tempID := list[idx].TempID
		if t, ok := s.pending[tempID]; ok {
			t.Stop()
			delete(s.pending, tempID)
		}
		list[idx] = ChatMessage{Message: msg, TempID: tempID}
	default:
		if i := indexByID(list, msg.Id); i >= 0 {
			list[i] = ChatMessage{Message: msg, TempID: list[i].TempID}
		} else {
			list = append(list, ChatMessage{Message: msg})
		}
	}
	s.messages[partner] = list
	s.updateChatListItem(partner, msg.Content, msg.Timestamp, s.self.Id)
}

// HandleMessageReceived 追加对端发来的消息，按服务端 id 去重
func (s *Store) HandleMessageReceived(msg protocol.Message) {
	partner := msg.Sender.Id

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Id != "" && indexByID(s.messages[partner], msg.Id) >= 0 {
		return
	}
	msg.Read = false
	s.messages[partner] = append(s.messages[partner], ChatMessage{Message: msg})
	s.updateChatListItem(partner, msg.Content, msg.Timestamp, partner)
	if s.selected != partner {
		s.unread[partner]++
	}
}

// updateChatListItem 对端不在列表中时只标记需要重新拉取，调用方持有锁
func (s *Store) updateChatListItem(partner, content string, ts time.Time, sender string) {
	i := slices.IndexFunc(s.chatList, func(c ChatSummary) bool { return c.PartnerId == partner })
	if i < 0 {
		s.shouldRefetch = true
		return
	}
	s.chatList[i].LastMessage = content
	s.chatList[i].LastMessageTimestamp = ts
	s.chatList[i].LastMessageSender = sender
	sortChatList(s.chatList)
}

// sortChatList 按最后一条消息时间倒序，时间相同时保持原有顺序
func sortChatList(list []ChatSummary) {
	slices.SortStableFunc(list, func(a, b ChatSummary) int {
		return b.LastMessageTimestamp.Compare(a.LastMessageTimestamp)
	})
}

func indexByID(list []ChatMessage, id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(list, func(m ChatMessage) bool { return m.Id == id })
}

// SelectChat 选中会话并清零未读
func (s *Store) SelectChat(partnerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = partnerID
	s.messageErr = nil
	if partnerID != "" {
		s.unread[partnerID] = 0
	}
}

// HandleAllOnlineUsers 整体替换在线集合
func (s *Store) HandleAllOnlineUsers(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.online[id] = struct{}{}
	}
	s.refreshOnlineFlags()
}

func (s *Store) HandleOnlineStatus(userID string, online bool) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
	s.refreshOnlineFlags()
}

func (s *Store) refreshOnlineFlags() {
	for i := range s.chatList {
		_, ok := s.online[s.chatList[i].PartnerId]
		s.chatList[i].IsOnline = ok
	}
}

// HandleUnreadMessages 服务端只告知哪些人有未读，每人记为 1
func (s *Store) HandleUnreadMessages(senders []protocol.UnreadSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range senders {
		if u.SenderId != "" {
			s.unread[u.SenderId] = 1
		}
	}
}

// SetChatList 用 HTTP 拉取的会话列表替换本地列表，并按在线集合修正 IsOnline
func (s *Store) SetChatList(list []ChatSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatList = slices.Clone(list)
	sortChatList(s.chatList)
	s.refreshOnlineFlags()
}

// SetMessages 用 HTTP 拉取的聊天记录替换与 partnerID 的本地消息
func (s *Store) SetMessages(partnerID string, history []protocol.Message) {
	list := make([]ChatMessage, 0, len(history))
	for _, m := range history {
		list = append(list, ChatMessage{Message: m})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[partnerID] = list
}

// ==================== 读取 ====================

func (s *Store) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConnectionError 最近一次断开或认证失败的原因
func (s *Store) ConnectionError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connErr
}

// MessageError 最近一次发送失败的原因，发送成功或切换会话时清空
func (s *Store) MessageError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageErr
}

func (s *Store) ChatList() []ChatSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chatList)
}

func (s *Store) Messages(partnerID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages[partnerID])
}

func (s *Store) SelectedChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) UnreadCount(partnerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[partnerID]
}

func (s *Store) IsOnline(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// ShouldRefetchChatList 收到未知对端的消息后为 true，重新拉取列表后调用 ResetRefetchFlag
func (s *Store) ShouldRefetchChatList() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldRefetch
}

func (s *Store) ResetRefetchFlag() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldRefetch = false
}

// PendingCount 等待确认的乐观消息数
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type authError struct{ msg string }

func (e *authError) Error() string { return "chatclient: authentication failed: " + e.msg }

type serverError struct{ msg string }

func (e *serverError) Error() string { return "chatclient: server error: " + e.msg }
