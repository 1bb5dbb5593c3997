package chatclient

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"dm_chat_server/pkg/constants"
	"dm_chat_server/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selfID  = "U240101aaaaaaaaaaa"
	bobID   = "U240101bbbbbbbbbbb"
	carolID = "U240101ccccccccccc"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []protocol.SendMessage
	err  error
}

func (f *fakeTransport) SendMessage(receiverID, content, tempID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, protocol.SendMessage{ReceiverId: receiverID, Content: content, TempId: tempID})
	return nil
}

func (f *fakeTransport) Sent() []protocol.SendMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.SendMessage(nil), f.sent...)
}

func newConnectedStore(t *testing.T, tr Transport, timeout time.Duration) (*Store, *Bus) {
	t.Helper()
	bus := NewBus()
	s := NewStore(protocol.PeerRef{Id: selfID, Username: "alice"}, bus, tr, Options{PendingTimeout: timeout})
	s.Init()
	t.Cleanup(s.Cleanup)
	bus.Publish(Authenticated{Message: protocol.MsgAuthSuccess})
	require.Equal(t, StateConnected, s.State())
	return s, bus
}

func serverMessage(id, sender, receiver, content string) protocol.Message {
	return protocol.Message{
		Id:        id,
		Sender:    protocol.PeerRef{Id: sender},
		Receiver:  protocol.PeerRef{Id: receiver},
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

func TestSendMessageAddsPlaceholder(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := newConnectedStore(t, tr, time.Minute)

	tempID, err := s.SendMessage(bobID, "  hello  ")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tempID, "temp_"))

	msgs := s.Messages(bobID)
	require.Len(t, msgs, 1)
	assert.Equal(t, tempID, msgs[0].TempID)
	assert.True(t, msgs[0].Sending)
	assert.Empty(t, msgs[0].Id)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, selfID, msgs[0].Sender.Id)
	assert.Equal(t, 1, s.PendingCount())

	sent := tr.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.SendMessage{ReceiverId: bobID, Content: "hello", TempId: tempID}, sent[0])
}

func TestSendMessageRejects(t *testing.T) {
	tr := &fakeTransport{}
	s, bus := newConnectedStore(t, tr, time.Minute)

	for _, tc := range []struct {
		name, receiver, content string
	}{
		{"empty content", bobID, "   "},
		{"no receiver", "", "hi"},
		{"too long", bobID, strings.Repeat("x", constants.MAX_CONTENT_LENGTH+1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.SendMessage(tc.receiver, tc.content)
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.ErrorIs(t, s.MessageError(), ErrInvalidPayload)
		})
	}

	bus.Publish(ConnectionStateChanged{State: StateDisconnected})
	_, err := s.SendMessage(bobID, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Empty(t, tr.Sent())
	assert.Empty(t, s.Messages(bobID))
}

func TestSendMessageTransportFailure(t *testing.T) {
	tr := &fakeTransport{err: errors.New("write: broken pipe")}
	s, _ := newConnectedStore(t, tr, time.Minute)

	_, err := s.SendMessage(bobID, "hello")
	require.Error(t, err)
	assert.Empty(t, s.Messages(bobID))
	assert.Zero(t, s.PendingCount())
	assert.Equal(t, err, s.MessageError())
}

func TestMessageSentExactMatch(t *testing.T) {
	s, _ := newConnectedStore(t, &fakeTransport{}, time.Minute)
	s.SetChatList([]ChatSummary{{PartnerId: bobID, LastMessage: "old"}})

	first, err := s.SendMessage(bobID, "same")
	require.NoError(t, err)
	second, err := s.SendMessage(bobID, "same")
	require.NoError(t, err)

	s.HandleMessageSent(protocol.MessageSent{
		Success: true,
		Message: serverMessage("m2", selfID, bobID, "same"),
		TempId:  second,
	})

	msgs := s.Messages(bobID)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].TempID)
	assert.True(t, msgs[0].Sending)
	assert.Equal(t, "m2", msgs[1].Id)
	assert.False(t, msgs[1].Sending)
	assert.Equal(t, 1, s.PendingCount())

	list := s.ChatList()
	assert.Equal(t, "same", list[0].LastMessage)
	assert.Equal(t, selfID, list[0].LastMessageSender)
}

func TestMessageSentHeuristicMatch(t *testing.T) {
	s, _ := newConnectedStore(t, &fakeTransport{}, time.Minute)

	_, err := s.SendMessage(bobID, "first")
	require.NoError(t, err)
	_, err = s.SendMessage(bobID, "second")
	require.NoError(t, err)

	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: serverMessage("m2", selfID, bobID, "second")})

	msgs := s.Messages(bobID)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Sending)
	assert.Equal(t, "m2", msgs[1].Id)
	assert.False(t, msgs[1].Sending)
	assert.Equal(t, 1, s.PendingCount())

	// 会话不在列表中
	assert.True(t, s.ShouldRefetchChatList())
}

func TestMessageSentWithoutPlaceholder(t *testing.T) {
	s, _ := newConnectedStore(t, &fakeTransport{}, time.Minute)

	ack := protocol.MessageSent{Success: true, Message: serverMessage("m1", selfID, bobID, "from another tab")}
	s.HandleMessageSent(ack)
	s.HandleMessageSent(ack)
	require.Len(t, s.Messages(bobID), 1)

	s.HandleMessageSent(protocol.MessageSent{Success: false, Message: serverMessage("m9", selfID, bobID, "x")})
	assert.Len(t, s.Messages(bobID), 1)
}

func TestPendingTimeout(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, 20*time.Millisecond)
	timeouts := make(chan DeliveryTimeout, 1)
	bus.Subscribe(KindDeliveryTimeout, func(e Event) { timeouts <- e.(DeliveryTimeout) })

	tempID, err := s.SendMessage(bobID, "anyone?")
	require.NoError(t, err)

	select {
	case evt := <-timeouts:
		assert.Equal(t, tempID, evt.TempID)
		assert.Equal(t, bobID, evt.ReceiverID)
	case <-time.After(2 * time.Second):
		t.Fatal("no DeliveryTimeout")
	}
	assert.Empty(t, s.Messages(bobID))
	assert.Zero(t, s.PendingCount())
	assert.ErrorIs(t, s.MessageError(), ErrDeliveryTimeout)

	// 超时后才到的确认按新消息追加
	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: serverMessage("m1", selfID, bobID, "anyone?"), TempId: tempID})
	msgs := s.Messages(bobID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].Id)
}

func TestLateConfirmationDoesNotTakeOverAnotherPlaceholder(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, 20*time.Millisecond)
	timeouts := make(chan DeliveryTimeout, 1)
	bus.Subscribe(KindDeliveryTimeout, func(e Event) { timeouts <- e.(DeliveryTimeout) })

	expired, err := s.SendMessage(bobID, "hi")
	require.NoError(t, err)
	select {
	case <-timeouts:
	case <-time.After(2 * time.Second):
		t.Fatal("no DeliveryTimeout")
	}

	s.mu.Lock()
	s.opts.PendingTimeout = time.Minute
	s.mu.Unlock()
	pending, err := s.SendMessage(bobID, "hi")
	require.NoError(t, err)

	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: serverMessage("m1", selfID, bobID, "hi"), TempId: expired})
	msgs := s.Messages(bobID)
	require.Len(t, msgs, 2)
	assert.Equal(t, pending, msgs[0].TempID)
	assert.True(t, msgs[0].Sending)
	assert.Equal(t, "m1", msgs[1].Id)

	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: serverMessage("m2", selfID, bobID, "hi"), TempId: pending})
	msgs = s.Messages(bobID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].Id)
	assert.Equal(t, pending, msgs[0].TempID)
	assert.Equal(t, "m1", msgs[1].Id)
	assert.Zero(t, s.PendingCount())
}

func TestChatListStaysOrderedByLastMessage(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	base := time.Now().UTC().Add(-time.Hour)
	s.SetChatList([]ChatSummary{
		{PartnerId: carolID, LastMessageTimestamp: base},
		{PartnerId: bobID, LastMessageTimestamp: base.Add(time.Minute)},
	})
	list := s.ChatList()
	require.Len(t, list, 2)
	assert.Equal(t, bobID, list[0].PartnerId)

	bus.Publish(MessageReceived{Message: serverMessage("m1", carolID, selfID, "back again")})
	list = s.ChatList()
	assert.Equal(t, []string{carolID, bobID}, []string{list[0].PartnerId, list[1].PartnerId})

	reply := serverMessage("m2", selfID, bobID, "reply")
	reply.Timestamp = reply.Timestamp.Add(time.Second)
	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: reply})
	list = s.ChatList()
	assert.Equal(t, []string{bobID, carolID}, []string{list[0].PartnerId, list[1].PartnerId})
	assert.False(t, list[0].LastMessageTimestamp.Before(list[1].LastMessageTimestamp))
}

func TestConfirmedMessageDoesNotTimeOut(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, 30*time.Millisecond)
	fired := make(chan struct{}, 1)
	bus.Subscribe(KindDeliveryTimeout, func(Event) { fired <- struct{}{} })

	tempID, err := s.SendMessage(bobID, "quick")
	require.NoError(t, err)
	s.HandleMessageSent(protocol.MessageSent{Success: true, Message: serverMessage("m1", selfID, bobID, "quick"), TempId: tempID})

	select {
	case <-fired:
		t.Fatal("confirmed message timed out")
	case <-time.After(100 * time.Millisecond):
	}
	require.Len(t, s.Messages(bobID), 1)
	assert.NoError(t, s.MessageError())
}

func TestMessageReceived(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	s.SetChatList([]ChatSummary{{PartnerId: bobID, LastMessage: "old"}})

	bus.Publish(MessageReceived{Message: serverMessage("m1", bobID, selfID, "hi")})
	bus.Publish(MessageReceived{Message: serverMessage("m1", bobID, selfID, "hi")})

	require.Len(t, s.Messages(bobID), 1)
	assert.Equal(t, 1, s.UnreadCount(bobID))
	list := s.ChatList()
	assert.Equal(t, "hi", list[0].LastMessage)
	assert.Equal(t, bobID, list[0].LastMessageSender)
	assert.False(t, s.ShouldRefetchChatList())

	s.SelectChat(bobID)
	assert.Zero(t, s.UnreadCount(bobID))
	bus.Publish(MessageReceived{Message: serverMessage("m2", bobID, selfID, "again")})
	assert.Zero(t, s.UnreadCount(bobID))
	assert.Len(t, s.Messages(bobID), 2)

	bus.Publish(MessageReceived{Message: serverMessage("m3", carolID, selfID, "new here")})
	assert.True(t, s.ShouldRefetchChatList())
	assert.Equal(t, 1, s.UnreadCount(carolID))
	s.ResetRefetchFlag()
	assert.False(t, s.ShouldRefetchChatList())
}

func TestOnlineStatus(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	s.SetChatList([]ChatSummary{{PartnerId: bobID}, {PartnerId: carolID, IsOnline: true}})

	bus.Publish(AllOnlineUsers{UserIDs: []string{bobID}})
	list := s.ChatList()
	assert.True(t, list[0].IsOnline)
	assert.False(t, list[1].IsOnline)

	bus.Publish(OnlineStatusChanged{UserID: carolID, Online: true})
	bus.Publish(OnlineStatusChanged{UserID: bobID, Online: false})
	list = s.ChatList()
	assert.False(t, list[0].IsOnline)
	assert.True(t, list[1].IsOnline)
	assert.True(t, s.IsOnline(carolID))
	assert.False(t, s.IsOnline(bobID))

	// 重新拉取的列表按当前在线集合修正
	s.SetChatList([]ChatSummary{{PartnerId: carolID}})
	assert.True(t, s.ChatList()[0].IsOnline)
}

func TestUnreadMessagesDigest(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	bus.Publish(UnreadMessages{Senders: []protocol.UnreadSender{
		{SenderId: bobID, Username: "bob"},
		{SenderId: carolID, Username: "carol"},
		{SenderId: ""},
	}})
	assert.Equal(t, 1, s.UnreadCount(bobID))
	assert.Equal(t, 1, s.UnreadCount(carolID))
}

func TestSetMessagesReplacesHistory(t *testing.T) {
	s, _ := newConnectedStore(t, &fakeTransport{}, time.Minute)
	_, err := s.SendMessage(bobID, "pending")
	require.NoError(t, err)

	s.SetMessages(bobID, []protocol.Message{
		serverMessage("m1", bobID, selfID, "a"),
		serverMessage("m2", selfID, bobID, "b"),
	})
	msgs := s.Messages(bobID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].Id)
	assert.False(t, msgs[1].Sending)
}

func TestAuthFailureBeforeAuthenticated(t *testing.T) {
	bus := NewBus()
	s := NewStore(protocol.PeerRef{Id: selfID}, bus, &fakeTransport{}, Options{})
	s.Init()
	t.Cleanup(s.Cleanup)

	bus.Publish(ConnectionStateChanged{State: StateAuthenticating})
	assert.Equal(t, StateAuthenticating, s.State())

	bus.Publish(ServerError{Message: protocol.MsgInvalidToken})
	assert.Equal(t, StateDisconnected, s.State())
	require.Error(t, s.ConnectionError())
	assert.Contains(t, s.ConnectionError().Error(), protocol.MsgInvalidToken)
	assert.NoError(t, s.MessageError())
}

func TestServerErrorAfterAuthenticated(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	bus.Publish(ServerError{Message: protocol.MsgSendFailed})
	assert.Equal(t, StateConnected, s.State())
	require.Error(t, s.MessageError())
	assert.Contains(t, s.MessageError().Error(), protocol.MsgSendFailed)
}

func TestInitClearsStuckSending(t *testing.T) {
	bus := NewBus()
	s := NewStore(protocol.PeerRef{Id: selfID}, bus, &fakeTransport{}, Options{})
	s.messages[bobID] = []ChatMessage{
		{Message: serverMessage("m1", selfID, bobID, "done"), Sending: true},
		{Message: protocol.Message{Content: "waiting"}, TempID: "temp_x", Sending: true},
	}
	s.Init()
	t.Cleanup(s.Cleanup)

	msgs := s.Messages(bobID)
	assert.False(t, msgs[0].Sending)
	assert.True(t, msgs[1].Sending)

	// 重复 Init 不会重复订阅
	s.Init()
	s.SetChatList([]ChatSummary{{PartnerId: bobID}})
	bus.Publish(MessageReceived{Message: serverMessage("m2", bobID, selfID, "hi")})
	assert.Equal(t, 1, s.UnreadCount(bobID))
}

func TestCleanup(t *testing.T) {
	s, bus := newConnectedStore(t, &fakeTransport{}, time.Minute)
	_, err := s.SendMessage(bobID, "hi")
	require.NoError(t, err)
	s.SelectChat(bobID)

	s.Cleanup()
	assert.Equal(t, StateDisconnected, s.State())
	assert.Empty(t, s.Messages(bobID))
	assert.Empty(t, s.SelectedChat())
	assert.Zero(t, s.PendingCount())

	bus.Publish(MessageReceived{Message: serverMessage("m1", bobID, selfID, "late")})
	assert.Empty(t, s.Messages(bobID))
}
