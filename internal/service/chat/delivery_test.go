package chat

import (
	"context"
	"strings"
	"testing"

	myredis "dm_chat_server/internal/dao/redis"
	"dm_chat_server/internal/dto/request"
	"dm_chat_server/internal/infrastructure/mq"
	"dm_chat_server/internal/service/message"
	"dm_chat_server/pkg/errorx"
	"dm_chat_server/pkg/protocol"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(routingKey, event).Error(0)
}

func (m *mockPublisher) Close() error { return nil }

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func sendFrame(t *testing.T, req protocol.SendMessage) []byte {
	return frame(t, protocol.Send(req))
}

func TestDeliverToOnlineReceiver(t *testing.T) {
	f := newFixture(t)
	alice, aliceTr := f.connect(t, aliceID)
	_, bobTr := f.connect(t, bobID)

	alice.Dispatch(context.Background(), sendFrame(t, protocol.SendMessage{ReceiverId: bobID, Content: "  hello bob  ", TempId: "temp_1"}))

	received := bobTr.Named(protocol.EventReceiveMessage)
	require.Len(t, received, 1)
	msg := received[0].Data.(protocol.Message)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, aliceID, msg.Sender.Id)
	assert.Equal(t, "alice", msg.Sender.Username)
	assert.Equal(t, bobID, msg.Receiver.Id)
	assert.False(t, msg.Read)
	assert.NotEmpty(t, msg.Id)

	sent := aliceTr.Named(protocol.EventMessageSent)
	require.Len(t, sent, 1)
	ack := sent[0].Data.(protocol.MessageSent)
	assert.True(t, ack.Success)
	assert.Equal(t, "temp_1", ack.TempId)
	assert.Equal(t, msg, ack.Message)

	stored, err := f.repos.Message.FindByPair(context.Background(), aliceID, bobID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, msg.Id, stored[0].Uuid)
}

func TestDeliverToOfflineReceiverStillAcks(t *testing.T) {
	f := newFixture(t)
	alice, aliceTr := f.connect(t, aliceID)

	alice.Dispatch(context.Background(), sendFrame(t, protocol.SendMessage{ReceiverId: bobID, Content: "later"}))
	sent := aliceTr.Named(protocol.EventMessageSent)
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Data.(protocol.MessageSent).TempId)

	senders, err := f.repos.Message.UnreadSenders(context.Background(), bobID)
	require.NoError(t, err)
	assert.Equal(t, []string{aliceID}, senders)
}

func TestDeliverInvalidPayload(t *testing.T) {
	f := newFixture(t)
	alice, aliceTr := f.connect(t, aliceID)
	d := f.server.delivery

	for _, req := range []request.SendMessageRequest{
		{ReceiverId: bobID, Content: "   "},
		{ReceiverId: "", Content: "hi"},
		{ReceiverId: bobID, Content: strings.Repeat("x", 5000)},
	} {
		err := d.Submit(context.Background(), alice, req)
		assert.Equal(t, errorx.CodeInvalidParam, errorx.GetCode(err))
	}
	assert.Len(t, aliceTr.Named(protocol.EventError), 3)
	assert.Equal(t, protocol.Error(protocol.MsgInvalidMessage), aliceTr.Named(protocol.EventError)[0])
	assert.Empty(t, aliceTr.Named(protocol.EventMessageSent))

	stored, err := f.repos.Message.FindByPair(context.Background(), aliceID, bobID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDeliverDroppedBeforeAuthentication(t *testing.T) {
	f := newFixture(t)
	tr := &fakeTransport{id: "anon"}
	s := f.server.NewSession(tr)
	defer s.Close(context.Background())

	err := f.server.delivery.Submit(context.Background(), s, request.SendMessageRequest{ReceiverId: bobID, Content: "hi"})
	assert.NoError(t, err)
	assert.Empty(t, tr.Events())

	stored, err := f.repos.Message.FindByPair(context.Background(), aliceID, bobID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDeliverStorageFailure(t *testing.T) {
	f := newFixture(t)
	alice, aliceTr := f.connect(t, aliceID)
	_, bobTr := f.connect(t, bobID)

	sqlDB, err := f.repos.DB().DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = f.server.delivery.Submit(context.Background(), alice, request.SendMessageRequest{ReceiverId: bobID, Content: "hi", TempId: "temp_x"})
	assert.Equal(t, errorx.CodeDBError, errorx.GetCode(err))
	assert.Equal(t, []protocol.Event{protocol.Error(protocol.MsgSendFailed)}, aliceTr.Named(protocol.EventError))
	assert.Empty(t, aliceTr.Named(protocol.EventMessageSent))
	assert.Empty(t, bobTr.Named(protocol.EventReceiveMessage))
}

func TestDeliverRateLimited(t *testing.T) {
	f := newFixture(t, WithLimiter(denyAll{}))
	alice, aliceTr := f.connect(t, aliceID)

	err := f.server.delivery.Submit(context.Background(), alice, request.SendMessageRequest{ReceiverId: bobID, Content: "hi"})
	assert.Equal(t, errorx.CodeRateLimited, errorx.GetCode(err))
	assert.Equal(t, []protocol.Event{protocol.Error(protocol.MsgTooManyMessages)}, aliceTr.Named(protocol.EventError))
}

func TestDeliverSideEffects(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := myredis.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 10)
	pub := new(mockPublisher)
	pub.On("Publish", mq.RoutingMessageSent, mock.MatchedBy(func(e mq.MessageEvent) bool {
		return e.SenderID == aliceID && e.ReceiverID == bobID && e.Content == "hi" && !e.Delivered
	})).Return(nil).Once()

	f := newFixture(t, WithHistoryCache(cache), WithEventPublisher(pub))
	alice, _ := f.connect(t, aliceID)
	verKey := message.HistoryVersionKey(aliceID, bobID)

	require.NoError(t, f.server.delivery.Submit(context.Background(), alice, request.SendMessageRequest{ReceiverId: bobID, Content: "hi"}))
	// 版本号在确认之前已递增
	ver, err := mr.Get(verKey)
	require.NoError(t, err)
	assert.Equal(t, "1", ver)

	require.NoError(t, cache.Close())
	pub.AssertExpectations(t)
}
