package chatclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"dm_chat_server/pkg/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer 只实现认证和 sendMessage 确认的最小服务端
type stubServer struct {
	url   string
	auths atomic.Int32
	// dropFirst 为 true 时第一条连接认证成功后立即被断开
	dropFirst bool
}

func newStubServer(t *testing.T, dropFirst bool) *stubServer {
	t.Helper()
	s := &stubServer{dropFirst: dropFirst}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		s.serve(ws)
	}))
	t.Cleanup(srv.Close)
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func (s *stubServer) serve(ws *websocket.Conn) {
	send := func(evt protocol.Event) {
		data, _ := protocol.Encode(evt)
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return
	}
	env, err := protocol.Decode(raw)
	if err != nil || env.Event != protocol.EventAuthenticate {
		return
	}
	n := s.auths.Add(1)
	if env.Token() != "good" {
		send(protocol.Error(protocol.MsgInvalidToken))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}
	send(protocol.AllOnlineUsers([]string{selfID, bobID}))
	send(protocol.UnreadMessages(nil))
	send(protocol.Authenticated())
	if s.dropFirst && n == 1 {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil || env.Event != protocol.EventSendMessage {
			continue
		}
		var req protocol.SendMessage
		if env.DecodeData(&req) != nil {
			continue
		}
		send(protocol.Sent(protocol.Message{
			Id:        "srv-1",
			Sender:    protocol.PeerRef{Id: selfID, Username: "alice"},
			Receiver:  protocol.PeerRef{Id: req.ReceiverId},
			Content:   req.Content,
			Timestamp: time.Now().UTC(),
		}, req.TempId))
	}
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 4)
}

func newClient(t *testing.T, url, token string) (*Conn, *Store) {
	t.Helper()
	bus := NewBus()
	conn := NewConn(url, token, bus, WithReconnectBackOff(fastBackOff))
	store := NewStore(protocol.PeerRef{Id: selfID, Username: "alice"}, bus, conn, Options{PendingTimeout: 5 * time.Second})
	store.Init()
	t.Cleanup(func() {
		_ = conn.Close()
		store.Cleanup()
	})
	return conn, store
}

func TestConnSendAndConfirm(t *testing.T) {
	srv := newStubServer(t, false)
	conn, store := newClient(t, srv.url, "good")

	assert.ErrorIs(t, conn.SendMessage(bobID, "early", "temp_0"), ErrNotConnected)

	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool { return store.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, store.IsOnline(bobID))

	tempID, err := store.SendMessage(bobID, "hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := store.Messages(bobID)
		return len(msgs) == 1 && msgs[0].Id == "srv-1" && !msgs[0].Sending
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, tempID, store.Messages(bobID)[0].TempID)
	assert.Zero(t, store.PendingCount())

	require.NoError(t, conn.Close())
	assert.Equal(t, StateDisconnected, store.State())
	assert.ErrorIs(t, conn.Connect(context.Background()), ErrNotConnected)
}

func TestConnAuthFailureDoesNotReconnect(t *testing.T) {
	srv := newStubServer(t, false)
	conn, store := newClient(t, srv.url, "bad")

	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool {
		err := store.ConnectionError()
		return store.State() == StateDisconnected && err != nil && strings.Contains(err.Error(), protocol.MsgInvalidToken)
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, srv.auths.Load())
}

func TestConnReconnectsAndReauthenticates(t *testing.T) {
	srv := newStubServer(t, true)
	conn, store := newClient(t, srv.url, "good")

	require.NoError(t, conn.Connect(context.Background()))
	require.Eventually(t, func() bool {
		return srv.auths.Load() == 2 && store.State() == StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	_, err := store.SendMessage(bobID, "after reconnect")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := store.Messages(bobID)
		return len(msgs) == 1 && msgs[0].Id == "srv-1"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConnDialFailure(t *testing.T) {
	bus := NewBus()
	var last atomic.Value
	bus.Subscribe(KindConnectionStateChanged, func(e Event) { last.Store(e.(ConnectionStateChanged)) })

	conn := NewConn("ws://127.0.0.1:1/ws", "good", bus)
	require.Error(t, conn.Connect(context.Background()))
	evt := last.Load().(ConnectionStateChanged)
	assert.Equal(t, StateDisconnected, evt.State)
	assert.Error(t, evt.Err)
	require.NoError(t, conn.Close())
}
