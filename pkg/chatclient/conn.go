package chatclient

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"dm_chat_server/pkg/protocol"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait            = 10 * time.Second
	reconnectDelay       = time.Second
	maxReconnectAttempts = 5
)

// ConnOption 配置 Conn
type ConnOption func(*Conn)

// WithDialer 替换默认的 websocket.DefaultDialer
func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *Conn) { c.dialer = d }
}

// WithHeader 握手时附带的请求头
func WithHeader(h http.Header) ConnOption {
	return func(c *Conn) { c.header = h }
}

// WithReconnectBackOff 替换重连策略，默认每秒一次、最多 5 次
func WithReconnectBackOff(newBackOff func() backoff.BackOff) ConnOption {
	return func(c *Conn) { c.newBackOff = newBackOff }
}

func defaultBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(reconnectDelay), maxReconnectAttempts-1)
}

// Conn 到聊天服务的 WebSocket 连接
// 建立连接后立即发送 authenticate，读循环断开后自动重连并重新认证；
// 认证被拒绝时不再重连
type Conn struct {
	url        string
	token      string
	bus        *Bus
	dialer     *websocket.Dialer
	header     http.Header
	newBackOff func() backoff.BackOff

	writeMu sync.Mutex // gorilla 连接只允许一个写者

	mu     sync.Mutex
	ws     *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	authed     atomic.Bool
	authFailed atomic.Pointer[string] // 认证失败时服务端给出的原因
}

// NewConn url 形如 ws://host:port/ws
func NewConn(url, token string, bus *Bus, opts ...ConnOption) *Conn {
	c := &Conn{
		url:        url,
		token:      token,
		bus:        bus,
		dialer:     websocket.DefaultDialer,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect 建立连接并发送 authenticate，成功后在后台读取推送
// 认证结果通过 Bus 上的 Authenticated 或 ServerError 事件通知
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	// 读循环仍在运行（包括重连中）时不重复连接
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.stopped(done)
		c.publishState(StateDisconnected, err)
		return err
	}
	go c.run(loopCtx, ws, done)
	return nil
}

// stopped 读循环退出，允许再次 Connect
func (c *Conn) stopped(done chan struct{}) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	close(done)
}

// dial 拨号并认证，成功时 c.ws 指向新连接
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	c.publishState(StateConnecting, nil)
	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	c.authed.Store(false)
	c.authFailed.Store(nil)
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	if err := c.write(protocol.Authenticate(c.token)); err != nil {
		c.detach(ws)
		_ = ws.Close()
		return nil, err
	}
	c.publishState(StateAuthenticating, nil)
	return ws, nil
}

// run 读循环，断开后按退避策略重连
func (c *Conn) run(ctx context.Context, ws *websocket.Conn, done chan struct{}) {
	defer c.stopped(done)
	for {
		err := c.readLoop(ws)
		c.detach(ws)
		_ = ws.Close()

		if ctx.Err() != nil || c.isClosed() {
			c.publishState(StateDisconnected, nil)
			return
		}
		if msg := c.authFailed.Load(); msg != nil {
			c.publishState(StateDisconnected, &authError{msg: *msg})
			return
		}
		zap.L().Warn("chatclient connection lost, reconnecting", zap.String("url", c.url), zap.Error(err))
		c.publishState(StateDisconnected, err)

		next, rerr := c.reconnect(ctx)
		if rerr != nil {
			zap.L().Error("chatclient reconnect failed", zap.String("url", c.url), zap.Error(rerr))
			c.publishState(StateDisconnected, rerr)
			return
		}
		ws = next
	}
}

func (c *Conn) reconnect(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	operation := func() error {
		if c.isClosed() {
			return backoff.Permanent(ErrNotConnected)
		}
		next, err := c.dial(ctx)
		if err != nil {
			return err
		}
		ws = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Debug("chatclient reconnect attempt failed", zap.Error(err), zap.Duration("retryIn", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return ws, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(data)
	}
}

// dispatch 把服务端信封解码为 Bus 事件，无法识别的帧丢弃
func (c *Conn) dispatch(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		zap.L().Debug("chatclient invalid frame", zap.Error(err))
		return
	}

	var evt Event
	switch env.Event {
	case protocol.EventAuthenticated:
		var n protocol.Notice
		_ = env.DecodeData(&n)
		c.authed.Store(true)
		evt = Authenticated{Message: n.Message}
	case protocol.EventError:
		var n protocol.Notice
		_ = env.DecodeData(&n)
		if !c.authed.Load() {
			msg := n.Message
			c.authFailed.Store(&msg)
		}
		evt = ServerError{Message: n.Message}
	case protocol.EventUnreadMessages:
		var senders []protocol.UnreadSender
		if err = env.DecodeData(&senders); err == nil {
			evt = UnreadMessages{Senders: senders}
		}
	case protocol.EventAllOnlineUsers:
		var ids []string
		if err = env.DecodeData(&ids); err == nil {
			evt = AllOnlineUsers{UserIDs: ids}
		}
	case protocol.EventOnlineStatus:
		var st protocol.OnlineStatus
		if err = env.DecodeData(&st); err == nil {
			evt = OnlineStatusChanged{UserID: st.UserId, Online: st.Online}
		}
	case protocol.EventReceiveMessage:
		var m protocol.Message
		if err = env.DecodeData(&m); err == nil {
			evt = MessageReceived{Message: m}
		}
	case protocol.EventMessageSent:
		var resp protocol.MessageSent
		if err = env.DecodeData(&resp); err == nil {
			evt = MessageSent{Response: resp}
		}
	default:
		zap.L().Debug("chatclient unknown event", zap.String("event", env.Event))
		return
	}
	if evt == nil {
		zap.L().Debug("chatclient bad payload", zap.String("event", env.Event), zap.Error(err))
		return
	}
	c.bus.Publish(evt)
}

// SendMessage 发送 sendMessage 事件，未连接时返回 ErrNotConnected
func (c *Conn) SendMessage(receiverID, content, tempID string) error {
	return c.write(protocol.Send(protocol.SendMessage{
		ReceiverId: receiverID,
		Content:    content,
		TempId:     tempID,
	}))
}

func (c *Conn) write(evt protocol.Event) error {
	data, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Close 发送关闭帧并停止重连，等待读循环退出
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws, cancel, done := c.ws, c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) publishState(state ConnState, err error) {
	c.bus.Publish(ConnectionStateChanged{State: state, Err: err})
}
