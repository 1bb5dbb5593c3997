package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/pkg/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// UserConn 一条 WebSocket 连接
// 读协程把帧交给会话，写协程把 send 中排队的事件写回客户端
type UserConn struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

func newUserConn(id string, conn *websocket.Conn, bufSize int) *UserConn {
	return &UserConn{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, bufSize),
		connectedAt: time.Now(),
	}
}

func (c *UserConn) ID() string { return c.id }

// Send 非阻塞入队，连接已关闭或缓冲已满时返回 false
func (c *UserConn) Send(evt protocol.Event) bool {
	data, err := protocol.Encode(evt)
	if err != nil {
		zap.L().Error("事件序列化失败", zap.String("event", evt.Event), zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		zap.L().Warn("发送缓冲已满，丢弃事件", zap.String("conn_id", c.id), zap.String("event", evt.Event))
		return false
	}
}

// Close 停止接收新事件，写协程写完已排队的事件后关闭连接
func (c *UserConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Read 读取帧并分发给会话，连接出错时结束并关闭会话
func (c *UserConn) Read(session Session, readLimit int64) {
	defer func() {
		session.Close(context.Background())
		c.Close()
		metrics.DecWSActive()
		zap.L().Info("ws连接断开", zap.String("conn_id", c.id), zap.Duration("alive", time.Since(c.connectedAt)))
	}()

	if readLimit > 0 {
		c.conn.SetReadLimit(readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrReadLimit) {
				zap.L().Warn("ws读取失败", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		session.Dispatch(context.Background(), raw)
	}
}

// Write 把排队的事件写给客户端，并定时发送 ping
func (c *UserConn) Write() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				zap.L().Warn("ws写入失败", zap.String("conn_id", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
