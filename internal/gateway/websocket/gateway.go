// Package websocket 负责 WebSocket 连接的建立与读写
// 协议层面的处理（认证、投递）交给 chat.Session
package websocket

import (
	"net/http"

	"dm_chat_server/internal/config"
	"dm_chat_server/internal/infrastructure/metrics"
	"dm_chat_server/pkg/constants"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("dm_chat_server/gateway")

// upgrader 允许任意来源，前后端分离部署时端口不同
var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway 把 HTTP 请求升级为 WebSocket 并为其创建会话
type Gateway struct {
	newSession     NewSessionFunc
	sendBufferSize int
	readLimit      int64
}

// NewGateway cfg 为 nil 或字段为 0 时使用默认值
func NewGateway(newSession NewSessionFunc, cfg *config.WebsocketConfig) *Gateway {
	g := &Gateway{
		newSession:     newSession,
		sendBufferSize: constants.CHANNEL_SIZE,
		readLimit:      64 * 1024,
	}
	if cfg != nil {
		if cfg.SendBufferSize > 0 {
			g.sendBufferSize = cfg.SendBufferSize
		}
		if cfg.ReadLimit > 0 {
			g.readLimit = int64(cfg.ReadLimit)
		}
	}
	return g
}

// ServeHTTP 升级连接并启动读写协程，token 在第一条 authenticate 事件中携带
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, span := tracer.Start(r.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		zap.L().Warn("ws升级失败", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	uc := newUserConn(uuid.NewString(), conn, g.sendBufferSize)
	span.SetAttributes(attribute.String("ws.conn_id", uc.ID()))
	metrics.IncWSActive()

	session := g.newSession(uc)
	go uc.Write()
	go uc.Read(session, g.readLimit)
	zap.L().Info("ws连接成功", zap.String("conn_id", uc.ID()), zap.String("remote", r.RemoteAddr))
}
