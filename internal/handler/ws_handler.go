package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WsHandler 把 HTTP 连接升级为 WebSocket
// GET /ws
// 升级时不校验身份，客户端需在第一条 authenticate 事件中携带 token
type WsHandler struct {
	gateway http.Handler
}

func NewWsHandler(gateway http.Handler) *WsHandler {
	return &WsHandler{gateway: gateway}
}

func (h *WsHandler) Serve(c *gin.Context) {
	h.gateway.ServeHTTP(c.Writer, c.Request)
}
