// Package metrics 注册 Prometheus 指标并提供 HTTP 指标中间件
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of open websocket connections.",
		},
	)
	onlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_online_users",
			Help: "Number of users currently registered in the presence table.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of inbound websocket events.",
		},
		[]string{"event"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Direct messages submitted, by outcome.",
		},
		[]string{"result"},
	)
	publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_event_publish_errors_total",
			Help: "Total number of event stream publish errors.",
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		onlineUsers,
		wsEventsTotal,
		messagesTotal,
		publishErrorsTotal,
	)
}

// 消息投递结果标签
const (
	ResultDelivered = "delivered" // 已持久化且接收方在线
	ResultStored    = "stored"    // 已持久化，接收方离线
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
	ResultDropped   = "dropped" // 未认证连接发送，静默丢弃
	ResultLimited   = "limited"
)

// HTTPMetricsMiddleware 记录请求数与耗时，route 使用 gin 的路由模板
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

func SetOnlineUsers(n int) { onlineUsers.Set(float64(n)) }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncMessage(result string) { messagesTotal.WithLabelValues(result).Inc() }

func IncPublishError(backend string) { publishErrorsTotal.WithLabelValues(backend).Inc() }
