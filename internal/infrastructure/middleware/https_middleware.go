package middleware

import (
	"net"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// TlsHandler 把 HTTP 请求重定向到 HTTPS，并附带基础安全响应头
func TlsHandler(host string, port int) gin.HandlerFunc {
	return secureHandler(secure.Options{
		SSLRedirect:        true,
		SSLHost:            net.JoinHostPort(host, strconv.Itoa(port)),
		FrameDeny:          true,
		ContentTypeNosniff: true,
	})
}

// SecurityHeaders 只设置安全响应头，不做重定向
func SecurityHeaders(isDev bool) gin.HandlerFunc {
	return secureHandler(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		IsDevelopment:      isDev,
	})
}

func secureHandler(opts secure.Options) gin.HandlerFunc {
	secureMiddleware := secure.New(opts)
	return func(c *gin.Context) {
		if err := secureMiddleware.Process(c.Writer, c.Request); err != nil {
			zap.L().Warn("secure middleware rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Abort()
			return
		}
		// Process 已写出重定向响应时不再继续
		if status := c.Writer.Status(); status > 300 && status < 399 {
			c.Abort()
			return
		}
		c.Next()
	}
}
