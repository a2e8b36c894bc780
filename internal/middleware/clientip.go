package middleware

import (
	"context"
	"net"

	"github.com/cloudwego/hertz/pkg/app"
)

const clientIPKey = "client_ip"

var forwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ClientIPFunc 只信任 trusted 中的代理转发的来源头；为空时一律使用连接地址。
// hertz 默认信任 0.0.0.0/0，令牌 IP 限制与按 IP 限流都依赖这里。
func ClientIPFunc(trusted []*net.IPNet) app.ClientIP {
	return app.ClientIPWithOption(app.ClientIPOptions{
		RemoteIPHeaders: forwardedHeaders,
		TrustedCIDRs:    trusted,
	})
}

// ClientIPMiddleware 每个请求解析一次来源 IP 写入上下文
func ClientIPMiddleware(trusted []*net.IPNet) app.HandlerFunc {
	resolve := ClientIPFunc(trusted)
	return func(ctx context.Context, c *app.RequestContext) {
		c.Set(clientIPKey, resolve(c))
		c.Next(ctx)
	}
}

var remoteOnly = ClientIPFunc(nil)

// ClientIP 读取中间件解析的来源 IP；未经过中间件时只用连接地址
func ClientIP(c *app.RequestContext) string {
	if v, ok := c.Get(clientIPKey); ok {
		if ip, ok := v.(string); ok {
			return ip
		}
	}
	return remoteOnly(c)
}
