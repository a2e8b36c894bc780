package middleware

import (
	"context"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"

	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/response"
)

var (
	adminMu  sync.RWMutex
	adminIDs = map[string]bool{}
)

// SetAdmins 替换运维账号列表
func SetAdmins(ids []string) {
	next := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = true
		}
	}
	adminMu.Lock()
	adminIDs = next
	adminMu.Unlock()
}

func IsAdmin(ctx context.Context, c *app.RequestContext) bool {
	uid, ok := GetUserID(ctx, c)
	if !ok {
		return false
	}
	adminMu.RLock()
	defer adminMu.RUnlock()
	return adminIDs[uid]
}

// AdminOnly 必须放在 AuthMiddleware 之后
func AdminOnly() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !IsAdmin(ctx, c) {
			response.Error(ctx, c, errors.Forbidden)
			c.Abort()
			return
		}
		c.Next(ctx)
	}
}
