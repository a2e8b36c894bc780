package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LegacyVault/internal/middleware"
	"LegacyVault/internal/ratelimit"
	"LegacyVault/internal/repository"
	"LegacyVault/internal/schedule"
	"LegacyVault/internal/service"
	"LegacyVault/internal/trigger"
	"LegacyVault/pkg/errors"
	"LegacyVault/pkg/response"
	"LegacyVault/pkg/snowflake"
	"LegacyVault/pkg/token"
)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1, 4); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeAuth 用请求头模拟已认证的所有者
func fakeAuth(ctx context.Context, c *app.RequestContext) {
	uid := string(c.GetHeader("X-Test-User"))
	if uid == "" {
		response.Error(ctx, c, errors.Unauthorized)
		c.Abort()
		return
	}
	c.Set(middleware.IdentityKey, uid)
	c.Next(ctx)
}

type apiFixture struct {
	h      *server.Hertz
	tokens *service.TokenService
}

func newAPI(t *testing.T, apiLimit int) *apiFixture {
	return newAPIWithProxies(t, apiLimit, nil)
}

func newAPIWithProxies(t *testing.T, apiLimit int, trusted []*net.IPNet) *apiFixture {
	t.Helper()
	switches := repository.NewMemorySwitchStore()
	triggers := repository.NewMemoryTriggerStore()

	registry := trigger.DefaultRegistry()
	defaults, err := trigger.LoadDefaults("", registry)
	require.NoError(t, err)

	accessLogs := repository.NewMemoryAccessLogStore()
	tokenSvc := service.NewTokenService(
		repository.NewMemoryTokenStore().WithAccessLog(accessLogs),
		accessLogs,
		ratelimit.NewMemoryLimiter(20, time.Hour, nil),
		token.NewSigner("router-test-secret"),
		nil,
	)

	var limiter ratelimit.Limiter
	if apiLimit > 0 {
		limiter = ratelimit.NewMemoryLimiter(apiLimit, time.Minute, nil)
	}

	h := server.New()
	Register(h, Dependencies{
		Switches:       service.NewSwitchService(switches, nil),
		Tokens:         tokenSvc,
		Monitor:        schedule.NewMonitor(switches, schedule.Collaborators{}, schedule.Config{}, nil),
		Engine:         trigger.NewEngine(switches, triggers, registry, nil, trigger.WithDefaults(defaults)),
		APILimiter:     limiter,
		Auth:           fakeAuth,
		TrustedProxies: trusted,
	})
	return &apiFixture{h: h, tokens: tokenSvc}
}

func (f *apiFixture) do(method, url, user string, body interface{}, extra ...ut.Header) *ut.ResponseRecorder {
	var b *ut.Body
	if body != nil {
		raw, _ := json.Marshal(body)
		b = &ut.Body{Body: bytes.NewReader(raw), Len: len(raw)}
	}
	headers := []ut.Header{{Key: "Content-Type", Value: "application/json"}}
	if user != "" {
		headers = append(headers, ut.Header{Key: "X-Test-User", Value: user})
	}
	headers = append(headers, extra...)
	return ut.PerformRequest(f.h.Engine, method, url, b, headers...)
}

func decode(t *testing.T, w *ut.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Result().Body(), out))
}

var switchBody = map[string]interface{}{
	"name":   "primary",
	"enable": true,
	"config": map[string]interface{}{
		"check_in_interval": "48h",
		"warning_threshold": "24h",
		"grace_period":      "24h",
	},
}

func TestSwitchRoutes(t *testing.T) {
	f := newAPI(t, 0)

	w := f.do(http.MethodPost, "/v1/switches", "", switchBody)
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode())

	w = f.do(http.MethodPost, "/v1/switches", "u1", switchBody)
	require.Equal(t, http.StatusCreated, w.Result().StatusCode(), string(w.Result().Body()))

	var created struct {
		Data struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"data"`
	}
	decode(t, w, &created)
	require.NotEmpty(t, created.Data.ID)
	assert.Equal(t, "armed", created.Data.State)
	base := "/v1/switches/" + created.Data.ID

	w = f.do(http.MethodPost, base+"/check-in", "u1", map[string]string{"method": "app_login"})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodGet, base, "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())

	w = f.do(http.MethodPost, base+"/check-in", "u1", map[string]string{"method": "carrier_pigeon"})
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())

	w = f.do(http.MethodGet, base+"/audit", "u1", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var trail struct {
		Data struct {
			Entries  []json.RawMessage `json:"entries"`
			Verified bool              `json:"verified"`
		} `json:"data"`
	}
	decode(t, w, &trail)
	assert.True(t, trail.Data.Verified)
	assert.NotEmpty(t, trail.Data.Entries)

	w = f.do(http.MethodGet, "/v1/switches/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode())
}

func TestTokenValidateIsPublic(t *testing.T) {
	f := newAPI(t, 0)

	w := f.do(http.MethodPost, "/v1/tokens", "u1", map[string]interface{}{
		"contact_id":   "c1",
		"access_level": "view",
		"max_uses":     2,
	})
	require.Equal(t, http.StatusCreated, w.Result().StatusCode(), string(w.Result().Body()))
	var issued struct {
		Data struct {
			TokenID string `json:"token_id"`
			Token   string `json:"token"`
		} `json:"data"`
	}
	decode(t, w, &issued)

	w = f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": issued.Data.Token})
	require.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": "not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode())
	var failed response.ErrorResponse
	decode(t, w, &failed)
	assert.Equal(t, errors.TokenInvalid.Code, failed.Error.Code)

	// 路径与令牌不一致
	w = f.do(http.MethodPost, "/v1/tokens/other/usage", "", map[string]string{"token": issued.Data.Token})
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode())

	w = f.do(http.MethodPost, "/v1/tokens/"+issued.Data.TokenID+"/usage", "", map[string]string{"token": issued.Data.Token})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodGet, "/v1/tokens/"+issued.Data.TokenID+"/logs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	w = f.do(http.MethodGet, "/v1/tokens/"+issued.Data.TokenID+"/logs", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())
}

func issueRestricted(t *testing.T, f *apiFixture, ip string) string {
	t.Helper()
	w := f.do(http.MethodPost, "/v1/tokens", "u1", map[string]interface{}{
		"contact_id":      "c1",
		"access_level":    "view",
		"ip_restrictions": []string{ip},
	})
	require.Equal(t, http.StatusCreated, w.Result().StatusCode(), string(w.Result().Body()))
	var issued struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	decode(t, w, &issued)
	return issued.Data.Token
}

func TestForwardedHeadersIgnoredWithoutTrustedProxy(t *testing.T) {
	f := newAPI(t, 0)
	tok := issueRestricted(t, f, "198.51.100.9")

	spoofed := ut.Header{Key: "X-Forwarded-For", Value: "198.51.100.9"}
	w := f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": tok}, spoofed)
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode(), string(w.Result().Body()))
	var denied response.ErrorResponse
	decode(t, w, &denied)
	assert.Equal(t, errors.IPDenied.Code, denied.Error.Code)

	w = f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": tok},
		ut.Header{Key: "X-Real-IP", Value: "198.51.100.9"})
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())
}

func TestRotatingForwardedForStillRateLimited(t *testing.T) {
	f := newAPI(t, 0)

	var last int
	for i := 0; i < 21; i++ {
		w := f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": "garbage"},
			ut.Header{Key: "X-Forwarded-For", Value: fmt.Sprintf("203.0.113.%d", i+1)})
		last = w.Result().StatusCode()
		if i < 20 {
			require.Equal(t, http.StatusUnauthorized, last)
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestForwardedForHonoredFromTrustedProxy(t *testing.T) {
	// 测试请求没有真实连接，远端地址为 0.0.0.0
	_, proxy, err := net.ParseCIDR("0.0.0.0/32")
	require.NoError(t, err)
	f := newAPIWithProxies(t, 0, []*net.IPNet{proxy})
	tok := issueRestricted(t, f, "198.51.100.9")

	w := f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": tok},
		ut.Header{Key: "X-Forwarded-For", Value: "198.51.100.9"})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodPost, "/v1/tokens/validate", "", map[string]string{"token": tok})
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())
}

func TestMonitorRoutesRequireAdmin(t *testing.T) {
	f := newAPI(t, 0)
	middleware.SetAdmins([]string{"ops"})
	t.Cleanup(func() { middleware.SetAdmins(nil) })

	w := f.do(http.MethodGet, "/v1/monitor/status", "u1", nil)
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())

	w = f.do(http.MethodPost, "/v1/monitor/config", "ops", map[string]int{"interval_seconds": 0})
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode())

	w = f.do(http.MethodPost, "/v1/monitor/force-check", "ops", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodGet, "/v1/monitor/status", "ops", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode())
	var status struct {
		Data struct {
			Running bool `json:"running"`
		} `json:"data"`
	}
	decode(t, w, &status)
	assert.False(t, status.Data.Running)
}

func TestEvaluationRoutes(t *testing.T) {
	f := newAPI(t, 0)

	w := f.do(http.MethodPost, "/v1/evaluations/u1", "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Result().StatusCode())

	w = f.do(http.MethodPost, "/v1/evaluations/u1", "u1", nil)
	require.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))
	var evaluated struct {
		Data struct {
			Results []json.RawMessage `json:"results"`
		} `json:"data"`
	}
	decode(t, w, &evaluated)
	assert.Len(t, evaluated.Data.Results, 5)

	w = f.do(http.MethodPut, "/v1/evaluations/u1/schedule", "u1", map[string]string{"frequency": "daily"})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	w = f.do(http.MethodPut, "/v1/evaluations/u1/enabled", "u1", map[string]bool{"enabled": false})
	assert.Equal(t, http.StatusOK, w.Result().StatusCode(), string(w.Result().Body()))

	// 第三方上报信号
	w = f.do(http.MethodPost, "/v1/evaluations/u1/signals", "u2", map[string]interface{}{
		"type":       "manual_declaration",
		"confidence": 0.9,
	})
	assert.Equal(t, http.StatusCreated, w.Result().StatusCode(), string(w.Result().Body()))
}

func TestAPIRateLimit(t *testing.T) {
	f := newAPI(t, 2)

	for i := 0; i < 2; i++ {
		w := f.do(http.MethodGet, "/v1/switches", "u1", nil)
		require.Equal(t, http.StatusOK, w.Result().StatusCode())
	}
	w := f.do(http.MethodGet, "/v1/switches", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Result().StatusCode())
	assert.Equal(t, "0", string(w.Result().Header.Peek("X-RateLimit-Remaining")))
}
