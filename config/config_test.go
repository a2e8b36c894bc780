package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "owner-secret")
	t.Setenv("TOKEN_SIGNING_SECRET", "token-secret")
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequired(t)

	require.NoError(t, Load())

	assert.Equal(t, "8888", Cfg.ServerPort)
	assert.Equal(t, "legacyvault", Cfg.PostgreSQLDatabase)
	assert.Equal(t, 5*time.Minute, Cfg.MonitorInterval())
	assert.Equal(t, 20, Cfg.TokenValidateMaxTries)
	assert.Equal(t, time.Hour, Cfg.TokenValidateWindow())
	assert.Equal(t, 90*24*time.Hour, Cfg.MaxHolidayDuration())
	assert.Equal(t, "redis", Cfg.RateLimitBackend)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	setRequired(t)
	t.Setenv("MONITOR_INTERVAL_SECONDS", "30")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("ENVIRONMENT", "production")

	require.NoError(t, Load())

	assert.Equal(t, 30*time.Second, Cfg.MonitorInterval())
	assert.Equal(t, "memory", Cfg.RateLimitBackend)
	assert.True(t, Cfg.IsProduction())
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing token secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "owner-secret")
		t.Setenv("TOKEN_SIGNING_SECRET", "")
		assert.Error(t, Load())
	})

	t.Run("shared secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "same")
		t.Setenv("TOKEN_SIGNING_SECRET", "same")
		assert.Error(t, Load())
	})

	t.Run("bad trusted proxy", func(t *testing.T) {
		setRequired(t)
		t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,not-an-ip")
		assert.Error(t, Load())
	})

	t.Run("unknown limiter backend", func(t *testing.T) {
		setRequired(t)
		t.Setenv("RATE_LIMIT_BACKEND", "memcached")
		assert.Error(t, Load())
	})
}

func TestGetDSN(t *testing.T) {
	c := Config{
		PostgreSQLHost:     "db",
		PostgreSQLPort:     "5432",
		PostgreSQLUser:     "u",
		PostgreSQLPassword: "p",
		PostgreSQLDatabase: "lv",
		PostgreSQLSSLMode:  "disable",
		PostgreSQLSchema:   "public",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=lv sslmode=disable search_path=public", c.GetDSN())
}

func TestTrustedProxyCIDRs(t *testing.T) {
	cfg := Config{TrustedProxies: []string{"10.0.0.0/8", " 192.0.2.1 ", "2001:db8::1", ""}}

	cidrs, err := cfg.TrustedProxyCIDRs()
	require.NoError(t, err)
	require.Len(t, cidrs, 3)
	assert.Equal(t, "10.0.0.0/8", cidrs[0].String())
	assert.Equal(t, "192.0.2.1/32", cidrs[1].String())
	assert.Equal(t, "2001:db8::1/128", cidrs[2].String())

	empty, err := (&Config{}).TrustedProxyCIDRs()
	require.NoError(t, err)
	assert.Empty(t, empty)
}
