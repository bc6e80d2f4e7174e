package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, StoragePostgres, c.Storage)
	assert.Equal(t, "secretKey", c.SecretKey)
	assert.Equal(t, 15*time.Minute, c.AccessTokenValidityDuration)
	assert.Equal(t, 7*24*time.Hour, c.RefreshTokenValidityDuration)
	assert.Equal(t, 5*time.Second, c.LedgerTimeout)
	assert.Equal(t, "refresh_token", c.CookieName)
	assert.Equal(t, "/api", c.CookiePath)
	assert.True(t, c.CookieSecure)
	assert.Zero(t, c.PurgeInterval)
	require.NoError(t, c.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	c, err := Load(context.Background(), nil, noEnv)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Equal(t, &want, c)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, "", "", map[string]any{
		"http_addr":  ":7000",
		"secret_key": "from-json",
		"storage":    "memory",
	})

	env := mapEnv(map[string]string{
		"JWT_SECRET":    "from-env",
		"COOKIE_SECURE": "false",
	})

	c, err := Load(context.Background(), []string{"-c", path, "-a", ":9000"}, env)
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.HTTPAddr, "flag beats json")
	assert.Equal(t, "from-env", c.SecretKey, "env beats json")
	assert.Equal(t, StorageMemory, c.Storage, "json beats defaults")
	assert.False(t, c.CookieSecure)
}

func TestLoad_InvalidEnv(t *testing.T) {
	_, err := Load(context.Background(), nil, mapEnv(map[string]string{"COOKIE_SECURE": "maybe"}))
	require.ErrorContains(t, err, "COOKIE_SECURE")

	_, err = Load(context.Background(), nil, mapEnv(map[string]string{"REDIS_DB": "x"}))
	require.ErrorContains(t, err, "REDIS_DB")
}

func TestLoad_ValidationFails(t *testing.T) {
	_, err := Load(context.Background(), []string{"-t", "20000"}, noEnv)
	require.ErrorContains(t, err, "access token must expire before refresh token")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "no secret", mutate: func(c *Config) { c.SecretKey = "" }, errSub: "secret key"},
		{name: "bad storage", mutate: func(c *Config) { c.Storage = "mongo" }, errSub: "unknown storage"},
		{name: "no dsn", mutate: func(c *Config) { c.DatabaseDSN = "" }, errSub: "database DSN"},
		{name: "memory without dsn", mutate: func(c *Config) { c.Storage = StorageMemory; c.DatabaseDSN = "" }},
		{name: "zero ttl", mutate: func(c *Config) { c.AccessTokenValidityDuration = 0 }, errSub: "positive"},
		{name: "no cookie", mutate: func(c *Config) { c.CookieName = "" }, errSub: "cookie name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			err := c.Validate()
			if tt.errSub == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errSub)
		})
	}
}
