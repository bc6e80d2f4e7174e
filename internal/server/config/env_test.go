package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseEnv_Lookup(t *testing.T) {
	env := mapEnv(map[string]string{
		"ADDR":                 ":8081",
		"ACCESS_TOKEN_TTL":     "10m",
		"REFRESH_TOKEN_TTL":    "72h",
		"COOKIE_DOMAIN":        "example.com",
		"REDIS_DB":             "3",
		"GITHUB_CLIENT_ID":     "gh",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
	})

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, parseEnv(context.Background(), cfg, nil, env))

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, 10*time.Minute, cfg.AccessTokenValidityDuration)
	assert.Equal(t, 72*time.Hour, cfg.RefreshTokenValidityDuration)
	assert.Equal(t, "example.com", cfg.CookieDomain)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "gh", cfg.GitHub.ClientID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "secretKey", cfg.SecretKey, "unset variables keep earlier values")
}

func Test_parseEnv_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CODEX_TEST_UNUSED=1\nLOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("LOG_LEVEL")
		_ = os.Unsetenv("CODEX_TEST_UNUSED")
	})

	cfg := &Config{LogLevel: "info"}
	require.NoError(t, parseEnv(context.Background(), cfg, []string{"-envfile", path}, nil))
	assert.Equal(t, "debug", cfg.LogLevel)
}

func Test_parseEnv_MissingDotEnvFile(t *testing.T) {
	err := parseEnv(context.Background(), &Config{}, []string{"-envfile", "/definitely/not/here.env"}, nil)
	require.ErrorContains(t, err, "load /definitely/not/here.env")
}
