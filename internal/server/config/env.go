package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/ajuno-labs/codex-api/internal/flagx"
)

// EnvConfig maps environment variables onto configuration. It carries no
// defaults so that an unset variable never clobbers an earlier layer; bool and
// int values are kept as strings for the same reason.
type EnvConfig struct {
	HTTPAddr                     string        `env:"ADDR"`
	Storage                      string        `env:"STORAGE"`
	DatabaseDSN                  string        `env:"DB_DSN"`
	SecretKey                    string        `env:"JWT_SECRET"`
	LogLevel                     string        `env:"LOG_LEVEL"`
	AccessTokenValidityDuration  time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTokenValidityDuration time.Duration `env:"REFRESH_TOKEN_TTL"`
	LedgerTimeout                time.Duration `env:"LEDGER_TIMEOUT"`
	CookieName                   string        `env:"COOKIE_NAME"`
	CookiePath                   string        `env:"COOKIE_PATH"`
	CookieDomain                 string        `env:"COOKIE_DOMAIN"`
	CookieSecure                 string        `env:"COOKIE_SECURE"`
	RedisAddr                    string        `env:"REDIS_ADDR"`
	RedisPassword                string        `env:"REDIS_PASSWORD"`
	RedisDB                      string        `env:"REDIS_DB"`
	GoogleClientID               string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret           string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL            string        `env:"GOOGLE_REDIRECT_URL"`
	GitHubClientID               string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret           string        `env:"GITHUB_CLIENT_SECRET"`
	GitHubRedirectURL            string        `env:"GITHUB_REDIRECT_URL"`
	OTLPEndpoint                 string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	AllowedOrigins               []string      `env:"CORS_ALLOWED_ORIGINS"`
	HealthDiskPath               string        `env:"HEALTH_DISK_PATH"`
	PurgeInterval                time.Duration `env:"PURGE_INTERVAL"`
	PurgeRetention               time.Duration `env:"PURGE_RETENTION"`
}

// parseEnv overlays environment variables. When lookup is nil the process
// environment is used, after loading the file named by -envfile (or ./.env
// when present). Variables already set in the environment win over the file.
func parseEnv(ctx context.Context, config *Config, args []string, lookup func(string) (string, bool)) error {
	var lookuper envconfig.Lookuper
	if lookup != nil {
		lookuper = lookupFunc(lookup)
	} else {
		if err := loadDotEnv(flagx.EnvFile(args)); err != nil {
			return err
		}
		lookuper = envconfig.OsLookuper()
	}

	var e EnvConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &e, Lookuper: lookuper}); err != nil {
		return fmt.Errorf("env config: %w", err)
	}

	setString(&config.HTTPAddr, e.HTTPAddr)
	setString(&config.Storage, e.Storage)
	setString(&config.DatabaseDSN, e.DatabaseDSN)
	setString(&config.SecretKey, e.SecretKey)
	setString(&config.LogLevel, e.LogLevel)
	setDuration(&config.AccessTokenValidityDuration, e.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, e.RefreshTokenValidityDuration)
	setDuration(&config.LedgerTimeout, e.LedgerTimeout)
	setString(&config.CookieName, e.CookieName)
	setString(&config.CookiePath, e.CookiePath)
	setString(&config.CookieDomain, e.CookieDomain)
	if e.CookieSecure != "" {
		v, err := strconv.ParseBool(e.CookieSecure)
		if err != nil {
			return fmt.Errorf("env config: COOKIE_SECURE: %w", err)
		}
		config.CookieSecure = v
	}
	setString(&config.RedisAddr, e.RedisAddr)
	setString(&config.RedisPassword, e.RedisPassword)
	if e.RedisDB != "" {
		v, err := strconv.Atoi(e.RedisDB)
		if err != nil {
			return fmt.Errorf("env config: REDIS_DB: %w", err)
		}
		config.RedisDB = v
	}
	setString(&config.Google.ClientID, e.GoogleClientID)
	setString(&config.Google.ClientSecret, e.GoogleClientSecret)
	setString(&config.Google.RedirectURL, e.GoogleRedirectURL)
	setString(&config.GitHub.ClientID, e.GitHubClientID)
	setString(&config.GitHub.ClientSecret, e.GitHubClientSecret)
	setString(&config.GitHub.RedirectURL, e.GitHubRedirectURL)
	setString(&config.OTLPEndpoint, e.OTLPEndpoint)
	if len(e.AllowedOrigins) > 0 {
		config.AllowedOrigins = e.AllowedOrigins
	}
	setString(&config.HealthDiskPath, e.HealthDiskPath)
	setDuration(&config.PurgeInterval, e.PurgeInterval)
	setDuration(&config.PurgeRetention, e.PurgeRetention)

	return nil
}

func loadDotEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (f lookupFunc) Lookup(key string) (string, bool) { return f(key) }

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
