package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ajuno-labs/codex-api/internal/flagx"
	"github.com/ajuno-labs/codex-api/internal/timex"
)

type jsonOAuthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
}

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so "15m" and integer nanoseconds are both accepted. Fields
// left out of the file keep their previous values.
type JsonConfig struct {
	HTTPAddr                     string          `json:"http_addr"`
	Storage                      string          `json:"storage"`
	DatabaseDSN                  string          `json:"database_dsn"`
	SecretKey                    string          `json:"secret_key"`
	LogLevel                     string          `json:"log_level"`
	AccessTokenValidityDuration  timex.Duration  `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration  `json:"refresh_token_validity_duration"`
	LedgerTimeout                timex.Duration  `json:"ledger_timeout"`
	CookieName                   string          `json:"cookie_name"`
	CookiePath                   string          `json:"cookie_path"`
	CookieDomain                 string          `json:"cookie_domain"`
	CookieSecure                 *bool           `json:"cookie_secure"`
	RedisAddr                    string          `json:"redis_addr"`
	RedisPassword                string          `json:"redis_password"`
	RedisDB                      *int            `json:"redis_db"`
	Google                       jsonOAuthClient `json:"google"`
	GitHub                       jsonOAuthClient `json:"github"`
	OTLPEndpoint                 string          `json:"otlp_endpoint"`
	AllowedOrigins               []string        `json:"allowed_origins"`
	HealthDiskPath               string          `json:"health_disk_path"`
	PurgeInterval                timex.Duration  `json:"purge_interval"`
	PurgeRetention               timex.Duration  `json:"purge_retention"`
}

// parseJson overlays values from the file named by -c/-config, if any.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.Storage, c.Storage)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration.Duration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration.Duration)
	setDuration(&config.LedgerTimeout, c.LedgerTimeout.Duration)
	setString(&config.CookieName, c.CookieName)
	setString(&config.CookiePath, c.CookiePath)
	setString(&config.CookieDomain, c.CookieDomain)
	if c.CookieSecure != nil {
		config.CookieSecure = *c.CookieSecure
	}
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	if c.RedisDB != nil {
		config.RedisDB = *c.RedisDB
	}
	setString(&config.Google.ClientID, c.Google.ClientID)
	setString(&config.Google.ClientSecret, c.Google.ClientSecret)
	setString(&config.Google.RedirectURL, c.Google.RedirectURL)
	setString(&config.GitHub.ClientID, c.GitHub.ClientID)
	setString(&config.GitHub.ClientSecret, c.GitHub.ClientSecret)
	setString(&config.GitHub.RedirectURL, c.GitHub.RedirectURL)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	if len(c.AllowedOrigins) > 0 {
		config.AllowedOrigins = c.AllowedOrigins
	}
	setString(&config.HealthDiskPath, c.HealthDiskPath)
	setDuration(&config.PurgeInterval, c.PurgeInterval.Duration)
	setDuration(&config.PurgeRetention, c.PurgeRetention.Duration)

	return nil
}
