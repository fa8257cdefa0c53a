// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はサーバーの設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"3001"`
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:3000"`

	// Session token
	JWTSecret     string        `env:"JWT_SECRET"`
	JWTExpiration time.Duration `env:"JWT_EXPIRATION" envDefault:"1h"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"oauth-entra-sql-app"`
	JWTAudience   string        `env:"JWT_AUDIENCE" envDefault:"oauth-entra-sql-api"`

	// Identity provider
	AzureClientID      string        `env:"AZURE_CLIENT_ID"`
	AzureClientSecret  string        `env:"AZURE_CLIENT_SECRET"`
	AzureTenantID      string        `env:"AZURE_TENANT_ID"`
	AzureRedirectURI   string        `env:"AZURE_REDIRECT_URI" envDefault:"http://localhost:3000/auth/callback"`
	AzureAuthorityHost string        `env:"AZURE_AUTHORITY_HOST" envDefault:"https://login.microsoftonline.com"`
	GraphProfileURL    string        `env:"GRAPH_PROFILE_URL" envDefault:"https://graph.microsoft.com/v1.0/me"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`
	OAuthStateTTL      time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Roles
	AdminEmails []string `env:"ADMIN_EMAILS" envSeparator:","`

	// Database (未設定の場合はインメモリのデータセットを使用する)
	DatabaseURL string `env:"DATABASE_URL"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// Rate Limit (req/min)
	RateLimitGeneral  int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitCallback int `env:"RATE_LIMIT_CALLBACK" envDefault:"10"`

	// Logging
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数をすべて列挙したエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var missing []string
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("JWT_EXPIRATION must be positive: %s", c.JWTExpiration)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive: %s", c.ProviderTimeout)
	}
	if c.OAuthStateTTL <= 0 {
		return fmt.Errorf("OAUTH_STATE_TTL must be positive: %s", c.OAuthStateTTL)
	}
	if c.RateLimitGeneral <= 0 || c.RateLimitCallback <= 0 {
		return fmt.Errorf("rate limits must be positive: general=%d callback=%d", c.RateLimitGeneral, c.RateLimitCallback)
	}
	return nil
}

// OfflineMode はIdPの資格情報が1つでも欠けているかを返す。
// trueの場合、オフラインプロバイダーを使用する。
func (c *Config) OfflineMode() bool {
	return c.AzureClientID == "" || c.AzureClientSecret == "" || c.AzureTenantID == ""
}

// ClientConfig はCLIクライアントの設定を保持する。
type ClientConfig struct {
	APIURL      string        `env:"AUTHGATE_API_URL" envDefault:"http://localhost:3001"`
	SessionFile string        `env:"AUTHGATE_SESSION_FILE"`
	Timeout     time.Duration `env:"AUTHGATE_TIMEOUT" envDefault:"10s"`
	LogLevel    slog.Level    `env:"LOG_LEVEL" envDefault:"WARN"`
}

// LoadClient は環境変数からClientConfigを読み込む。
// セッションファイルが未指定の場合はユーザー設定ディレクトリ配下を使用する。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.SessionFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve session file location: %w", err)
		}
		cfg.SessionFile = filepath.Join(dir, "authgate", "session.json")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("AUTHGATE_TIMEOUT must be positive: %s", cfg.Timeout)
	}
	return cfg, nil
}
