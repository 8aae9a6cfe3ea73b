// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	DatabaseSchema string `env:"MAIN_DB_SCHEMA" envDefault:"public"`

	// OAuth
	OAuth           OAuth         `envPrefix:"YANDEX_"`
	OAuthTimeout    time.Duration `env:"OAUTH_TIMEOUT" envDefault:"5s"`
	OAuthSafeClient bool          `env:"OAUTH_SAFE_CLIENT" envDefault:"true"`

	// Session
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`

	// Worker（/metricsの公開）
	WorkerMetricsEnabled bool   `env:"WORKER_METRICS_ENABLED" envDefault:"true"`
	WorkerMetricsPort    string `env:"WORKER_METRICS_PORT" envDefault:"9091"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitAuth int `env:"RATE_LIMIT_AUTH" envDefault:"30"`

	// Server
	ServerPort        string `env:"SERVER_PORT" envDefault:"8080"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`
	// TrustProxyHeaders はX-Forwarded-For/X-Real-IPを信頼するか。リバースプロキシ配下でのみtrueにする。
	TrustProxyHeaders bool   `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// OAuth はYandex OAuthクライアントの設定。
// AuthURL/TokenURLが空の場合はx/oauth2/yandexのエンドポイントを使う。
type OAuth struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
	AuthURL      string `env:"AUTH_URL"`
	TokenURL     string `env:"TOKEN_URL"`
	InfoURL      string `env:"INFO_URL" envDefault:"https://login.yandex.ru/info"`
}

// CookieSecure はstate CookieにSecure属性を付けるかを返す。
// リダイレクト先がhttpsの場合のみtrue。
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.OAuth.RedirectURL, "https://")
}

// LoadDotEnv はローカル開発用の.envファイルを環境変数に取り込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合はfalseを返す。
func LoadDotEnv(path string) (bool, error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return true, nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が範囲外の場合はエラーを返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.OAuthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OAUTH_TIMEOUT must be positive, got %s", c.OAuthTimeout))
	}
	if c.RateLimitAuth <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_AUTH must be positive, got %d", c.RateLimitAuth))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval))
	}
	if c.SessionRetention < 0 {
		errs = append(errs, fmt.Errorf("SESSION_RETENTION must not be negative, got %s", c.SessionRetention))
	}
	if c.DatabaseSchema == "" {
		errs = append(errs, errors.New("MAIN_DB_SCHEMA must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
