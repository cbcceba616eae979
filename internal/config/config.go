// Package config содержит логику чтения конфигурации сервиса маркетплейса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultGatewayBaseURL = "https://api.chapa.co/v1"
)

// Config содержит параметры конфигурации сервиса. Создаётся один раз при старте.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	GatewayBaseURL string `env:"GATEWAY_BASE_URL"`

	Migrate bool `env:"DB_MIGRATE" envDefault:"true"`

	GatewaySecretKey     string        `env:"GATEWAY_SECRET_KEY"`
	GatewayWebhookSecret string        `env:"GATEWAY_WEBHOOK_SECRET"`
	GatewayReturnURL     string        `env:"GATEWAY_RETURN_URL"`
	GatewayCallbackURL   string        `env:"GATEWAY_CALLBACK_URL"`
	GatewayOffline       bool          `env:"GATEWAY_OFFLINE"`
	GatewayTimeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"20s"`

	CommissionRate  decimal.Decimal `env:"COMMISSION_RATE" envDefault:"0.10"`
	SettleOnPayment bool            `env:"SETTLE_ON_PAYMENT"`
	AdminEmail      string          `env:"ADMIN_EMAIL"`
	SettingsPath    string          `env:"SETTINGS_PATH" envDefault:"instance/admin_settings.json"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	// RedisAddr включает общую блокировку фоновых задач для нескольких экземпляров.
	RedisAddr string `env:"REDIS_ADDR"`

	ReconcileInterval    time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	ReconcileLookback    time.Duration `env:"RECONCILE_LOOKBACK" envDefault:"24h"`
	ReconcileLimit       int           `env:"RECONCILE_LIMIT" envDefault:"50"`
	VerifyRPS            float64       `env:"VERIFY_RPS" envDefault:"5"`
	AutoCompleteInterval time.Duration `env:"AUTO_COMPLETE_INTERVAL" envDefault:"1h"`
	AutoCompleteDays     int           `env:"AUTO_COMPLETE_DAYS" envDefault:"7"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayURL := cfg.GatewayBaseURL

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayBaseURL, "g", defaultGatewayBaseURL, "payment gateway base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayURL != "" {
		cfg.GatewayBaseURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.GatewayBaseURL == "" {
		cfg.GatewayBaseURL = defaultGatewayBaseURL
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid COMMISSION_RATE %s: must be in [0, 1)", c.CommissionRate)
	}
	if c.ReconcileLimit < 0 || c.AutoCompleteDays < 0 {
		return errors.New("RECONCILE_LIMIT and AUTO_COMPLETE_DAYS must not be negative")
	}
	if c.VerifyRPS < 0 {
		return errors.New("VERIFY_RPS must not be negative")
	}
	return nil
}
