package config

import (
	"fmt"
	"strings"
	"time"

	"refcommission/internal/referral"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

// Storage drivers accepted by DB_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the process configuration read from the environment.
type Config struct {
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" env-default:":8080"`
	PublicBasePath string `env:"PUBLIC_BASE_PATH"`
	LogLevel       string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat      string `env:"LOG_FORMAT" env-default:"json"`

	DBDriver       string `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`
	DatabaseSchema string `env:"DATABASE_SCHEMA"`
	SQLitePath     string `env:"SQLITE_PATH" env-default:"data/refcommission.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	RedisTLS      bool   `env:"REDIS_TLS" env-default:"false"`
	RedisPrefix   string `env:"REDIS_KEY_PREFIX" env-default:"refcommission"`

	MetricsNamespace string `env:"METRICS_NAMESPACE" env-default:"refcommission"`
	JWTSecret        string `env:"JWT_SECRET"`

	CommissionPolicy          string `env:"COMMISSION_POLICY" env-default:"cascade"`
	CommissionMaxDepth        int    `env:"COMMISSION_MAX_DEPTH" env-default:"0"`
	CommissionReverseOnCancel bool   `env:"COMMISSION_REVERSE_ON_CANCEL" env-default:"false"`
	USDToPKRRate              string `env:"USD_TO_PKR_RATE" env-default:"280"`

	// ExpirySweepSchedule is a cron spec; empty (the default) leaves expiry to status updates.
	ExpirySweepSchedule string        `env:"EXPIRY_SWEEP_SCHEDULE"`
	LockTTL             time.Duration `env:"LOCK_TTL" env-default:"10s"`

	WhatsAppStorePath string   `env:"WHATSAPP_STORE_PATH"`
	WhatsAppLogLevel  string   `env:"WHATSAPP_LOG_LEVEL" env-default:"WARN"`
	WhatsAppAdminJIDs []string `env:"WHATSAPP_ADMIN_JIDS" env-separator:","`

	usdToPKR decimal.Decimal
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalise() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if _, err := referral.ParsePolicy(c.CommissionPolicy); err != nil {
		return err
	}
	if c.CommissionMaxDepth < 0 {
		return fmt.Errorf("COMMISSION_MAX_DEPTH must be >= 0")
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(c.USDToPKRRate))
	if err != nil {
		return fmt.Errorf("parse USD_TO_PKR_RATE: %w", err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("USD_TO_PKR_RATE must be positive")
	}
	c.usdToPKR = rate

	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Second
	}
	return nil
}

// USDToPKR returns the parsed conversion rate.
func (c *Config) USDToPKR() decimal.Decimal {
	return c.usdToPKR
}

// WhatsAppEnabled reports whether admin alerts should be wired.
func (c *Config) WhatsAppEnabled() bool {
	return c.WhatsAppStorePath != "" && len(c.WhatsAppAdminJIDs) > 0
}
