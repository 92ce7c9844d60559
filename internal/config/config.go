// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"krishi-billing/internal/domain"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PhonePeConfig is the gateway contract surface: merchant identity,
// the shared salt key and its version index, and the two URLs the
// gateway calls back on. SaltKey is a capability; it must never be
// logged or echoed in errors.
type PhonePeConfig struct {
	MerchantID  string        `yaml:"merchant_id"`
	SaltKey     string        `yaml:"salt_key"`
	SaltIndex   string        `yaml:"salt_index"`
	Endpoint    string        `yaml:"endpoint"` // sandbox vs production base URL
	RedirectURL string        `yaml:"redirect_url"`
	WebhookURL  string        `yaml:"webhook_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

type BillingConfig struct {
	TrialDays         int           `yaml:"trial_days"`
	MaxChargeAttempts int           `yaml:"max_charge_attempts"`
	ChargeInterval    time.Duration `yaml:"charge_interval"`    // billing worker tick
	ReconcileInterval time.Duration `yaml:"reconcile_interval"` // status reconciler tick
	StaleAfter        time.Duration `yaml:"stale_after"`        // pending age before polling
}

type AdminConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	Password   string        `yaml:"password"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // AES key for mobile numbers at rest
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	PhonePe  PhonePeConfig  `yaml:"phonepe"`
	Billing  BillingConfig  `yaml:"billing"`
	Admin    AdminConfig    `yaml:"admin"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file, applies defaults and env overrides,
// and fails fast on anything that would make signed traffic invalid.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// secrets may come from the environment instead of the file
	if v := os.Getenv("PHONEPE_SALT_KEY"); v != "" {
		cfg.PhonePe.SaltKey = v
	}
	if v := os.Getenv("PHONEPE_MERCHANT_ID"); v != "" {
		cfg.PhonePe.MerchantID = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.PhonePe.SaltIndex == "" {
		cfg.PhonePe.SaltIndex = "1"
	}
	if cfg.PhonePe.Endpoint == "" {
		cfg.PhonePe.Endpoint = "https://api-preprod.phonepe.com/apis/pg-sandbox"
	}
	cfg.PhonePe.Endpoint = strings.TrimRight(cfg.PhonePe.Endpoint, "/")
	if cfg.PhonePe.Timeout <= 0 {
		cfg.PhonePe.Timeout = 15 * time.Second
	}
	if cfg.Billing.TrialDays <= 0 {
		cfg.Billing.TrialDays = 14
	}
	if cfg.Billing.MaxChargeAttempts <= 0 {
		cfg.Billing.MaxChargeAttempts = 3
	}
	if cfg.Billing.ChargeInterval <= 0 {
		cfg.Billing.ChargeInterval = time.Hour
	}
	if cfg.Billing.ReconcileInterval <= 0 {
		cfg.Billing.ReconcileInterval = time.Minute
	}
	if cfg.Billing.StaleAfter <= 0 {
		cfg.Billing.StaleAfter = 10 * time.Minute
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}

	// Minimal validation: a missing secret means every signature we
	// produce or verify is garbage, so refuse to start.
	if cfg.PhonePe.MerchantID == "" {
		return nil, fmt.Errorf("%w: phonepe.merchant_id is required", domain.ErrConfiguration)
	}
	if cfg.PhonePe.SaltKey == "" {
		return nil, fmt.Errorf("%w: phonepe.salt_key is required", domain.ErrConfiguration)
	}
	if cfg.PhonePe.RedirectURL == "" || cfg.PhonePe.WebhookURL == "" {
		return nil, fmt.Errorf("%w: phonepe.redirect_url and phonepe.webhook_url are required", domain.ErrConfiguration)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("%w: database.url is required", domain.ErrConfiguration)
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("%w: redis.url is required", domain.ErrConfiguration)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
