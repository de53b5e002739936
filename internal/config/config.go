package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/orderbook"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	// Server
	Port        int    `mapstructure:"PORT"`
	Env         string `mapstructure:"APP_ENV"` // development | production
	DataDir     string `mapstructure:"DATA_DIR"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"` // comma separated

	// Auth
	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTExpirationHours int    `mapstructure:"JWT_EXPIRATION_HOURS"`

	// Store
	LockTimeout     time.Duration `mapstructure:"LOCK_TIMEOUT"`
	LockStaleAfter  time.Duration `mapstructure:"LOCK_STALE_AFTER"`
	LockQueueDepth  int64         `mapstructure:"LOCK_QUEUE_DEPTH"`
	BackupRetention int           `mapstructure:"BACKUP_RETENTION"`

	// House policy
	ServiceFeeRate    string `mapstructure:"SERVICE_FEE_RATE"`
	PermanentTableMax int    `mapstructure:"PERMANENT_TABLE_MAX"`
	BreakfastStart    string `mapstructure:"BREAKFAST_START"`
	BreakfastEnd      string `mapstructure:"BREAKFAST_END"`
	CoverProductID    string `mapstructure:"COVER_PRODUCT_ID"`
	CommissionRate    string `mapstructure:"COMMISSION_RATE"`
	Timezone          string `mapstructure:"TZ_NAME"`

	// Collaborators
	AuditBackend string `mapstructure:"AUDIT_BACKEND"` // file | postgres
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	FiscalQueue  string `mapstructure:"FISCAL_QUEUE"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8081)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("JWT_SECRET", "dev-secret-change-in-production")
	v.SetDefault("JWT_EXPIRATION_HOURS", 12)
	v.SetDefault("LOCK_TIMEOUT", "10s")
	v.SetDefault("LOCK_STALE_AFTER", "2m")
	v.SetDefault("LOCK_QUEUE_DEPTH", 32)
	v.SetDefault("BACKUP_RETENTION", 20)
	v.SetDefault("SERVICE_FEE_RATE", "0.10")
	v.SetDefault("PERMANENT_TABLE_MAX", 35)
	v.SetDefault("BREAKFAST_START", "07:00")
	v.SetDefault("BREAKFAST_END", "10:00")
	v.SetDefault("COVER_PRODUCT_ID", "")
	v.SetDefault("COMMISSION_RATE", "10")
	v.SetDefault("TZ_NAME", "America/Sao_Paulo")
	v.SetDefault("AUDIT_BACKEND", "file")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("FISCAL_QUEUE", "fiscal:pending")
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	// missing .env is fine
	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(c.AuditBackend) {
	case "file":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: AUDIT_BACKEND=postgres needs DATABASE_URL")
		}
	default:
		return fmt.Errorf("config: unknown AUDIT_BACKEND %q", c.AuditBackend)
	}
	if c.IsProduction() && c.JWTSecret == "dev-secret-change-in-production" {
		return fmt.Errorf("config: JWT_SECRET must be set in production")
	}
	if _, err := decimal.NewFromString(c.ServiceFeeRate); err != nil {
		return fmt.Errorf("config: SERVICE_FEE_RATE: %w", err)
	}
	if _, err := decimal.NewFromString(c.CommissionRate); err != nil {
		return fmt.Errorf("config: COMMISSION_RATE: %w", err)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: LOCK_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool { return c.Env == "production" }

// Origins splits CORS_ORIGINS.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TokenTTL is the access token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpirationHours) * time.Hour
}

// Store maps the lock and backup settings onto store options.
func (c *Config) Store() store.Options {
	return store.Options{
		Dir:         c.DataDir,
		LockTimeout: c.LockTimeout,
		StaleAfter:  c.LockStaleAfter,
		QueueDepth:  c.LockQueueDepth,
		Retention:   c.BackupRetention,
	}
}

// OrderBook builds the house policy for the order book.
func (c *Config) OrderBook() (orderbook.Config, error) {
	oc := orderbook.DefaultConfig()
	rate, err := decimal.NewFromString(c.ServiceFeeRate)
	if err != nil {
		return oc, fmt.Errorf("config: SERVICE_FEE_RATE: %w", err)
	}
	start, err := clock.ParseTimeOfDay(c.BreakfastStart)
	if err != nil {
		return oc, fmt.Errorf("config: BREAKFAST_START: %w", err)
	}
	end, err := clock.ParseTimeOfDay(c.BreakfastEnd)
	if err != nil {
		return oc, fmt.Errorf("config: BREAKFAST_END: %w", err)
	}
	oc.ServiceFeeRate = rate
	oc.PermanentMax = c.PermanentTableMax
	oc.Breakfast = clock.Window{Start: start, End: end}
	oc.CoverProductID = c.CoverProductID
	return oc, nil
}

// Commission is the commission percentage.
func (c *Config) Commission() decimal.Decimal {
	return decimal.RequireFromString(c.CommissionRate)
}

// Location resolves TZ_NAME, falling back to local time.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
