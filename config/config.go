package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Admin    AdminConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Checkout CheckoutConfig
	VNPay    VNPayConfig
	MoMo     MoMoConfig
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	// AllowedOrigins may call the checkout endpoint from a browser.
	AllowedOrigins []string
	// TrustedProxies are the IPs or CIDRs whose forwarded headers are believed.
	TrustedProxies []string
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AutoMigrate     bool
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type AdminConfig struct {
	// SecretHash is a bcrypt hash of the X-Admin-Secret header value.
	SecretHash     string
	RequestsPerSec float64
	Burst          int
}

// LedgerConfig controls how long a claimed order may stay pending.
type LedgerConfig struct {
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	ProcessTimeout time.Duration
}

type CheckoutConfig struct {
	DraftTTL          time.Duration
	RequestsPerMinute int
	PricePro1         decimal.Decimal
	PricePro3         decimal.Decimal
	PricePro12        decimal.Decimal
	PriceMembership   decimal.Decimal
}

// Price returns the configured price of a plan.
func (c CheckoutConfig) Price(plan string) (decimal.Decimal, bool) {
	switch plan {
	case "pro1":
		return c.PricePro1, true
	case "pro3":
		return c.PricePro3, true
	case "pro12":
		return c.PricePro12, true
	case "membership":
		return c.PriceMembership, true
	}
	return decimal.Zero, false
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Version    string
	Locale     string
	CurrCode   string
	OrderType  string
	ExpireIn   time.Duration
}

type MoMoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	RequestType string
	Lang        string
	Timeout     time.Duration
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:          getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			TrustedProxies:          getEnvList("TRUSTED_PROXIES", nil),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Admin: AdminConfig{
			SecretHash:     getEnv("ADMIN_SECRET_HASH", ""),
			RequestsPerSec: getEnvFloat("ADMIN_RATE_LIMIT", 2),
			Burst:          getEnvInt("ADMIN_RATE_BURST", 5),
		},
		Ledger: LedgerConfig{
			PendingTimeout: getEnvDuration("LEDGER_PENDING_TIMEOUT", 2*time.Minute),
			SweepInterval:  getEnvDuration("LEDGER_SWEEP_INTERVAL", 30*time.Second),
			ProcessTimeout: getEnvDuration("PAYMENT_PROCESS_TIMEOUT", 20*time.Second),
		},
		Checkout: CheckoutConfig{
			DraftTTL:          getEnvDuration("CHECKOUT_DRAFT_TTL", 1*time.Hour),
			RequestsPerMinute: getEnvInt("CHECKOUT_RATE_LIMIT", 10),
			PricePro1:         getEnvDecimal("PLAN_PRICE_PRO1", decimal.NewFromInt(79000)),
			PricePro3:         getEnvDecimal("PLAN_PRICE_PRO3", decimal.NewFromInt(199000)),
			PricePro12:        getEnvDecimal("PLAN_PRICE_PRO12", decimal.NewFromInt(699000)),
			PriceMembership:   getEnvDecimal("PLAN_PRICE_MEMBERSHIP", decimal.NewFromInt(49000)),
		},
		VNPay: VNPayConfig{
			TmnCode:    getEnv("VNPAY_TMN_CODE", ""),
			HashSecret: getEnv("VNPAY_HASH_SECRET", ""),
			PayURL:     getEnv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			ReturnURL:  getEnv("VNPAY_RETURN_URL", "http://localhost:8080/v1/payments/vnpay/return"),
			Version:    getEnv("VNPAY_VERSION", "2.1.0"),
			Locale:     getEnv("VNPAY_LOCALE", "vn"),
			CurrCode:   getEnv("VNPAY_CURR_CODE", "VND"),
			OrderType:  getEnv("VNPAY_ORDER_TYPE", "other"),
			ExpireIn:   getEnvDuration("VNPAY_EXPIRE_IN", 15*time.Minute),
		},
		MoMo: MoMoConfig{
			PartnerCode: getEnv("MOMO_PARTNER_CODE", ""),
			AccessKey:   getEnv("MOMO_ACCESS_KEY", ""),
			SecretKey:   getEnv("MOMO_SECRET_KEY", ""),
			Endpoint:    getEnv("MOMO_ENDPOINT", "https://test-payment.momo.vn/v2/gateway/api/create"),
			RedirectURL: getEnv("MOMO_REDIRECT_URL", "http://localhost:8080/v1/payments/momo/return"),
			IPNURL:      getEnv("MOMO_IPN_URL", "http://localhost:8080/v1/payments/momo/ipn"),
			RequestType: getEnv("MOMO_REQUEST_TYPE", "captureWallet"),
			Lang:        getEnv("MOMO_LANG", "vi"),
			Timeout:     getEnvDuration("MOMO_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Ledger.PendingTimeout <= 0 || c.Ledger.SweepInterval <= 0 {
		return fmt.Errorf("ledger pending timeout and sweep interval must be positive")
	}
	// A processing run must finish before the sweeper may reject its claim.
	if c.Ledger.ProcessTimeout <= 0 || c.Ledger.ProcessTimeout >= c.Ledger.PendingTimeout {
		return fmt.Errorf("payment process timeout must be positive and shorter than ledger pending timeout")
	}
	for name, price := range map[string]decimal.Decimal{
		"pro1":       c.Checkout.PricePro1,
		"pro3":       c.Checkout.PricePro3,
		"pro12":      c.Checkout.PricePro12,
		"membership": c.Checkout.PriceMembership,
	} {
		if !price.IsPositive() {
			return fmt.Errorf("plan price %s must be positive", name)
		}
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
