package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (COMMERCE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string        `usage:"PostgreSQL connection URL (COMMERCE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string        `usage:"Redis URL for cart sessions; in-process sessions when empty" flag:"redis-url"`
	Storage      string        `default:"postgres" usage:"Storage backend: postgres or memory"`
	Currency     string        `default:"USD" usage:"Currency of new carts"`
	CartTTL      time.Duration `default:"720h" usage:"Lifetime of a cart token" flag:"cart-ttl"`
	StaleCartAge time.Duration `default:"168h" usage:"Default age of carts removed by the purge endpoint" flag:"stale-cart-age"`
	APIKeyPepper string        `usage:"HMAC pepper for admin API key hashing (COMMERCE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	AdminAPIKey  string        `usage:"Admin API key registered at startup with memory storage" flag:"admin-api-key"`
	Payments     PaymentsConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// PaymentsConfig configures the payment gateways.
type PaymentsConfig struct {
	GatewayTimeout time.Duration `default:"30s" usage:"Timeout of a single gateway call" flag:"gateway-timeout"`
	ReturnURL      string        `usage:"URL off-site gateways return to; {hash} is replaced by the transaction hash, otherwise the hash is appended" flag:"return-url"`
	CancelURL      string        `usage:"URL off-site gateways send cancelled payments to" flag:"cancel-url"`
	Stripe         StripeConfig
}

// StripeConfig enables the stripe gateway when APIKey is set.
type StripeConfig struct {
	APIKey    string `usage:"Stripe secret key" flag:"stripe-api-key"`
	AccountID string `usage:"Connected account to charge on behalf of" flag:"stripe-account-id"`
}

// KafkaConfig enables order.completed events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for order events"`
	Topic   string   `default:"orders" usage:"Topic of order events"`
}

// RateLimitConfig controls the per-cart sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "COMMERCE",
		Files:     []string{"config.yaml", "/etc/commerce/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set COMMERCE_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.Currency == "" {
		return errors.New("currency is required")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's COMMERCE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
