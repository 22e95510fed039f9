package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (VENDIMO_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string   `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string   `usage:"PostgreSQL connection URL (VENDIMO_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr      string   `default:"" usage:"Redis address for the catalog cache; empty disables caching" flag:"redis-addr"`
	KafkaBrokers   []string `usage:"Kafka broker addresses; empty disables event publishing" flag:"kafka-brokers"`
	KafkaTopic     string   `default:"marketplace.events" usage:"Kafka topic for marketplace events" flag:"kafka-topic"`
	WebhookURL     string   `default:"" usage:"Settlement notification webhook; empty disables notifications" flag:"webhook-url"`
	APIKeyPepper   string   `usage:"HMAC pepper for API key hashing (VENDIMO_API_KEY_PEPPER)" flag:"api-key-pepper"`
	CommissionBase string   `default:"products" usage:"Commission base: products or products_and_shipping" flag:"commission-base"`
	RateLimit      RateLimitConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VENDIMO",
		Files:     []string{"config.yaml", "/etc/vendimo/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set VENDIMO_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the VENDIMO_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
