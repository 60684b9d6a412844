package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Port          int
	LogLevel      string
	Env           string
	StorageDriver string
	DB            DBConfig
	Kafka         KafkaConfig
	Auth          AuthConfig
	Profile       ProfileConfig
	Offer         OfferConfig
	Outbox        OutboxConfig
	RateLimit     RateLimitConfig
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// KafkaConfig holds the Kafka configuration
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	JobsTopic     string
	ConsumerGroup string
}

// AuthConfig holds the bearer-token settings
type AuthConfig struct {
	JWTSecret string
}

// ProfileConfig locates carrier registered cities
type ProfileConfig struct {
	ServiceURL    string
	Timeout       time.Duration
	CarrierCities map[string]string
}

// OfferConfig holds assignment offer timing
type OfferConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// OutboxConfig holds the outbox processor settings
type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
}

// RateLimitConfig holds the token bucket settings
type RateLimitConfig struct {
	Enabled           bool
	GlobalMaxTokens   float64
	GlobalRefillRate  float64
	IPMaxTokens       float64
	IPRefillRate      float64
	TrustForwardedFor bool
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

// Load reads .env when present, then the environment, and returns a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return FromEnv()
}

// FromEnv builds a Config from environment variables only
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:          p.getInt("PORT", 8080),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Env:           getEnv("APP_ENV", "development"),
		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     p.getInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "carrier_jobs"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Enabled:       p.getBool("KAFKA_ENABLED", false),
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			JobsTopic:     getEnv("KAFKA_JOBS_TOPIC", "carrier-jobs"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "carrier-jobs-audit"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Profile: ProfileConfig{
			ServiceURL:    getEnv("PROFILE_SERVICE_URL", ""),
			Timeout:       p.getDuration("PROFILE_SERVICE_TIMEOUT", 5*time.Second),
			CarrierCities: p.getPairs("CARRIER_CITIES"),
		},
		Offer: OfferConfig{
			TTL:           p.getDuration("OFFER_TTL", 30*time.Minute),
			SweepInterval: p.getDuration("OFFER_SWEEP_INTERVAL", time.Minute),
		},
		Outbox: OutboxConfig{
			PollInterval: p.getDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
			BatchSize:    p.getInt("OUTBOX_BATCH_SIZE", 50),
			MaxRetries:   p.getInt("OUTBOX_MAX_RETRIES", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:           p.getBool("RATE_LIMIT_ENABLED", true),
			GlobalMaxTokens:   p.getFloat("RATE_LIMIT_GLOBAL_MAX", 200),
			GlobalRefillRate:  p.getFloat("RATE_LIMIT_GLOBAL_RATE", 100),
			IPMaxTokens:       p.getFloat("RATE_LIMIT_IP_MAX", 30),
			IPRefillRate:      p.getFloat("RATE_LIMIT_IP_RATE", 10),
			TrustForwardedFor: p.getBool("RATE_LIMIT_TRUST_FORWARDED_FOR", false),
		},
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: want memory or postgres", c.StorageDriver)
	}

	if c.Auth.JWTSecret == "" && c.IsProduction() {
		return errors.New("JWT_SECRET is required in production")
	}

	if c.Offer.TTL <= 0 {
		return fmt.Errorf("invalid OFFER_TTL: must be positive")
	}

	if c.Kafka.Enabled && c.StorageDriver == StorageMemory {
		return errors.New("KAFKA_ENABLED requires STORAGE_DRIVER=postgres")
	}

	return nil
}

// IsProduction reports whether APP_ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// parser collects the first conversion error so Load can report it once
type parser struct {
	err error
}

func (p *parser) getInt(key string, def int) int {
	raw := getEnv(key, strconv.Itoa(def))
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getFloat(key string, def float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getBool(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

func (p *parser) getDuration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return v
}

// getPairs parses "k1=v1,k2=v2"
func (p *parser) getPairs(key string) map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(getEnv(key, "")) {
		k, v, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(k) == "" {
			p.fail(key, fmt.Errorf("malformed entry %q", item))
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
