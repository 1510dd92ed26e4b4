package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Env         string
	Port        int
	FrontendURL string

	DB    DBConfig
	Redis RedisConfig
	Kafka KafkaConfig

	Currency          string
	SessionTTL        time.Duration
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
	OutboxInterval    time.Duration
}

type DBConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
}

// URL returns a postgres:// connection string.
func (c DBConfig) URL() string {
	schema := c.Schema
	if schema == "" {
		schema = "public"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, schema,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Env:         getenv("APP_ENV", "development"),
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:5173"),
		Currency:    strings.ToLower(getenv("CURRENCY", "thb")),
		DB: DBConfig{
			Host:     os.Getenv("BLUEPRINT_DB_HOST"),
			Port:     getenv("BLUEPRINT_DB_PORT", "5432"),
			Database: os.Getenv("BLUEPRINT_DB_DATABASE"),
			Username: os.Getenv("BLUEPRINT_DB_USERNAME"),
			Password: os.Getenv("BLUEPRINT_DB_PASSWORD"),
			Schema:   os.Getenv("BLUEPRINT_DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getenv("KAFKA_TOPIC", "storefront.orders"),
		},
	}

	cfg.Port = intVar("PORT", 8080, &errs)
	cfg.Redis.DB = intVar("REDIS_DB", 0, &errs)
	cfg.SessionTTL = durationVar("CHECKOUT_SESSION_TTL", 30*time.Minute, &errs)
	cfg.ReconcileInterval = durationVar("RECONCILE_INTERVAL", 30*time.Second, &errs)
	cfg.ReconcileGrace = durationVar("RECONCILE_GRACE", 2*time.Minute, &errs)
	cfg.OutboxInterval = durationVar("OUTBOX_INTERVAL", time.Second, &errs)

	if cfg.DB.Host == "" {
		errs = append(errs, errors.New("BLUEPRINT_DB_HOST is required"))
	}
	if cfg.DB.Database == "" {
		errs = append(errs, errors.New("BLUEPRINT_DB_DATABASE is required"))
	}
	if cfg.SessionTTL <= 0 {
		errs = append(errs, errors.New("CHECKOUT_SESSION_TTL must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intVar(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func durationVar(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
