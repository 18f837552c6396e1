// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime settings. Defaults are tuned for local
// development against docker-compose Postgres and Kafka.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"eventsportal"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	// StoreTimeout bounds every store operation started by a request.
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	// ReconcileInterval is the period of the settled-but-unapplied sweep.
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"30s"`

	// ProviderURL is the payment provider's checkout-session endpoint.
	// Empty means checkout sessions cannot be opened (paid flows disabled).
	ProviderURL        string `env:"PROVIDER_URL"`
	ProviderSuccessURL string `env:"PROVIDER_SUCCESS_URL" envDefault:"http://localhost:8080/payments/return"`
	ProviderCancelURL  string `env:"PROVIDER_CANCEL_URL" envDefault:"http://localhost:8080/payments/cancelled"`

	// KafkaBrokers is a comma-separated broker list for the notification
	// topic. Empty disables the publisher; notifications stay DB-only.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"portal.notifications"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// DSN builds a libpq-compatible connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
