// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"keydrop"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"keydrop.db"`

	// Empty disables the stock gate and payment claim cache.
	RedisAddr string `env:"REDIS_ADDR"`
	// Empty logs events instead of publishing them.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	EncryptionKey string `env:"ENCRYPTION_KEY,unset"`

	PaymentGatewayURL string `env:"PAYMENT_GATEWAY_URL" envDefault:"https://api.stripe.com"`
	PaymentGatewayKey string `env:"PAYMENT_GATEWAY_KEY,unset"`

	Currency          string `env:"CURRENCY" envDefault:"usd"`
	TaxRateBps        int64  `env:"TAX_RATE_BPS" envDefault:"600"`
	PriceToleranceBps int64  `env:"PRICE_TOLERANCE_BPS" envDefault:"100"`

	AllocationMaxAttempts int           `env:"ALLOCATION_MAX_ATTEMPTS" envDefault:"3"`
	AllocationBackoff     time.Duration `env:"ALLOCATION_BACKOFF" envDefault:"100ms"`
	PaymentTimeout        time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"10s"`
	CommitTimeout         time.Duration `env:"COMMIT_TIMEOUT" envDefault:"5s"`

	EventWorkers   int `env:"EVENT_WORKERS" envDefault:"4"`
	EventQueueSize int `env:"EVENT_QUEUE_SIZE" envDefault:"1000"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if len(c.EncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes, got %d", len(c.EncryptionKey)))
	}
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be mysql or sqlite, got %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.Currency == "" {
		errs = append(errs, errors.New("CURRENCY is required"))
	}
	if c.TaxRateBps < 0 || c.PriceToleranceBps < 0 {
		errs = append(errs, errors.New("TAX_RATE_BPS and PRICE_TOLERANCE_BPS must not be negative"))
	}
	if c.AllocationMaxAttempts < 1 {
		errs = append(errs, errors.New("ALLOCATION_MAX_ATTEMPTS must be at least 1"))
	}
	if c.PaymentTimeout <= 0 || c.CommitTimeout <= 0 {
		errs = append(errs, errors.New("PAYMENT_TIMEOUT and COMMIT_TIMEOUT must be positive"))
	}
	if c.EventWorkers < 1 || c.EventQueueSize < 1 {
		errs = append(errs, errors.New("EVENT_WORKERS and EVENT_QUEUE_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
