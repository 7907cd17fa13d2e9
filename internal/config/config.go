// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/imrishuroy/orderflow/internal/domain"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Idempotency backends
const (
	IdempotencyDynamoDB = "dynamodb"
	IdempotencyRedis    = "redis"
	IdempotencyNone     = "none"
)

// Event sinks
const (
	SinkSQS   = "sqs"
	SinkKafka = "kafka"
	SinkLog   = "log"
)

// Auth modes
const (
	AuthJWT     = "jwt"
	AuthGateway = "gateway"
)

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	RunLocal  bool   `envconfig:"RUN_LOCAL" default:"false"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`

	AuthMode        string        `envconfig:"AUTH_MODE" default:"jwt"`
	JWTAccessSecret string        `envconfig:"JWT_ACCESS_SECRET"`
	JWTTTL          time.Duration `envconfig:"JWT_TTL" default:"24h"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"dynamodb"`
	DatabaseDSN  string `envconfig:"DATABASE_DSN"`
	MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"100"`
	MaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	AutoMigrate  bool   `envconfig:"AUTO_MIGRATE" default:"false"`

	ProductsTable    string `envconfig:"PRODUCTS_TABLE" default:"products"`
	CartTable        string `envconfig:"CART_TABLE" default:"cart_items"`
	OrdersTable      string `envconfig:"ORDERS_TABLE" default:"orders"`
	ReturnsTable     string `envconfig:"RETURNS_TABLE" default:"returns"`
	LedgerTable      string `envconfig:"LEDGER_TABLE" default:"stock_ledger"`
	IdempotencyTable string `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`

	IdempotencyBackend string        `envconfig:"IDEMPOTENCY_BACKEND" default:"dynamodb"`
	IdempotencyTTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	RedisAddr          string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	EventsSink     string   `envconfig:"EVENTS_SINK" default:"sqs"`
	OrdersQueueURL string   `envconfig:"ORDERS_QUEUE_URL"`
	KafkaBrokers   []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic     string   `envconfig:"KAFKA_TOPIC" default:"order-events"`

	CancellableStatuses []string `envconfig:"CANCELLABLE_STATUSES" default:"pending"`
	MaxCommitAttempts   int      `envconfig:"MAX_COMMIT_ATTEMPTS" default:"50"`
	MetricsNamespace    string   `envconfig:"METRICS_NAMESPACE" default:"OrderFlow"`

	DynamoDBEndpoint   string `envconfig:"DYNAMODB_ENDPOINT"`
	SQSEndpoint        string `envconfig:"SQS_ENDPOINT"`
	CloudWatchEndpoint string `envconfig:"CLOUDWATCH_ENDPOINT"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendDynamoDB:
	case BackendSQLite, BackendPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for %s backend", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.AuthMode {
	case AuthJWT, AuthGateway:
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	switch c.IdempotencyBackend {
	case IdempotencyDynamoDB, IdempotencyRedis, IdempotencyNone:
	default:
		return fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend)
	}
	switch c.EventsSink {
	case SinkSQS:
		if c.OrdersQueueURL == "" {
			return fmt.Errorf("ORDERS_QUEUE_URL is required for sqs sink")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for kafka sink")
		}
	case SinkLog:
	default:
		return fmt.Errorf("unknown EVENTS_SINK %q", c.EventsSink)
	}
	if _, err := c.CancelPolicy(); err != nil {
		return err
	}
	if c.MaxCommitAttempts <= 0 {
		return fmt.Errorf("MAX_COMMIT_ATTEMPTS must be positive")
	}
	return nil
}

// CancelPolicy parses CANCELLABLE_STATUSES.
func (c *Config) CancelPolicy() (domain.CancelPolicy, error) {
	statuses := make([]domain.OrderStatus, 0, len(c.CancellableStatuses))
	for _, raw := range c.CancellableStatuses {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		s, err := domain.ParseOrderStatus(raw)
		if err != nil {
			return domain.CancelPolicy{}, fmt.Errorf("CANCELLABLE_STATUSES: %w", err)
		}
		statuses = append(statuses, s)
	}
	p, err := domain.NewCancelPolicy(statuses...)
	if err != nil {
		return domain.CancelPolicy{}, fmt.Errorf("CANCELLABLE_STATUSES: %w", err)
	}
	return p, nil
}
