// Package app wires configuration into stores, publishers and services.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/orderflow/internal/auth"
	"github.com/imrishuroy/orderflow/internal/aws"
	"github.com/imrishuroy/orderflow/internal/cart"
	"github.com/imrishuroy/orderflow/internal/config"
	"github.com/imrishuroy/orderflow/internal/events"
	"github.com/imrishuroy/orderflow/internal/handlers"
	"github.com/imrishuroy/orderflow/internal/idempotency"
	"github.com/imrishuroy/orderflow/internal/inventory"
	"github.com/imrishuroy/orderflow/internal/orders"
	"github.com/imrishuroy/orderflow/internal/returns"
	"github.com/imrishuroy/orderflow/internal/store"
	"github.com/imrishuroy/orderflow/internal/store/dynamostore"
	"github.com/imrishuroy/orderflow/internal/store/sqlstore"
)

// App holds the constructed dependencies of the API process.
type App struct {
	Config      *config.Config
	Log         logrus.FieldLogger
	Store       store.Store
	Publisher   events.Publisher
	Idempotency idempotency.Store
	Identity    auth.Provider
	Ledger      *inventory.Ledger
	Cart        *cart.Service
	Orders      *orders.Service
	Returns     *returns.Service

	clients *aws.Clients
	closers []io.Closer
}

// New returns an App with nothing opened yet.
func New(cfg *config.Config, log logrus.FieldLogger) *App {
	return &App{Config: cfg, Log: log}
}

// Build constructs every dependency named by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	a := New(cfg, log)
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	policy, err := cfg.CancelPolicy()
	if err != nil {
		return err
	}

	if a.Identity, err = OpenIdentity(cfg); err != nil {
		return err
	}
	if a.Store, err = a.openStore(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, a.Store)

	if a.Publisher, err = a.openPublisher(ctx); err != nil {
		return err
	}
	if a.Idempotency, err = a.OpenIdempotency(ctx); err != nil {
		return err
	}

	a.Ledger = inventory.NewLedger(a.Store, a.Publisher, a.Log, cfg.MaxCommitAttempts)
	a.Cart = cart.NewService(a.Store, a.Log, cfg.MaxCommitAttempts)
	a.Orders = orders.NewService(orders.Config{
		Store:        a.Store,
		Ledger:       a.Ledger,
		Publisher:    a.Publisher,
		Logger:       a.Log,
		CancelPolicy: policy,
		MaxAttempts:  cfg.MaxCommitAttempts,
	})
	a.Returns = returns.NewService(returns.Config{
		Store:       a.Store,
		Orders:      a.Orders,
		Publisher:   a.Publisher,
		Logger:      a.Log,
		MaxAttempts: cfg.MaxCommitAttempts,
	})
	return nil
}

// HandlerConfig returns the HTTP layer's dependencies.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	return handlers.HandlerConfig{
		Ledger:      a.Ledger,
		Cart:        a.Cart,
		Orders:      a.Orders,
		Returns:     a.Returns,
		Idempotency: a.Idempotency,
		Identity:    a.Identity,
		Logger:      a.Log,
	}
}

// OpenIdentity returns the credential verifier for AUTH_MODE.
func OpenIdentity(cfg *config.Config) (auth.Provider, error) {
	switch cfg.AuthMode {
	case config.AuthJWT:
		p, err := auth.NewJWTProvider(cfg.JWTAccessSecret)
		if err != nil {
			return nil, fmt.Errorf("JWT_ACCESS_SECRET: %w", err)
		}
		return p, nil
	case config.AuthGateway:
		return auth.HeaderProvider{}, nil
	}
	return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.AuthMode)
}

// Close releases resources in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// AWS returns the AWS clients, loading them on first use.
func (a *App) AWS(ctx context.Context) (*aws.Clients, error) {
	if a.clients != nil {
		return a.clients, nil
	}
	clients, err := aws.LoadClients(ctx, aws.Endpoints{
		DynamoDB:   a.Config.DynamoDBEndpoint,
		SQS:        a.Config.SQSEndpoint,
		CloudWatch: a.Config.CloudWatchEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("init aws clients: %w", err)
	}
	a.clients = clients
	return clients, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendMemory:
		a.Log.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), nil
	case config.BackendSQLite, config.BackendPostgres:
		s, err := OpenSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := s.Migrate(); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	case config.BackendDynamoDB:
		clients, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return dynamostore.NewStore(clients.DynamoDB, dynamostore.Tables{
			Products: cfg.ProductsTable,
			Carts:    cfg.CartTable,
			Orders:   cfg.OrdersTable,
			Returns:  cfg.ReturnsTable,
			Ledger:   cfg.LedgerTable,
		}), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// OpenSQL opens the configured SQL database without migrating it.
func OpenSQL(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	driver := sqlstore.DriverPostgres
	if cfg.StoreBackend == config.BackendSQLite {
		driver = sqlstore.DriverSQLite
	}
	return sqlstore.Open(ctx, sqlstore.Options{
		Driver:       driver,
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
}

func (a *App) openPublisher(ctx context.Context) (events.Publisher, error) {
	cfg := a.Config
	switch cfg.EventsSink {
	case config.SinkSQS:
		clients, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return events.NewSQSPublisher(aws.NewPublisher(clients.SQS, cfg.OrdersQueueURL)), nil
	case config.SinkKafka:
		p := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaTopic, cfg.KafkaBrokers...))
		a.closers = append(a.closers, p)
		return p, nil
	case config.SinkLog:
		return events.NewLogPublisher(a.Log), nil
	}
	return nil, fmt.Errorf("unknown events sink %q", cfg.EventsSink)
}

// OpenIdempotency builds the configured idempotency store; nil for "none".
func (a *App) OpenIdempotency(ctx context.Context) (idempotency.Store, error) {
	cfg := a.Config
	switch cfg.IdempotencyBackend {
	case config.IdempotencyNone:
		return nil, nil
	case config.IdempotencyRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, client)
		return idempotency.NewRedisStore(client, cfg.IdempotencyTTL), nil
	case config.IdempotencyDynamoDB:
		clients, err := a.AWS(ctx)
		if err != nil {
			return nil, err
		}
		return idempotency.NewDynamoStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL), nil
	}
	return nil, fmt.Errorf("unknown idempotency backend %q", cfg.IdempotencyBackend)
}
