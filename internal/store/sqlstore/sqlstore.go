// Package sqlstore implements store.Store on PostgreSQL and SQLite through
// sqlx. Commit runs every write of a mutation in one transaction, guarded by
// version predicates and unique keys, and rolls back on the first miss.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/imrishuroy/orderflow/internal/store"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	migrationsTable = "orderflow_schema_migrations"
)

//go:embed migrations
var migrations embed.FS

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// Store is a SQL backed store.Store.
type Store struct {
	db     *sqlx.DB
	driver string
}

var _ store.Store = (*Store)(nil)

// Open connects and pings the database. It does not migrate.
func Open(ctx context.Context, opts Options) (*Store, error) {
	switch opts.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.Errorf("unsupported sql driver %q", opts.Driver)
	}
	db, err := sqlx.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if opts.Driver == DriverSQLite && strings.Contains(opts.DSN, ":memory:") {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}
	return &Store{db: db, driver: opts.Driver}, nil
}

// SQLiteDSN builds a modernc.org/sqlite DSN for path with foreign keys on,
// a busy timeout and timestamps stored in a sortable text format.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrations, "migrations/"+s.driver)
	if err != nil {
		return errors.Wrap(err, "open migrations")
	}

	var drv database.Driver
	switch s.driver {
	case DriverPostgres:
		drv, err = postgres.WithInstance(s.db.DB, &postgres.Config{MigrationsTable: migrationsTable})
	case DriverSQLite:
		drv, err = sqlite.WithInstance(s.db.DB, &sqlite.Config{MigrationsTable: migrationsTable})
	}
	if err != nil {
		return errors.Wrap(err, "create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, drv)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

// DB exposes the handle for health checks and tests.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// conflict translates serialization failures into store.ErrConflict so the
// caller retries the whole cycle.
func conflict(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return errors.Wrapf(store.ErrConflict, "%s: %v", msg, err)
		}
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteBusy {
		return errors.Wrapf(store.ErrConflict, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}

const sqliteBusy = 5

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
