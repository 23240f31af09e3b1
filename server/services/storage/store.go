// Package storage persists deployments, process instances and their runtime state in a relational database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	errors2 "errors"
	"fmt"
	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver
	"gitlab.com/shar-workflow/bpmnrt/common/logx"
	"gitlab.com/shar-workflow/bpmnrt/common/version"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"log/slog"
	"strings"
	"time"
)

const (
	// DriverSQLite is the database/sql driver name for SQLite.
	DriverSQLite = "sqlite3"
	// DriverPostgres is the database/sql driver name for PostgreSQL.
	DriverPostgres = "postgres"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Store is the relational persistence layer.
type Store struct {
	db     *sqlx.DB
	driver string
	ErrorChecker
}

// Open connects to a database and returns a store for it. The schema is not touched until Migrate is called.
func Open(ctx context.Context, driver string, dsn string) (*Store, error) {
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection keeps in-memory databases shared too.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return New(db, driver)
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, driver string) (*Store, error) {
	var checker ErrorChecker
	switch driver {
	case DriverSQLite:
		checker = sqliteErrorChecker{}
	case DriverPostgres:
		checker = postgresErrorChecker{}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	// Maps struct names in CamelCase to snake without need for db struct tags.
	db.MapperFunc(strcase.ToSnake)
	return &Store{db: db, driver: driver, ErrorChecker: checker}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_busy_timeout=5000"
}

// Driver returns the database/sql driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate creates any missing tables and records the schema version.
// A database written by a newer schema is refused with ErrSchemaTooNew.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, log := logx.ContextWith(ctx, "storage.migrate")
	ddl, err := schemaFS.ReadFile("schema/" + s.driver + ".sql")
	if err != nil {
		return fmt.Errorf("read schema for %s: %w", s.driver, err)
	}
	if _, err := s.db.ExecContext(ctx, string(ddl)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var recorded string
	err = s.db.GetContext(ctx, &recorded, "SELECT version FROM schema_version")
	switch {
	case errors2.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("INSERT INTO schema_version (version, updated_at) VALUES (?, ?)"), version.SchemaVersion.String(), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		log.Info("schema created", slog.String("version", version.SchemaVersion.String()))
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	ok, migrate, err := version.CheckSchema(recorded)
	if err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}
	if !ok {
		return fmt.Errorf("database schema %s, engine schema %s: %w", recorded, version.SchemaVersion, errors.ErrSchemaTooNew)
	}
	if migrate {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE schema_version SET version = ?, updated_at = ?"), version.SchemaVersion.String(), time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("update schema version: %w", err)
		}
		log.Info("schema upgraded", slog.String("from", recorded), slog.String("to", version.SchemaVersion.String()))
	}
	return nil
}

// SchemaVersion returns the version recorded in the database.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	var recorded string
	if err := s.db.GetContext(ctx, &recorded, "SELECT version FROM schema_version"); err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return recorded, nil
}

// Begin starts a read-write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, driver: s.driver, checker: s.ErrorChecker}, nil
}

// Update runs fn in a transaction, committing when it returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			logx.FromContext(ctx).Error("rollback", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// View runs a read only fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()
	return fn(tx)
}

// Tx is an open transaction. All reads and writes of the runtime go through one.
type Tx struct {
	tx      *sqlx.Tx
	driver  string
	checker ErrorChecker
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors2.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

func (t *Tx) q(query string) string {
	return t.tx.Rebind(query)
}

func (t *Tx) exec(ctx context.Context, what string, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, t.q(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}

func (t *Tx) get(ctx context.Context, dest any, notFound error, what string, query string, args ...any) error {
	if err := t.tx.GetContext(ctx, dest, t.q(query), args...); err != nil {
		if t.checker.IsNotFoundError(err) {
			return fmt.Errorf("%s: %w", what, notFound)
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (t *Tx) selectRows(ctx context.Context, dest any, what string, query string, args ...any) error {
	if err := t.tx.SelectContext(ctx, dest, t.q(query), args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
