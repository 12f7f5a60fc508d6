// Package store is the host's document store: role overrides and persistent
// component bindings. SQLite is the default backend; a postgres:// DSN
// switches to PostgreSQL through the pgx database/sql driver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeout = 5 * time.Second
	openTimeout        = 10 * time.Second
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Options describes how to open the store.
type Options struct {
	// DSN selects PostgreSQL when it starts with postgres:// or postgresql://.
	DSN string
	// Path is the SQLite database file used when DSN is empty.
	Path string
}

// Store provides access to the document database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	path    string
	version int64
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func dialectFor(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to the configured backend and applies the schema.
func Open(opts Options) (*Store, error) {
	dialect := dialectFor(opts.DSN)

	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectPostgres:
		db, err = sql.Open("pgx", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres: %w", err)
		}
	default:
		path := opts.Path
		if path == "" {
			path = opts.DSN
		}
		if path == "" {
			return nil, errors.New("store: sqlite path is required")
		}
		db, err = sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite %s: %w", filepath.Base(path), err)
		}
		db.SetMaxOpenConns(1)
		opts.Path = path
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if dialect == DialectSQLite {
		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	version, err := applySchema(ctx, db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, dialect: dialect, path: opts.Path, version: version}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SchemaVersion reports the migration version applied at open.
func (s *Store) SchemaVersion() int64 {
	return s.version
}

// DB exposes the underlying sql.DB handle for internal usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports the active backend.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Path returns the SQLite file path, or "" for PostgreSQL.
func (s *Store) Path() string {
	return s.path
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
