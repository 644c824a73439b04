package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	_ "modernc.org/sqlite"
)

type Config struct {
	DSN             string        `envconfig:"DSN" required:"true"`
	MaxOpenConns    int           `split_words:"true" default:"10"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"30m"`
	Timeout         time.Duration `split_words:"true" default:"5s"`
}

// Open connects to Postgres through pgdriver. A DSN starting with "sqlite:"
// opens a local SQLite file instead, which is handy for single-node installs.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		return OpenSQLite(path)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(timeout),
	))
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a SQLite database file through modernc.org/sqlite.
func OpenSQLite(path string) (*bun.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLite transactions from tripping over each other.
	sqldb.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := sqldb.Exec(stmt); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Index describes one secondary index created by Migrate.
type Index struct {
	Model   any
	Name    string
	Columns []string
	Unique  bool
}

// Migrate creates missing tables and indexes. It never alters existing ones.
func Migrate(ctx context.Context, db bun.IDB, models []any, indexes []Index) error {
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("migrate: create table %T: %w", model, err)
		}
	}
	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.Model).Index(idx.Name).Column(idx.Columns...).IfNotExists()
		if idx.Unique {
			q = q.Unique()
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("migrate: create index %s: %w", idx.Name, err)
		}
	}
	return nil
}
