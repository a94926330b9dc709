// Package store persists catalogs, products and extracted images through
// database/sql, on sqlite (modernc) or postgres (pgx).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// SQL is the database-backed store. It also serves as the uniqueness index.
type SQL struct {
	db       *sql.DB
	postgres bool
}

// Open connects using driver "sqlite" or "postgres" and pings the database.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// One writer at a time; concurrent writers would hit SQLITE_BUSY.
			db.SetMaxOpenConns(1)
		}
	case "postgres":
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQL{db: db, postgres: driver == "postgres"}
	if !s.postgres {
		for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	return s, nil
}

func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQL) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS catalogs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		mapping TEXT NOT NULL DEFAULT '{}',
		classes TEXT NOT NULL DEFAULT '[]',
		warnings TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		catalog_id TEXT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		row_index INTEGER NOT NULL,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		model_base TEXT NOT NULL DEFAULT '',
		variation_description TEXT NOT NULL DEFAULT '',
		dimensions TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		prices TEXT NOT NULL DEFAULT '[]',
		image_ref TEXT NOT NULL DEFAULT '',
		image_hash TEXT NOT NULL DEFAULT '',
		UNIQUE (catalog_id, code)
	)`,
	`CREATE INDEX IF NOT EXISTS products_catalog_position ON products (catalog_id, position)`,
	`CREATE INDEX IF NOT EXISTS products_image_hash ON products (image_hash)`,
	`CREATE TABLE IF NOT EXISTS catalog_images (
		catalog_id TEXT NOT NULL REFERENCES catalogs(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		container_path TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		store_key TEXT NOT NULL DEFAULT '',
		assigned_product_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (catalog_id, idx)
	)`,
}

func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
