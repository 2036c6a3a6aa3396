// Package duckdb owns the local DuckDB file: the daily_hits table, the merge
// into it and the read paths used by the query tools.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/logging"
)

// ErrDatabaseNotFound is returned by OpenReadOnly when the file is missing.
var ErrDatabaseNotFound = errors.New("database not found")

const createDailyHitsSQL = `
	CREATE TABLE IF NOT EXISTS daily_hits (
		date DATE NOT NULL,
		url VARCHAR NOT NULL,
		hits BIGINT NOT NULL,
		event BOOLEAN,
		path_id BIGINT,
		title VARCHAR,
		loaded_at TIMESTAMP NOT NULL
	)
`

// Client wraps a single-connection handle on the DuckDB file
type Client struct {
	db       *sql.DB
	path     string
	readOnly bool
	logger   *zap.Logger
}

// Open opens (creating if needed) the DuckDB file at path and makes sure the
// daily_hits table exists.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Client, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, Wrap("create database directory", err)
		}
	}

	c, err := open(ctx, path, path, false, logger)
	if err != nil {
		return nil, err
	}
	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenReadOnly opens an existing DuckDB file without write access. No schema
// is created.
func OpenReadOnly(ctx context.Context, path string, logger *zap.Logger) (*Client, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, Wrap("open "+path, ErrDatabaseNotFound)
		}
		return nil, Wrap("stat "+path, err)
	}
	return open(ctx, path, path+"?access_mode=read_only", true, logger)
}

func open(ctx context.Context, path, dsn string, readOnly bool, logger *zap.Logger) (*Client, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, Wrap("open duckdb", err)
	}
	// DuckDB allows one writer per file; keep the pool to a single connection
	// so temp tables and transactions share it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Wrap("ping duckdb", err)
	}

	return &Client{
		db:       db,
		path:     path,
		readOnly: readOnly,
		logger: logging.OrNop(logger).With(
			zap.String("component", "duckdb"),
			zap.String("path", path),
			zap.Bool("read_only", readOnly),
		),
	}, nil
}

func (c *Client) initialize(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, createDailyHitsSQL); err != nil {
		return Wrap("create daily_hits", err)
	}
	c.logger.Debug("daily_hits table ready")
	return nil
}

// DB exposes the underlying handle for the ledger and read-only tools.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Path returns the database file path
func (c *Client) Path() string {
	return c.path
}

// Close closes the database
func (c *Client) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close duckdb: %w", err)
	}
	return nil
}
