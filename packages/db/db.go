// Package db runs the SQL of query steps against a SQLite database.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// DefaultQueryTimeout bounds a single statement when the caller's context has
// no deadline of its own.
const DefaultQueryTimeout = 30 * time.Second

// QueryResult represents the result of a database query
type QueryResult struct {
	Columns      []string
	Rows         []map[string]any
	RowsAffected int64
}

// Client represents a database client
type Client struct {
	db           *sql.DB
	dataSource   string
	queryTimeout time.Duration
}

// Option configures a Client.
type Option func(*options)

type options struct {
	baseDir      string
	queryTimeout time.Duration
}

// WithBaseDir resolves relative database paths against dir.
func WithBaseDir(dir string) Option {
	return func(o *options) {
		o.baseDir = dir
	}
}

// WithQueryTimeout overrides DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *options) {
		o.queryTimeout = d
	}
}

// NewClient opens the database named by connectionString and verifies it is reachable.
func NewClient(ctx context.Context, connectionString string, opts ...Option) (*Client, error) {
	o := &options{queryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(o)
	}

	dsn, err := parseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	if o.baseDir != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
		dsn = filepath.Join(o.baseDir, dsn)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Client{
		db:           db,
		dataSource:   dsn,
		queryTimeout: o.queryTimeout,
	}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.queryTimeout)
}

// Run executes statement. Statements that return rows are run as queries;
// anything else is executed and reports RowsAffected.
func (c *Client) Run(ctx context.Context, statement string) (*QueryResult, error) {
	if returnsRows(statement) {
		return c.Query(ctx, statement)
	}
	return c.Exec(ctx, statement)
}

// Exec executes a statement that returns no rows.
func (c *Client) Exec(ctx context.Context, statement string) (*QueryResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reading affected rows: %w", err)
	}
	return &QueryResult{
		Rows:         []map[string]any{},
		RowsAffected: affected,
	}, nil
}

// Query executes a SQL query and returns the result
func (c *Client) Query(ctx context.Context, query string) (*QueryResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &QueryResult{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			// TEXT columns may come back as []byte
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return result, nil
}

func returnsRows(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "PRAGMA", "EXPLAIN", "VALUES":
		return true
	}
	return false
}

// parseConnectionString extracts the SQLite data source.
// Supported formats:
// - sqlite://path/to/db.sqlite
// - sqlite:./test.db
// - sqlite::memory:
func parseConnectionString(connStr string) (string, error) {
	connStr = strings.TrimSpace(connStr)

	switch {
	case strings.HasPrefix(connStr, "sqlite://"):
		connStr = strings.TrimPrefix(connStr, "sqlite://")
	case strings.HasPrefix(connStr, "sqlite:"):
		connStr = strings.TrimPrefix(connStr, "sqlite:")
	default:
		scheme, _, _ := strings.Cut(connStr, ":")
		return "", fmt.Errorf("unsupported database scheme: %q (only sqlite is available)", scheme)
	}

	if connStr == "" {
		return "", fmt.Errorf("missing database path")
	}
	return connStr, nil
}
