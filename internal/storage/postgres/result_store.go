// Package postgres keeps a history of parse outcomes in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/payparse/internal/payment"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "parse_results"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id           uuid PRIMARY KEY,
	url          text        NOT NULL,
	url_hash     text        NOT NULL,
	success      boolean     NOT NULL,
	amount       numeric,
	currency     char(3),
	error        text,
	strategy     text,
	selector     text,
	snapshot_uri text,
	duration_ms  bigint      NOT NULL,
	parsed_at    timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_url_hash_idx ON %[1]s (url_hash, parsed_at DESC);`

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore writes parse outcomes into Postgres.
type ResultStore struct {
	pool  execCloser
	table string
}

var _ payment.ResultStore = (*ResultStore)(nil)

// New creates a Postgres-backed ResultStore using the provided config.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the results table and its lookup index if missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(schemaSQL, s.table)); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreResult inserts one parse outcome.
func (s *ResultStore) StoreResult(ctx context.Context, record payment.ResultRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	url_hash,
	success,
	amount,
	currency,
	error,
	strategy,
	selector,
	snapshot_uri,
	duration_ms,
	parsed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table)

	var amount any
	if record.Result.Amount != nil {
		amount = record.Result.Amount.String()
	}
	args := []any{
		record.ID,
		record.URL,
		record.URLHash,
		record.Result.Success,
		amount,
		nullable(record.Result.Currency),
		nullable(record.Result.Error),
		nullable(record.Strategy),
		nullable(record.Selector),
		nullable(record.SnapshotURI),
		record.Duration.Milliseconds(),
		record.Result.ParsedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
