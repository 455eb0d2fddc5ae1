package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql
)

// Config holds database configuration.
type Config struct {
	// URL is the postgres connection string (DATABASE_URL).
	URL string

	// MaxRunRecords caps the runs table per chain; RecordRun trims beyond it.
	MaxRunRecords int

	// Connection pool settings.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Postgres implements Store over database/sql with the pgx driver.
type Postgres struct {
	db            *sql.DB
	maxRunRecords int
}

var _ Store = (*Postgres)(nil)

// New opens a pooled connection, pings it, and applies pending migrations.
func New(ctx context.Context, cfg Config) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, NewValidationError("url", "required")
	}
	if cfg.MaxRunRecords <= 0 {
		cfg.MaxRunRecords = 1000
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Postgres{db: db, maxRunRecords: cfg.MaxRunRecords}, nil
}

// NewFromDB wraps an existing connection without running migrations.
// Used by tests that manage schema setup themselves.
func NewFromDB(db *sql.DB, maxRunRecords int) *Postgres {
	if maxRunRecords <= 0 {
		maxRunRecords = 1000
	}
	return &Postgres{db: db, maxRunRecords: maxRunRecords}
}

// DB returns the underlying connection for health checks and direct queries.
func (p *Postgres) DB() *sql.DB { return p.db }

// Ping verifies the connection is alive.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// numeric renders a big integer for a NUMERIC(78,0) column; nil becomes "0".
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// numericPtr renders an optional big integer; nil stays NULL.
func numericPtr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// scanBig parses a NUMERIC column scanned as text. NULL and empty scan to nil.
func scanBig(s sql.NullString) *big.Int {
	if !s.Valid || s.String == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil
	}
	return v
}

// jsonb marshals v for a JSONB column; nil-ish values become SQL NULL.
func jsonb(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling jsonb: %w", err)
	}
	return raw, nil
}

// scanJSONB unmarshals a JSONB column into dst; NULL is a no-op.
func scanJSONB(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
