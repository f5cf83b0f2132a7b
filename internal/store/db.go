package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and verifies it within timeout.
func NewDB(ctx context.Context, connString string, timeout time.Duration) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	d := &DB{Client: db}
	if err := d.Ping(ctx, timeout); err != nil {
		return d, fmt.Errorf("ping db: %w", err)
	}
	return d, nil
}

// Ping checks connectivity, bounded by timeout.
func (d *DB) Ping(ctx context.Context, timeout time.Duration) error {
	if d == nil || d.Client == nil {
		return sql.ErrConnDone
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Client.PingContext(ctx)
}

// Healthy reports whether the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	return d.Ping(ctx, 2*time.Second) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
