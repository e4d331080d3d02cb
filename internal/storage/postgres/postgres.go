// Package postgres persists tokens in PostgreSQL using pgx v5 and turns the
// table's NOTIFY trigger into a change feed.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/prism/internal/config"
)

// sqlStateCheckViolation is raised when a row breaks a CHECK constraint.
const sqlStateCheckViolation = "23514"

// Pool is the shared pgx pool behind the token repository and listener.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool dials the database described by cfg and verifies it answers.
//
// Precondition: cfg.DSN must describe a reachable server.
// Postcondition: Returns a Pool that has answered one ping, or an error
// with nothing left open.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	pc, err := poolConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("opening token database pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("token database unreachable: %w", err)
	}
	return &Pool{db: db}, nil
}

func poolConfig(cfg config.DatabaseConfig) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	return pc, nil
}

// Health pings the server, giving up after timeout. The admin health loop
// calls it on every tick.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.db.Ping(ctx)
}

// Close waits for borrowed connections to return and closes them all.
func (p *Pool) Close() {
	p.db.Close()
}

// DB exposes the pgx pool to the repository, the listener and tests.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}

// isCheckViolation reports whether err is a CHECK constraint failure.
func isCheckViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == sqlStateCheckViolation
}
