// Package postgres stores canvas snapshots and collaborator rosters in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
)

const (
	applicationName = "artchain-collab"
	pingTimeout     = 2 * time.Second
)

// Pool is the connection pool shared by the artwork and collaborator
// repositories. It doubles as the health probe for /health and the ops server.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the canvas database.
//
// Precondition: cfg must have passed config validation.
// Postcondition: Returns a Pool that answered a ping, or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool for %s: %w", cfg.Host, err)
	}
	p := &Pool{pool: pool}
	if err := p.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Ping reports whether the database answers within two seconds.
func (p *Pool) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Stats returns the pool's connection counts for the metrics gauges.
func (p *Pool) Stats() (total, idle, acquired int) {
	s := p.pool.Stat()
	return int(s.TotalConns()), int(s.IdleConns()), int(s.AcquiredConns())
}

// Close releases all connections. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for the repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
