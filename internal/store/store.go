// Package store provides Postgres-backed persistence for the collection
// jobs: the operator config table, the per-service daily call counters, and
// the normalized result tables each job writes.
//
// All statements use positional parameter placeholders; no interpolated
// input reaches SQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx behavior the stores need. *pgxpool.Pool,
// *pgxpool.Conn and pgxmock pools all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store executes collector queries against a single Querier.
type Store struct {
	q       Querier
	release func()
}

// NewWithQuerier wraps an existing Querier (primarily for testing).
func NewWithQuerier(q Querier) *Store {
	return &Store{q: q}
}

// Close releases the underlying connection if the store owns one.
func (s *Store) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Pool owns the shared pgx connection pool for a job run.
type Pool struct {
	pool *pgxpool.Pool
}

// Connect opens and pings a Postgres pool.
func Connect(ctx context.Context, dsn string, maxConns int32) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Shared returns a store backed by the pool itself, used by the runner for
// queue building and purges.
func (p *Pool) Shared() *Store {
	return &Store{q: p.pool}
}

// Acquire checks a dedicated connection out of the pool so each worker owns
// a private connection for the life of the drain. Close returns it.
func (p *Pool) Acquire(ctx context.Context) (*Store, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire worker connection: %w", err)
	}
	return &Store{q: conn, release: conn.Release}, nil
}

// Close shuts the pool down.
func (p *Pool) Close() {
	p.pool.Close()
}
