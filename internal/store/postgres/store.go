// Package postgres opens the hub store on PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"os"

	"github.com/SikeGottem/agent-comms/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Open opens a PostgreSQL connection pool and runs migrations. dsn may be empty to use DATABASE_URL env.
func Open(dsn string) (store.Store, error) {
	return OpenContext(context.Background(), dsn)
}

// OpenContext is Open with a caller-supplied context for the initial ping and migrations.
func OpenContext(ctx context.Context, dsn string) (store.Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	db := stdlib.OpenDBFromPool(pool)
	st, err := store.NewSQL(ctx, db, store.DialectPostgres, pool.Close)
	if err != nil {
		_ = db.Close()
		pool.Close()
		return nil, err
	}
	return st, nil
}
