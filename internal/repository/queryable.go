package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQueryable is the subset of pgxpool.Pool and pgx.Tx that repository
// methods need, so a method can run either standalone or enlisted in a
// caller-managed transaction without duplicating its SQL.
type pgxQueryable interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queryable returns tx if non-nil, otherwise pool. Used so a repository
// method can accept an optional transaction without two code paths.
func queryable(pool *pgxpool.Pool, tx pgx.Tx) pgxQueryable {
	if tx != nil {
		return tx
	}
	return pool
}
