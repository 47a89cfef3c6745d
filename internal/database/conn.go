package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// WithTx returns a context carrying tx so that collaborators writing to the
// same database join the transaction.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Conn returns the transaction carried by ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return fallback
}

type undoKey struct{}

// WithUndo returns a context whose OnRollback calls hand their undo
// functions to register. In-memory stores use it the way Postgres
// collaborators use WithTx.
func WithUndo(ctx context.Context, register func(undo func())) context.Context {
	return context.WithValue(ctx, undoKey{}, register)
}

// OnRollback registers undo with the transaction carried by ctx. It
// reports false when ctx carries no transaction.
func OnRollback(ctx context.Context, undo func()) bool {
	register, ok := ctx.Value(undoKey{}).(func(func()))
	if !ok || register == nil {
		return false
	}
	register(undo)
	return true
}
