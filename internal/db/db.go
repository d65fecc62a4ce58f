// Package db provides hand-written PostgreSQL access shared by every
// domain package. It mirrors the shape of sqlc-generated code (a DBTX
// interface satisfied by a pool, a connection, or a transaction, plus a
// Queries wrapper) without a codegen step, so each caller can choose
// whatever the current organization-scoped connection is.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx. Every
// domain store takes one of these instead of a concrete type so it can
// run inside or outside a transaction, and against either the public
// schema or an organization's scoped search_path.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with the query methods in this package.
type Queries struct {
	db DBTX
}

// New returns a Queries backed by the given connection.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}
