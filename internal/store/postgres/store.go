// Package postgres is the durable pgx-backed implementation of domain.Store.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// Store is the PostgreSQL implementation of domain.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new postgres Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// scannable is satisfied by pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// placeholders renders "($1,$2,...),($n+1,...)" for a multi-row insert.
func placeholders(rows, perRow int) string {
	clauses := make([]string, 0, rows)
	for i := 0; i < rows; i++ {
		params := make([]string, perRow)
		for j := range params {
			params[j] = fmt.Sprintf("$%d", i*perRow+j+1)
		}
		clauses = append(clauses, "("+strings.Join(params, ",")+")")
	}
	return strings.Join(clauses, ",")
}
