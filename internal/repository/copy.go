package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// copySpec describes one bulk COPY into a table.
type copySpec struct {
	table   string
	columns []string
	rows    int
	row     func(i int) []interface{}
	// primaryKey is re-added after a versioned swap. Empty for tables without one.
	primaryKey string
}

// copyRows streams spec's rows into schema.table (or an unqualified temp table when schema is empty).
func copyRows(ctx context.Context, tx *sqlx.Tx, schema, table string, spec copySpec) error {
	var query string
	if schema == "" {
		query = pq.CopyIn(table, spec.columns...)
	} else {
		query = pq.CopyInSchema(schema, table, spec.columns...)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare copy into %s: %w", table, err)
	}
	defer stmt.Close()

	for i := 0; i < spec.rows; i++ {
		if _, err := stmt.ExecContext(ctx, spec.row(i)...); err != nil {
			return fmt.Errorf("failed to copy row %d into %s: %w", i, table, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return fmt.Errorf("failed to flush copy into %s: %w", table, err)
	}
	return nil
}

func qualified(schema, table string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func pqIdent(name string) string {
	return pq.QuoteIdentifier(name)
}
