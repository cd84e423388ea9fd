package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"io"
)

//go:generate go run ./schemadump -path schema.sql

// Schema is the schema the migrations produce, as written by schemadump.
//
//go:embed schema.sql
var Schema string

// DumpSchema writes the tables and indexes of the keyboard history, leaving
// out sqlite and migration bookkeeping.
func (q *Queries) DumpSchema(ctx context.Context, w io.Writer) error {
	tables, err := q.DumpTables(ctx)
	if err != nil {
		return fmt.Errorf("dump tables: %w", err)
	}

	rest, err := q.DumpRest(ctx)
	if err != nil {
		return fmt.Errorf("dump indexes: %w", err)
	}

	for _, statement := range append(tables, rest...) {
		if statement == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s;\n\n", *statement); err != nil {
			return fmt.Errorf("write schema: %w", err)
		}
	}

	return nil
}
