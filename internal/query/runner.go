// Package query runs a SQL file against the DuckDB store and prints the
// result as tab-separated text.
package query

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/withObsrvr/webstats/internal/duckdb"
)

// DefaultSQL lists paths by total views
//
//go:embed top_paths.sql
var DefaultSQL string

// NoRowsMessage is printed when a query returns nothing
const NoRowsMessage = "No rows returned."

// LoadSQL returns the contents of path, or DefaultSQL when path is empty.
func LoadSQL(path string) (string, error) {
	if path == "" {
		return DefaultSQL, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read sql file: %w", err)
	}
	if strings.TrimSpace(string(b)) == "" {
		return "", fmt.Errorf("sql file %s is empty", path)
	}
	return string(b), nil
}

// Run executes query on db and writes a header line plus one line per row
// to w. It returns the number of rows printed.
func Run(ctx context.Context, db *sql.DB, query string, w io.Writer) (int, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read columns: %w", err)
	}

	var lines []string
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return 0, fmt.Errorf("scan row: %w", err)
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = format(v)
		}
		lines = append(lines, strings.Join(cells, "\t"))
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate rows: %w", err)
	}

	if len(lines) == 0 {
		_, err := fmt.Fprintln(w, NoRowsMessage)
		return 0, err
	}

	if _, err := fmt.Fprintln(w, strings.Join(cols, "\t")); err != nil {
		return 0, err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return 0, err
		}
	}
	return len(lines), nil
}

func format(v any) string {
	if v == nil {
		return "NULL"
	}
	if s, ok := duckdb.FormatValue(v); ok {
		return s
	}
	return fmt.Sprint(v)
}
