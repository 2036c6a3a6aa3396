package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// StoredHit is a daily_hits row as read back from the store
type StoredHit struct {
	Date     time.Time `json:"-"`
	Day      string    `json:"date"`
	URL      string    `json:"url"`
	Hits     int64     `json:"hits"`
	Event    bool      `json:"event"`
	PathID   *int64    `json:"path_id,omitempty"`
	Title    *string   `json:"title,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// PathTotal is the summed hit count of one url over a range
type PathTotal struct {
	URL  string `json:"url"`
	Hits int64  `json:"hits"`
}

// HitFilter narrows the read queries. Zero values mean "no bound".
type HitFilter struct {
	From  time.Time
	To    time.Time
	URL   string
	Limit int
}

// MaxDate returns the high-water mark of daily_hits. ok is false when the
// table is empty.
func (c *Client) MaxDate(ctx context.Context) (time.Time, bool, error) {
	var latest sql.NullTime
	if err := c.db.QueryRowContext(ctx, "SELECT MAX(date) FROM daily_hits").Scan(&latest); err != nil {
		return time.Time{}, false, Wrap("query max date", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time.UTC(), true, nil
}

// CountRows returns the number of rows in daily_hits
func (c *Client) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_hits").Scan(&n); err != nil {
		return 0, Wrap("count daily_hits", err)
	}
	return n, nil
}

// DailyHits returns stored rows ordered by date and url
func (c *Client) DailyHits(ctx context.Context, f HitFilter) ([]StoredHit, error) {
	where, args := f.where()
	query := `
		SELECT date, url, hits, event, path_id, title, loaded_at
		FROM daily_hits` + where + `
		ORDER BY date, url, COALESCE(event, FALSE)`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("query daily_hits", err)
	}
	defer rows.Close()

	out := make([]StoredHit, 0)
	for rows.Next() {
		var (
			h      StoredHit
			event  sql.NullBool
			pathID sql.NullInt64
			title  sql.NullString
		)
		if err := rows.Scan(&h.Date, &h.URL, &h.Hits, &event, &pathID, &title, &h.LoadedAt); err != nil {
			return nil, Wrap("scan daily_hits", err)
		}
		h.Date = h.Date.UTC()
		h.Day = h.Date.Format(time.DateOnly)
		h.Event = event.Valid && event.Bool
		if pathID.Valid {
			h.PathID = &pathID.Int64
		}
		if title.Valid {
			h.Title = &title.String
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap("iterate daily_hits", err)
	}
	return out, nil
}

// TopPaths sums hits per url over the filter range, highest first
func (c *Client) TopPaths(ctx context.Context, f HitFilter) ([]PathTotal, error) {
	where, args := f.where()
	query := `
		SELECT url, CAST(SUM(hits) AS BIGINT) AS total
		FROM daily_hits` + where + `
		GROUP BY url
		ORDER BY total DESC, url`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("query top paths", err)
	}
	defer rows.Close()

	out := make([]PathTotal, 0)
	for rows.Next() {
		var p PathTotal
		if err := rows.Scan(&p.URL, &p.Hits); err != nil {
			return nil, Wrap("scan top paths", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap("iterate top paths", err)
	}
	return out, nil
}

// ListTables returns the user tables of the main schema, sorted by name
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'main' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, Wrap("list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, Wrap("scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap("iterate tables", err)
	}
	return tables, nil
}

// SelectAll runs SELECT * on table and returns its rows
func (c *Client) SelectAll(ctx context.Context, table string) (*sql.Rows, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return nil, Wrap("select "+table, err)
	}
	return rows, nil
}

func (f HitFilter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "date >= CAST(? AS DATE)")
		args = append(args, f.From.Format(time.DateOnly))
	}
	if !f.To.IsZero() {
		conds = append(conds, "date <= CAST(? AS DATE)")
		args = append(args, f.To.Format(time.DateOnly))
	}
	if f.URL != "" {
		conds = append(conds, "url = ?")
		args = append(args, f.URL)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
