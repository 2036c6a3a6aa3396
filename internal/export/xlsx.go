// Package export writes every DuckDB table to its own sheet of an .xlsx
// workbook.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/logging"
)

// ErrNoTables is returned when the database has nothing to export
var ErrNoTables = errors.New("no tables found in database")

// maxSheetName is the Excel limit on sheet name length
const maxSheetName = 31

// TableSource lists tables and streams their rows
type TableSource interface {
	ListTables(ctx context.Context) ([]string, error)
	SelectAll(ctx context.Context, table string) (*sql.Rows, error)
}

// Summary describes a finished export
type Summary struct {
	Path   string
	Sheets map[string]string // table -> sheet
	Rows   map[string]int    // table -> data rows written
}

// Workbook writes tables from src into an xlsx file at path
func Workbook(ctx context.Context, src TableSource, path string, logger *zap.Logger) (*Summary, error) {
	logger = logging.OrNop(logger).With(zap.String("component", "export"))

	tables, err := src.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, ErrNoTables
	}

	f := excelize.NewFile()
	defer f.Close()

	summary := &Summary{Path: path, Sheets: make(map[string]string), Rows: make(map[string]int)}
	used := make(map[string]bool)

	for i, table := range tables {
		sheet := uniqueSheetName(safeSheetName(table), used)
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, fmt.Errorf("rename first sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", sheet, err)
		}

		header, rows, err := readTable(ctx, src, table)
		if err != nil {
			return nil, err
		}
		if err := writeSheet(f, sheet, header, rows); err != nil {
			return nil, fmt.Errorf("write sheet %s: %w", sheet, err)
		}

		summary.Sheets[table] = sheet
		summary.Rows[table] = len(rows)
		logger.Debug("exported table", zap.String("table", table), zap.String("sheet", sheet), zap.Int("rows", len(rows)))
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("save workbook %s: %w", path, err)
	}

	logger.Info("workbook written", zap.String("path", path), zap.Int("tables", len(tables)))
	return summary, nil
}

func readTable(ctx context.Context, src TableSource, table string) ([]string, [][]any, error) {
	rows, err := src.SelectAll(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	if idx := indexOf(cols, "stats"); idx >= 0 {
		header, flat := flattenStatsByDay(cols, out)
		return header, flat, nil
	}
	return cols, out, nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any) error {
	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	for r, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return err
		}
	}
	return nil
}

// cellValue converts a scanned DuckDB value into something excelize writes
// sensibly.
func cellValue(v any) any {
	if s, ok := duckdb.FormatValue(v); ok {
		return s
	}
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return x
	}
}

// safeSheetName drops characters Excel rejects and enforces the length cap.
func safeSheetName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return -1
		}
		return r
	}, name)
	if cleaned == "" {
		cleaned = "sheet"
	}
	return truncate(cleaned, maxSheetName)
}

// uniqueSheetName appends _1, _2 ... to base until it is unused, then marks
// it used.
func uniqueSheetName(base string, used map[string]bool) string {
	name := base
	for i := 1; used[name]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		name = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	used[name] = true
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

type dayURL struct {
	date string
	url  string
}

// flattenStatsByDay turns rows carrying a raw GoatCounter stats list into
// (date, url, hits) rows summed per day and url, keeping positive totals,
// sorted by date then url.
func flattenStatsByDay(cols []string, rows [][]any) ([]string, [][]any) {
	statsIdx := indexOf(cols, "stats")
	urlIdx := indexOf(cols, "url")
	if urlIdx < 0 {
		urlIdx = indexOf(cols, "path")
	}

	totals := make(map[dayURL]int64)
	for _, row := range rows {
		if urlIdx < 0 || row[urlIdx] == nil {
			continue
		}
		url := fmt.Sprint(cellValue(row[urlIdx]))
		for _, st := range statEntries(row[statsIdx]) {
			d, ok := statDay(st["day"])
			if !ok {
				continue
			}
			n, ok := toInt64(st["daily"])
			if !ok {
				continue
			}
			totals[dayURL{date: d, url: url}] += n
		}
	}

	keys := make([]dayURL, 0, len(totals))
	for k, v := range totals {
		if v > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].url < keys[j].url
	})

	out := make([][]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{k.date, k.url, totals[k]})
	}
	return []string{"date", "url", "hits"}, out
}

func statEntries(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func statDay(v any) (string, bool) {
	switch d := v.(type) {
	case string:
		return d, d != ""
	case time.Time:
		return d.Format(time.DateOnly), true
	default:
		return "", false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case *big.Int:
		return n.Int64(), true
	default:
		return 0, false
	}
}
