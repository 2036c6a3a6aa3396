package duckdb

import (
	"math/big"
	"time"
)

// FormatValue renders the scanned driver values that have no natural text
// form. DATE becomes YYYY-MM-DD, TIMESTAMP a UTC "YYYY-MM-DD HH:MM:SS",
// HUGEINT its decimal digits and BLOB a string. ok is false for anything else.
func FormatValue(v any) (s string, ok bool) {
	switch x := v.(type) {
	case time.Time:
		return FormatTime(x), true
	case []byte:
		return string(x), true
	case *big.Int:
		return x.String(), true
	default:
		return "", false
	}
}

// FormatTime renders a DATE or TIMESTAMP value. Midnight UTC counts as a date.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}
