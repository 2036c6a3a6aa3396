package ledger

import (
	"fmt"
	"time"

	"github.com/withObsrvr/webstats/internal/watermark"
)

// WeekStart returns the Monday (UTC) of the calendar week containing now.
func WeekStart(now time.Time) time.Time {
	d := watermark.Day(now)
	offset := (int(d.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return d.AddDate(0, 0, -offset)
}

// SuccessMessage is the diagnostic stored with a successful run
func SuccessMessage(payloadRows int, mergedRows int64, latest time.Time, hasLatest bool) string {
	latestStr := "none"
	if hasLatest {
		latestStr = latest.Format(time.DateOnly)
	}
	return fmt.Sprintf("payload_rows=%d, upserted_rows=%d, latest_date=%s", payloadRows, mergedRows, latestStr)
}
