package chrono

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DayLayout is the canonical storage format for calendar dates.
const DayLayout = "2006-01-02"

// Day truncates a timestamp to its UTC calendar day. all date math in this
// codebase happens in UTC because the vendor APIs bucket series by UTC days
// and mixing server-local timezones shifts rows across day boundaries.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses the timestamp shapes the vendors hand back: RFC 3339 with
// a "Z" or "+0000" suffix, a bare date, or epoch seconds.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if isDigits(s) {
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return Day(time.Unix(secs, 0)), nil
	}
	s = strings.ReplaceAll(s, "+0000", "+00:00")
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Day(t), nil
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return Day(t), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// YearStart returns January 1st (UTC) of the year `now` falls in.
func YearStart(now time.Time) time.Time {
	return time.Date(now.UTC().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// ISOWeek identifies an ISO 8601 calendar week.
type ISOWeek struct {
	Year int
	Week int
}

func ISOWeekOf(t time.Time) ISOWeek {
	y, w := t.UTC().ISOWeek()
	return ISOWeek{Year: y, Week: w}
}

func (w ISOWeek) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Week)
}
