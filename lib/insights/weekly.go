package insights

import (
	"time"

	"socialmetrics-backend/lib/chrono"
)

// DailyPoint is one day's counters, ready for weekly reduction.
type DailyPoint struct {
	Date     time.Time
	Counters Counters
}

// ReduceWeekly collapses daily points to one representative per ISO week:
// the point with the greatest date. When two points share a date the later
// one in input order wins, which is deterministic because the input is an
// ordered slice; callers feed points in ascending date order.
func ReduceWeekly(points []DailyPoint) map[chrono.ISOWeek]DailyPoint {
	out := make(map[chrono.ISOWeek]DailyPoint)
	for _, p := range points {
		key := chrono.ISOWeekOf(p.Date)
		cur, ok := out[key]
		if !ok || !p.Date.Before(cur.Date) {
			out[key] = p
		}
	}
	return out
}

// PointsOf adapts a parsed series to the reducer's input, sorted by date.
func PointsOf(series map[time.Time]Counters) []DailyPoint {
	dates := SortedDates(series)
	points := make([]DailyPoint, len(dates))
	for i, d := range dates {
		points[i] = DailyPoint{Date: d, Counters: series[d]}
	}
	return points
}
