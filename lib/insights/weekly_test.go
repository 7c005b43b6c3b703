package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"socialmetrics-backend/lib/chrono"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReduceWeeklyKeepsLatestPoint(t *testing.T) {
	points := []DailyPoint{
		{Date: day(2024, time.January, 29), Counters: Counters{"reach": 10}},
		{Date: day(2024, time.January, 30), Counters: Counters{"reach": 20}},
		{Date: day(2024, time.January, 31), Counters: Counters{"reach": 30}},
		{Date: day(2024, time.February, 5), Counters: Counters{"reach": 99}},
	}

	got := ReduceWeekly(points)
	require.Len(t, got, 2)

	week5 := got[chrono.ISOWeek{Year: 2024, Week: 5}]
	require.Equal(t, day(2024, time.January, 31), week5.Date)
	require.EqualValues(t, 30, week5.Counters["reach"])

	week6 := got[chrono.ISOWeek{Year: 2024, Week: 6}]
	require.Equal(t, day(2024, time.February, 5), week6.Date)
}

func TestReduceWeeklyEqualDateTieBreak(t *testing.T) {
	points := []DailyPoint{
		{Date: day(2024, time.January, 31), Counters: Counters{"reach": 1}},
		{Date: day(2024, time.January, 31), Counters: Counters{"reach": 2}},
	}

	got := ReduceWeekly(points)
	require.Len(t, got, 1)
	require.EqualValues(t, 2, got[chrono.ISOWeek{Year: 2024, Week: 5}].Counters["reach"],
		"later point in input order wins on equal dates")
}

func TestPointsOfSortsAscending(t *testing.T) {
	series := map[time.Time]Counters{
		day(2024, time.March, 3): {"views": 3},
		day(2024, time.March, 1): {"views": 1},
		day(2024, time.March, 2): {"views": 2},
	}
	points := PointsOf(series)
	require.Len(t, points, 3)
	for i, want := range []int64{1, 2, 3} {
		require.Equal(t, want, points[i].Counters["views"])
	}
}
