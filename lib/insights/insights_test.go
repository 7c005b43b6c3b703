package insights

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"socialmetrics-backend/lib/chrono"
)

const postInsightsFixture = `{
  "data": [
    {
      "name": "post_impressions",
      "period": "day",
      "values": [
        {"value": 120, "end_time": "2024-06-01T07:00:00+0000"},
        {"value": 150, "end_time": "2024-06-02T07:00:00+0000"}
      ]
    },
    {
      "name": "post_impressions_unique",
      "period": "day",
      "values": [
        {"value": 90, "end_time": "2024-06-01T07:00:00+0000"}
      ]
    },
    {
      "name": "post_engaged_users",
      "period": "day",
      "values": [
        {"value": 33, "end_time": "2024-06-01T07:00:00+0000"}
      ]
    }
  ]
}`

func TestParseSeries(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(postInsightsFixture), &doc))

	got := ParseSeries(doc, map[string]string{
		"post_impressions":        "impressions",
		"post_impressions_unique": "reach",
	})

	day := func(s string) time.Time {
		d, err := chrono.ParseDay(s)
		require.NoError(t, err)
		return d
	}
	want := map[time.Time]Counters{
		day("2024-06-01"): {"impressions": 120, "reach": 90},
		// reach was never reported for the 2nd, so it defaults to 0
		day("2024-06-02"): {"impressions": 150, "reach": 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("series mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t,
		[]time.Time{day("2024-06-01"), day("2024-06-02")},
		SortedDates(got),
	)
}

func TestValueShapes(t *testing.T) {
	var v Value

	require.NoError(t, json.Unmarshal([]byte(`{"value": 7, "end_time": "x"}`), &v))
	require.EqualValues(t, 7, v.Int())

	require.NoError(t, json.Unmarshal([]byte(`{"value": {"value": 12}}`), &v))
	require.EqualValues(t, 12, v.Int(), "total_value wrapper")

	require.NoError(t, json.Unmarshal([]byte(`{"value": null}`), &v))
	require.EqualValues(t, 0, v.Int())

	require.NoError(t, json.Unmarshal([]byte(`{"value": "oops"}`), &v))
	require.EqualValues(t, 0, v.Int())

	require.NoError(t, json.Unmarshal([]byte(`{"value": {"US": 40, "MX": 25}}`), &v))
	require.Equal(t, map[string]int64{"US": 40, "MX": 25}, v.Breakdown())

	require.NoError(t, json.Unmarshal(
		[]byte(`{"value": {"value": {"city": {"Lima": 9}, "country": {"PE": 11}}}}`), &v))
	require.Equal(t, map[string]map[string]int64{
		"city":    {"Lima": 9},
		"country": {"PE": 11},
	}, v.NestedBreakdown())
}

func TestDocumentMetricLatest(t *testing.T) {
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(postInsightsFixture), &doc))

	m, ok := doc.Metric("post_impressions")
	require.True(t, ok)
	latest, ok := m.Latest()
	require.True(t, ok)
	require.EqualValues(t, 150, latest.Int())

	_, ok = doc.Metric("does_not_exist")
	require.False(t, ok)
}
