package metricstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"socialmetrics-backend/lib/metricstore/db"
	"socialmetrics-backend/lib/testutil"
)

func testStore(t *testing.T) *Store {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "lib/metricstore",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
	t.Cleanup(func() { setup.DB.Close() })
	return NewStore(setup.DB)
}

func day(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDeltaAgainstPriorDay(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	key := DailyKey{Platform: PlatformFacebook, PageID: "p1", PostID: "post1", Date: day("2024-06-01")}

	err := store.UpsertDailyPostMetrics(ctx, key, DailyMetrics{Views: 100, Comments: 5})
	require.NoError(t, err)

	row, err := store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 100, row.DeltaViews)
	require.EqualValues(t, 5, row.DeltaComments)

	key.Date = day("2024-06-02")
	err = store.UpsertDailyPostMetrics(ctx, key, DailyMetrics{Views: 140, Comments: 5})
	require.NoError(t, err)

	row, err = store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 140, row.Views)
	require.EqualValues(t, 40, row.DeltaViews)
	require.EqualValues(t, 0, row.DeltaComments)
}

func TestDeltaUsesLatestEarlierRow(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	key := DailyKey{Platform: PlatformInstagram, PageID: "p1", PostID: "m1", Date: day("2024-06-01")}

	require.NoError(t, store.UpsertDailyPostMetrics(ctx, key, DailyMetrics{Views: 10}))

	key.Date = day("2024-06-03")
	require.NoError(t, store.UpsertDailyPostMetrics(ctx, key, DailyMetrics{Views: 50}))
	row, err := store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 40, row.DeltaViews)

	// backfilled middle day computes against June 1st, not June 3rd
	key.Date = day("2024-06-02")
	require.NoError(t, store.UpsertDailyPostMetrics(ctx, key, DailyMetrics{Views: 30}))
	row, err = store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 20, row.DeltaViews)
}

func TestUpsertIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	key := DailyKey{Platform: PlatformTiktok, PageID: "acct", PostID: "v1", Date: day("2024-06-10")}
	watch := 12.5
	metrics := DailyMetrics{Views: 300, Reach: 250, AvgWatchSeconds: &watch, Shares: 7}

	require.NoError(t, store.UpsertDailyPostMetrics(ctx, key, metrics))
	first, err := store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)

	require.NoError(t, store.UpsertDailyPostMetrics(ctx, key, metrics))
	second, err := store.GetDailyPostMetrics(ctx, key)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, 300, second.DeltaViews)
}

func TestInvalidRecordRejectedBeforeWrite(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.UpsertDailyPostMetrics(ctx,
		DailyKey{Platform: PlatformFacebook, PageID: "p1", Date: day("2024-06-01")},
		DailyMetrics{Views: 1},
	)
	var invalid *InvalidRecordError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "post_id", invalid.Field)

	counts, err := store.Summary(ctx)
	require.NoError(t, err)
	for _, c := range counts {
		require.Zero(t, c.Rows, c.Table)
	}
}

func TestWeeklyStatsOverwriteWithinWeek(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.UpsertWeeklyPageStats(ctx, WeeklyPageStats{
		Platform:       PlatformFacebook,
		PageID:         "p1",
		CutoffDate:     day("2024-01-29"),
		TotalFollowers: 1000,
		Reach:          50,
	})
	require.NoError(t, err)

	// later day of the same ISO week replaces the snapshot
	err = store.UpsertWeeklyPageStats(ctx, WeeklyPageStats{
		Platform:       PlatformFacebook,
		PageID:         "p1",
		CutoffDate:     day("2024-01-31"),
		TotalFollowers: 1010,
		Reach:          80,
	})
	require.NoError(t, err)

	row, err := store.GetWeeklyPageStats(ctx, PlatformFacebook, "p1", day("2024-01-30"))
	require.NoError(t, err)
	require.EqualValues(t, 2024, row.IsoYear)
	require.EqualValues(t, 5, row.IsoWeek)
	require.Equal(t, "2024-01-31", row.CutoffDate)
	require.EqualValues(t, 1010, row.TotalFollowers)
	require.EqualValues(t, 80, row.Reach)
}

func TestReplaceAudienceSegments(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	cutoff := day("2024-06-02")

	err := store.ReplaceAudienceSegments(ctx, PlatformInstagram, "p1", cutoff, DimensionCountry, []AudienceSegment{
		{Value: "MX", Count: 40},
		{Value: "US", Count: 120},
		{Value: "CA", Count: 9},
	})
	require.NoError(t, err)

	err = store.ReplaceAudienceSegments(ctx, PlatformInstagram, "p1", cutoff, DimensionCountry, []AudienceSegment{
		{Value: "US", Count: 130},
		{Value: "MX", Count: 41},
	})
	require.NoError(t, err)

	segments, err := store.ListAudienceSegments(ctx, PlatformInstagram, "p1", cutoff, DimensionCountry)
	require.NoError(t, err)
	require.Equal(t, []AudienceSegment{
		{Value: "MX", Count: 41},
		{Value: "US", Count: 130},
	}, segments)

	// other dimensions at the same cutoff are untouched
	err = store.ReplaceAudienceSegments(ctx, PlatformInstagram, "p1", cutoff, DimensionGender, []AudienceSegment{
		{Value: "F", Count: 70},
	})
	require.NoError(t, err)
	segments, err = store.ListAudienceSegments(ctx, PlatformInstagram, "p1", cutoff, DimensionCountry)
	require.NoError(t, err)
	require.Len(t, segments, 2)
}

func TestReactionCountsUpsert(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	key := DailyKey{Platform: PlatformFacebook, PageID: "p1", PostID: "post1", Date: day("2024-06-01")}

	require.NoError(t, store.UpsertDailyPostReaction(ctx, key, "LOVE", 4))
	require.NoError(t, store.UpsertDailyPostReaction(ctx, key, "LOVE", 6))

	var count int64
	err := store.db.QueryRowContext(ctx, `SELECT count FROM post_reactions_daily`).Scan(&count)
	require.NoError(t, err)
	require.EqualValues(t, 6, count)

	var types int64
	err = store.db.QueryRowContext(ctx, `SELECT count(*) FROM reaction_types`).Scan(&types)
	require.NoError(t, err)
	require.EqualValues(t, 1, types)
}

func TestUpsertPageAndPost(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, Page{Platform: PlatformLinkedin, PageID: "org1", Name: "Acme"}))
	require.NoError(t, store.UpsertPage(ctx, Page{Platform: PlatformLinkedin, PageID: "org1", Name: "Acme Inc"}))

	var name string
	err := store.db.QueryRowContext(ctx, `SELECT name FROM pages`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "Acme Inc", name)

	err = store.UpsertPost(ctx, Post{
		Platform: PlatformLinkedin,
		PageID:   "org1",
		PostID:   "ugc1",
		Text:     "hello",
		PostedAt: day("2024-05-20"),
		Format:   "article",
	})
	require.NoError(t, err)

	var postedAt sql.NullString
	err = store.db.QueryRowContext(ctx, `SELECT posted_at FROM posts`).Scan(&postedAt)
	require.NoError(t, err)
	require.True(t, postedAt.Valid)
	require.Equal(t, "2024-05-20", postedAt.String)

	err = store.UpsertPost(ctx, Post{Platform: PlatformLinkedin, PageID: "org1"})
	var invalid *InvalidRecordError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, "post_id", invalid.Field)
}
