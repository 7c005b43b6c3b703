package db

import (
	"context"
	"database/sql"
)

const upsertPage = `
INSERT INTO pages (platform, page_id, name)
VALUES (?, ?, ?)
ON CONFLICT (platform, page_id) DO UPDATE SET
    name = excluded.name
`

type UpsertPageParams struct {
	Platform string
	PageID   string
	Name     string
}

func (q *Queries) UpsertPage(ctx context.Context, arg UpsertPageParams) error {
	_, err := q.db.ExecContext(ctx, upsertPage, arg.Platform, arg.PageID, arg.Name)
	return err
}

const upsertPost = `
INSERT INTO posts (platform, page_id, post_id, permalink, posted_at, text, format)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (platform, page_id, post_id) DO UPDATE SET
    permalink = excluded.permalink,
    posted_at = excluded.posted_at,
    text = excluded.text,
    format = excluded.format
`

type UpsertPostParams struct {
	Platform  string
	PageID    string
	PostID    string
	Permalink sql.NullString
	PostedAt  sql.NullString
	Text      sql.NullString
	Format    string
}

func (q *Queries) UpsertPost(ctx context.Context, arg UpsertPostParams) error {
	_, err := q.db.ExecContext(ctx, upsertPost,
		arg.Platform, arg.PageID, arg.PostID,
		arg.Permalink, arg.PostedAt, arg.Text, arg.Format,
	)
	return err
}

const getPrevPostMetrics = `
SELECT views, reach, reactions, comments, shares, saves
FROM post_metrics_daily
WHERE platform = ? AND page_id = ? AND post_id = ? AND date < ?
ORDER BY date DESC
LIMIT 1
`

type GetPrevPostMetricsParams struct {
	Platform string
	PageID   string
	PostID   string
	Date     string
}

type GetPrevPostMetricsRow struct {
	Views     int64
	Reach     int64
	Reactions int64
	Comments  int64
	Shares    int64
	Saves     int64
}

func (q *Queries) GetPrevPostMetrics(ctx context.Context, arg GetPrevPostMetricsParams) (GetPrevPostMetricsRow, error) {
	row := q.db.QueryRowContext(ctx, getPrevPostMetrics,
		arg.Platform, arg.PageID, arg.PostID, arg.Date,
	)
	var out GetPrevPostMetricsRow
	err := row.Scan(&out.Views, &out.Reach, &out.Reactions, &out.Comments, &out.Shares, &out.Saves)
	return out, err
}

const upsertPostMetricsDaily = `
INSERT INTO post_metrics_daily (
    platform, page_id, post_id, date,
    views, reach, impressions, avg_watch_seconds,
    reactions, likes, love, haha, wow, sad, angry,
    comments, shares, saves, link_clicks, ctr,
    delta_views, delta_reach, delta_reactions, delta_comments, delta_shares, delta_saves
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (platform, page_id, post_id, date) DO UPDATE SET
    views = excluded.views,
    reach = excluded.reach,
    impressions = excluded.impressions,
    avg_watch_seconds = excluded.avg_watch_seconds,
    reactions = excluded.reactions,
    likes = excluded.likes,
    love = excluded.love,
    haha = excluded.haha,
    wow = excluded.wow,
    sad = excluded.sad,
    angry = excluded.angry,
    comments = excluded.comments,
    shares = excluded.shares,
    saves = excluded.saves,
    link_clicks = excluded.link_clicks,
    ctr = excluded.ctr,
    delta_views = excluded.delta_views,
    delta_reach = excluded.delta_reach,
    delta_reactions = excluded.delta_reactions,
    delta_comments = excluded.delta_comments,
    delta_shares = excluded.delta_shares,
    delta_saves = excluded.delta_saves
`

type UpsertPostMetricsDailyParams struct {
	Platform        string
	PageID          string
	PostID          string
	Date            string
	Views           int64
	Reach           int64
	Impressions     int64
	AvgWatchSeconds sql.NullFloat64
	Reactions       int64
	Likes           int64
	Love            int64
	Haha            int64
	Wow             int64
	Sad             int64
	Angry           int64
	Comments        int64
	Shares          int64
	Saves           int64
	LinkClicks      int64
	Ctr             sql.NullFloat64
	DeltaViews      int64
	DeltaReach      int64
	DeltaReactions  int64
	DeltaComments   int64
	DeltaShares     int64
	DeltaSaves      int64
}

func (q *Queries) UpsertPostMetricsDaily(ctx context.Context, arg UpsertPostMetricsDailyParams) error {
	_, err := q.db.ExecContext(ctx, upsertPostMetricsDaily,
		arg.Platform, arg.PageID, arg.PostID, arg.Date,
		arg.Views, arg.Reach, arg.Impressions, arg.AvgWatchSeconds,
		arg.Reactions, arg.Likes, arg.Love, arg.Haha, arg.Wow, arg.Sad, arg.Angry,
		arg.Comments, arg.Shares, arg.Saves, arg.LinkClicks, arg.Ctr,
		arg.DeltaViews, arg.DeltaReach, arg.DeltaReactions,
		arg.DeltaComments, arg.DeltaShares, arg.DeltaSaves,
	)
	return err
}

const getPostMetricsDaily = `
SELECT platform, page_id, post_id, date,
    views, reach, impressions, avg_watch_seconds,
    reactions, likes, love, haha, wow, sad, angry,
    comments, shares, saves, link_clicks, ctr,
    delta_views, delta_reach, delta_reactions, delta_comments, delta_shares, delta_saves
FROM post_metrics_daily
WHERE platform = ? AND page_id = ? AND post_id = ? AND date = ?
`

type GetPostMetricsDailyParams struct {
	Platform string
	PageID   string
	PostID   string
	Date     string
}

func (q *Queries) GetPostMetricsDaily(ctx context.Context, arg GetPostMetricsDailyParams) (PostMetricsDaily, error) {
	row := q.db.QueryRowContext(ctx, getPostMetricsDaily,
		arg.Platform, arg.PageID, arg.PostID, arg.Date,
	)
	var out PostMetricsDaily
	err := row.Scan(
		&out.Platform, &out.PageID, &out.PostID, &out.Date,
		&out.Views, &out.Reach, &out.Impressions, &out.AvgWatchSeconds,
		&out.Reactions, &out.Likes, &out.Love, &out.Haha, &out.Wow, &out.Sad, &out.Angry,
		&out.Comments, &out.Shares, &out.Saves, &out.LinkClicks, &out.Ctr,
		&out.DeltaViews, &out.DeltaReach, &out.DeltaReactions,
		&out.DeltaComments, &out.DeltaShares, &out.DeltaSaves,
	)
	return out, err
}

const ensureReactionType = `
INSERT INTO reaction_types (platform, name)
VALUES (?, ?)
ON CONFLICT (platform, name) DO UPDATE SET name = excluded.name
RETURNING id
`

type EnsureReactionTypeParams struct {
	Platform string
	Name     string
}

func (q *Queries) EnsureReactionType(ctx context.Context, arg EnsureReactionTypeParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, ensureReactionType, arg.Platform, arg.Name)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const upsertPostReactionDaily = `
INSERT INTO post_reactions_daily (platform, page_id, post_id, date, reaction_type_id, count)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (platform, page_id, post_id, date, reaction_type_id) DO UPDATE SET
    count = excluded.count
`

type UpsertPostReactionDailyParams struct {
	Platform       string
	PageID         string
	PostID         string
	Date           string
	ReactionTypeID int64
	Count          int64
}

func (q *Queries) UpsertPostReactionDaily(ctx context.Context, arg UpsertPostReactionDailyParams) error {
	_, err := q.db.ExecContext(ctx, upsertPostReactionDaily,
		arg.Platform, arg.PageID, arg.PostID, arg.Date, arg.ReactionTypeID, arg.Count,
	)
	return err
}

const upsertPageStatsWeekly = `
INSERT INTO page_stats_weekly (
    platform, page_id, iso_year, iso_week, cutoff_date,
    total_followers, reach, impressions, video_views
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (platform, page_id, iso_year, iso_week) DO UPDATE SET
    cutoff_date = excluded.cutoff_date,
    total_followers = excluded.total_followers,
    reach = excluded.reach,
    impressions = excluded.impressions,
    video_views = excluded.video_views
`

type UpsertPageStatsWeeklyParams struct {
	Platform       string
	PageID         string
	IsoYear        int64
	IsoWeek        int64
	CutoffDate     string
	TotalFollowers int64
	Reach          int64
	Impressions    int64
	VideoViews     int64
}

func (q *Queries) UpsertPageStatsWeekly(ctx context.Context, arg UpsertPageStatsWeeklyParams) error {
	_, err := q.db.ExecContext(ctx, upsertPageStatsWeekly,
		arg.Platform, arg.PageID, arg.IsoYear, arg.IsoWeek, arg.CutoffDate,
		arg.TotalFollowers, arg.Reach, arg.Impressions, arg.VideoViews,
	)
	return err
}

const getPageStatsWeekly = `
SELECT platform, page_id, iso_year, iso_week, cutoff_date,
    total_followers, reach, impressions, video_views
FROM page_stats_weekly
WHERE platform = ? AND page_id = ? AND iso_year = ? AND iso_week = ?
`

type GetPageStatsWeeklyParams struct {
	Platform string
	PageID   string
	IsoYear  int64
	IsoWeek  int64
}

func (q *Queries) GetPageStatsWeekly(ctx context.Context, arg GetPageStatsWeeklyParams) (PageStatsWeekly, error) {
	row := q.db.QueryRowContext(ctx, getPageStatsWeekly,
		arg.Platform, arg.PageID, arg.IsoYear, arg.IsoWeek,
	)
	var out PageStatsWeekly
	err := row.Scan(
		&out.Platform, &out.PageID, &out.IsoYear, &out.IsoWeek, &out.CutoffDate,
		&out.TotalFollowers, &out.Reach, &out.Impressions, &out.VideoViews,
	)
	return out, err
}

const deleteAudienceSegments = `
DELETE FROM audience_segments_weekly
WHERE platform = ? AND page_id = ? AND cutoff_date = ? AND dimension = ?
`

type DeleteAudienceSegmentsParams struct {
	Platform   string
	PageID     string
	CutoffDate string
	Dimension  string
}

func (q *Queries) DeleteAudienceSegments(ctx context.Context, arg DeleteAudienceSegmentsParams) error {
	_, err := q.db.ExecContext(ctx, deleteAudienceSegments,
		arg.Platform, arg.PageID, arg.CutoffDate, arg.Dimension,
	)
	return err
}

const insertAudienceSegment = `
INSERT INTO audience_segments_weekly (
    platform, page_id, cutoff_date, dimension, dimension_value, follower_count
)
VALUES (?, ?, ?, ?, ?, ?)
`

type InsertAudienceSegmentParams struct {
	Platform       string
	PageID         string
	CutoffDate     string
	Dimension      string
	DimensionValue string
	FollowerCount  int64
}

func (q *Queries) InsertAudienceSegment(ctx context.Context, arg InsertAudienceSegmentParams) error {
	_, err := q.db.ExecContext(ctx, insertAudienceSegment,
		arg.Platform, arg.PageID, arg.CutoffDate,
		arg.Dimension, arg.DimensionValue, arg.FollowerCount,
	)
	return err
}

const listAudienceSegments = `
SELECT platform, page_id, cutoff_date, dimension, dimension_value, follower_count
FROM audience_segments_weekly
WHERE platform = ? AND page_id = ? AND cutoff_date = ? AND dimension = ?
ORDER BY dimension_value
`

type ListAudienceSegmentsParams struct {
	Platform   string
	PageID     string
	CutoffDate string
	Dimension  string
}

func (q *Queries) ListAudienceSegments(ctx context.Context, arg ListAudienceSegmentsParams) ([]AudienceSegmentWeekly, error) {
	rows, err := q.db.QueryContext(ctx, listAudienceSegments,
		arg.Platform, arg.PageID, arg.CutoffDate, arg.Dimension,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AudienceSegmentWeekly
	for rows.Next() {
		var seg AudienceSegmentWeekly
		err := rows.Scan(
			&seg.Platform, &seg.PageID, &seg.CutoffDate,
			&seg.Dimension, &seg.DimensionValue, &seg.FollowerCount,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

const countTable = `SELECT count(*) FROM `

// allowlist keyed by the tables the summary reports on; table names cannot
// be bound as parameters.
var summaryTables = []string{
	"pages",
	"posts",
	"post_metrics_daily",
	"post_reactions_daily",
	"page_stats_weekly",
	"audience_segments_weekly",
}

type TableCount struct {
	Table string
	Rows  int64
}

func (q *Queries) CountSummary(ctx context.Context) ([]TableCount, error) {
	out := make([]TableCount, 0, len(summaryTables))
	for _, table := range summaryTables {
		row := q.db.QueryRowContext(ctx, countTable+table)
		var n int64
		if err := row.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, TableCount{Table: table, Rows: n})
	}
	return out, nil
}
