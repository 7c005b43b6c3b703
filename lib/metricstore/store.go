// Package metricstore persists normalized social metrics into sqlite.
// Daily rows are upserted with day-over-day deltas computed against the
// most recent strictly earlier row of the same entity; weekly rows and
// audience segments are replaced wholesale so reruns converge.
package metricstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/metricstore/db"
)

var tracer = otel.Tracer("lib/metricstore")

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(sqldb *sql.DB) *Store {
	return &Store{db: sqldb, qry: db.New(sqldb)}
}

func (k DailyKey) validate() error {
	switch {
	case k.Platform == "":
		return &InvalidRecordError{Field: "platform"}
	case k.PageID == "":
		return &InvalidRecordError{Field: "page_id"}
	case k.PostID == "":
		return &InvalidRecordError{Field: "post_id"}
	case k.Date.IsZero():
		return &InvalidRecordError{Field: "date"}
	}
	return nil
}

// DeltaFrom computes the change of each cumulative counter against a
// previous day's row. A nil prev means no earlier row exists and the
// baseline is zero, so each delta equals the incoming value.
func (m DailyMetrics) DeltaFrom(prev *db.GetPrevPostMetricsRow) DeltaSet {
	if prev == nil {
		prev = &db.GetPrevPostMetricsRow{}
	}
	return DeltaSet{
		Views:     m.Views - prev.Views,
		Reach:     m.Reach - prev.Reach,
		Reactions: m.Reactions - prev.Reactions,
		Comments:  m.Comments - prev.Comments,
		Shares:    m.Shares - prev.Shares,
		Saves:     m.Saves - prev.Saves,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func (s *Store) UpsertPage(ctx context.Context, page Page) error {
	ctx, span := tracer.Start(ctx, "UpsertPage")
	defer span.End()

	if page.Platform == "" {
		return &InvalidRecordError{Field: "platform"}
	}
	if page.PageID == "" {
		return &InvalidRecordError{Field: "page_id"}
	}
	err := s.qry.UpsertPage(ctx, db.UpsertPageParams{
		Platform: page.Platform,
		PageID:   page.PageID,
		Name:     page.Name,
	})
	if err != nil {
		err = &StorageError{Op: "upsert page", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Store) UpsertPost(ctx context.Context, post Post) error {
	ctx, span := tracer.Start(ctx, "UpsertPost")
	defer span.End()

	switch {
	case post.Platform == "":
		return &InvalidRecordError{Field: "platform"}
	case post.PageID == "":
		return &InvalidRecordError{Field: "page_id"}
	case post.PostID == "":
		return &InvalidRecordError{Field: "post_id"}
	}

	var postedAt sql.NullString
	if !post.PostedAt.IsZero() {
		postedAt = nullString(chrono.Day(post.PostedAt).Format(chrono.DayLayout))
	}
	err := s.qry.UpsertPost(ctx, db.UpsertPostParams{
		Platform:  post.Platform,
		PageID:    post.PageID,
		PostID:    post.PostID,
		Permalink: nullString(post.Permalink),
		PostedAt:  postedAt,
		Text:      nullString(post.Text),
		Format:    post.Format,
	})
	if err != nil {
		err = &StorageError{Op: "upsert post", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// UpsertDailyPostMetrics writes one day of metrics for one entity. The
// deltas are computed against the latest strictly earlier row at write
// time, then the whole row is inserted or overwritten, so running the
// same day twice leaves the table unchanged.
func (s *Store) UpsertDailyPostMetrics(ctx context.Context, key DailyKey, m DailyMetrics) error {
	ctx, span := tracer.Start(ctx, "UpsertDailyPostMetrics")
	defer span.End()

	if err := key.validate(); err != nil {
		return err
	}
	date := chrono.Day(key.Date).Format(chrono.DayLayout)

	var prev *db.GetPrevPostMetricsRow
	prevRow, err := s.qry.GetPrevPostMetrics(ctx, db.GetPrevPostMetricsParams{
		Platform: key.Platform,
		PageID:   key.PageID,
		PostID:   key.PostID,
		Date:     date,
	})
	switch {
	case err == nil:
		prev = &prevRow
	case errors.Is(err, sql.ErrNoRows):
		// first observation of this entity, baseline stays zero
	default:
		err = &StorageError{Op: "load previous metrics", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	delta := m.DeltaFrom(prev)
	err = s.qry.UpsertPostMetricsDaily(ctx, db.UpsertPostMetricsDailyParams{
		Platform:        key.Platform,
		PageID:          key.PageID,
		PostID:          key.PostID,
		Date:            date,
		Views:           m.Views,
		Reach:           m.Reach,
		Impressions:     m.Impressions,
		AvgWatchSeconds: nullFloat(m.AvgWatchSeconds),
		Reactions:       m.Reactions,
		Likes:           m.Likes,
		Love:            m.Love,
		Haha:            m.Haha,
		Wow:             m.Wow,
		Sad:             m.Sad,
		Angry:           m.Angry,
		Comments:        m.Comments,
		Shares:          m.Shares,
		Saves:           m.Saves,
		LinkClicks:      m.LinkClicks,
		Ctr:             nullFloat(m.CTR),
		DeltaViews:      delta.Views,
		DeltaReach:      delta.Reach,
		DeltaReactions:  delta.Reactions,
		DeltaComments:   delta.Comments,
		DeltaShares:     delta.Shares,
		DeltaSaves:      delta.Saves,
	})
	if err != nil {
		err = &StorageError{Op: "upsert daily metrics", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// GetDailyPostMetrics reads back one stored daily row.
func (s *Store) GetDailyPostMetrics(ctx context.Context, key DailyKey) (db.PostMetricsDaily, error) {
	if err := key.validate(); err != nil {
		return db.PostMetricsDaily{}, err
	}
	return s.qry.GetPostMetricsDaily(ctx, db.GetPostMetricsDailyParams{
		Platform: key.Platform,
		PageID:   key.PageID,
		PostID:   key.PostID,
		Date:     chrono.Day(key.Date).Format(chrono.DayLayout),
	})
}

// UpsertDailyPostReaction records one reaction type's count for a day.
// Reaction names are interned into reaction_types on first sight.
func (s *Store) UpsertDailyPostReaction(ctx context.Context, key DailyKey, reaction string, count int64) error {
	ctx, span := tracer.Start(ctx, "UpsertDailyPostReaction")
	defer span.End()

	if err := key.validate(); err != nil {
		return err
	}
	if reaction == "" {
		return &InvalidRecordError{Field: "reaction"}
	}

	typeID, err := s.qry.EnsureReactionType(ctx, db.EnsureReactionTypeParams{
		Platform: key.Platform,
		Name:     reaction,
	})
	if err != nil {
		err = &StorageError{Op: "ensure reaction type", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	err = s.qry.UpsertPostReactionDaily(ctx, db.UpsertPostReactionDailyParams{
		Platform:       key.Platform,
		PageID:         key.PageID,
		PostID:         key.PostID,
		Date:           chrono.Day(key.Date).Format(chrono.DayLayout),
		ReactionTypeID: typeID,
		Count:          count,
	})
	if err != nil {
		err = &StorageError{Op: "upsert daily reaction", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// UpsertWeeklyPageStats writes one ISO-week snapshot keyed by the week
// of the cutoff date. A later run for the same week overwrites the row.
func (s *Store) UpsertWeeklyPageStats(ctx context.Context, stats WeeklyPageStats) error {
	ctx, span := tracer.Start(ctx, "UpsertWeeklyPageStats")
	defer span.End()

	if stats.Platform == "" {
		return &InvalidRecordError{Field: "platform"}
	}
	if stats.PageID == "" {
		return &InvalidRecordError{Field: "page_id"}
	}
	if stats.CutoffDate.IsZero() {
		return &InvalidRecordError{Field: "cutoff_date"}
	}

	week := chrono.ISOWeekOf(stats.CutoffDate)
	err := s.qry.UpsertPageStatsWeekly(ctx, db.UpsertPageStatsWeeklyParams{
		Platform:       stats.Platform,
		PageID:         stats.PageID,
		IsoYear:        int64(week.Year),
		IsoWeek:        int64(week.Week),
		CutoffDate:     chrono.Day(stats.CutoffDate).Format(chrono.DayLayout),
		TotalFollowers: stats.TotalFollowers,
		Reach:          stats.Reach,
		Impressions:    stats.Impressions,
		VideoViews:     stats.VideoViews,
	})
	if err != nil {
		err = &StorageError{Op: "upsert weekly page stats", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// GetWeeklyPageStats reads back the snapshot stored for the ISO week
// containing the given date.
func (s *Store) GetWeeklyPageStats(ctx context.Context, platform, pageID string, date time.Time) (db.PageStatsWeekly, error) {
	week := chrono.ISOWeekOf(date)
	return s.qry.GetPageStatsWeekly(ctx, db.GetPageStatsWeeklyParams{
		Platform: platform,
		PageID:   pageID,
		IsoYear:  int64(week.Year),
		IsoWeek:  int64(week.Week),
	})
}

// ReplaceAudienceSegments swaps out every segment row of one dimension
// at one cutoff date in a single transaction. Values that disappeared
// upstream disappear here too instead of lingering as stale rows.
func (s *Store) ReplaceAudienceSegments(
	ctx context.Context,
	platform, pageID string,
	cutoff time.Time,
	dimension Dimension,
	segments []AudienceSegment,
) error {
	ctx, span := tracer.Start(ctx, "ReplaceAudienceSegments")
	defer span.End()

	if platform == "" {
		return &InvalidRecordError{Field: "platform"}
	}
	if pageID == "" {
		return &InvalidRecordError{Field: "page_id"}
	}
	if cutoff.IsZero() {
		return &InvalidRecordError{Field: "cutoff_date"}
	}
	cutoffDay := chrono.Day(cutoff).Format(chrono.DayLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin audience tx", Err: err}
	}
	defer tx.Rollback()

	qry := s.qry.WithTx(tx)
	err = qry.DeleteAudienceSegments(ctx, db.DeleteAudienceSegmentsParams{
		Platform:   platform,
		PageID:     pageID,
		CutoffDate: cutoffDay,
		Dimension:  string(dimension),
	})
	if err != nil {
		err = &StorageError{Op: "clear audience segments", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for _, seg := range segments {
		err = qry.InsertAudienceSegment(ctx, db.InsertAudienceSegmentParams{
			Platform:       platform,
			PageID:         pageID,
			CutoffDate:     cutoffDay,
			Dimension:      string(dimension),
			DimensionValue: seg.Value,
			FollowerCount:  seg.Count,
		})
		if err != nil {
			err = &StorageError{Op: fmt.Sprintf("insert audience segment %q", seg.Value), Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit audience tx", Err: err}
	}
	return nil
}

// ListAudienceSegments reads back one dimension's rows at a cutoff date,
// ordered by value.
func (s *Store) ListAudienceSegments(
	ctx context.Context,
	platform, pageID string,
	cutoff time.Time,
	dimension Dimension,
) ([]AudienceSegment, error) {
	rows, err := s.qry.ListAudienceSegments(ctx, db.ListAudienceSegmentsParams{
		Platform:   platform,
		PageID:     pageID,
		CutoffDate: chrono.Day(cutoff).Format(chrono.DayLayout),
		Dimension:  string(dimension),
	})
	if err != nil {
		return nil, err
	}
	out := make([]AudienceSegment, 0, len(rows))
	for _, row := range rows {
		out = append(out, AudienceSegment{Value: row.DimensionValue, Count: row.FollowerCount})
	}
	return out, nil
}

// Summary reports row counts per table for the report command.
func (s *Store) Summary(ctx context.Context) ([]db.TableCount, error) {
	return s.qry.CountSummary(ctx)
}
