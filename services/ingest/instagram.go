package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/graphclient"
	"socialmetrics-backend/lib/insights"
	"socialmetrics-backend/lib/metricstore"
)

type InstagramConfig struct {
	BaseURL string `json:"base_url"`
	// UserID is the IG business user. When empty it is resolved from
	// PageID via the page's instagram_business_account edge.
	UserID         string   `json:"user_id"`
	PageID         string   `json:"page_id"`
	Token          string   `json:"token"`
	FallbackTokens []string `json:"fallback_tokens"`
}

// accountSeriesDays is how far back the account-level daily series reaches.
// The insights endpoint rejects since/until ranges over 30 days, so the
// window is pulled in chunks.
const (
	accountSeriesDays = 60
	accountChunkDays  = 29
)

type instagramIngestor struct {
	client *graphclient.Client
	store  *metricstore.Store
	userID string
	log    *slog.Logger
}

func (s Service) runInstagram(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "runInstagram")
	defer span.End()
	span.SetAttributes(spanPlatform(metricstore.PlatformInstagram))

	cfg := s.cfg.Instagram
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGraphURL
	}
	client, err := graphclient.NewClient(graphclient.ClientOptions{
		BaseURL: baseURL,
		Credentials: graphclient.Credentials{
			Token:     cfg.Token,
			Fallbacks: cfg.FallbackTokens,
		},
		AuthStyle: graphclient.AuthQueryParam,
	})
	if err != nil {
		return err
	}

	userID, err := resolveInstagramUser(ctx, client, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("resolve user: %w", err)
	}

	in := instagramIngestor{
		client: client,
		store:  s.store,
		userID: userID,
		log:    slog.With("platform", metricstore.PlatformInstagram, "user", userID),
	}

	if err := in.ingestMedia(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("media: %w", err)
	}
	if err := in.ingestAccountWeekly(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weekly account stats: %w", err)
	}
	if err := in.ingestAudience(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("audience segments: %w", err)
	}
	return nil
}

func resolveInstagramUser(ctx context.Context, client *graphclient.Client, cfg *InstagramConfig) (string, error) {
	if cfg.UserID != "" {
		return cfg.UserID, nil
	}
	if cfg.PageID == "" {
		return "", errors.New("neither user_id nor page_id configured")
	}
	var page struct {
		InstagramBusinessAccount struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	query := url.Values{"fields": {"instagram_business_account"}}
	if err := client.Get(ctx, cfg.PageID, query, &page); err != nil {
		return "", err
	}
	if page.InstagramBusinessAccount.ID == "" {
		return "", errors.New("page has no linked instagram business account")
	}
	return page.InstagramBusinessAccount.ID, nil
}

type instagramMedia struct {
	ID             string `json:"id"`
	Caption        string `json:"caption"`
	MediaType      string `json:"media_type"`
	Permalink      string `json:"permalink"`
	Timestamp      string `json:"timestamp"`
	LikeCount      int64  `json:"like_count"`
	CommentsCount  int64  `json:"comments_count"`
	VideoViewCount int64  `json:"video_view_count"`
}

// ingestMedia writes the year's media and a snapshot of each item's
// lifetime counters dated at publication. The media edge does not honor
// `since` reliably, so the year filter happens client-side.
func (in instagramIngestor) ingestMedia(ctx context.Context, now time.Time) error {
	fields := strings.Join([]string{
		"id", "caption", "media_type", "permalink", "timestamp",
		"like_count", "comments_count", "video_view_count",
	}, ",")
	query := url.Values{
		"fields": {fields},
		"limit":  {"100"},
	}
	yearStart := chrono.YearStart(now)

	pager := in.client.Paginate(in.userID+"/media", query)
	for pager.Next(ctx) {
		var media instagramMedia
		if err := pager.Decode(&media); err != nil {
			return err
		}
		if media.Timestamp == "" {
			continue
		}
		postedAt, err := chrono.ParseDay(media.Timestamp)
		if err != nil || postedAt.Before(yearStart) {
			continue
		}
		if err := in.ingestMediaItem(ctx, media, postedAt); err != nil {
			return err
		}
	}
	return pager.Err()
}

func (in instagramIngestor) ingestMediaItem(ctx context.Context, media instagramMedia, postedAt time.Time) error {
	err := in.store.UpsertPost(ctx, metricstore.Post{
		Platform:  metricstore.PlatformInstagram,
		PageID:    in.userID,
		PostID:    media.ID,
		Permalink: media.Permalink,
		PostedAt:  postedAt,
		Text:      media.Caption,
		Format:    strings.ToUpper(media.MediaType),
	})
	if err != nil {
		return err
	}

	ins := in.mediaInsights(ctx, media.ID)
	views := media.VideoViewCount
	if views == 0 {
		views = ins["video_views"]
	}
	return in.store.UpsertDailyPostMetrics(ctx, metricstore.DailyKey{
		Platform: metricstore.PlatformInstagram,
		PageID:   in.userID,
		PostID:   media.ID,
		Date:     postedAt,
	}, metricstore.DailyMetrics{
		Views:     views,
		Reach:     ins["reach"],
		Reactions: media.LikeCount,
		Likes:     media.LikeCount,
		Comments:  media.CommentsCount,
		Saves:     ins["saved"],
	})
}

// mediaInsights pulls the per-media metrics that survive API v22: reach
// and saved together, video_views separately because image and carousel
// media answer 400 for it. Failures substitute zeros.
func (in instagramIngestor) mediaInsights(ctx context.Context, mediaID string) insights.Counters {
	out := insights.Counters{"reach": 0, "saved": 0, "video_views": 0}

	var doc insights.Document
	err := in.client.Get(ctx, mediaID+"/insights", url.Values{"metric": {"reach,saved"}}, &doc)
	if err != nil {
		in.log.Warn("media insights unavailable", "media", mediaID, "err", err)
	} else {
		for _, m := range doc.Data {
			if v, ok := m.Latest(); ok {
				out[m.Name] = v.Int()
			}
		}
	}

	var vdoc insights.Document
	err = in.client.Get(ctx, mediaID+"/insights", url.Values{"metric": {"video_views"}}, &vdoc)
	if err == nil {
		if m, ok := vdoc.Metric("video_views"); ok {
			if v, ok := m.Latest(); ok {
				out["video_views"] = v.Int()
			}
		}
	}
	return out
}

// ingestAccountWeekly pulls the account daily series in date chunks,
// merges them and keeps the last point of each ISO week.
func (in instagramIngestor) ingestAccountWeekly(ctx context.Context, now time.Time) error {
	today := chrono.Day(now)
	since := today.AddDate(0, 0, -accountSeriesDays)

	series := map[time.Time]insights.Counters{}
	merge := func(chunk map[time.Time]insights.Counters) {
		for day, vals := range chunk {
			cur, ok := series[day]
			if !ok {
				cur = insights.Counters{"reach": 0, "followers": 0, "profile_views": 0}
				series[day] = cur
			}
			for field, v := range vals {
				cur[field] = v
			}
		}
	}

	for start := since; start.Before(today); start = start.AddDate(0, 0, accountChunkDays+1) {
		end := start.AddDate(0, 0, accountChunkDays)
		if end.After(today) {
			end = today
		}
		rangeQuery := url.Values{
			"period": {"day"},
			"since":  {epochSeconds(start)},
			"until":  {epochSeconds(end.AddDate(0, 0, 1))},
		}

		var daily insights.Document
		query := cloneValues(rangeQuery)
		query.Set("metric", "reach,follower_count")
		if err := in.client.Get(ctx, in.userID+"/insights", query, &daily); err != nil {
			in.log.Warn("daily account insights unavailable", "err", err)
		} else {
			merge(insights.ParseSeries(daily, map[string]string{
				"reach":          "reach",
				"follower_count": "followers",
			}))
		}

		// profile_views moved behind metric_type=total_value
		var tv insights.Document
		query = cloneValues(rangeQuery)
		query.Set("metric", "profile_views")
		query.Set("metric_type", "total_value")
		if err := in.client.Get(ctx, in.userID+"/insights", query, &tv); err != nil {
			in.log.Warn("profile_views insights unavailable", "err", err)
		} else {
			merge(insights.ParseSeries(tv, map[string]string{
				"profile_views": "profile_views",
			}))
		}
	}

	for _, point := range insights.ReduceWeekly(insights.PointsOf(series)) {
		err := in.store.UpsertWeeklyPageStats(ctx, metricstore.WeeklyPageStats{
			Platform:       metricstore.PlatformInstagram,
			PageID:         in.userID,
			CutoffDate:     point.Date,
			TotalFollowers: point.Counters["followers"],
			Reach:          point.Counters["reach"],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ingestAudience snapshots follower_demographics breakdowns under today's
// date. The lifetime metric nests value maps per dimension.
func (in instagramIngestor) ingestAudience(ctx context.Context, now time.Time) error {
	var doc insights.Document
	query := url.Values{
		"metric":      {"follower_demographics"},
		"period":      {"lifetime"},
		"metric_type": {"total_value"},
	}
	if err := in.client.Get(ctx, in.userID+"/insights", query, &doc); err != nil {
		in.log.Warn("follower demographics unavailable", "err", err)
		return nil
	}

	m, ok := doc.Metric("follower_demographics")
	if !ok {
		return nil
	}
	latest, ok := m.Latest()
	if !ok {
		return nil
	}
	nested := latest.NestedBreakdown()

	cutoff := chrono.Day(now)
	dims := map[metricstore.Dimension]map[string]int64{
		metricstore.DimensionCity:    nested["city"],
		metricstore.DimensionCountry: nested["country"],
		metricstore.DimensionGender:  firstNonEmpty(nested["gender_age"], nested["age_gender"]),
	}
	for dimension, counts := range dims {
		if len(counts) == 0 {
			continue
		}
		err := in.store.ReplaceAudienceSegments(ctx,
			metricstore.PlatformInstagram, in.userID,
			cutoff, dimension, segmentsOf(counts),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(maps ...map[string]int64) map[string]int64 {
	for _, m := range maps {
		if len(m) > 0 {
			return m
		}
	}
	return nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
