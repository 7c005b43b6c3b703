package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/graphclient"
	"socialmetrics-backend/lib/insights"
	"socialmetrics-backend/lib/metricstore"
)

const defaultTiktokURL = "https://business-api.tiktok.com/open_api"

type TiktokConfig struct {
	BaseURL    string `json:"base_url"`
	BusinessID string `json:"business_id"`
	Token      string `json:"token"`
}

type tiktokIngestor struct {
	client     *graphclient.Client
	store      *metricstore.Store
	businessID string
	log        *slog.Logger
}

func (s Service) runTiktok(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "runTiktok")
	defer span.End()
	span.SetAttributes(spanPlatform(metricstore.PlatformTiktok))

	cfg := s.cfg.Tiktok
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTiktokURL
	}
	client, err := graphclient.NewClient(graphclient.ClientOptions{
		BaseURL:     baseURL,
		Credentials: graphclient.Credentials{Token: cfg.Token},
		AuthStyle:   graphclient.AuthBearerHeader,
	})
	if err != nil {
		return err
	}

	in := tiktokIngestor{
		client:     client,
		store:      s.store,
		businessID: cfg.BusinessID,
		log:        slog.With("platform", metricstore.PlatformTiktok, "business", cfg.BusinessID),
	}

	if err := in.store.UpsertPage(ctx, metricstore.Page{
		Platform: metricstore.PlatformTiktok,
		PageID:   cfg.BusinessID,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := in.ingestVideos(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("videos: %w", err)
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

// tiktokEnvelope is the business API's {code, message, data} wrapper.
type tiktokEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (in tiktokIngestor) get(ctx context.Context, path string, query url.Values, out any) error {
	var env tiktokEnvelope
	if err := in.client.Get(ctx, path, query, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return fmt.Errorf("tiktok api code %d: %s", env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

type tiktokListPage struct {
	Creatives []json.RawMessage `json:"creatives"`
	List      []json.RawMessage `json:"list"`
	Cursor    string            `json:"cursor"`
	HasMore   bool              `json:"has_more"`
}

func (p tiktokListPage) items() []json.RawMessage {
	if len(p.Creatives) > 0 {
		return p.Creatives
	}
	return p.List
}

// forEachItem walks a cursor/has_more paginated listing.
func (in tiktokIngestor) forEachItem(ctx context.Context, path string, query url.Values, fn func(json.RawMessage) error) error {
	query = cloneValues(query)
	for {
		var page tiktokListPage
		if err := in.get(ctx, path, query, &page); err != nil {
			return err
		}
		for _, item := range page.items() {
			if err := fn(item); err != nil {
				return err
			}
		}
		if !page.HasMore || page.Cursor == "" {
			return nil
		}
		query.Set("cursor", page.Cursor)
	}
}

type tiktokVideo struct {
	CreativeID   string `json:"creative_id"`
	ID           string `json:"id"`
	CreateTime   string `json:"create_time"`
	PublishTime  string `json:"publish_time"`
	Caption      string `json:"caption"`
	ShareURL     string `json:"share_url"`
	LikeCount    int64  `json:"like_count"`
	CommentCount int64  `json:"comment_count"`
	ShareCount   int64  `json:"share_count"`
	ViewCount    int64  `json:"view_count"`
}

func (v tiktokVideo) videoID() string {
	if v.CreativeID != "" {
		return v.CreativeID
	}
	return v.ID
}

func (v tiktokVideo) publishedAt() (time.Time, error) {
	ts := v.PublishTime
	if ts == "" {
		ts = v.CreateTime
	}
	return chrono.ParseDay(ts)
}

func (in tiktokIngestor) ingestVideos(ctx context.Context, now time.Time) error {
	yearStart := chrono.YearStart(now)
	query := url.Values{
		"business_id": {in.businessID},
		"page_size":   {"50"},
	}
	return in.forEachItem(ctx, "/v1.3/content/creative/list/", query, func(raw json.RawMessage) error {
		var video tiktokVideo
		if err := json.Unmarshal(raw, &video); err != nil {
			return err
		}
		if video.videoID() == "" {
			return nil
		}
		publishedAt, err := video.publishedAt()
		if err != nil || publishedAt.Before(yearStart) {
			return nil
		}
		return in.ingestVideo(ctx, video, publishedAt)
	})
}

func (in tiktokIngestor) ingestVideo(ctx context.Context, video tiktokVideo, publishedAt time.Time) error {
	id := video.videoID()
	err := in.store.UpsertPost(ctx, metricstore.Post{
		Platform:  metricstore.PlatformTiktok,
		PageID:    in.businessID,
		PostID:    id,
		Permalink: video.ShareURL,
		PostedAt:  publishedAt,
		Text:      video.Caption,
		Format:    "VIDEO",
	})
	if err != nil {
		return err
	}

	ins := in.videoInsights(ctx, id)
	views := video.ViewCount
	if views == 0 {
		views = ins["views"]
	}
	likes := video.LikeCount
	if likes == 0 {
		likes = ins["likes"]
	}
	comments := video.CommentCount
	if comments == 0 {
		comments = ins["comments"]
	}
	shares := video.ShareCount
	if shares == 0 {
		shares = ins["shares"]
	}

	return in.store.UpsertDailyPostMetrics(ctx, metricstore.DailyKey{
		Platform: metricstore.PlatformTiktok,
		PageID:   in.businessID,
		PostID:   id,
		Date:     publishedAt,
	}, metricstore.DailyMetrics{
		Views:     views,
		Reach:     ins["reach"],
		Reactions: likes,
		Likes:     likes,
		Comments:  comments,
		Shares:    shares,
		Saves:     ins["saves"],
	})
}

// videoInsights pulls lifetime counters for one creative. Failures
// substitute zeros so one restricted video cannot stop the listing.
func (in tiktokIngestor) videoInsights(ctx context.Context, videoID string) insights.Counters {
	var res struct {
		Insights insights.Counters `json:"insights"`
	}
	query := url.Values{
		"business_id": {in.businessID},
		"creative_id": {videoID},
	}
	err := in.get(ctx, "/v1.3/content/creative/insights/", query, &res)
	if err != nil {
		in.log.Warn("video insights unavailable", "video", videoID, "err", err)
		return insights.Counters{}
	}
	if res.Insights == nil {
		return insights.Counters{}
	}
	return res.Insights
}

type tiktokAccountValues struct {
	EndTime string `json:"end_time"`
	Date    string `json:"date"`
	Value   struct {
		Views        int64 `json:"views"`
		Followers    int64 `json:"followers"`
		ProfileViews int64 `json:"profile_views"`
	} `json:"value"`
}

func (in tiktokIngestor) ingestAccountWeekly(ctx context.Context, now time.Time) error {
	until := chrono.Day(now)
	since := until.AddDate(0, 0, -28)
	query := url.Values{
		"business_id": {in.businessID},
		"period":      {"day"},
		"since":       {epochSeconds(since)},
		"until":       {epochSeconds(until)},
		"metrics":     {"views,followers,profile_views"},
	}

	var res struct {
		Values []tiktokAccountValues `json:"values"`
	}
	if err := in.get(ctx, "/v1.3/content/account/insights/", query, &res); err != nil {
		in.log.Warn("account insights unavailable", "err", err)
		return nil
	}

	series := map[time.Time]insights.Counters{}
	for _, row := range res.Values {
		ts := row.EndTime
		if ts == "" {
			ts = row.Date
		}
		day, err := chrono.ParseDay(ts)
		if err != nil {
			continue
		}
		series[day] = insights.Counters{
			"views":     row.Value.Views,
			"followers": row.Value.Followers,
		}
	}

	for _, point := range insights.ReduceWeekly(insights.PointsOf(series)) {
		err := in.store.UpsertWeeklyPageStats(ctx, metricstore.WeeklyPageStats{
			Platform:       metricstore.PlatformTiktok,
			PageID:         in.businessID,
			CutoffDate:     point.Date,
			TotalFollowers: point.Counters["followers"],
			Impressions:    point.Counters["views"],
			VideoViews:     point.Counters["views"],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type tiktokAudienceRow struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func (in tiktokIngestor) ingestAudience(ctx context.Context, now time.Time) error {
	var res struct {
		ByCity    []tiktokAudienceRow `json:"by_city"`
		ByCountry []tiktokAudienceRow `json:"by_country"`
		ByGender  []tiktokAudienceRow `json:"by_gender"`
		ByAge     []tiktokAudienceRow `json:"by_age"`
	}
	query := url.Values{"business_id": {in.businessID}}
	if err := in.get(ctx, "/v1.3/content/account/audience/", query, &res); err != nil {
		in.log.Warn("audience demographics unavailable", "err", err)
		return nil
	}

	cutoff := chrono.Day(now)
	dims := map[metricstore.Dimension][]tiktokAudienceRow{
		metricstore.DimensionCity:    res.ByCity,
		metricstore.DimensionCountry: res.ByCountry,
		metricstore.DimensionGender:  res.ByGender,
		metricstore.DimensionAge:     res.ByAge,
	}
	for dimension, rows := range dims {
		if len(rows) == 0 {
			continue
		}
		counts := make(map[string]int64, len(rows))
		for _, row := range rows {
			counts[row.Name] = row.Count
		}
		err := in.store.ReplaceAudienceSegments(ctx,
			metricstore.PlatformTiktok, in.businessID,
			cutoff, dimension, segmentsOf(counts),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
