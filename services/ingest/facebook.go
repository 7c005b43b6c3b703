package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/graphclient"
	"socialmetrics-backend/lib/insights"
	"socialmetrics-backend/lib/metricstore"
)

const defaultGraphURL = "https://graph.facebook.com/v19.0"

type FacebookConfig struct {
	BaseURL        string   `json:"base_url"`
	PageID         string   `json:"page_id"`
	Token          string   `json:"token"`
	FallbackTokens []string `json:"fallback_tokens"`
}

// reaction types the graph reactions edge can be filtered by.
var facebookReactionTypes = []string{"LIKE", "LOVE", "HAHA", "WOW", "SAD", "ANGRY"}

var facebookPostMetrics = map[string]string{
	"post_impressions":        "impressions",
	"post_impressions_unique": "reach",
	"post_clicks":             "link_clicks",
	"post_video_views":        "views",
}

var facebookPageMetrics = map[string]string{
	"page_impressions":        "impressions",
	"page_impressions_unique": "reach",
	"page_video_views":        "video_views",
	"page_fans":               "followers",
}

var facebookAudienceMetrics = map[metricstore.Dimension]string{
	metricstore.DimensionGender:  "page_fans_gender_age",
	metricstore.DimensionCountry: "page_fans_country",
	metricstore.DimensionCity:    "page_fans_city",
}

type facebookIngestor struct {
	client *graphclient.Client
	store  *metricstore.Store
	pageID string
	log    *slog.Logger
}

func (s Service) runFacebook(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "runFacebook")
	defer span.End()
	span.SetAttributes(spanPlatform(metricstore.PlatformFacebook))

	cfg := s.cfg.Facebook
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

	in := facebookIngestor{
		client: client,
		store:  s.store,
		pageID: cfg.PageID,
		log:    slog.With("platform", metricstore.PlatformFacebook, "page", cfg.PageID),
	}

	if err := in.ingestPage(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("page: %w", err)
	}
	if err := in.ingestPosts(ctx, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("posts: %w", err)
	}
	if err := in.ingestPageWeekly(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weekly page stats: %w", err)
	}
	if err := in.ingestAudience(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("audience segments: %w", err)
	}
	return nil
}

func (in facebookIngestor) ingestPage(ctx context.Context) error {
	var page struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	query := url.Values{"fields": {"id,name"}}
	if err := in.client.Get(ctx, in.pageID, query, &page); err != nil {
		return err
	}
	return in.store.UpsertPage(ctx, metricstore.Page{
		Platform: metricstore.PlatformFacebook,
		PageID:   in.pageID,
		Name:     page.Name,
	})
}

type facebookPost struct {
	ID           string `json:"id"`
	CreatedTime  string `json:"created_time"`
	Message      string `json:"message"`
	PermalinkURL string `json:"permalink_url"`
	StatusType   string `json:"status_type"`
	Shares       struct {
		Count int64 `json:"count"`
	} `json:"shares"`
	Comments struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
	Reactions struct {
		Summary struct {
			TotalCount int64 `json:"total_count"`
		} `json:"summary"`
	} `json:"reactions"`
}

func (in facebookIngestor) ingestPosts(ctx context.Context, now time.Time) error {
	fields := strings.Join([]string{
		"id", "created_time", "message", "permalink_url", "status_type",
		"shares", "comments.summary(true).limit(0)", "reactions.summary(true).limit(0)",
	}, ",")
	query := url.Values{
		"fields": {fields},
		"since":  {chrono.YearStart(now).Format(chrono.DayLayout)},
	}

	pager := in.client.Paginate(in.pageID+"/posts", query)
	for pager.Next(ctx) {
		var post facebookPost
		if err := pager.Decode(&post); err != nil {
			return err
		}
		if err := in.ingestPost(ctx, post); err != nil {
			return err
		}
	}
	return pager.Err()
}

func (in facebookIngestor) ingestPost(ctx context.Context, post facebookPost) error {
	postedAt, _ := chrono.ParseDay(post.CreatedTime)
	err := in.store.UpsertPost(ctx, metricstore.Post{
		Platform:  metricstore.PlatformFacebook,
		PageID:    in.pageID,
		PostID:    post.ID,
		Permalink: post.PermalinkURL,
		PostedAt:  postedAt,
		Text:      post.Message,
		Format:    post.StatusType,
	})
	if err != nil {
		return err
	}

	reactions, err := in.reactionsBreakdown(ctx, post.ID)
	if err != nil {
		// a post with restricted reactions still gets its other metrics
		in.log.Warn("reactions breakdown unavailable", "post", post.ID, "err", err)
		reactions = map[string]int64{}
	}

	series, err := in.dailyPostInsights(ctx, post.ID)
	if err != nil {
		return err
	}
	for _, day := range insights.SortedDates(series) {
		vals := series[day]
		impressions := vals["impressions"]
		clicks := vals["link_clicks"]
		var ctr *float64
		if impressions > 0 {
			v := float64(clicks) / float64(impressions) * 100
			ctr = &v
		}

		key := metricstore.DailyKey{
			Platform: metricstore.PlatformFacebook,
			PageID:   in.pageID,
			PostID:   post.ID,
			Date:     day,
		}
		err := in.store.UpsertDailyPostMetrics(ctx, key, metricstore.DailyMetrics{
			Views:       vals["views"],
			Reach:       vals["reach"],
			Impressions: impressions,
			Reactions:   post.Reactions.Summary.TotalCount,
			Likes:       reactions["LIKE"],
			Love:        reactions["LOVE"],
			Haha:        reactions["HAHA"],
			Wow:         reactions["WOW"],
			Sad:         reactions["SAD"],
			Angry:       reactions["ANGRY"],
			Comments:    post.Comments.Summary.TotalCount,
			Shares:      post.Shares.Count,
			LinkClicks:  clicks,
			CTR:         ctr,
		})
		if err != nil {
			return err
		}
		for name, count := range reactions {
			if err := in.store.UpsertDailyPostReaction(ctx, key, name, count); err != nil {
				return err
			}
		}
	}
	return nil
}

// reactionsBreakdown queries the reactions edge once per type, asking only
// for the summary count.
func (in facebookIngestor) reactionsBreakdown(ctx context.Context, postID string) (map[string]int64, error) {
	out := make(map[string]int64, len(facebookReactionTypes))
	for _, typ := range facebookReactionTypes {
		var res struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		}
		query := url.Values{
			"type":    {typ},
			"summary": {"total_count"},
			"limit":   {"0"},
		}
		if err := in.client.Get(ctx, postID+"/reactions", query, &res); err != nil {
			return nil, err
		}
		out[typ] = res.Summary.TotalCount
	}
	return out, nil
}

func (in facebookIngestor) dailyPostInsights(ctx context.Context, postID string) (map[time.Time]insights.Counters, error) {
	var doc insights.Document
	query := url.Values{
		"metric": {metricNames(facebookPostMetrics)},
		"period": {"day"},
	}
	if err := in.client.Get(ctx, postID+"/insights", query, &doc); err != nil {
		return nil, err
	}
	return insights.ParseSeries(doc, facebookPostMetrics), nil
}

func (in facebookIngestor) ingestPageWeekly(ctx context.Context) error {
	var doc insights.Document
	query := url.Values{
		"metric": {metricNames(facebookPageMetrics)},
		"period": {"week"},
	}
	if err := in.client.Get(ctx, in.pageID+"/insights", query, &doc); err != nil {
		return err
	}

	series := insights.ParseSeries(doc, facebookPageMetrics)
	for _, day := range insights.SortedDates(series) {
		vals := series[day]
		err := in.store.UpsertWeeklyPageStats(ctx, metricstore.WeeklyPageStats{
			Platform:       metricstore.PlatformFacebook,
			PageID:         in.pageID,
			CutoffDate:     day,
			TotalFollowers: vals["followers"],
			Reach:          vals["reach"],
			Impressions:    vals["impressions"],
			VideoViews:     vals["video_views"],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (in facebookIngestor) ingestAudience(ctx context.Context) error {
	for dimension, metric := range facebookAudienceMetrics {
		var doc insights.Document
		query := url.Values{
			"metric": {metric},
			"period": {"lifetime"},
		}
		if err := in.client.Get(ctx, in.pageID+"/insights", query, &doc); err != nil {
			// a page can lack any single lifetime metric
			in.log.Warn("audience metric unavailable", "metric", metric, "err", err)
			continue
		}
		m, ok := doc.Metric(metric)
		if !ok {
			continue
		}
		for _, point := range insights.ReduceWeekly(weeklyBreakdownPoints(m)) {
			err := in.store.ReplaceAudienceSegments(ctx,
				metricstore.PlatformFacebook, in.pageID,
				point.Date, dimension,
				segmentsOf(point.Counters),
			)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func metricNames(mapping map[string]string) string {
	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	// deterministic request shape, also easier on recorded test fixtures
	sort.Strings(names)
	return strings.Join(names, ",")
}

func epochSeconds(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
