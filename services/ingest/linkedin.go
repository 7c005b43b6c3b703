package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dubonzi/otelresty"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/graphclient"
	"socialmetrics-backend/lib/insights"
	"socialmetrics-backend/lib/metricstore"
)

const defaultLinkedinURL = "https://api.linkedin.com/rest"

type LinkedinConfig struct {
	BaseURL string `json:"base_url"`
	// OrgID is the numeric organization id; the URN is derived from it.
	OrgID string `json:"org_id"`
	// Token is the Community Management token used for posts and social
	// counts. PagesToken, when present, is preferred for follower and
	// audience statistics.
	Token      string `json:"token"`
	PagesToken string `json:"pages_token"`
}

// linkedinVersionMonths is how many months of LinkedIn-Version values the
// client walks back through when the API answers 426 (version retired).
const linkedinVersionMonths = 24

// linkedinClient speaks the versioned REST flavor: bearer tokens, a
// LinkedIn-Version month header probed until one is accepted, and
// offset-based element pagination instead of continuation URLs.
type linkedinClient struct {
	http     *resty.Client
	tokens   map[string]string
	versions []string
	// version is cached after the first successful probe
	version string
}

func newLinkedinClient(cfg *LinkedinConfig, now time.Time) (*linkedinClient, error) {
	if cfg.Token == "" && cfg.PagesToken == "" {
		return nil, graphclient.ErrMissingCredential
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultLinkedinURL
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(time.Second * 60)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("X-Restli-Protocol-Version", "2.0.0")

	otelresty.TraceClient(
		client,
		otelresty.WithTracerName("linkedin-http"),
	)

	tokens := map[string]string{}
	if cfg.Token != "" {
		tokens["cm"] = cfg.Token
	}
	if cfg.PagesToken != "" {
		tokens["pages"] = cfg.PagesToken
	}

	return &linkedinClient{
		http:     client,
		tokens:   tokens,
		versions: candidateVersions(now, linkedinVersionMonths),
	}, nil
}

// candidateVersions lists YYYYMM header values from the current month
// backwards.
func candidateVersions(now time.Time, months int) []string {
	out := make([]string, 0, months)
	d := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < months; i++ {
		out = append(out, d.Format("200601"))
		d = d.AddDate(0, -1, 0)
	}
	return out
}

func (c *linkedinClient) token(kind string) (string, error) {
	if tok := c.tokens[kind]; tok != "" {
		return tok, nil
	}
	// the community token backstops pages-scoped reads and vice versa
	for _, tok := range c.tokens {
		if tok != "" {
			return tok, nil
		}
	}
	return "", graphclient.ErrMissingCredential
}

func (c *linkedinClient) get(ctx context.Context, kind, path string, query url.Values, out any) error {
	tok, err := c.token(kind)
	if err != nil {
		return err
	}

	versions := c.versions
	if c.version != "" {
		versions = []string{c.version}
	}
	for _, ver := range versions {
		req := c.http.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+tok).
			SetHeader("LinkedIn-Version", ver)
		if query != nil {
			req.SetQueryParamsFromValues(query)
		}
		res, err := req.Get("/" + strings.TrimLeft(path, "/"))
		if err != nil {
			return err
		}
		if res.StatusCode() == 426 {
			continue
		}
		if !res.IsSuccess() {
			return &graphclient.UpstreamError{Status: res.StatusCode(), Body: res.String()}
		}
		c.version = ver
		if out == nil {
			return nil
		}
		return json.Unmarshal(res.Body(), out)
	}
	return errors.New("linkedin: no accepted LinkedIn-Version in the probed range")
}

type linkedinPage struct {
	Elements []json.RawMessage `json:"elements"`
	Paging   struct {
		Total *int64 `json:"total"`
	} `json:"paging"`
}

// forEachElement walks an offset-paginated collection, calling fn for
// every raw element.
func (c *linkedinClient) forEachElement(ctx context.Context, kind, path string, query url.Values, count int, fn func(json.RawMessage) error) error {
	start := 0
	for {
		q := cloneValues(query)
		q.Set("start", strconv.Itoa(start))
		q.Set("count", strconv.Itoa(count))

		var page linkedinPage
		if err := c.get(ctx, kind, path, q, &page); err != nil {
			return err
		}
		for _, el := range page.Elements {
			if err := fn(el); err != nil {
				return err
			}
		}

		switch {
		case page.Paging.Total != nil:
			if int64(start+count) >= *page.Paging.Total {
				return nil
			}
		case len(page.Elements) == 0:
			return nil
		}
		start += count
	}
}

type linkedinIngestor struct {
	client *linkedinClient
	store  *metricstore.Store
	orgURN string
	log    *slog.Logger
}

func (s Service) runLinkedin(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "runLinkedin")
	defer span.End()
	span.SetAttributes(spanPlatform(metricstore.PlatformLinkedin))

	cfg := s.cfg.Linkedin
	if cfg.OrgID == "" {
		return errors.New("org_id not configured")
	}
	client, err := newLinkedinClient(cfg, now)
	if err != nil {
		return err
	}

	in := linkedinIngestor{
		client: client,
		store:  s.store,
		orgURN: "urn:li:organization:" + cfg.OrgID,
		log:    slog.With("platform", metricstore.PlatformLinkedin, "org", cfg.OrgID),
	}

	statsKind := "cm"
	if cfg.PagesToken != "" {
		statsKind = "pages"
	}

	if err := in.store.UpsertPage(ctx, metricstore.Page{
		Platform: metricstore.PlatformLinkedin,
		PageID:   in.orgURN,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := in.ingestPosts(ctx, now); err != nil {
		// post listing needs community scopes many tokens lack;
		// follower statistics still work without them
		in.log.Warn("post ingestion failed, continuing with follower stats", "err", err)
	}
	if err := in.ingestFollowersWeekly(ctx, now, statsKind); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("weekly follower stats: %w", err)
	}
	if err := in.ingestAudience(ctx, now, statsKind); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("audience segments: %w", err)
	}
	return nil
}

// linkedinPost is the normalized view of the three post listing shapes.
type linkedinPost struct {
	ID          string
	CreatedAt   time.Time
	Text        string
	Permalink   string
	Format      string
	ActivityURN string
}

// ingestPosts lists the organization's posts, trying the partner posts
// endpoint first, then ugcPosts, then legacy shares.
func (in linkedinIngestor) ingestPosts(ctx context.Context, now time.Time) error {
	yearStart := chrono.YearStart(now)

	listings := []func(context.Context, time.Time) ([]linkedinPost, error){
		in.listPosts,
		in.listUGCPosts,
		in.listShares,
	}
	var posts []linkedinPost
	var lastErr error
	for _, list := range listings {
		posts, lastErr = list(ctx, yearStart)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return lastErr
	}

	for _, post := range posts {
		if err := in.ingestPost(ctx, post); err != nil {
			return err
		}
	}
	return nil
}

func (in linkedinIngestor) listPosts(ctx context.Context, yearStart time.Time) ([]linkedinPost, error) {
	query := url.Values{
		"q":      {"author"},
		"author": {in.orgURN},
		"sort":   {"LAST_MODIFIED"},
	}
	var out []linkedinPost
	err := in.client.forEachElement(ctx, "cm", "posts", query, 50, func(raw json.RawMessage) error {
		var p struct {
			ID         string `json:"id"`
			URN        string `json:"urn"`
			CreatedAt  struct {
				Time int64 `json:"time"`
			} `json:"createdAt"`
			Commentary struct {
				Text string `json:"text"`
			} `json:"commentary"`
			Content struct {
				Media struct {
					Type string `json:"type"`
				} `json:"media"`
			} `json:"content"`
			AssociatedURN string `json:"associatedUrn"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.CreatedAt.Time == 0 {
			return nil
		}
		created := chrono.Day(time.UnixMilli(p.CreatedAt.Time))
		if created.Before(yearStart) {
			return nil
		}
		id := p.URN
		if id == "" {
			id = p.ID
		}
		activity := p.AssociatedURN
		if activity == "" {
			activity = p.URN
		}
		format := p.Content.Media.Type
		if format == "" {
			format = "POST"
		}
		out = append(out, linkedinPost{
			ID:          id,
			CreatedAt:   created,
			Text:        p.Commentary.Text,
			Format:      format,
			ActivityURN: activity,
		})
		return nil
	})
	return out, err
}

func (in linkedinIngestor) listUGCPosts(ctx context.Context, yearStart time.Time) ([]linkedinPost, error) {
	query := url.Values{
		"q":       {"authors"},
		"authors": {listParam(in.orgURN)},
		"sort":    {"LAST_MODIFIED"},
	}
	var out []linkedinPost
	err := in.client.forEachElement(ctx, "cm", "ugcPosts", query, 50, func(raw json.RawMessage) error {
		var p struct {
			ID      string `json:"id"`
			Created struct {
				Time int64 `json:"time"`
			} `json:"created"`
			SpecificContent struct {
				ShareContent struct {
					ShareCommentary struct {
						Text string `json:"text"`
					} `json:"shareCommentary"`
				} `json:"com.linkedin.ugc.ShareContent"`
			} `json:"specificContent"`
			Activity string `json:"activity"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Created.Time == 0 {
			return nil
		}
		created := chrono.Day(time.UnixMilli(p.Created.Time))
		if created.Before(yearStart) {
			return nil
		}
		activity := p.Activity
		if activity == "" {
			activity = p.ID
		}
		out = append(out, linkedinPost{
			ID:          p.ID,
			CreatedAt:   created,
			Text:        p.SpecificContent.ShareContent.ShareCommentary.Text,
			Format:      "POST",
			ActivityURN: activity,
		})
		return nil
	})
	return out, err
}

func (in linkedinIngestor) listShares(ctx context.Context, yearStart time.Time) ([]linkedinPost, error) {
	query := url.Values{
		"q":      {"owners"},
		"owners": {listParam(in.orgURN)},
		"sort":   {"LAST_MODIFIED"},
	}
	var out []linkedinPost
	err := in.client.forEachElement(ctx, "cm", "shares", query, 50, func(raw json.RawMessage) error {
		var p struct {
			ID      json.Number `json:"id"`
			Created struct {
				Time int64 `json:"time"`
			} `json:"created"`
			Text struct {
				Text string `json:"text"`
			} `json:"text"`
			Permalink string `json:"permalink"`
			Activity  string `json:"activity"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		if p.Created.Time == 0 {
			return nil
		}
		created := chrono.Day(time.UnixMilli(p.Created.Time))
		if created.Before(yearStart) {
			return nil
		}
		activity := p.Activity
		if activity == "" && p.ID != "" {
			activity = "urn:li:activity:" + p.ID.String()
		}
		out = append(out, linkedinPost{
			ID:          p.ID.String(),
			CreatedAt:   created,
			Text:        p.Text.Text,
			Permalink:   p.Permalink,
			Format:      "POST",
			ActivityURN: activity,
		})
		return nil
	})
	return out, err
}

func (in linkedinIngestor) ingestPost(ctx context.Context, post linkedinPost) error {
	err := in.store.UpsertPost(ctx, metricstore.Post{
		Platform:  metricstore.PlatformLinkedin,
		PageID:    in.orgURN,
		PostID:    post.ID,
		Permalink: post.Permalink,
		PostedAt:  post.CreatedAt,
		Text:      post.Text,
		Format:    strings.ToUpper(post.Format),
	})
	if err != nil {
		return err
	}

	var likes, comments, shares int64
	if post.ActivityURN != "" {
		counts, err := in.socialCounts(ctx, post.ActivityURN)
		if err != nil {
			in.log.Warn("social counts unavailable", "post", post.ID, "err", err)
		} else {
			likes, comments, shares = counts.likes, counts.comments, counts.shares
		}
	}

	return in.store.UpsertDailyPostMetrics(ctx, metricstore.DailyKey{
		Platform: metricstore.PlatformLinkedin,
		PageID:   in.orgURN,
		PostID:   post.ID,
		Date:     post.CreatedAt,
	}, metricstore.DailyMetrics{
		Reactions: likes,
		Likes:     likes,
		Comments:  comments,
		Shares:    shares,
	})
}

type linkedinSocialCounts struct {
	likes, comments, shares int64
}

func (in linkedinIngestor) socialCounts(ctx context.Context, activityURN string) (linkedinSocialCounts, error) {
	var res struct {
		LikesSummary struct {
			TotalLikes int64 `json:"totalLikes"`
		} `json:"likesSummary"`
		CommentsSummary struct {
			TotalFirstLevelComments int64 `json:"totalFirstLevelComments"`
		} `json:"commentsSummary"`
		TotalShareStatistics int64 `json:"totalShareStatistics"`
	}
	path := "socialActions/" + url.PathEscape(activityURN)
	if err := in.client.get(ctx, "cm", path, nil, &res); err != nil {
		return linkedinSocialCounts{}, err
	}
	return linkedinSocialCounts{
		likes:    res.LikesSummary.TotalLikes,
		comments: res.CommentsSummary.TotalFirstLevelComments,
		shares:   res.TotalShareStatistics,
	}, nil
}

type linkedinFollowerStats struct {
	TimeRange struct {
		End int64 `json:"end"`
	} `json:"timeRange"`
	FollowerCounts struct {
		OrganicFollowerCount *int64 `json:"organicFollowerCount"`
	} `json:"followerCounts"`
	FollowerGains struct {
		OrganicFollowerGain int64 `json:"organicFollowerGain"`
	} `json:"followerGains"`
	FollowerCountsByCountry struct {
		Country       string `json:"country"`
		FollowerCount int64  `json:"followerCount"`
	} `json:"followerCountsByCountry"`
}

func (in linkedinIngestor) followerStatsQuery(now time.Time) url.Values {
	end := chrono.Day(now)
	start := end.AddDate(0, 0, -60)
	return url.Values{
		"q":                                 {"organizationalEntity"},
		"organizationalEntity":              {in.orgURN},
		"timeIntervals.timeGranularityType": {"DAY"},
		"timeIntervals.timeRange.start":     {strconv.FormatInt(start.UnixMilli(), 10)},
		"timeIntervals.timeRange.end":       {strconv.FormatInt(end.UnixMilli(), 10)},
	}
}

func (in linkedinIngestor) ingestFollowersWeekly(ctx context.Context, now time.Time, kind string) error {
	var res struct {
		Elements []linkedinFollowerStats `json:"elements"`
	}
	err := in.client.get(ctx, kind, "organizationFollowerStatistics", in.followerStatsQuery(now), &res)
	if err != nil {
		return err
	}

	series := map[time.Time]insights.Counters{}
	for _, e := range res.Elements {
		if e.TimeRange.End == 0 {
			continue
		}
		day := chrono.Day(time.UnixMilli(e.TimeRange.End))
		count := e.FollowerGains.OrganicFollowerGain
		if e.FollowerCounts.OrganicFollowerCount != nil {
			count = *e.FollowerCounts.OrganicFollowerCount
		}
		series[day] = insights.Counters{"followers": count}
	}

	for _, point := range insights.ReduceWeekly(insights.PointsOf(series)) {
		err := in.store.UpsertWeeklyPageStats(ctx, metricstore.WeeklyPageStats{
			Platform:       metricstore.PlatformLinkedin,
			PageID:         in.orgURN,
			CutoffDate:     point.Date,
			TotalFollowers: point.Counters["followers"],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (in linkedinIngestor) ingestAudience(ctx context.Context, now time.Time, kind string) error {
	query := in.followerStatsQuery(now)
	query.Set("aggregation", "COUNTRY")

	var res struct {
		Elements []linkedinFollowerStats `json:"elements"`
	}
	err := in.client.get(ctx, kind, "organizationFollowerStatistics", query, &res)
	if err != nil {
		return err
	}

	type latestEntry struct {
		date  time.Time
		count int64
	}
	latest := map[string]latestEntry{}
	for _, e := range res.Elements {
		country := e.FollowerCountsByCountry.Country
		if country == "" || e.TimeRange.End == 0 {
			continue
		}
		day := chrono.Day(time.UnixMilli(e.TimeRange.End))
		cur, ok := latest[country]
		if !ok || !day.Before(cur.date) {
			latest[country] = latestEntry{date: day, count: e.FollowerCountsByCountry.FollowerCount}
		}
	}
	if len(latest) == 0 {
		return nil
	}

	counts := make(map[string]int64, len(latest))
	for country, entry := range latest {
		counts[strings.ToUpper(country)] = entry.count
	}
	return in.store.ReplaceAudienceSegments(ctx,
		metricstore.PlatformLinkedin, in.orgURN,
		chrono.Day(now), metricstore.DimensionCountry,
		segmentsOf(counts),
	)
}

func listParam(urn string) string {
	return "List(" + url.QueryEscape(urn) + ")"
}
