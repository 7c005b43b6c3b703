// Package ingest pulls engagement metrics out of the social platform APIs
// and writes them through the metric store. Each platform runs its own
// orchestrator; a failing entity inside a run is logged and substituted,
// a failing run is reported without stopping the other platforms.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"socialmetrics-backend/lib/chrono"
	"socialmetrics-backend/lib/insights"
	"socialmetrics-backend/lib/metricstore"
)

var tracer = otel.Tracer("services/ingest")

type Config struct {
	Facebook  *FacebookConfig  `json:"facebook"`
	Instagram *InstagramConfig `json:"instagram"`
	Linkedin  *LinkedinConfig  `json:"linkedin"`
	Tiktok    *TiktokConfig    `json:"tiktok"`
}

type Service struct {
	cfg   Config
	store *metricstore.Store
}

func NewService(cfg Config, store *metricstore.Store) Service {
	return Service{cfg: cfg, store: store}
}

// Run ingests every configured platform once, sequentially. A platform
// failure is logged and joined into the returned error but never stops
// the remaining platforms.
func (s Service) Run(ctx context.Context, now time.Time) error {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	type platformRun struct {
		name string
		run  func(context.Context, time.Time) error
	}
	var runs []platformRun
	if s.cfg.Facebook != nil {
		runs = append(runs, platformRun{metricstore.PlatformFacebook, s.runFacebook})
	}
	if s.cfg.Instagram != nil {
		runs = append(runs, platformRun{metricstore.PlatformInstagram, s.runInstagram})
	}
	if s.cfg.Linkedin != nil {
		runs = append(runs, platformRun{metricstore.PlatformLinkedin, s.runLinkedin})
	}
	if s.cfg.Tiktok != nil {
		runs = append(runs, platformRun{metricstore.PlatformTiktok, s.runTiktok})
	}
	if len(runs) == 0 {
		return errors.New("no platforms configured")
	}

	var failures []error
	for _, p := range runs {
		slog.Info("ingesting platform", "platform", p.name)
		err := p.run(ctx, now)
		if err != nil {
			slog.Error("platform ingestion failed", "platform", p.name, "err", err)
			span.RecordError(err)
			failures = append(failures, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		slog.Info("platform ingested", "platform", p.name)
	}
	if len(failures) > 0 {
		err := errors.Join(failures...)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func spanPlatform(name string) attribute.KeyValue {
	return attribute.String("platform", name)
}

// segmentsOf flattens a value→count map into sorted audience segment rows.
func segmentsOf(counts map[string]int64) []metricstore.AudienceSegment {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]metricstore.AudienceSegment, 0, len(keys))
	for _, k := range keys {
		out = append(out, metricstore.AudienceSegment{Value: k, Count: counts[k]})
	}
	return out
}

// weeklyBreakdownPoints adapts a lifetime breakdown metric into daily
// points so the weekly reducer can pick one snapshot per ISO week.
func weeklyBreakdownPoints(m insights.Metric) []insights.DailyPoint {
	var points []insights.DailyPoint
	for _, v := range m.Values {
		day, err := chrono.ParseDay(v.EndTime)
		if err != nil {
			continue
		}
		points = append(points, insights.DailyPoint{
			Date:     day,
			Counters: insights.Counters(v.Breakdown()),
		})
	}
	return points
}
