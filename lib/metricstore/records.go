package metricstore

import (
	"fmt"
	"time"
)

const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformLinkedin  = "linkedin"
	PlatformTiktok    = "tiktok"
)

// Page is a platform account metrics hang off of.
type Page struct {
	Platform string
	PageID   string
	Name     string
}

// Post is a post/media/video catalog entry.
type Post struct {
	Platform  string
	PageID    string
	PostID    string
	Permalink string
	PostedAt  time.Time
	Text      string
	Format    string
}

// DailyKey uniquely identifies one entity's metrics for one calendar day.
type DailyKey struct {
	Platform string
	PageID   string
	PostID   string
	Date     time.Time
}

// DailyMetrics is one day's canonical counters for an entity. Counters a
// platform doesn't expose stay at their zero value, which is exactly the
// "default missing fields to 0" rule the delta computation relies on.
// AvgWatchSeconds and CTR are genuinely optional (nil = not reported).
type DailyMetrics struct {
	Views           int64
	Reach           int64
	Impressions     int64
	AvgWatchSeconds *float64
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
	CTR             *float64
}

// DeltaSet holds the signed day-over-day change of each cumulative
// counter versus the most recent earlier record of the same entity.
type DeltaSet struct {
	Views     int64
	Reach     int64
	Reactions int64
	Comments  int64
	Shares    int64
	Saves     int64
}

// WeeklyPageStats is a page-level weekly snapshot. Absolute values only;
// weekly rows never carry deltas.
type WeeklyPageStats struct {
	Platform       string
	PageID         string
	CutoffDate     time.Time
	TotalFollowers int64
	Reach          int64
	Impressions    int64
	VideoViews     int64
}

// Dimension is an audience segmentation axis.
type Dimension string

const (
	DimensionGender  Dimension = "gender"
	DimensionCountry Dimension = "country"
	DimensionCity    Dimension = "city"
	DimensionAge     Dimension = "age"
	// DimensionEducation has no producer among the current platforms; it
	// completes the stored segment vocabulary.
	DimensionEducation Dimension = "education"
)

// AudienceSegment is one observed value of a dimension and its follower
// count at a cutoff date.
type AudienceSegment struct {
	Value string
	Count int64
}

// InvalidRecordError means a record is missing part of its key. It is
// raised before any statement touches the database.
type InvalidRecordError struct {
	Field string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record: missing %s", e.Field)
}

// StorageError wraps a persistence-layer failure for one record. Callers
// are expected to log it and continue with sibling records.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
