package db

import "database/sql"

type Page struct {
	Platform string
	PageID   string
	Name     string
}

type Post struct {
	Platform  string
	PageID    string
	PostID    string
	Permalink sql.NullString
	PostedAt  sql.NullString
	Text      sql.NullString
	Format    string
}

type PostMetricsDaily struct {
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

type PageStatsWeekly struct {
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

type AudienceSegmentWeekly struct {
	Platform       string
	PageID         string
	CutoffDate     string
	Dimension      string
	DimensionValue string
	FollowerCount  int64
}
