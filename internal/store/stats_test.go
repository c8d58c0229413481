package store

import (
	"context"
	"testing"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

func seedStatsLogs(t *testing.T, s *GormStore, now time.Time) (models.Upstream, models.ClientKey) {
	t.Helper()
	ctx := context.Background()
	up := seedUpstream(t, s, "alpha", true)
	key := models.ClientKey{KeyHash: "hash-s", KeyPrefix: "sk-auto-ssss", Name: "stats", Active: true}
	if err := s.CreateClientKey(ctx, &key, []uint64{up.ID}); err != nil {
		t.Fatalf("create key: %v", err)
	}
	gpt, claude := "gpt-4o", "claude-3"
	old := now.AddDate(0, 0, -10)
	rows := []models.RequestLog{
		{ClientKeyID: &key.ID, UpstreamID: &up.ID, Model: &gpt, StatusCode: 200, TotalTokens: 10, DurationMs: 100, CreatedAt: now},
		{ClientKeyID: &key.ID, UpstreamID: &up.ID, Model: &gpt, StatusCode: 200, TotalTokens: 20, DurationMs: 200, CreatedAt: now},
		{ClientKeyID: &key.ID, UpstreamID: &up.ID, Model: &claude, StatusCode: 502, DurationMs: 300, CreatedAt: now},
		{StatusCode: 401, CreatedAt: now},
		{ClientKeyID: &key.ID, UpstreamID: &up.ID, Model: &claude, StatusCode: 200, TotalTokens: 99, DurationMs: 50, CreatedAt: old},
	}
	if err := s.DB().Create(&rows).Error; err != nil {
		t.Fatalf("seed logs: %v", err)
	}
	return up, key
}

func TestStatsOverview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	empty, err := s.StatsOverview(ctx, now)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if empty.TodayRequests != 0 || empty.SuccessRateToday != 100 {
		t.Fatalf("unexpected empty overview %+v", empty)
	}

	seedStatsLogs(t, s, now)
	overview, err := s.StatsOverview(ctx, now)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if overview.TodayRequests != 4 || overview.TotalTokensToday != 30 {
		t.Fatalf("unexpected overview %+v", overview)
	}
	if overview.SuccessRateToday != 50 || overview.AvgResponseTimeMs != 150 {
		t.Fatalf("unexpected rates %+v", overview)
	}
}

func TestStatsTimeseries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	up, _ := seedStatsLogs(t, s, now)

	series, err := s.StatsTimeseries(ctx, Range7Days, now)
	if err != nil {
		t.Fatalf("timeseries: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %+v", series)
	}
	first := series[0]
	if first.UpstreamID == nil || *first.UpstreamID != up.ID || first.UpstreamName != "alpha" {
		t.Fatalf("unexpected first series %+v", first)
	}
	if len(first.Data) != 1 || first.Data[0].RequestCount != 3 || first.Data[0].TotalTokens != 30 || first.Data[0].AvgDurationMs != 200 {
		t.Fatalf("unexpected buckets %+v", first.Data)
	}
	if series[1].UpstreamID != nil || series[1].UpstreamName != "Unknown" {
		t.Fatalf("unknown series should be last: %+v", series[1])
	}

	wide, err := s.StatsTimeseries(ctx, Range30Days, now)
	if err != nil {
		t.Fatalf("timeseries 30d: %v", err)
	}
	if len(wide[0].Data) != 2 {
		t.Fatalf("expected old bucket in 30d range: %+v", wide[0].Data)
	}
}

func TestStatsLeaderboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	up, key := seedStatsLogs(t, s, now)

	board, err := s.StatsLeaderboard(ctx, Range7Days, 0, now)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.APIKeys) != 1 || board.APIKeys[0].ID != key.ID || board.APIKeys[0].RequestCount != 3 || board.APIKeys[0].KeyPrefix != "sk-auto-ssss" {
		t.Fatalf("unexpected key board %+v", board.APIKeys)
	}
	if len(board.Upstreams) != 1 || board.Upstreams[0].ID != up.ID || board.Upstreams[0].Provider != "openai" {
		t.Fatalf("unexpected upstream board %+v", board.Upstreams)
	}
	if len(board.Models) != 2 || board.Models[0].Model != "gpt-4o" || board.Models[0].RequestCount != 2 {
		t.Fatalf("unexpected model board %+v", board.Models)
	}

	limited, err := s.StatsLeaderboard(ctx, Range30Days, 1, now)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(limited.Models) != 1 {
		t.Fatalf("limit not applied: %+v", limited.Models)
	}
}

func TestParseStatsRange(t *testing.T) {
	if rng, err := ParseStatsRange(""); err != nil || rng != Range7Days {
		t.Fatalf("default range: %v %v", rng, err)
	}
	if _, err := ParseStatsRange("1y"); err == nil {
		t.Fatalf("expected invalid range error")
	}
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	if got := RangeToday.Start(now); !got.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("today start = %v", got)
	}
	if got := Range7Days.Start(now); !got.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("7d start = %v", got)
	}
	if ClampLeaderboardLimit(500) != 50 || ClampLeaderboardLimit(-3) != 1 || ClampLeaderboardLimit(0) != 5 {
		t.Fatalf("unexpected clamp")
	}
}
