package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/router-for-me/AutoRouter/internal/models"
)

// StatsRange selects the window aggregated by the stats queries.
type StatsRange string

const (
	RangeToday  StatsRange = "today"
	Range7Days  StatsRange = "7d"
	Range30Days StatsRange = "30d"
)

const (
	defaultLeaderboardLimit = 5
	maxLeaderboardLimit     = 50
	unknownName             = "Unknown"
)

var errInvalidRange = errors.New("range must be one of today, 7d, 30d")

// ParseStatsRange parses a range query value. Empty selects 7d.
func ParseStatsRange(raw string) (StatsRange, error) {
	switch StatsRange(strings.TrimSpace(raw)) {
	case "":
		return Range7Days, nil
	case RangeToday:
		return RangeToday, nil
	case Range7Days:
		return Range7Days, nil
	case Range30Days:
		return Range30Days, nil
	default:
		return "", errInvalidRange
	}
}

// Start returns the UTC midnight that opens the range.
func (r StatsRange) Start(now time.Time) time.Time {
	now = now.UTC()
	switch r {
	case Range7Days:
		now = now.AddDate(0, 0, -7)
	case Range30Days:
		now = now.AddDate(0, 0, -30)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// Granularity is "hour" for today and "day" otherwise.
func (r StatsRange) Granularity() string {
	if r == RangeToday {
		return "hour"
	}
	return "day"
}

func (r StatsRange) truncate(t time.Time) time.Time {
	t = t.UTC()
	if r == RangeToday {
		return t.Truncate(time.Hour)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Overview summarizes today's traffic.
type Overview struct {
	TodayRequests     int64   `json:"today_requests"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	TotalTokensToday  int64   `json:"total_tokens_today"`
	SuccessRateToday  float64 `json:"success_rate_today"`
}

type overviewRow struct {
	TotalRequests int64
	AvgDuration   float64
	TotalTokens   int64
	SuccessCount  int64
}

// StatsOverview aggregates request logs since UTC midnight. With no traffic the
// success rate is 100.
func (s *GormStore) StatsOverview(ctx context.Context, now time.Time) (Overview, error) {
	if err := s.ready(); err != nil {
		return Overview{}, err
	}
	var row overviewRow
	if errScan := s.db.WithContext(ctx).Model(&models.RequestLog{}).
		Select(`COUNT(id) AS total_requests,
			COALESCE(AVG(duration_ms), 0) AS avg_duration,
			COALESCE(SUM(total_tokens), 0) AS total_tokens,
			COALESCE(SUM(CASE WHEN status_code BETWEEN 200 AND 299 THEN 1 ELSE 0 END), 0) AS success_count`).
		Where("created_at >= ?", RangeToday.Start(now).Local()).
		Scan(&row).Error; errScan != nil {
		return Overview{}, fmt.Errorf("store: stats overview: %w", errScan)
	}

	successRate := 100.0
	if row.TotalRequests > 0 {
		successRate = float64(row.SuccessCount) / float64(row.TotalRequests) * 100
	}
	return Overview{
		TodayRequests:     row.TotalRequests,
		AvgResponseTimeMs: round1(row.AvgDuration),
		TotalTokensToday:  row.TotalTokens,
		SuccessRateToday:  round1(successRate),
	}, nil
}

// TimeseriesPoint is one time bucket for one upstream.
type TimeseriesPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	RequestCount  int64     `json:"request_count"`
	TotalTokens   int64     `json:"total_tokens"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
}

// UpstreamSeries holds the buckets of one upstream.
type UpstreamSeries struct {
	UpstreamID   *uint64           `json:"upstream_id"`
	UpstreamName string            `json:"upstream_name"`
	Data         []TimeseriesPoint `json:"data"`
}

type timeseriesRow struct {
	UpstreamID  *uint64
	CreatedAt   time.Time
	TotalTokens int64
	DurationMs  int64
}

type bucketKey struct {
	upstream uint64
	known    bool
	at       time.Time
}

type bucketAcc struct {
	count    int64
	tokens   int64
	duration int64
}

// StatsTimeseries buckets request logs per upstream, hourly for today and daily
// otherwise. Series are ordered by upstream name with unknown upstreams last.
func (s *GormStore) StatsTimeseries(ctx context.Context, rng StatsRange, now time.Time) ([]UpstreamSeries, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, errRows := s.db.WithContext(ctx).Model(&models.RequestLog{}).
		Select("upstream_id, created_at, total_tokens, duration_ms").
		Where("created_at >= ?", rng.Start(now).Local()).
		Rows()
	if errRows != nil {
		return nil, fmt.Errorf("store: stats timeseries: %w", errRows)
	}
	defer func() { _ = rows.Close() }()

	buckets := make(map[bucketKey]*bucketAcc)
	for rows.Next() {
		var row timeseriesRow
		if errScan := s.db.ScanRows(rows, &row); errScan != nil {
			return nil, fmt.Errorf("store: stats timeseries scan: %w", errScan)
		}
		key := bucketKey{at: rng.truncate(row.CreatedAt)}
		if row.UpstreamID != nil {
			key.upstream, key.known = *row.UpstreamID, true
		}
		acc := buckets[key]
		if acc == nil {
			acc = &bucketAcc{}
			buckets[key] = acc
		}
		acc.count++
		acc.tokens += row.TotalTokens
		acc.duration += row.DurationMs
	}
	if errIter := rows.Err(); errIter != nil {
		return nil, fmt.Errorf("store: stats timeseries: %w", errIter)
	}

	names, errNames := s.upstreamNames(ctx, bucketUpstreamIDs(buckets))
	if errNames != nil {
		return nil, errNames
	}

	byUpstream := make(map[bucketKey]*UpstreamSeries)
	for key, acc := range buckets {
		seriesKey := bucketKey{upstream: key.upstream, known: key.known}
		series := byUpstream[seriesKey]
		if series == nil {
			series = &UpstreamSeries{UpstreamName: unknownName}
			if key.known {
				id := key.upstream
				series.UpstreamID = &id
				if name, ok := names[id]; ok {
					series.UpstreamName = name
				}
			}
			byUpstream[seriesKey] = series
		}
		series.Data = append(series.Data, TimeseriesPoint{
			Timestamp:     key.at,
			RequestCount:  acc.count,
			TotalTokens:   acc.tokens,
			AvgDurationMs: round1(float64(acc.duration) / float64(acc.count)),
		})
	}

	out := make([]UpstreamSeries, 0, len(byUpstream))
	for _, series := range byUpstream {
		sort.Slice(series.Data, func(i, j int) bool { return series.Data[i].Timestamp.Before(series.Data[j].Timestamp) })
		out = append(out, *series)
	}
	sort.Slice(out, func(i, j int) bool {
		iUnknown, jUnknown := out[i].UpstreamID == nil, out[j].UpstreamID == nil
		if iUnknown != jUnknown {
			return jUnknown
		}
		return out[i].UpstreamName < out[j].UpstreamName
	})
	return out, nil
}

func bucketUpstreamIDs(buckets map[bucketKey]*bucketAcc) []uint64 {
	seen := make(map[uint64]struct{})
	ids := make([]uint64, 0)
	for key := range buckets {
		if !key.known {
			continue
		}
		if _, ok := seen[key.upstream]; ok {
			continue
		}
		seen[key.upstream] = struct{}{}
		ids = append(ids, key.upstream)
	}
	return ids
}

func (s *GormStore) upstreamNames(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	names := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var rows []models.Upstream
	if errFind := s.db.WithContext(ctx).Select("id, name").Where("id IN ?", ids).Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: upstream names: %w", errFind)
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}

// LeaderboardKey ranks a client key.
type LeaderboardKey struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	KeyPrefix    string `json:"key_prefix"`
	RequestCount int64  `json:"request_count"`
	TotalTokens  int64  `json:"total_tokens"`
}

// LeaderboardUpstream ranks an upstream.
type LeaderboardUpstream struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Provider     string `json:"provider"`
	RequestCount int64  `json:"request_count"`
	TotalTokens  int64  `json:"total_tokens"`
}

// LeaderboardModel ranks a model name.
type LeaderboardModel struct {
	Model        string `json:"model"`
	RequestCount int64  `json:"request_count"`
	TotalTokens  int64  `json:"total_tokens"`
}

// Leaderboard holds the top keys, upstreams, and models by request count.
type Leaderboard struct {
	APIKeys   []LeaderboardKey      `json:"api_keys"`
	Upstreams []LeaderboardUpstream `json:"upstreams"`
	Models    []LeaderboardModel    `json:"models"`
}

type groupCountRow struct {
	GroupID      uint64
	Model        string
	RequestCount int64
	TotalTokens  int64
}

// ClampLeaderboardLimit bounds limit to 1..50, treating zero as the default of 5.
func ClampLeaderboardLimit(limit int) int {
	if limit == 0 {
		return defaultLeaderboardLimit
	}
	return min(maxLeaderboardLimit, max(1, limit))
}

// StatsLeaderboard returns the top entries of each category within rng.
func (s *GormStore) StatsLeaderboard(ctx context.Context, rng StatsRange, limit int, now time.Time) (Leaderboard, error) {
	if err := s.ready(); err != nil {
		return Leaderboard{}, err
	}
	limit = ClampLeaderboardLimit(limit)
	start := rng.Start(now).Local()
	out := Leaderboard{
		APIKeys:   []LeaderboardKey{},
		Upstreams: []LeaderboardUpstream{},
		Models:    []LeaderboardModel{},
	}

	keyRows, errKeys := s.topBy(ctx, "client_key_id", start, limit)
	if errKeys != nil {
		return out, errKeys
	}
	keyIDs := make([]uint64, 0, len(keyRows))
	for _, row := range keyRows {
		keyIDs = append(keyIDs, row.GroupID)
	}
	var keys []models.ClientKey
	if len(keyIDs) > 0 {
		if errFind := s.db.WithContext(ctx).Select("id, name, key_prefix").Where("id IN ?", keyIDs).Find(&keys).Error; errFind != nil {
			return out, fmt.Errorf("store: leaderboard keys: %w", errFind)
		}
	}
	keyByID := make(map[uint64]models.ClientKey, len(keys))
	for _, key := range keys {
		keyByID[key.ID] = key
	}
	for _, row := range keyRows {
		item := LeaderboardKey{ID: row.GroupID, Name: unknownName, KeyPrefix: "sk-****", RequestCount: row.RequestCount, TotalTokens: row.TotalTokens}
		if key, ok := keyByID[row.GroupID]; ok {
			item.Name, item.KeyPrefix = key.Name, key.KeyPrefix
		}
		out.APIKeys = append(out.APIKeys, item)
	}

	upstreamRows, errUpstreams := s.topBy(ctx, "upstream_id", start, limit)
	if errUpstreams != nil {
		return out, errUpstreams
	}
	upstreamIDs := make([]uint64, 0, len(upstreamRows))
	for _, row := range upstreamRows {
		upstreamIDs = append(upstreamIDs, row.GroupID)
	}
	var upstreams []models.Upstream
	if len(upstreamIDs) > 0 {
		if errFind := s.db.WithContext(ctx).Select("id, name, provider").Where("id IN ?", upstreamIDs).Find(&upstreams).Error; errFind != nil {
			return out, fmt.Errorf("store: leaderboard upstreams: %w", errFind)
		}
	}
	upstreamByID := make(map[uint64]models.Upstream, len(upstreams))
	for _, up := range upstreams {
		upstreamByID[up.ID] = up
	}
	for _, row := range upstreamRows {
		item := LeaderboardUpstream{ID: row.GroupID, Name: unknownName, Provider: "unknown", RequestCount: row.RequestCount, TotalTokens: row.TotalTokens}
		if up, ok := upstreamByID[row.GroupID]; ok {
			item.Name, item.Provider = up.Name, up.Provider
		}
		out.Upstreams = append(out.Upstreams, item)
	}

	var modelRows []groupCountRow
	if errScan := s.db.WithContext(ctx).Model(&models.RequestLog{}).
		Select("model, COUNT(id) AS request_count, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("created_at >= ?", start).
		Where("model IS NOT NULL AND model <> ''").
		Group("model").
		Order("request_count DESC, model ASC").
		Limit(limit).
		Scan(&modelRows).Error; errScan != nil {
		return out, fmt.Errorf("store: leaderboard models: %w", errScan)
	}
	for _, row := range modelRows {
		out.Models = append(out.Models, LeaderboardModel{Model: row.Model, RequestCount: row.RequestCount, TotalTokens: row.TotalTokens})
	}
	return out, nil
}

// topBy groups request logs by a foreign key column. column is never user input.
func (s *GormStore) topBy(ctx context.Context, column string, start time.Time, limit int) ([]groupCountRow, error) {
	var rows []groupCountRow
	if errScan := s.db.WithContext(ctx).Model(&models.RequestLog{}).
		Select(column+" AS group_id, COUNT(id) AS request_count, COALESCE(SUM(total_tokens), 0) AS total_tokens").
		Where("created_at >= ?", start).
		Where(column + " IS NOT NULL").
		Group(column).
		Order("request_count DESC, group_id ASC").
		Limit(limit).
		Scan(&rows).Error; errScan != nil {
		return nil, fmt.Errorf("store: leaderboard by %s: %w", column, errScan)
	}
	return rows, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
