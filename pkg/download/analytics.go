package download

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/auditdelivery/internal/db"
)

// MaxRecentActivity bounds the recent-activity slice returned by Analytics.
const MaxRecentActivity = 50

// AnalyticsWindow is the default lookback for the daily histogram.
const AnalyticsWindow = 30 * 24 * time.Hour

// Analytics summarizes download link activity for an organization.
type Analytics struct {
	TotalLinks     int
	TotalAccesses  int
	UniqueUsers    int
	TopObjectTypes []ObjectTypeCount
	DailyHistogram []DailyCount
	RecentActivity []ActivityEntry
}

// ObjectTypeCount is one entry of the top-object-types breakdown.
type ObjectTypeCount struct {
	ObjectType string
	Count      int
}

// DailyCount is one day's access count in the histogram.
type DailyCount struct {
	Date  string
	Count int
}

// ActivityEntry is one recorded access, flattened for the activity feed.
type ActivityEntry struct {
	LinkID     uuid.UUID
	ObjectType string
	At         time.Time
	Success    bool
	UserID     string
}

// GetAnalytics aggregates link and access data for orgId within [start, end),
// optionally filtered to one objectType.
func (m *Manager) GetAnalytics(ctx context.Context, orgID uuid.UUID, start, end time.Time, objectType string) (Analytics, error) {
	links, err := m.links.ListByOrg(ctx, orgID, start, end, objectType)
	if err != nil {
		return Analytics{}, fmt.Errorf("download: listing links for analytics: %w", err)
	}

	typeCounts := map[string]int{}
	dayCounts := map[string]int{}
	users := map[string]bool{}
	var activity []ActivityEntry
	totalAccesses := 0

	for _, link := range links {
		typeCounts[link.ObjectType]++
		for _, rec := range link.AccessedBy {
			if rec.At.Before(start) || !rec.At.Before(end) {
				continue
			}
			totalAccesses++
			dayCounts[rec.At.UTC().Format("2006-01-02")]++
			if rec.UserID != "" {
				users[rec.UserID] = true
			}
			activity = append(activity, ActivityEntry{
				LinkID:     link.ID,
				ObjectType: link.ObjectType,
				At:         rec.At,
				Success:    rec.Success,
				UserID:     rec.UserID,
			})
		}
	}

	sort.Slice(activity, func(i, j int) bool { return activity[i].At.After(activity[j].At) })
	if len(activity) > MaxRecentActivity {
		activity = activity[:MaxRecentActivity]
	}

	return Analytics{
		TotalLinks:     len(links),
		TotalAccesses:  totalAccesses,
		UniqueUsers:    len(users),
		TopObjectTypes: topObjectTypes(typeCounts),
		DailyHistogram: dailyHistogram(dayCounts, start, end),
		RecentActivity: activity,
	}, nil
}

func topObjectTypes(counts map[string]int) []ObjectTypeCount {
	out := make([]ObjectTypeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, ObjectTypeCount{ObjectType: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ObjectType < out[j].ObjectType
	})
	return out
}

func dailyHistogram(counts map[string]int, start, end time.Time) []DailyCount {
	var out []DailyCount
	for d := start.UTC().Truncate(24 * time.Hour); d.Before(end); d = d.Add(24 * time.Hour) {
		key := d.Format("2006-01-02")
		out = append(out, DailyCount{Date: key, Count: counts[key]})
	}
	return out
}

// LinkStats aggregates access patterns for a single link.
type LinkStats struct {
	HourlyLast24h []HourlyCount
	DailyLast30d  []DailyCount
	TopUserAgents []AgentCount
	TopIPs        []AgentCount
	SuccessRate   float64
}

// HourlyCount is one hour's access count.
type HourlyCount struct {
	Hour  string
	Count int
}

// AgentCount is one user-agent or IP's access count.
type AgentCount struct {
	Value string
	Count int
}

// GetLinkStats aggregates per-hour (24h), per-day (30d), top user agents and
// IPs, and overall success rate for a single link.
func (m *Manager) GetLinkStats(ctx context.Context, linkID uuid.UUID) (LinkStats, error) {
	link, err := m.links.Get(ctx, linkID)
	if err != nil {
		return LinkStats{}, fmt.Errorf("download: loading link for stats: %w", err)
	}

	now := time.Now().UTC()
	hourCutoff := now.Add(-24 * time.Hour)
	dayCutoff := now.Add(-AnalyticsWindow)

	hourCounts := map[string]int{}
	dayCounts := map[string]int{}
	agentCounts := map[string]int{}
	ipCounts := map[string]int{}
	successes := 0

	for _, rec := range link.AccessedBy {
		if rec.Success {
			successes++
		}
		if rec.At.After(hourCutoff) {
			hourCounts[rec.At.Format("2006-01-02T15")]++
		}
		if rec.At.After(dayCutoff) {
			dayCounts[rec.At.Format("2006-01-02")]++
		}
		if rec.UserAgent != "" {
			agentCounts[rec.UserAgent]++
		}
		if rec.IP != "" {
			ipCounts[rec.IP]++
		}
	}

	successRate := 0.0
	if len(link.AccessedBy) > 0 {
		successRate = float64(successes) / float64(len(link.AccessedBy))
	}

	return LinkStats{
		HourlyLast24h: hourlyHistogram(hourCounts, hourCutoff, now),
		DailyLast30d:  dailyHistogram(dayCounts, dayCutoff, now),
		TopUserAgents: topAgentCounts(agentCounts),
		TopIPs:        topAgentCounts(ipCounts),
		SuccessRate:   successRate,
	}, nil
}

func hourlyHistogram(counts map[string]int, start, end time.Time) []HourlyCount {
	var out []HourlyCount
	for h := start.Truncate(time.Hour); h.Before(end); h = h.Add(time.Hour) {
		key := h.Format("2006-01-02T15")
		out = append(out, HourlyCount{Hour: key, Count: counts[key]})
	}
	return out
}

func topAgentCounts(counts map[string]int) []AgentCount {
	out := make([]AgentCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, AgentCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}
