package defense

import (
	"context"
	"sort"
	"time"
)

const (
	statsWindow       = time.Hour
	topThreatsLimit   = 5
	defaultEventLimit = 100
)

// GetSecurityStats summarises the tracked clients and the last hour of events.
func (e *Engine) GetSecurityStats(ctx context.Context) SecurityStats {
	stats := SecurityStats{TopThreats: []ThreatCount{}}
	e.do(ctx, func(tx *txn) {
		if err := e.ips.Range(tx.ctx, func(_ string, info *IPInfo) bool {
			stats.TotalIPs++
			if info.RiskScore > highRiskScore {
				stats.HighRiskIPs++
			}
			return true
		}); err != nil {
			e.log.WithError(err).Error("failed to list ip records")
		}

		if n, err := e.blocked.Len(tx.ctx); err != nil {
			e.log.WithError(err).Error("failed to count blocked ips")
		} else {
			stats.BlockedIPs = n
		}

		since := tx.now.Add(-statsWindow)
		counts := make(map[EventType]int)
		for i := len(e.events) - 1; i >= 0; i-- {
			ev := e.events[i]
			if !ev.Timestamp.After(since) {
				break
			}
			stats.RecentEvents++
			counts[ev.Type]++
			if ev.Type == EventRateLimit {
				stats.RateLimitHits++
			}
		}

		for t, c := range counts {
			stats.TopThreats = append(stats.TopThreats, ThreatCount{Type: t, Count: c})
		}
		sort.Slice(stats.TopThreats, func(i, j int) bool {
			a, b := stats.TopThreats[i], stats.TopThreats[j]
			if a.Count != b.Count {
				return a.Count > b.Count
			}
			return a.Type < b.Type
		})
		if len(stats.TopThreats) > topThreatsLimit {
			stats.TopThreats = stats.TopThreats[:topThreatsLimit]
		}
	})
	return stats
}

// GetRecentEvents returns up to limit events, newest first. A non-positive
// limit means 100.
func (e *Engine) GetRecentEvents(limit int) []SecurityEvent {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if limit > len(e.events) {
		limit = len(e.events)
	}
	out := make([]SecurityEvent, 0, limit)
	for i := len(e.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.events[i])
	}
	return out
}

// GetIPInfo returns a copy of what is known about id, or nil.
func (e *Engine) GetIPInfo(ctx context.Context, id string) *IPInfo {
	var info *IPInfo
	e.do(ctx, func(tx *txn) { info = e.loadIP(tx, id).Clone() })
	return info
}
