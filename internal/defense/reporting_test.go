package defense

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecurityStats(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)

	// an old event outside the reporting hour
	e.CreateSecurityEvent(ctx, SecurityEvent{Type: EventBruteForce, Severity: SeverityCritical})
	clock.Advance(2 * time.Hour)

	for i := 0; i < 3; i++ {
		e.ProcessRequest(newRequest(http.MethodPost, "/x", "192.0.2.110", "<script>"))
	}
	for i := 0; i < 6; i++ {
		e.ProcessRequest(newRequest(http.MethodGet, "/api/auth/login", "192.0.2.111", ""))
	}
	require.NoError(t, e.BlockIP(ctx, "192.0.2.112", time.Hour))

	stats := e.GetSecurityStats(ctx)
	assert.Equal(t, 3, stats.TotalIPs)
	assert.Equal(t, 1, stats.BlockedIPs)
	assert.Equal(t, 1, stats.HighRiskIPs, "sixty points is high risk")
	assert.Equal(t, 4, stats.RecentEvents)
	assert.Equal(t, 1, stats.RateLimitHits)
	assert.Equal(t, []ThreatCount{
		{Type: EventMaliciousRequest, Count: 3},
		{Type: EventRateLimit, Count: 1},
	}, stats.TopThreats)
}

func TestGetSecurityStats_TopFive(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	for i, typ := range []EventType{"a", "b", "c", "d", "e", "f"} {
		for j := 0; j <= i; j++ {
			e.CreateSecurityEvent(ctx, SecurityEvent{Type: typ, Severity: SeverityLow})
		}
	}

	stats := e.GetSecurityStats(ctx)
	require.Len(t, stats.TopThreats, 5)
	assert.Equal(t, EventType("f"), stats.TopThreats[0].Type)
	assert.Equal(t, EventType("b"), stats.TopThreats[4].Type)
}

func TestGetRecentEvents(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)

	for i := 0; i < 150; i++ {
		e.CreateSecurityEvent(ctx, SecurityEvent{
			Type:      EventSuspiciousActivity,
			Severity:  SeverityLow,
			IPAddress: fmt.Sprintf("10.0.0.%d", i),
		})
		clock.Advance(time.Second)
	}

	events := e.GetRecentEvents(0)
	require.Len(t, events, 100)
	assert.Equal(t, "10.0.0.149", events[0].IPAddress)
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))

	assert.Len(t, e.GetRecentEvents(5), 5)
	assert.Len(t, e.GetRecentEvents(1000), 150)
}

func TestGetIPInfo_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	assert.Nil(t, e.GetIPInfo(ctx, "192.0.2.120"))

	e.TrackActivity(ctx, "192.0.2.120", "http://shop.test/", http.StatusOK)
	info := e.GetIPInfo(ctx, "192.0.2.120")
	info.Requests[0].Status = 500
	info.RiskScore = 99

	again := e.GetIPInfo(ctx, "192.0.2.120")
	assert.Equal(t, http.StatusOK, again.Requests[0].Status)
	assert.Zero(t, again.RiskScore)
}

func TestSweepIPs(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)

	e.TrackActivity(ctx, "192.0.2.130", "http://shop.test/old", http.StatusOK)
	e.CreateSecurityEvent(ctx, SecurityEvent{Type: EventRateLimit, Severity: SeverityMedium})
	clock.Advance(2 * time.Hour)
	e.TrackActivity(ctx, "192.0.2.130", "http://shop.test/new", http.StatusOK)

	rep := e.SweepIPs(ctx)
	assert.Equal(t, 1, rep.PurgedRequests)
	assert.Zero(t, rep.EvictedIPs)
	assert.Zero(t, rep.PurgedEvents)

	info := e.GetIPInfo(ctx, "192.0.2.130")
	require.Len(t, info.Requests, 1)
	assert.Equal(t, "http://shop.test/new", info.Requests[0].Endpoint)

	clock.Advance(23 * time.Hour)
	rep = e.SweepIPs(ctx)
	assert.Equal(t, 1, rep.PurgedEvents, "events older than a day are dropped")

	clock.Advance(2 * time.Hour)
	rep = e.SweepIPs(ctx)
	assert.Equal(t, 1, rep.EvictedIPs)
	assert.Nil(t, e.GetIPInfo(ctx, "192.0.2.130"))
}

func TestSweepIPs_UnblocksExpiredAndKeepsBlocked(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)

	past := clock.Now().Add(-time.Minute)
	require.NoError(t, e.ips.Set(ctx, "192.0.2.131", &IPInfo{
		IP: "192.0.2.131", LastSeen: clock.Now(), Blocked: true, BlockedUntil: &past, RiskScore: 50,
	}, 0))

	future := clock.Now().Add(48 * time.Hour)
	stale := clock.Now().Add(-48 * time.Hour)
	require.NoError(t, e.ips.Set(ctx, "192.0.2.132", &IPInfo{
		IP: "192.0.2.132", LastSeen: stale, Blocked: true, BlockedUntil: &future,
	}, 0))

	rep := e.SweepIPs(ctx)
	assert.Equal(t, 1, rep.Unblocked)
	assert.Zero(t, rep.EvictedIPs, "blocked clients are never evicted")

	info := e.GetIPInfo(ctx, "192.0.2.131")
	assert.False(t, info.Blocked)
	assert.Equal(t, 30, info.RiskScore)
	assert.NotNil(t, e.GetIPInfo(ctx, "192.0.2.132"))
}

func TestSweepCounters(t *testing.T) {
	ctx := context.Background()
	e, clock := newTestEngine(t)

	e.ProcessRequest(newRequest(http.MethodGet, "/api/contact", "192.0.2.140", ""))
	e.ProcessRequest(newRequest(http.MethodGet, "/blog", "192.0.2.140", ""))

	clock.Advance(20 * time.Minute)
	assert.Equal(t, 1, e.SweepCounters(ctx), "only the 15 minute window has closed")

	clock.Advance(time.Hour)
	assert.Equal(t, 1, e.SweepCounters(ctx))
}

func TestCreateSecurityEvent_LogBounded(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	first := e.CreateSecurityEvent(ctx, SecurityEvent{Type: EventSuspiciousActivity, Severity: SeverityLow, IPAddress: "10.1.0.1"})
	var last SecurityEvent
	for i := 0; i < maxEvents; i++ {
		last = e.CreateSecurityEvent(ctx, SecurityEvent{Type: EventSuspiciousActivity, Severity: SeverityLow, IPAddress: "10.1.0.2"})
	}

	events := e.GetRecentEvents(2 * maxEvents)
	require.Len(t, events, maxEvents)
	for _, ev := range events {
		require.NotEqual(t, first.ID, ev.ID, "oldest event should be evicted")
	}
	assert.Equal(t, last.ID, e.events[len(e.events)-1].ID)
	assert.Equal(t, "10.1.0.2", e.events[0].IPAddress)
}
