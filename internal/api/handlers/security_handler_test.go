package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/models"
	"github.com/Wikid82/rampart/internal/services"
	"github.com/Wikid82/rampart/internal/store"
)

func setupSecurityHandler(t *testing.T, withArchive bool) (*gin.Engine, *defense.Engine, *services.SecurityService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts := defense.DefaultOptions()
	opts.Clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	opts.Allowlist = []string{"10.0.0.0/8"}
	engine, err := defense.New(opts)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	var svc *services.SecurityService
	if withArchive {
		svc = services.NewSecurityService(OpenTestDB(t))
	}
	h := NewSecurityHandler(engine, svc)

	r := gin.New()
	g := r.Group("/api/v1/security")
	g.GET("/stats", h.Stats)
	g.GET("/events", h.Events)
	g.GET("/ips/:ip", h.IPInfo)
	g.POST("/ips/:ip/block", h.BlockIP)
	g.DELETE("/ips/:ip/block", h.UnblockIP)
	g.GET("/archive/events", h.ArchivedEvents)
	g.GET("/audits", h.Audits)
	return r, engine, svc
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(ActorHeader, "ops@shop.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSecurityHandler_BlockAndUnblock(t *testing.T) {
	r, engine, svc := setupSecurityHandler(t, true)

	w := doRequest(r, http.MethodPost, "/api/v1/security/ips/192.0.2.40/block", `{"duration_ms":60000,"reason":"scraping"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var blocked map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &blocked))
	assert.Equal(t, true, blocked["blocked"])
	assert.Equal(t, "2026-03-02T09:01:00Z", blocked["blocked_until"])
	assert.True(t, engine.IsBlocked(t.Context(), "192.0.2.40"))

	w = doRequest(r, http.MethodGet, "/api/v1/security/ips/192.0.2.40", "")
	require.Equal(t, http.StatusOK, w.Code)
	var info defense.IPInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.Blocked)

	w = doRequest(r, http.MethodDelete, "/api/v1/security/ips/192.0.2.40/block", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, engine.IsBlocked(t.Context(), "192.0.2.40"))

	w = doRequest(r, http.MethodDelete, "/api/v1/security/ips/192.0.2.40/block", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	audits, err := svc.ListAudits(0)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "unblock_ip", audits[0].Action)
	assert.Equal(t, "block_ip", audits[1].Action)
	assert.Equal(t, "ops@shop.test", audits[1].Actor)
	assert.JSONEq(t, `{"duration_ms":60000,"reason":"scraping"}`, audits[1].Details)

	w = doRequest(r, http.MethodGet, "/api/v1/security/audits?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed []models.SecurityAudit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestSecurityHandler_BlockValidation(t *testing.T) {
	r, _, _ := setupSecurityHandler(t, false)

	tests := []struct {
		name string
		ip   string
		body string
		code int
	}{
		{"missing duration", "192.0.2.41", `{}`, http.StatusBadRequest},
		{"negative duration", "192.0.2.41", `{"duration_ms":-5}`, http.StatusBadRequest},
		{"malformed json", "192.0.2.41", `{"duration_ms":`, http.StatusBadRequest},
		{"allowlisted", "10.1.2.3", `{"duration_ms":1000}`, http.StatusConflict},
		{"no archive still blocks", "192.0.2.42", `{"duration_ms":1000}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(r, http.MethodPost, "/api/v1/security/ips/"+tt.ip+"/block", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestSecurityHandler_Reporting(t *testing.T) {
	r, engine, _ := setupSecurityHandler(t, false)

	w := doRequest(r, http.MethodGet, "/api/v1/security/ips/192.0.2.43", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, engine.BlockIP(t.Context(), "192.0.2.43", time.Hour))
	for i := 0; i < 3; i++ {
		engine.CreateSecurityEvent(t.Context(), defense.SecurityEvent{
			Type:      defense.EventSuspiciousActivity,
			Severity:  defense.SeverityLow,
			IPAddress: "192.0.2.43",
		})
	}

	w = doRequest(r, http.MethodGet, "/api/v1/security/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats defense.SecurityStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.BlockedIPs)
	assert.Equal(t, 3, stats.RecentEvents)

	w = doRequest(r, http.MethodGet, "/api/v1/security/events?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []defense.SecurityEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 2)

	w = doRequest(r, http.MethodGet, "/api/v1/security/events?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecurityHandler_ArchiveRoutes(t *testing.T) {
	r, _, svc := setupSecurityHandler(t, true)
	require.NoError(t, svc.LogEvent(services.EventRecord(defense.SecurityEvent{
		ID:        "ev1",
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Type:      defense.EventRateLimit,
		Severity:  defense.SeverityMedium,
		IPAddress: "192.0.2.44",
	})))

	w := doRequest(r, http.MethodGet, "/api/v1/security/archive/events?ip=192.0.2.44&type=rate_limit", "")
	require.Equal(t, http.StatusOK, w.Code)
	var archived []models.SecurityEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &archived))
	require.Len(t, archived, 1)
	assert.Equal(t, "ev1", archived[0].EventID)

	disabled, _, _ := setupSecurityHandler(t, false)
	w = doRequest(disabled, http.MethodGet, "/api/v1/security/archive/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = doRequest(disabled, http.MethodGet, "/api/v1/security/audits", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSecurityHandler_BlockIP_StoreDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client, err := store.NewRedisClient(t.Context(), store.RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	opts := defense.DefaultOptions()
	opts.Clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	opts.IPs = store.NewRedis[*defense.IPInfo](client, "ip:")
	opts.Blocked = store.NewRedis[time.Time](client, "blocked:")
	opts.Counters = store.NewRedisCounters(client, "rl:")
	engine, err := defense.New(opts)
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	r := gin.New()
	r.POST("/ips/:ip/block", NewSecurityHandler(engine, nil).BlockIP)

	mr.Close()
	w := doRequest(r, http.MethodPost, "/ips/9.9.9.9/block", `{"duration_ms":3600000}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "block list unavailable")
}
