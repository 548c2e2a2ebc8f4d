package services

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/models"
)

func setupSecurityTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.SecurityEvent{}, &models.SecurityAudit{})
	require.NoError(t, err)

	return db
}

func TestSecurityService_LogAndListEvents(t *testing.T) {
	db := setupSecurityTestDB(t)
	svc := NewSecurityService(db)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.1"} {
		err := svc.LogEvent(&models.SecurityEvent{
			EventID:    fmt.Sprintf("ev%d", i),
			Type:       "rate_limit",
			IPAddress:  ip,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	require.NoError(t, svc.LogEvent(nil))

	all, err := svc.ListEvents(0, "", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ev2", all[0].EventID, "newest first")
	assert.NotEmpty(t, all[0].UUID)
	assert.False(t, all[0].CreatedAt.IsZero())

	byIP, err := svc.ListEvents(10, "192.0.2.1", "")
	require.NoError(t, err)
	assert.Len(t, byIP, 2)

	byType, err := svc.ListEvents(10, "", "brute_force")
	require.NoError(t, err)
	assert.Empty(t, byType)

	limited, err := svc.ListEvents(1, "", "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSecurityService_Audits(t *testing.T) {
	db := setupSecurityTestDB(t)
	svc := NewSecurityService(db)

	require.NoError(t, svc.LogAudit(&models.SecurityAudit{Actor: "admin", Action: "block_ip", Target: "192.0.2.9"}))
	require.NoError(t, svc.LogAudit(&models.SecurityAudit{Actor: "admin", Action: "unblock_ip", Target: "192.0.2.9"}))
	require.NoError(t, svc.LogAudit(nil))

	audits, err := svc.ListAudits(0)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "unblock_ip", audits[0].Action)
}

func TestEventRecord(t *testing.T) {
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := EventRecord(defense.SecurityEvent{
		ID:        "abc",
		Timestamp: ts,
		Type:      defense.EventMaliciousRequest,
		Severity:  defense.SeverityCritical,
		IPAddress: "192.0.2.3",
		Details:   map[string]interface{}{"rule_id": "sql_injection"},
		Blocked:   true,
	})
	assert.Equal(t, "abc", rec.EventID)
	assert.Equal(t, "malicious_request", rec.Type)
	assert.Equal(t, "critical", rec.Severity)
	assert.JSONEq(t, `{"rule_id":"sql_injection"}`, rec.Details)
	assert.Equal(t, ts, rec.OccurredAt)
	assert.True(t, rec.Blocked)

	empty := EventRecord(defense.SecurityEvent{})
	assert.Equal(t, "{}", empty.Details)
}
