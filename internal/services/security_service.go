package services

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/models"
)

const defaultListLimit = 100

// SecurityService archives engine events and admin audit entries.
type SecurityService struct {
	db *gorm.DB
}

// NewSecurityService returns a SecurityService using the provided DB
func NewSecurityService(db *gorm.DB) *SecurityService {
	return &SecurityService{db: db}
}

// LogEvent stores an archived event record
func (s *SecurityService) LogEvent(e *models.SecurityEvent) error {
	if e == nil {
		return nil
	}
	if e.UUID == "" {
		e.UUID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.db.Create(e).Error
}

// ListEvents returns archived events, newest first. ipAddress and eventType
// narrow the result when set.
func (s *SecurityService) ListEvents(limit int, ipAddress, eventType string) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := s.db.Order("occurred_at desc, id desc").Limit(limit)
	if ipAddress != "" {
		q = q.Where("ip_address = ?", ipAddress)
	}
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}

	var res []models.SecurityEvent
	if err := q.Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// LogAudit stores an audit entry
func (s *SecurityService) LogAudit(a *models.SecurityAudit) error {
	if a == nil {
		return nil
	}
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.db.Create(a).Error
}

// ListAudits returns audit entries, newest first.
func (s *SecurityService) ListAudits(limit int) ([]models.SecurityAudit, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var res []models.SecurityAudit
	if err := s.db.Order("created_at desc, id desc").Limit(limit).Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

// EventRecord converts an engine event to its archived form.
func EventRecord(ev defense.SecurityEvent) *models.SecurityEvent {
	details := "{}"
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = string(b)
		}
	}
	return &models.SecurityEvent{
		EventID:    ev.ID,
		Type:       string(ev.Type),
		Severity:   string(ev.Severity),
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		URL:        ev.URL,
		Details:    details,
		Blocked:    ev.Blocked,
		UserID:     ev.UserID,
		OccurredAt: ev.Timestamp,
	}
}
