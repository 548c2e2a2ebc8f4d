package models

import (
	"time"
)

// SecurityEvent is the archived form of an engine event so it survives
// restarts and the in-memory log's eviction.
type SecurityEvent struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UUID       string    `json:"uuid" gorm:"uniqueIndex"`
	EventID    string    `json:"event_id" gorm:"index"`
	Type       string    `json:"type" gorm:"index"`
	Severity   string    `json:"severity"`
	IPAddress  string    `json:"ip_address" gorm:"index"`
	UserAgent  string    `json:"user_agent"`
	URL        string    `json:"url" gorm:"type:text"`
	Details    string    `json:"details" gorm:"type:text"` // JSON object
	Blocked    bool      `json:"blocked"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}
