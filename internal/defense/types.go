package defense

import (
	"net/http"
	"regexp"
	"time"
)

// Action is what a matching security rule does to the request.
type Action string

const (
	ActionBlock   Action = "block"
	ActionWarn    Action = "warn"
	ActionMonitor Action = "monitor"
)

// Severity grades rules and events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventType classifies a security event.
type EventType string

const (
	EventRateLimit          EventType = "rate_limit"
	EventMaliciousRequest   EventType = "malicious_request"
	EventBruteForce         EventType = "brute_force"
	EventSuspiciousActivity EventType = "suspicious_activity"
)

// Stage names the pipeline step that produced a decision.
type Stage string

const (
	StageBlockList Stage = "block_list"
	StageRateLimit Stage = "rate_limit"
	StageSignature Stage = "signature"
	StageBehavior  Stage = "behavior"
	StageAllowed   Stage = "allowed"
)

// SecurityRule is one attack signature. Rules are evaluated in order.
type SecurityRule struct {
	ID          string
	Name        string
	Description string
	Pattern     *regexp.Regexp
	Action      Action
	Severity    Severity
	Enabled     bool
}

// KeyFunc derives the rate-limit counting key for a request.
type KeyFunc func(r *http.Request, identifier string) string

// RateLimitRule limits requests whose path matches Path.
//
// Path is either an exact path, a prefix ending in "/*" or "/**", or one of
// the catch-all forms "*", "/*" and "/**".
type RateLimitRule struct {
	ID                     string
	Path                   string
	MaxRequests            int
	Window                 time.Duration
	SkipSuccessfulRequests bool
	SkipFailedRequests     bool
	KeyFunc                KeyFunc
}

// RequestRecord is one entry of a client's rolling history.
type RequestRecord struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Endpoint  string    `json:"endpoint"`
	Status    int       `json:"status"`
}

// IPInfo is everything the engine knows about one client.
type IPInfo struct {
	IP             string          `json:"ip"`
	Requests       []RequestRecord `json:"requests"`
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	Blocked        bool            `json:"blocked"`
	BlockedUntil   *time.Time      `json:"blocked_until,omitempty"`
	FailedAttempts int             `json:"failed_attempts"`
	RiskScore      int             `json:"risk_score"`
	LastSeq        uint64          `json:"last_seq"`
}

// Clone returns a deep copy safe to hand to callers.
func (i *IPInfo) Clone() *IPInfo {
	if i == nil {
		return nil
	}
	c := *i
	c.Requests = append([]RequestRecord(nil), i.Requests...)
	if i.BlockedUntil != nil {
		until := *i.BlockedUntil
		c.BlockedUntil = &until
	}
	return &c
}

// SecurityEvent is an immutable audit record of one security decision.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	IPAddress string                 `json:"ip_address"`
	UserAgent string                 `json:"user_agent"`
	URL       string                 `json:"url"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Blocked   bool                   `json:"blocked"`
	UserID    string                 `json:"user_id,omitempty"`
}

// EventSink receives every event after the engine has recorded it.
// Implementations must not call back into the engine synchronously.
type EventSink interface {
	HandleSecurityEvent(ev SecurityEvent)
}

// RateLimitResult is the outcome of CheckRateLimit.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Current   int
	ResetTime time.Time
	Rule      *RateLimitRule
	Key       string
}

// RuleResult is the outcome of ApplySecurityRules.
type RuleResult struct {
	Allowed bool
	Reason  string
	Event   *SecurityEvent
}

// BehaviorResult is the outcome of AnalyzeSuspiciousBehavior.
type BehaviorResult struct {
	Allowed bool
	Reason  string
	Event   *SecurityEvent
}

// Decision is the verdict of ProcessRequest.
type Decision struct {
	Allowed     bool
	Reason      string
	Event       *SecurityEvent
	RateLimited bool
	ResetTime   time.Time
	Stage       Stage
	Identifier  string
	URL         string

	rateRule *RateLimitRule
	rateKey  string
	seq      uint64
}

// ThreatCount is one entry of SecurityStats.TopThreats.
type ThreatCount struct {
	Type  EventType `json:"type"`
	Count int       `json:"count"`
}

// SecurityStats summarises engine state for dashboards.
type SecurityStats struct {
	TotalIPs      int           `json:"total_ips"`
	BlockedIPs    int           `json:"blocked_ips"`
	HighRiskIPs   int           `json:"high_risk_ips"`
	RecentEvents  int           `json:"recent_events"`
	TopThreats    []ThreatCount `json:"top_threats"`
	RateLimitHits int           `json:"rate_limit_hits"`
}
