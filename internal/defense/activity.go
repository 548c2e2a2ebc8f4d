package defense

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/rampart/internal/metrics"
	"github.com/Wikid82/rampart/internal/util"
)

// TrackActivity appends a request to the rolling history of id.
func (e *Engine) TrackActivity(ctx context.Context, id, url string, status int) {
	e.do(ctx, func(tx *txn) { e.trackActivity(tx, id, url, status) })
}

// trackActivity returns the sequence number of the new history entry.
func (e *Engine) trackActivity(tx *txn, id, url string, status int) uint64 {
	info := e.loadOrCreateIP(tx, id)

	info.LastSeq++
	info.Requests = append(info.Requests, RequestRecord{
		Seq:       info.LastSeq,
		Timestamp: tx.now,
		Endpoint:  url,
		Status:    status,
	})
	if n := len(info.Requests); n > maxHistory {
		info.Requests = info.Requests[n-maxHistory:]
	}
	info.LastSeen = tx.now
	if status >= http.StatusBadRequest {
		info.FailedAttempts++
	}

	e.saveIP(tx, info)
	return info.LastSeq
}

// addRisk raises the score of id and bans it for a day once the score
// reaches riskThreshold.
func (e *Engine) addRisk(tx *txn, id string, delta int) {
	info := e.loadOrCreateIP(tx, id)
	info.RiskScore += delta
	e.saveIP(tx, info)

	if info.RiskScore >= riskThreshold && !info.Blocked {
		e.log.WithFields(logrus.Fields{"ip": id, "risk_score": info.RiskScore}).Warn("risk threshold reached")
		e.block(tx, id, riskBlockDuration, "risk_score")
	}
}

// CreateSecurityEvent stamps ev with an id and time and appends it to the
// event log.
func (e *Engine) CreateSecurityEvent(ctx context.Context, ev SecurityEvent) SecurityEvent {
	var out SecurityEvent
	e.do(ctx, func(tx *txn) { out = e.createEvent(tx, ev) })
	return out
}

func (e *Engine) createEvent(tx *txn, ev SecurityEvent) SecurityEvent {
	ev.ID = newEventID()
	ev.Timestamp = tx.now

	e.events = append(e.events, ev)
	if n := len(e.events); n > maxEvents {
		e.events = e.events[n-maxEvents:]
	}
	tx.events = append(tx.events, ev)
	metrics.IncEvent(string(ev.Type), string(ev.Severity))

	entry := e.log.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"type":     ev.Type,
		"severity": ev.Severity,
		"ip":       ev.IPAddress,
		"url":      util.SanitizeForLog(ev.URL),
		"blocked":  ev.Blocked,
	})
	if ev.Severity == SeverityCritical {
		entry.WithField("details", ev.Details).Error("critical security event")
	} else {
		entry.Debug("security event")
	}
	return ev
}
