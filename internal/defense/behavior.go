package defense

import (
	"context"
	"net/http"
)

// AnalyzeSuspiciousBehavior inspects the rolling history of id. Brute force
// is checked first and blocks; high volume only raises the risk score.
func (e *Engine) AnalyzeSuspiciousBehavior(ctx context.Context, id, url string) BehaviorResult {
	var res BehaviorResult
	e.do(ctx, func(tx *txn) { res = e.analyzeBehavior(tx, id, url) })
	return res
}

func (e *Engine) analyzeBehavior(tx *txn, id, url string) BehaviorResult {
	info := e.loadIP(tx, id)
	if info == nil || len(info.Requests) == 0 {
		return BehaviorResult{Allowed: true}
	}

	failSince := tx.now.Add(-bruteForceWindow)
	volumeSince := tx.now.Add(-volumeWindow)
	failures, recent := 0, 0
	for _, rec := range info.Requests {
		if rec.Status >= http.StatusBadRequest && rec.Timestamp.After(failSince) {
			failures++
		}
		if rec.Timestamp.After(volumeSince) {
			recent++
		}
	}

	if failures > bruteForceLimit {
		e.block(tx, id, bruteForceDuration, string(EventBruteForce))
		ev := e.createEvent(tx, SecurityEvent{
			Type:      EventBruteForce,
			Severity:  SeverityCritical,
			IPAddress: id,
			URL:       url,
			Details: map[string]interface{}{
				"failed_attempts": failures,
				"window":          bruteForceWindow.String(),
				"block_duration":  bruteForceDuration.String(),
			},
			Blocked: true,
		})
		return BehaviorResult{Allowed: false, Reason: "Brute force attack detected", Event: &ev}
	}

	if recent > volumeLimit {
		ev := e.createEvent(tx, SecurityEvent{
			Type:      EventSuspiciousActivity,
			Severity:  SeverityHigh,
			IPAddress: id,
			URL:       url,
			Details: map[string]interface{}{
				"reason":   "high_request_volume",
				"requests": recent,
				"window":   volumeWindow.String(),
			},
		})
		e.addRisk(tx, id, riskVolume)
		return BehaviorResult{Allowed: true, Event: &ev}
	}

	return BehaviorResult{Allowed: true}
}
