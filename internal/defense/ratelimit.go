package defense

import (
	"net/http"

	"github.com/Wikid82/rampart/internal/store"
)

// CheckRateLimit counts r against the first rate-limit rule matching its
// path. Windows are fixed: the count resets in bulk at ResetTime.
func (e *Engine) CheckRateLimit(r *http.Request, id string) RateLimitResult {
	var res RateLimitResult
	e.do(r.Context(), func(tx *txn) { res = e.checkRateLimit(tx, r, id) })
	return res
}

// MatchRateLimitRule returns the rule that governs path.
func (e *Engine) MatchRateLimitRule(path string) *RateLimitRule {
	for i := range e.rules.RateLimits {
		if e.rules.RateLimits[i].Matches(path) {
			return &e.rules.RateLimits[i]
		}
	}
	return nil
}

func (e *Engine) checkRateLimit(tx *txn, r *http.Request, id string) RateLimitResult {
	rule := e.MatchRateLimitRule(r.URL.Path)
	if rule == nil {
		return RateLimitResult{Allowed: true}
	}

	key := id + ":" + rule.ID
	if rule.KeyFunc != nil {
		key = rule.KeyFunc(r, id)
	}
	res := RateLimitResult{Allowed: true, Limit: rule.MaxRequests, Rule: rule, Key: key}

	c, ok, err := e.counters.Get(tx.ctx, key)
	if err != nil {
		e.log.WithError(err).WithField("key", key).Error("rate limit store unavailable, allowing request")
		return res
	}

	if !ok || c.Expired(tx.now) {
		c = store.Counter{Count: 1, ResetTime: tx.now.Add(rule.Window)}
		if err := e.counters.Set(tx.ctx, key, c); err != nil {
			e.log.WithError(err).WithField("key", key).Error("failed to open rate limit window")
		}
		res.Current = c.Count
		res.ResetTime = c.ResetTime
		return res
	}

	res.ResetTime = c.ResetTime
	if c.Count >= rule.MaxRequests {
		res.Allowed = false
		res.Current = c.Count
		return res
	}

	c, err = e.counters.Increment(tx.ctx, key)
	if err != nil {
		e.log.WithError(err).WithField("key", key).Error("failed to increment rate limit counter")
		return res
	}
	res.Current = c.Count
	return res
}
