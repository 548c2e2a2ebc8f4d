package defense

import (
	"net/http"

	"github.com/Wikid82/rampart/internal/util"
)

const maxMatchDetail = 100

// ApplySecurityRules scans body, URL and user agent against the signature
// table. The first matching block rule denies and stops the scan; warn and
// monitor rules record an event and let evaluation continue.
func (e *Engine) ApplySecurityRules(r *http.Request, id, userAgent string) RuleResult {
	reqURL := requestURL(r)
	body := peekBody(r, e.maxBody)

	var res RuleResult
	e.do(r.Context(), func(tx *txn) { res = e.applyRules(tx, id, userAgent, reqURL, body) })
	return res
}

func (e *Engine) applyRules(tx *txn, id, ua, reqURL, body string) RuleResult {
	buf := scanBuffer(body, reqURL, ua)
	res := RuleResult{Allowed: true}

	for i := range e.rules.Security {
		rule := &e.rules.Security[i]
		if !rule.Enabled {
			continue
		}
		loc := rule.Pattern.FindStringIndex(buf)
		if loc == nil {
			continue
		}

		ev := e.createEvent(tx, SecurityEvent{
			Type:      EventMaliciousRequest,
			Severity:  rule.Severity,
			IPAddress: id,
			UserAgent: ua,
			URL:       reqURL,
			Details: map[string]interface{}{
				"rule_id":   rule.ID,
				"rule_name": rule.Name,
				"action":    string(rule.Action),
				"match":     util.Truncate(util.SanitizeForLog(buf[loc[0]:loc[1]]), maxMatchDetail),
			},
			Blocked: rule.Action == ActionBlock,
		})

		switch rule.Action {
		case ActionBlock:
			e.addRisk(tx, id, riskBlockRule)
			return RuleResult{
				Allowed: false,
				Reason:  "Blocked by security rule: " + rule.Name,
				Event:   &ev,
			}
		case ActionWarn:
			e.addRisk(tx, id, riskWarnRule)
		}
		res.Event = &ev
	}
	return res
}
