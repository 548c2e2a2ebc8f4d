package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/Wikid82/rampart/internal/defense"
)

// DecisionKey is the context key holding the request's defense.Decision.
const DecisionKey = "defenseDecision"

// Defense runs every request through engine. Denied requests are answered
// with 403 or 429 and never reach the next handler. For allowed requests the
// final response status is reported back once the chain completes.
func Defense(engine *defense.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		dec := engine.ProcessRequest(c.Request)
		c.Set(DecisionKey, dec)

		if !dec.Allowed {
			GetRequestLogger(c).WithFields(map[string]interface{}{
				"ip":     dec.Identifier,
				"stage":  string(dec.Stage),
				"reason": dec.Reason,
			}).Debug("request denied")
			engine.WriteDenial(c.Writer, dec)
			c.Abort()
			return
		}

		c.Next()
		engine.RecordResponse(c.Request.Context(), dec, c.Writer.Status())
	}
}
