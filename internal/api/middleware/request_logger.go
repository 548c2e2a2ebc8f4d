package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/rampart/internal/defense"
)

// RequestLogger logs one line per request with its request_id. Denied
// requests also carry the pipeline stage that stopped them.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"status":  status,
			"method":  c.Request.Method,
			"path":    SanitizePath(c.Request.URL.Path),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		if dec, ok := DecisionFrom(c); ok && !dec.Allowed {
			fields["defense_stage"] = string(dec.Stage)
		}

		entry := GetRequestLogger(c).WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("handled request")
		case status >= http.StatusBadRequest:
			entry.Warn("handled request")
		default:
			entry.Info("handled request")
		}
	}
}

// DecisionFrom returns the defense decision stored by the Defense middleware.
func DecisionFrom(c *gin.Context) (defense.Decision, bool) {
	v, ok := c.Get(DecisionKey)
	if !ok {
		return defense.Decision{}, false
	}
	dec, ok := v.(defense.Decision)
	return dec, ok
}
