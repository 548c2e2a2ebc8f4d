package defense

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"
)

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// DenialResponse is the JSON body sent for a denied request.
type DenialResponse struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	ResetTime *int64 `json:"resetTime,omitempty"`
}

// StatusCode maps a denial to 429 for rate limits and 403 otherwise.
func (d Decision) StatusCode() int {
	if d.RateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusForbidden
}

// RetryAfter returns whole seconds until ResetTime, rounded up.
func (d Decision) RetryAfter(now time.Time) (int, bool) {
	if d.ResetTime.IsZero() {
		return 0, false
	}
	secs := int(math.Ceil(d.ResetTime.Sub(now).Seconds()))
	if secs < 0 {
		secs = 0
	}
	return secs, true
}

// Denial builds the response body for a denied decision.
func (e *Engine) Denial(d Decision) DenialResponse {
	resp := DenialResponse{
		Error:     d.Reason,
		Timestamp: e.clock.Now().UTC().Format(isoMillis),
	}
	if !d.ResetTime.IsZero() {
		ms := d.ResetTime.UnixMilli()
		resp.ResetTime = &ms
	}
	return resp
}

// WriteDenial writes status, Retry-After and the JSON body for d.
func (e *Engine) WriteDenial(w http.ResponseWriter, d Decision) {
	if secs, ok := d.RetryAfter(e.clock.Now()); ok {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(d.StatusCode())
	_ = json.NewEncoder(w).Encode(e.Denial(d))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Handler wraps next for plain net/http servers.
func (e *Engine) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := e.ProcessRequest(r)
		if !dec.Allowed {
			e.WriteDenial(w, dec)
			return
		}

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		status := sw.status
		if status == 0 {
			status = http.StatusOK
		}
		e.RecordResponse(r.Context(), dec, status)
	})
}
