package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/rampart/internal/api/middleware"
	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/models"
	"github.com/Wikid82/rampart/internal/services"
	"github.com/Wikid82/rampart/internal/util"
)

// ActorHeader names the operator recorded in the audit trail.
const ActorHeader = "X-Actor"

// SecurityHandler exposes the engine's reporting and block list operations.
// The archive service is optional; without it the archive routes answer 503.
type SecurityHandler struct {
	engine *defense.Engine
	svc    *services.SecurityService
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(engine *defense.Engine, svc *services.SecurityService) *SecurityHandler {
	return &SecurityHandler{engine: engine, svc: svc}
}

type blockRequest struct {
	DurationMS int64  `json:"duration_ms" binding:"required"`
	Reason     string `json:"reason"`
}

// Stats handles GET /api/v1/security/stats
func (h *SecurityHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetSecurityStats(c.Request.Context()))
}

// Events handles GET /api/v1/security/events
func (h *SecurityHandler) Events(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.GetRecentEvents(limit))
}

// IPInfo handles GET /api/v1/security/ips/:ip
func (h *SecurityHandler) IPInfo(c *gin.Context) {
	info := h.engine.GetIPInfo(c.Request.Context(), c.Param("ip"))
	if info == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ip not tracked"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// BlockIP handles POST /api/v1/security/ips/:ip/block
func (h *SecurityHandler) BlockIP(c *gin.Context) {
	ip := c.Param("ip")
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := time.Duration(req.DurationMS) * time.Millisecond
	if err := h.engine.BlockIP(c.Request.Context(), ip, d); err != nil {
		switch {
		case errors.Is(err, defense.ErrAllowlisted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, defense.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "block list unavailable"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	details, _ := json.Marshal(gin.H{"duration_ms": req.DurationMS, "reason": util.SanitizeForLog(req.Reason)})
	h.audit(c, "block_ip", ip, string(details))
	resp := gin.H{"ip": ip, "blocked": true}
	if info := h.engine.GetIPInfo(c.Request.Context(), ip); info != nil {
		resp["blocked_until"] = info.BlockedUntil
	}
	c.JSON(http.StatusOK, resp)
}

// UnblockIP handles DELETE /api/v1/security/ips/:ip/block
func (h *SecurityHandler) UnblockIP(c *gin.Context) {
	ip := c.Param("ip")
	if !h.engine.UnblockIP(c.Request.Context(), ip) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ip is not blocked"})
		return
	}
	h.audit(c, "unblock_ip", ip, "{}")
	c.JSON(http.StatusOK, gin.H{"ip": ip, "blocked": false})
}

// ArchivedEvents handles GET /api/v1/security/archive/events
func (h *SecurityHandler) ArchivedEvents(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event archive disabled"})
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	events, err := h.svc.ListEvents(limit, c.Query("ip"), c.Query("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, events)
}

// Audits handles GET /api/v1/security/audits
func (h *SecurityHandler) Audits(c *gin.Context) {
	if h.svc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event archive disabled"})
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	audits, err := h.svc.ListAudits(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audits"})
		return
	}
	c.JSON(http.StatusOK, audits)
}

func (h *SecurityHandler) audit(c *gin.Context, action, target, details string) {
	if h.svc == nil {
		return
	}
	actor := c.GetHeader(ActorHeader)
	if actor == "" {
		actor = c.ClientIP()
	}
	entry := &models.SecurityAudit{
		Actor:   util.SanitizeForLog(actor),
		Action:  action,
		Target:  target,
		Details: details,
	}
	if err := h.svc.LogAudit(entry); err != nil {
		middleware.GetRequestLogger(c).WithError(err).WithField("action", action).Error("failed to write audit entry")
	}
}

// queryLimit parses ?limit=. Absent means the default; anything that is not
// a non-negative integer is rejected with 400.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}
