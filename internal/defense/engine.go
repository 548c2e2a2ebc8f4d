// Package defense implements the request defense engine: a block list,
// fixed-window rate limiting, signature matching and behavior analysis run
// in a fixed order for every inbound request.
package defense

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/rampart/internal/logger"
	"github.com/Wikid82/rampart/internal/metrics"
	"github.com/Wikid82/rampart/internal/store"
)

const (
	maxHistory = 1000
	maxEvents  = 10000

	historyRetention = time.Hour
	idleEviction     = 24 * time.Hour
	eventRetention   = 24 * time.Hour

	bruteForceWindow   = 10 * time.Minute
	bruteForceLimit    = 10
	bruteForceDuration = time.Hour
	volumeWindow       = 5 * time.Minute
	volumeLimit        = 500

	riskBlockRule     = 20
	riskWarnRule      = 5
	riskVolume        = 30
	riskUnblockRelief = 20
	riskThreshold     = 100
	riskBlockDuration = 24 * time.Hour
	highRiskScore     = 50

	// DefaultMaxBodyBytes caps how much of a request body is scanned.
	DefaultMaxBodyBytes = 1 << 20

	ipSweepSchedule      = "@every 15m"
	counterSweepSchedule = "@every 5m"
)

var (
	ErrEmptyIdentifier = errors.New("identifier is required")
	ErrInvalidDuration = errors.New("block duration must be positive")
	ErrAllowlisted     = errors.New("identifier is allowlisted")
	ErrClosed          = errors.New("engine is closed")

	// ErrStoreUnavailable wraps a state store failure on an explicit write.
	ErrStoreUnavailable = errors.New("state store unavailable")
)

// Options configures an Engine. Nil stores default to in-memory ones.
type Options struct {
	Rules             RuleSet
	Allowlist         []string
	MaxBodyBytes      int64
	TrustProxyHeaders bool
	Clock             clockwork.Clock

	IPs      store.Store[*IPInfo]
	Blocked  store.Store[time.Time]
	Counters store.CounterStore

	Sinks []EventSink
}

// DefaultOptions returns the built-in rules with proxy headers trusted.
func DefaultOptions() Options {
	return Options{
		Rules:             DefaultRuleSet(),
		MaxBodyBytes:      DefaultMaxBodyBytes,
		TrustProxyHeaders: true,
	}
}

// Engine is the request defense engine. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	rules      RuleSet
	allowlist  []netip.Prefix
	maxBody    int64
	trustProxy bool
	clock      clockwork.Clock

	ips      store.Store[*IPInfo]
	blocked  store.Store[time.Time]
	counters store.CounterStore
	sinks    []EventSink

	events []SecurityEvent
	timers map[string]clockwork.Timer
	cron   *cron.Cron
	closed bool

	log *logrus.Entry
}

// New validates opts and builds an engine. Call Start to run the
// maintenance sweeps and Close to release timers.
func New(opts Options) (*Engine, error) {
	if opts.Rules.Security == nil {
		opts.Rules.Security = DefaultSecurityRules()
	}
	if len(opts.Rules.RateLimits) == 0 {
		opts.Rules.RateLimits = DefaultRateLimitRules()
	}
	if err := opts.Rules.Validate(); err != nil {
		return nil, err
	}

	allowlist, err := parseAllowlist(opts.Allowlist)
	if err != nil {
		return nil, err
	}

	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.IPs == nil {
		opts.IPs = store.NewMemory[*IPInfo](opts.Clock)
	}
	if opts.Blocked == nil {
		opts.Blocked = store.NewMemory[time.Time](opts.Clock)
	}
	if opts.Counters == nil {
		opts.Counters = store.NewMemoryCounters()
	}

	return &Engine{
		rules:      opts.Rules,
		allowlist:  allowlist,
		maxBody:    opts.MaxBodyBytes,
		trustProxy: opts.TrustProxyHeaders,
		clock:      opts.Clock,
		ips:        opts.IPs,
		blocked:    opts.Blocked,
		counters:   opts.Counters,
		sinks:      opts.Sinks,
		timers:     make(map[string]clockwork.Timer),
		log:        logger.Component("defense"),
	}, nil
}

func parseAllowlist(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist entry %q: %w", raw, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func (e *Engine) allowlisted(id string) bool {
	if len(e.allowlist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(id)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.allowlist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Rules returns the active rule set.
func (e *Engine) Rules() RuleSet { return e.rules }

// Start schedules the periodic maintenance sweeps.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(ipSweepSchedule, func() { e.SweepIPs(context.Background()) }); err != nil {
		return fmt.Errorf("schedule ip sweep: %w", err)
	}
	if _, err := c.AddFunc(counterSweepSchedule, func() { e.SweepCounters(context.Background()) }); err != nil {
		return fmt.Errorf("schedule counter sweep: %w", err)
	}
	c.Start()
	e.cron = c
	return nil
}

// Close stops the sweeps and every pending auto-unblock. Safe to call twice.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// txn carries per-call state while the engine lock is held. Events are
// collected and handed to sinks once the lock is released.
type txn struct {
	ctx    context.Context
	now    time.Time
	events []SecurityEvent
}

func (e *Engine) do(ctx context.Context, fn func(tx *txn)) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	tx := &txn{ctx: ctx, now: e.clock.Now()}
	fn(tx)
	e.mu.Unlock()

	for _, ev := range tx.events {
		for _, sink := range e.sinks {
			sink.HandleSecurityEvent(ev)
		}
	}
}

func (e *Engine) loadIP(tx *txn, id string) *IPInfo {
	info, ok, err := e.ips.Get(tx.ctx, id)
	if err != nil {
		e.log.WithError(err).WithField("ip", id).Error("failed to load ip info")
		return nil
	}
	if !ok {
		return nil
	}
	return info
}

func (e *Engine) loadOrCreateIP(tx *txn, id string) *IPInfo {
	if info := e.loadIP(tx, id); info != nil {
		return info
	}
	return &IPInfo{IP: id, FirstSeen: tx.now, LastSeen: tx.now}
}

func (e *Engine) saveIP(tx *txn, info *IPInfo) error {
	err := e.ips.Set(tx.ctx, info.IP, info, 0)
	if err != nil {
		e.log.WithError(err).WithField("ip", info.IP).Error("failed to save ip info")
	}
	return err
}

// ProcessRequest runs the full pipeline for r. The body, if read, is
// restored so downstream handlers still see it.
func (e *Engine) ProcessRequest(r *http.Request) Decision {
	id := ClientIP(r, e.trustProxy)
	ua := r.UserAgent()
	reqURL := requestURL(r)
	body := peekBody(r, e.maxBody)

	var dec Decision
	e.do(r.Context(), func(tx *txn) {
		dec = e.process(tx, r, id, ua, reqURL, body)
	})
	metrics.IncRequest(string(dec.Stage))
	return dec
}

func (e *Engine) process(tx *txn, r *http.Request, id, ua, reqURL, body string) Decision {
	dec := Decision{Identifier: id, URL: reqURL}

	if e.isBlocked(tx, id) {
		ev := e.createEvent(tx, SecurityEvent{
			Type:      EventSuspiciousActivity,
			Severity:  SeverityHigh,
			IPAddress: id,
			UserAgent: ua,
			URL:       reqURL,
			Details:   map[string]interface{}{"reason": "blocked_ip_access_attempt"},
			Blocked:   true,
		})
		e.trackActivity(tx, id, reqURL, http.StatusForbidden)
		dec.Reason = "IP address is blocked"
		dec.Event = &ev
		dec.Stage = StageBlockList
		return dec
	}

	rl := e.checkRateLimit(tx, r, id)
	if !rl.Allowed {
		e.trackActivity(tx, id, reqURL, http.StatusTooManyRequests)
		ev := e.createEvent(tx, SecurityEvent{
			Type:      EventRateLimit,
			Severity:  SeverityMedium,
			IPAddress: id,
			UserAgent: ua,
			URL:       reqURL,
			Details: map[string]interface{}{
				"rule_id":    rl.Rule.ID,
				"limit":      rl.Limit,
				"current":    rl.Current,
				"reset_time": rl.ResetTime.UnixMilli(),
			},
			Blocked: true,
		})
		dec.Reason = "Rate limit exceeded"
		dec.Event = &ev
		dec.RateLimited = true
		dec.ResetTime = rl.ResetTime
		dec.Stage = StageRateLimit
		return dec
	}
	dec.rateRule = rl.Rule
	dec.rateKey = rl.Key

	rr := e.applyRules(tx, id, ua, reqURL, body)
	if !rr.Allowed {
		e.trackActivity(tx, id, reqURL, http.StatusForbidden)
		dec.Reason = rr.Reason
		dec.Event = rr.Event
		dec.Stage = StageSignature
		return dec
	}

	br := e.analyzeBehavior(tx, id, reqURL)
	if !br.Allowed {
		dec.Reason = br.Reason
		dec.Event = br.Event
		dec.Stage = StageBehavior
		return dec
	}

	dec.seq = e.trackActivity(tx, id, reqURL, http.StatusOK)
	dec.Allowed = true
	dec.Stage = StageAllowed
	dec.Event = br.Event
	if dec.Event == nil {
		dec.Event = rr.Event
	}
	return dec
}

// RecordResponse replaces the provisional 200 history entry of an allowed
// request with the status the handler actually produced, and releases the
// rate-limit slot when the matched rule skips that class of response.
func (e *Engine) RecordResponse(ctx context.Context, dec Decision, status int) {
	if !dec.Allowed || status == 0 {
		return
	}
	e.do(ctx, func(tx *txn) {
		if dec.seq != 0 {
			e.updateStatus(tx, dec.Identifier, dec.seq, status)
		}
		if dec.rateRule == nil || dec.rateKey == "" {
			return
		}
		failed := status >= http.StatusBadRequest
		if (failed && dec.rateRule.SkipFailedRequests) || (!failed && dec.rateRule.SkipSuccessfulRequests) {
			if err := e.counters.Decrement(tx.ctx, dec.rateKey); err != nil {
				e.log.WithError(err).WithField("key", dec.rateKey).Error("failed to release rate limit slot")
			}
		}
	})
}

func (e *Engine) updateStatus(tx *txn, id string, seq uint64, status int) {
	info := e.loadIP(tx, id)
	if info == nil {
		return
	}
	for i := len(info.Requests) - 1; i >= 0; i-- {
		rec := &info.Requests[i]
		if rec.Seq < seq {
			return
		}
		if rec.Seq != seq {
			continue
		}
		if status >= http.StatusBadRequest && rec.Status < http.StatusBadRequest {
			info.FailedAttempts++
		}
		rec.Status = status
		e.saveIP(tx, info)
		return
	}
}

// newEventID returns 32 random hex characters.
func newEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
