package defense

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/rampart/internal/metrics"
)

// IsBlocked reports whether id is currently on the block list.
func (e *Engine) IsBlocked(ctx context.Context, id string) bool {
	var blocked bool
	e.do(ctx, func(tx *txn) { blocked = e.isBlocked(tx, id) })
	return blocked
}

// BlockIP bans id for d. Blocking an already blocked id refreshes the ban.
func (e *Engine) BlockIP(ctx context.Context, id string, d time.Duration) error {
	if id == "" {
		return ErrEmptyIdentifier
	}
	if d <= 0 {
		return ErrInvalidDuration
	}
	if e.allowlisted(id) {
		return ErrAllowlisted
	}
	var err error
	e.do(ctx, func(tx *txn) { err = e.block(tx, id, d, "manual") })
	return err
}

// UnblockIP lifts a ban and reports whether id was blocked.
func (e *Engine) UnblockIP(ctx context.Context, id string) bool {
	var ok bool
	e.do(ctx, func(tx *txn) { ok = e.unblock(tx, id) })
	return ok
}

// isBlocked consults the blocked set first and falls back to the client
// record. A ban whose time has passed is lifted here so an expiry never
// depends on the timer alone.
func (e *Engine) isBlocked(tx *txn, id string) bool {
	until, ok, err := e.blocked.Get(tx.ctx, id)
	if err != nil {
		e.log.WithError(err).WithField("ip", id).Error("failed to read block list")
	} else if ok && tx.now.Before(until) {
		return true
	}

	info := e.loadIP(tx, id)
	if info == nil || !info.Blocked {
		return false
	}
	if info.BlockedUntil != nil && tx.now.Before(*info.BlockedUntil) {
		return true
	}
	e.unblock(tx, id)
	return false
}

// block bans id until now+d. Automatic callers ignore the error and
// keep serving; BlockIP hands it back to the operator.
func (e *Engine) block(tx *txn, id string, d time.Duration, reason string) error {
	if e.allowlisted(id) {
		e.log.WithFields(logrus.Fields{"ip": id, "reason": reason}).Info("not blocking allowlisted ip")
		return ErrAllowlisted
	}

	until := tx.now.Add(d)
	info := e.loadOrCreateIP(tx, id)
	info.Blocked = true
	info.BlockedUntil = &until
	if err := e.saveIP(tx, info); err != nil {
		return fmt.Errorf("%w: save ip info: %v", ErrStoreUnavailable, err)
	}

	if err := e.blocked.Set(tx.ctx, id, until, d); err != nil {
		e.log.WithError(err).WithField("ip", id).Error("failed to write block list")
		return fmt.Errorf("%w: write block list: %v", ErrStoreUnavailable, err)
	}
	e.scheduleUnblock(id, d)

	metrics.IncBlock(reason)
	e.refreshBlockedGauge(tx)
	e.log.WithFields(logrus.Fields{
		"ip":            id,
		"reason":        reason,
		"blocked_until": until,
	}).Warn("ip blocked")
	return nil
}

func (e *Engine) scheduleUnblock(id string, d time.Duration) {
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
	if e.closed {
		return
	}
	e.timers[id] = e.clock.AfterFunc(d, func() { e.expireBlock(id) })
}

func (e *Engine) expireBlock(id string) {
	e.do(context.Background(), func(tx *txn) {
		info := e.loadIP(tx, id)
		if info != nil && info.Blocked && info.BlockedUntil != nil && tx.now.Before(*info.BlockedUntil) {
			// re-blocked after this timer was armed
			return
		}
		e.unblock(tx, id)
	})
}

// unblock lifts the ban and takes riskUnblockRelief off the score, never
// going below zero. It is a no-op for an id that was not blocked.
func (e *Engine) unblock(tx *txn, id string) bool {
	_, inSet, err := e.blocked.Get(tx.ctx, id)
	if err != nil {
		e.log.WithError(err).WithField("ip", id).Error("failed to read block list")
	}
	info := e.loadIP(tx, id)
	if !inSet && (info == nil || !info.Blocked) {
		return false
	}

	if err := e.blocked.Delete(tx.ctx, id); err != nil {
		e.log.WithError(err).WithField("ip", id).Error("failed to remove from block list")
	}
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}

	if info != nil {
		info.Blocked = false
		info.BlockedUntil = nil
		info.RiskScore -= riskUnblockRelief
		if info.RiskScore < 0 {
			info.RiskScore = 0
		}
		e.saveIP(tx, info)
	}

	e.refreshBlockedGauge(tx)
	e.log.WithField("ip", id).Info("ip unblocked")
	return true
}

func (e *Engine) refreshBlockedGauge(tx *txn) {
	n, err := e.blocked.Len(tx.ctx)
	if err != nil {
		return
	}
	metrics.SetBlockedIPs(n)
}
