package defense

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SweepReport summarises one IP sweep.
type SweepReport struct {
	PurgedRequests int `json:"purged_requests"`
	EvictedIPs     int `json:"evicted_ips"`
	Unblocked      int `json:"unblocked"`
	PurgedEvents   int `json:"purged_events"`
}

// SweepIPs lifts expired bans, trims history older than an hour, evicts
// clients idle for a day that are not blocked and drops day-old events.
func (e *Engine) SweepIPs(ctx context.Context) SweepReport {
	var rep SweepReport
	e.do(ctx, func(tx *txn) {
		var ids []string
		if err := e.ips.Range(tx.ctx, func(id string, _ *IPInfo) bool {
			ids = append(ids, id)
			return true
		}); err != nil {
			e.log.WithError(err).Error("failed to list ip records")
		}

		historyCutoff := tx.now.Add(-historyRetention)
		for _, id := range ids {
			info := e.loadIP(tx, id)
			if info == nil {
				continue
			}
			if info.Blocked && info.BlockedUntil != nil && !tx.now.Before(*info.BlockedUntil) {
				if e.unblock(tx, id) {
					rep.Unblocked++
				}
				if info = e.loadIP(tx, id); info == nil {
					continue
				}
			}

			if !info.Blocked && tx.now.Sub(info.LastSeen) > idleEviction {
				if err := e.ips.Delete(tx.ctx, id); err != nil {
					e.log.WithError(err).WithField("ip", id).Error("failed to evict ip record")
					continue
				}
				rep.EvictedIPs++
				continue
			}

			kept := info.Requests[:0]
			for _, rec := range info.Requests {
				if rec.Timestamp.After(historyCutoff) {
					kept = append(kept, rec)
				}
			}
			if purged := len(info.Requests) - len(kept); purged > 0 {
				info.Requests = kept
				rep.PurgedRequests += purged
				e.saveIP(tx, info)
			}
		}

		eventCutoff := tx.now.Add(-eventRetention)
		i := 0
		for i < len(e.events) && !e.events[i].Timestamp.After(eventCutoff) {
			i++
		}
		if i > 0 {
			e.events = append([]SecurityEvent(nil), e.events[i:]...)
			rep.PurgedEvents = i
		}
		e.refreshBlockedGauge(tx)
	})

	e.log.WithFields(logrus.Fields{
		"purged_requests": rep.PurgedRequests,
		"evicted_ips":     rep.EvictedIPs,
		"unblocked":       rep.Unblocked,
		"purged_events":   rep.PurgedEvents,
	}).Debug("ip sweep finished")
	return rep
}

// SweepCounters drops rate-limit windows that have closed.
func (e *Engine) SweepCounters(ctx context.Context) int {
	var removed int
	e.do(ctx, func(tx *txn) {
		n, err := e.counters.Sweep(tx.ctx, tx.now)
		if err != nil {
			e.log.WithError(err).Error("failed to sweep rate limit counters")
			return
		}
		removed = n
	})
	if removed > 0 {
		e.log.WithField("removed", removed).Debug("rate limit sweep finished")
	}
	return removed
}
