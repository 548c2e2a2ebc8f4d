package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampart_requests_total",
		Help: "Requests evaluated by the defense engine, by deciding stage",
	}, []string{"stage"})
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampart_security_events_total",
		Help: "Security events recorded, by type and severity",
	}, []string{"type", "severity"})
	blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampart_blocks_total",
		Help: "Identifiers added to the block list, by reason",
	}, []string{"reason"})
	blockedIPs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rampart_blocked_ips",
		Help: "Identifiers currently on the block list",
	})
	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rampart_notifications_total",
		Help: "Critical event notifications, by outcome",
	}, []string{"outcome"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(requestsTotal, eventsTotal, blocksTotal, blockedIPs, notificationsTotal)
}

// IncRequest counts a request decided at stage.
func IncRequest(stage string) { requestsTotal.WithLabelValues(stage).Inc() }

// IncEvent counts a recorded security event.
func IncEvent(eventType, severity string) { eventsTotal.WithLabelValues(eventType, severity).Inc() }

// IncBlock counts a block list insertion.
func IncBlock(reason string) { blocksTotal.WithLabelValues(reason).Inc() }

// SetBlockedIPs sets the blocked identifiers gauge.
func SetBlockedIPs(n int) { blockedIPs.Set(float64(n)) }

// IncNotification counts a notification attempt: sent, failed or throttled.
func IncNotification(outcome string) { notificationsTotal.WithLabelValues(outcome).Inc() }
