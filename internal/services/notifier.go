package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/logger"
	"github.com/Wikid82/rampart/internal/metrics"
)

// Notifier is an engine sink that forwards critical events to shoutrrr
// service URLs. Sends are throttled so an attack does not become a flood of
// messages.
type Notifier struct {
	urls    []string
	limiter *rate.Limiter
	send    func(url, message string) error
	wg      sync.WaitGroup
	log     *logrus.Entry
}

// NewNotifier returns a notifier allowing perMinute messages per minute.
// A non-positive perMinute disables throttling.
func NewNotifier(urls []string, perMinute int) *Notifier {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = perMinute
	}
	return &Notifier{
		urls:    urls,
		limiter: rate.NewLimiter(limit, burst),
		send:    func(url, message string) error { return shoutrrr.Send(url, message) },
		log:     logger.Component("notifier"),
	}
}

// HandleSecurityEvent implements defense.EventSink.
func (n *Notifier) HandleSecurityEvent(ev defense.SecurityEvent) {
	if len(n.urls) == 0 || ev.Severity != defense.SeverityCritical {
		return
	}
	if !n.limiter.Allow() {
		metrics.IncNotification("throttled")
		return
	}

	msg := FormatEventMessage(ev)
	for _, url := range n.urls {
		n.wg.Add(1)
		go func(url string) {
			defer n.wg.Done()
			if err := n.send(url, msg); err != nil {
				metrics.IncNotification("failed")
				n.log.WithError(err).WithField("event_id", ev.ID).Error("failed to send notification")
				return
			}
			metrics.IncNotification("sent")
		}(url)
	}
}

// Wait blocks until in-flight sends finish.
func (n *Notifier) Wait() { n.wg.Wait() }

// FormatEventMessage renders an event for chat services.
func FormatEventMessage(ev defense.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rampart: %s %s event\n\n", ev.Severity, ev.Type)
	fmt.Fprintf(&b, "IP: %s\nURL: %s\nBlocked: %t\nTime: %s", ev.IPAddress, ev.URL, ev.Blocked, ev.Timestamp.UTC().Format(time.RFC3339))

	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, ev.Details[k])
	}
	return b.String()
}
