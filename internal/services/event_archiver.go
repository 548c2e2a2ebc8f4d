package services

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/logger"
)

const defaultArchiveBuffer = 1024

// EventArchiver is an engine sink that writes events to the database on a
// background goroutine. When the queue is full new events are dropped and
// counted.
type EventArchiver struct {
	svc   *SecurityService
	queue chan defense.SecurityEvent
	done  chan struct{}
	log   *logrus.Entry

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewEventArchiver starts the archiving goroutine. Close flushes and stops it.
func NewEventArchiver(svc *SecurityService, buffer int) *EventArchiver {
	if buffer <= 0 {
		buffer = defaultArchiveBuffer
	}
	a := &EventArchiver{
		svc:   svc,
		queue: make(chan defense.SecurityEvent, buffer),
		done:  make(chan struct{}),
		log:   logger.Component("archive"),
	}
	go a.run()
	return a
}

// HandleSecurityEvent implements defense.EventSink.
func (a *EventArchiver) HandleSecurityEvent(ev defense.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		select {
		case a.queue <- ev:
			return
		default:
		}
	}
	a.dropped++
	if a.dropped == 1 || a.dropped%100 == 0 {
		a.log.WithField("dropped", a.dropped).Warn("event archive unavailable, dropping events")
	}
}

// Dropped returns how many events were not archived.
func (a *EventArchiver) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *EventArchiver) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.svc.LogEvent(EventRecord(ev)); err != nil {
			a.log.WithError(err).WithField("event_id", ev.ID).Error("failed to archive event")
		}
	}
}

// Close drains the queue and waits for pending writes.
func (a *EventArchiver) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
}
