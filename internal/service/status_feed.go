package service

import (
	"sync"

	"socialqueue/internal/constants"
	"socialqueue/internal/metrics"
	"socialqueue/internal/models"

	"github.com/sirupsen/logrus"
)

// StatusFeed fans terminal status events out to the owner's live
// subscribers. Slow subscribers lose events instead of blocking the scanner.
type StatusFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[chan models.StatusEvent]struct{}
	buffer int
	logger *logrus.Logger
}

func NewStatusFeed(logger *logrus.Logger) *StatusFeed {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatusFeed{
		subs:   make(map[string]map[chan models.StatusEvent]struct{}),
		buffer: constants.StatusFeedBufferSize,
		logger: logger,
	}
}

// Subscribe registers a subscriber for owner. The returned function removes
// it and closes the channel; calling it more than once is safe.
func (f *StatusFeed) Subscribe(owner string) (<-chan models.StatusEvent, func()) {
	ch := make(chan models.StatusEvent, f.buffer)

	f.mu.Lock()
	if f.subs[owner] == nil {
		f.subs[owner] = make(map[chan models.StatusEvent]struct{})
	}
	f.subs[owner][ch] = struct{}{}
	f.mu.Unlock()
	f.recordSubscribers()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[owner], ch)
			if len(f.subs[owner]) == 0 {
				delete(f.subs, owner)
			}
			close(ch)
			f.mu.Unlock()
			f.recordSubscribers()
		})
	}
	return ch, cancel
}

// Publish delivers event to every subscriber of event.OwnerID without blocking.
func (f *StatusFeed) Publish(event models.StatusEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.subs[event.OwnerID] {
		select {
		case ch <- event:
		default:
			f.logger.WithFields(logrus.Fields{
				LogFieldEntryID: event.ID,
				LogFieldStatus:  event.Status,
			}).Warn("Status subscriber is not keeping up, dropping event")
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (f *StatusFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, set := range f.subs {
		n += len(set)
	}
	return n
}

func (f *StatusFeed) recordSubscribers() {
	metrics.SetGauge(metrics.StatusFeedSubscribers, float64(f.Subscribers()), nil, "Live status stream subscribers")
}
