// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package notify

import (
	"sync"

	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/metrics"
)

// subscriberBuffer bounds how many undelivered frames a slow subscriber can
// hold before frames are dropped. Dropped frames are recoverable: the next
// flush carries the latest state again.
const subscriberBuffer = 64

// Subscriber receives notification frames. Close must be called exactly once.
type Subscriber struct {
	hub     *Hub
	ch      chan []media.JobNotificationEntry
	section int64 // 0 subscribes to all sections
	once    sync.Once
}

// C is the frame channel. It closes when the subscriber is closed.
func (s *Subscriber) C() <-chan []media.JobNotificationEntry { return s.ch }

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Hub fans notification frames out to subscribers. Sends never block the
// flush loop: a full subscriber drops the frame.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a subscriber. sectionID 0 receives every section's
// frames, otherwise only the matching section's entries.
func (h *Hub) Subscribe(sectionID int64) *Subscriber {
	s := &Subscriber{
		hub:     h,
		ch:      make(chan []media.JobNotificationEntry, subscriberBuffer),
		section: sectionID,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Publish delivers one flush frame to every matching subscriber.
func (h *Hub) Publish(entries []media.JobNotificationEntry) {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		frame := entries
		if s.section != 0 {
			frame = filterSection(entries, s.section)
			if len(frame) == 0 {
				continue
			}
		}
		select {
		case s.ch <- frame:
		default:
			metrics.NotifySubscriberDrops.Inc()
		}
	}
}

func filterSection(entries []media.JobNotificationEntry, sectionID int64) []media.JobNotificationEntry {
	var out []media.JobNotificationEntry
	for _, e := range entries {
		if e.SectionID == sectionID {
			out = append(out, e)
		}
	}
	return out
}
