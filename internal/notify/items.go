// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package notify

import "sync"

// ItemSubscriber receives the UUIDs of metadata items whose persisted state
// changed. Close must be called exactly once.
type ItemSubscriber struct {
	hub  *ItemHub
	ch   chan string
	once sync.Once
}

func (s *ItemSubscriber) C() <-chan string { return s.ch }

func (s *ItemSubscriber) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// ItemHub fans metadata-item-updated events out to subscribers. Like the
// job hub, a full subscriber drops the event rather than blocking the
// publisher; clients reconcile by re-fetching the item.
type ItemHub struct {
	mu   sync.Mutex
	subs map[*ItemSubscriber]struct{}
}

func NewItemHub() *ItemHub {
	return &ItemHub{subs: make(map[*ItemSubscriber]struct{})}
}

func (h *ItemHub) Subscribe() *ItemSubscriber {
	s := &ItemSubscriber{hub: h, ch: make(chan string, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *ItemHub) remove(s *ItemSubscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Publish delivers an item UUID to every subscriber.
func (h *ItemHub) Publish(uuid string) {
	h.mu.Lock()
	subs := make([]*ItemSubscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- uuid:
		default:
		}
	}
}
