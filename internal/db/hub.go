package db

import "sync"

// Hub fans change events out to table subscribers. Both providers embed one;
// delivery is synchronous and in operation order, and a subscription is dead
// the moment Unsubscribe returns.
//
// Callbacks run under the hub lock and must not call back into the hub or
// the owning service.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]*hubSub
}

type hubSub struct {
	id       int
	table    string
	hub      *Hub
	callback func(Event)
	filters  map[string]any
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string][]*hubSub)}
}

func (h *Hub) Subscribe(table string, callback func(Event), filters map[string]any) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &hubSub{id: h.nextID, table: table, hub: h, callback: callback, filters: filters}
	h.subs[table] = append(h.subs[table], sub)
	return sub
}

// Publish delivers ev to every subscriber of table whose filters accept the
// event's record.
func (h *Hub) Publish(table string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[table] {
		if sub.filters != nil && !MatchFilters(ev.Record, sub.filters) {
			continue
		}
		sub.callback(ev)
	}
}

func (s *hubSub) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	subs := s.hub.subs[s.table]
	for i, candidate := range subs {
		if candidate.id == s.id {
			s.hub.subs[s.table] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
