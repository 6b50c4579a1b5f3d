// Package events provides the change-event channel the dispatch protocol
// rides on: row-level insert/update notifications delivered to subscribers
// filtered by interest. The protocol's correctness never depends on it — the
// authoritative gate is always the conditional update at the store — so the
// channel only has to preserve per-record publish order.
package events

import (
	"context"
	"encoding/json"
	"sync"
)

// Change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// Tables carried on the bus.
const (
	TableOrders        = "orders"
	TableDeliveries    = "deliveries"
	TableNotifications = "notifications"
)

// Change is a row-level change event.
type Change struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	// Key identifies the changed row (order/delivery id, notification uuid).
	Key string `json:"key"`
	// Payload is the JSON-encoded row after the change.
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into v.
func (c Change) Decode(v any) error {
	return json.Unmarshal(c.Payload, v)
}

// Filter decides whether a subscription wants a change.
type Filter func(Change) bool

// Handler consumes a change event.
type Handler func(Change)

// Bus is the event channel consumed by the dispatch components.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	// Subscribe registers a handler for changes on a table. A nil filter
	// matches everything on the table.
	Subscribe(table string, filter Filter, h Handler) *Subscription
	Unsubscribe(s *Subscription)
}

// Subscription is an opaque handle returned by Subscribe.
type Subscription struct {
	table  string
	filter Filter
	h      Handler
}

// MemoryBus is the in-process Bus. Dispatch is synchronous in the publisher's
// goroutine, so changes for a given record reach every subscriber in the
// order they were published.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{} // table -> set
}

// NewMemoryBus creates an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*Subscription]struct{})}
}

// Publish delivers the change to every matching subscriber.
func (b *MemoryBus) Publish(_ context.Context, c Change) error {
	b.mu.RLock()
	var matched []*Subscription
	for s := range b.subs[c.Table] {
		if s.filter == nil || s.filter(c) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()
	// Handlers run outside the lock so they may subscribe/unsubscribe.
	for _, s := range matched {
		s.h(c)
	}
	return nil
}

// Subscribe registers a handler for changes on a table.
func (b *MemoryBus) Subscribe(table string, filter Filter, h Handler) *Subscription {
	s := &Subscription{table: table, filter: filter, h: h}
	b.mu.Lock()
	set, ok := b.subs[table]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[table] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscription. Safe to call twice.
func (b *MemoryBus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs[s.table], s)
	b.mu.Unlock()
}

// MarshalPayload is a convenience for publishers building a Change.
func MarshalPayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
