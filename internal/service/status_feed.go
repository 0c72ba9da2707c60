package service

import (
	"context"
	"sync"

	"order-saga/internal/util"
)

// statusBuffer is the per-subscriber channel capacity. A subscriber that
// falls further behind loses messages rather than blocking event handlers.
const statusBuffer = 16

// StatusFeed maps order ids to at most one live status subscriber each.
// A later Subscribe for the same order replaces the earlier one. It is an
// explicit, injectable registry owned by the coordinator's wiring, not
// package-level state.
type StatusFeed struct {
	mu   sync.Mutex
	subs map[string]chan string
}

// NewStatusFeed creates an empty feed
func NewStatusFeed() *StatusFeed {
	return &StatusFeed{subs: make(map[string]chan string)}
}

// Subscribe registers a subscriber for an order and returns its channel plus
// a cancel function that frees the slot. Cancel is safe to call more than
// once and does not disturb a replacement subscriber.
func (f *StatusFeed) Subscribe(orderID string) (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if old, ok := f.subs[orderID]; ok {
		close(old)
		util.StatusSubscribers.Dec()
	}

	ch := make(chan string, statusBuffer)
	f.subs[orderID] = ch
	util.StatusSubscribers.Inc()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if current, ok := f.subs[orderID]; ok && current == ch {
			delete(f.subs, orderID)
			close(ch)
			util.StatusSubscribers.Dec()
		}
	}
	return ch, cancel
}

// Publish pushes a status message to the order's subscriber, if any.
// Absence of a subscriber is not an error. The send never blocks: a full
// buffer drops the message instead of stalling the event handler.
func (f *StatusFeed) Publish(orderID, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.subs[orderID]
	if !ok {
		return
	}
	select {
	case ch <- message:
	default:
	}
}

// Deduper records keys across redeliveries. Handlers check IsMarked at
// entry and call MarkOnce only after their effects are committed, so an
// attempt that dies midway stays redeliverable. The Redis client implements
// it with SetNX; tests use MemoryDeduper.
type Deduper interface {
	IsMarked(ctx context.Context, key string) (bool, error)
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// MemoryDeduper is an in-process Deduper for tests and the memory backend
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDeduper creates an empty deduper
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) IsMarked(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok, nil
}

func (d *MemoryDeduper) MarkOnce(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}
