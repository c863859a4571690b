package subscriber

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/storecore/store/value"
)

// Update is delivered to per-key subscribers.
type Update struct {
	Key        string
	Value      *value.Value
	Previous   *value.Value
	HasChanged bool
}

// CollectionUpdate is delivered to per-collection subscribers.
type CollectionUpdate struct {
	CollectionKey string
	Members       map[string]*value.Value
	Previous      map[string]*value.Value
}

// Hub is an in-process Registry implementation built on per-key and
// per-collection subscription channels instead of per-agent ones.
type Hub struct {
	bufferSize int

	mu             sync.RWMutex
	keySubs        map[string][]*notifyChannel[Update]
	collectionSubs map[string][]*notifyChannel[CollectionUpdate]

	sessionMu sync.Mutex
	sessionID string
}

// New creates a Hub with the given per-subscriber channel buffer size.
func New(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		bufferSize:     bufferSize,
		keySubs:        make(map[string][]*notifyChannel[Update]),
		collectionSubs: make(map[string][]*notifyChannel[CollectionUpdate]),
		sessionID:      uuid.Must(uuid.NewV7()).String(),
	}
}

// Subscribe registers interest in key and returns a channel of Updates.
// Callers that stop listening should not close the returned channel
// themselves; the hub owns it.
func (h *Hub) Subscribe(key string) <-chan Update {
	nc := newNotifyChannel[Update](h.bufferSize)
	h.mu.Lock()
	h.keySubs[key] = append(h.keySubs[key], nc)
	h.mu.Unlock()
	return nc.Receive()
}

// SubscribeCollection registers interest in an entire collection.
func (h *Hub) SubscribeCollection(collectionKey string) <-chan CollectionUpdate {
	nc := newNotifyChannel[CollectionUpdate](h.bufferSize)
	h.mu.Lock()
	h.collectionSubs[collectionKey] = append(h.collectionSubs[collectionKey], nc)
	h.mu.Unlock()
	return nc.Receive()
}

// BroadcastUpdate delivers synchronously (within this call) to every
// subscriber of key, independently of whether the underlying storage
// write has landed yet.
func (h *Hub) BroadcastUpdate(ctx context.Context, key string, v *value.Value, hasChanged bool) error {
	h.mu.RLock()
	subs := append([]*notifyChannel[Update](nil), h.keySubs[key]...)
	h.mu.RUnlock()

	update := Update{Key: key, Value: v, HasChanged: hasChanged}
	for _, nc := range subs {
		nc.Send(ctx, update)
	}
	return nil
}

// ScheduleSubscriberUpdate defers delivery to a new goroutine, standing in
// for a "next tick" notification. Each call is delivered as its own Update;
// successive calls for the same key are not coalesced.
func (h *Hub) ScheduleSubscriberUpdate(ctx context.Context, key string, v, prev *value.Value) error {
	h.mu.RLock()
	subs := append([]*notifyChannel[Update](nil), h.keySubs[key]...)
	h.mu.RUnlock()

	update := Update{Key: key, Value: v, Previous: prev, HasChanged: true}
	go func() {
		for _, nc := range subs {
			nc.Send(ctx, update)
		}
	}()
	return nil
}

// ScheduleNotifyCollectionSubscribers delivers a whole-collection update to
// every subscriber of collectionKey.
func (h *Hub) ScheduleNotifyCollectionSubscribers(ctx context.Context, collectionKey string, members, previous map[string]*value.Value) error {
	h.mu.RLock()
	subs := append([]*notifyChannel[CollectionUpdate](nil), h.collectionSubs[collectionKey]...)
	h.mu.RUnlock()

	update := CollectionUpdate{CollectionKey: collectionKey, Members: members, Previous: previous}
	go func() {
		for _, nc := range subs {
			nc.Send(ctx, update)
		}
	}()
	return nil
}

// RefreshSessionID mints a fresh UUIDv7 session/correlation id and returns
// it.
func (h *Hub) RefreshSessionID() string {
	id := uuid.Must(uuid.NewV7()).String()
	h.sessionMu.Lock()
	h.sessionID = id
	h.sessionMu.Unlock()
	return id
}

// SessionID returns the current session/correlation id.
func (h *Hub) SessionID() string {
	h.sessionMu.Lock()
	defer h.sessionMu.Unlock()
	return h.sessionID
}

// Close closes every subscriber channel, for clean shutdown in tests.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.keySubs {
		for _, nc := range subs {
			nc.Close()
		}
	}
	for _, subs := range h.collectionSubs {
		for _, nc := range subs {
			nc.Close()
		}
	}
}
