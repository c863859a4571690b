// Package subscriber defines the subscriber/connection registry contract
// the write pipeline calls into, and provides an in-process pub/sub hub
// implementation for tests and for cmd/storectl.
package subscriber

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/value"
)

// Registry is the subscriber/connection registry contract consumed by the
// write pipeline. How callbacks actually get attached to keys/collections
// is the registry's own concern — only these notification entry points
// matter to the write pipeline.
type Registry interface {
	// BroadcastUpdate notifies subscribers of key that it now holds v.
	// hasChanged tells the registry whether this is a genuine change or a
	// no-op optimistic rebroadcast.
	BroadcastUpdate(ctx context.Context, key string, v *value.Value, hasChanged bool) error

	// ScheduleSubscriberUpdate defers a single key's notification to the
	// next tick. Whether multiple writes to the same key within one tick
	// are coalesced is up to the implementation; Hub does not coalesce.
	ScheduleSubscriberUpdate(ctx context.Context, key string, v, prev *value.Value) error

	// ScheduleNotifyCollectionSubscribers notifies subscribers of an entire
	// collection at once, passing both the merged members and (when
	// available) their previous values.
	ScheduleNotifyCollectionSubscribers(ctx context.Context, collectionKey string, members, previous map[string]*value.Value) error

	// RefreshSessionID invalidates correlation tokens after clear and
	// returns the freshly minted id.
	RefreshSessionID() string
}
