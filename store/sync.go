package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// wireInstanceSync registers a callback with src that applies writes from
// other instances directly to cache and subscribers, bypassing the merge
// queue entirely: a delivered write represents already-committed state, so
// there is nothing left to fold. No locking is used beyond what cache and
// the subscriber registry already provide; the last delivery wins and
// subscribers observe the delivery order.
func (s *Store) wireInstanceSync(src instanceSyncSource) error {
	return src.KeepInstancesSync(func(key string, v *value.Value) {
		ctx := context.Background()

		prev, _ := s.cache.Get(key)
		if value.IsUndefined(v) || value.IsNull(v) {
			s.cache.Delete(key)
		} else {
			s.cache.Set(key, v)
		}

		s.emit(ctx, observability.EventInstanceSync, observability.LevelVerbose, "store.sync", map[string]any{"key": key})
		_ = s.registry.ScheduleSubscriberUpdate(ctx, key, v, prev)
	})
}

// instanceSyncSource mirrors storage.InstanceSyncSource; declared locally
// so sync.go doesn't need to import storage just for this one method set.
type instanceSyncSource interface {
	KeepInstancesSync(callback func(key string, v *value.Value)) error
}
