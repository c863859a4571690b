package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/value"
)

const clearTaskName = "CLEAR"

// Clear resets the store to its default key states, removing every other
// key except those named in keysToPreserve. The entire operation is
// registered as a named pending task so concurrent writers may await it;
// awaiting is advisory, never enforced.
func (s *Store) Clear(ctx context.Context, keysToPreserve []string) error {
	return s.timed("clear", func() error { return s.clearInternal(ctx, keysToPreserve) })
}

func (s *Store) clearInternal(ctx context.Context, keysToPreserve []string) error {
	finish := s.cache.BeginTask(clearTaskName)
	err := s.runClear(ctx, keysToPreserve)
	finish(err)
	return err
}

func (s *Store) runClear(ctx context.Context, keysToPreserve []string) error {
	preserve := make(map[string]struct{}, len(keysToPreserve))
	for _, k := range keysToPreserve {
		preserve[k] = struct{}{}
	}

	allKeys, err := s.driver.GetAllKeys(ctx)
	if err != nil {
		return err
	}
	union := make(map[string]struct{}, len(allKeys)+len(s.defaults))
	for k := range allKeys {
		union[k] = struct{}{}
	}
	for k := range s.defaults {
		union[k] = struct{}{}
	}

	var toRemove []string
	previous := make(map[string]*value.Value)

	for key := range union {
		if _, keep := preserve[key]; keep {
			continue
		}
		s.queue.Abort(key)
		prev, _ := s.cache.Get(key)
		if _, hasDefault := s.defaults[key]; hasDefault {
			previous[key] = prev
			continue
		}
		previous[key] = prev
		toRemove = append(toRemove, key)
	}

	for _, key := range toRemove {
		s.cache.Delete(key)
	}

	resetDefaults := make(map[string]*value.Value, len(s.defaults))
	for key, v := range s.defaults {
		if _, keep := preserve[key]; keep {
			continue
		}
		resetDefaults[key] = v
	}

	if err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		if len(toRemove) > 0 {
			if err := s.driver.RemoveItems(ctx, toRemove); err != nil {
				return err
			}
		}
		if len(resetDefaults) > 0 {
			if err := s.driver.MultiSet(ctx, resetDefaults); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for key, v := range resetDefaults {
		s.cache.Set(key, v.Clone())
	}

	s.registry.RefreshSessionID()

	// Group changed keys that belong to a collection so their subscribers
	// get one batched notification instead of one per member, the same
	// split collapsedCollectionWrite uses for mergeCollection/setCollection.
	collectionMembers := make(map[string]map[string]*value.Value)
	collectionPrevious := make(map[string]map[string]*value.Value)

	for key, prev := range previous {
		current, _ := s.cache.Get(key)
		if value.Equal(prev, current) {
			continue
		}
		if prefix := s.collections.PrefixFor(key); prefix != "" {
			if collectionMembers[prefix] == nil {
				collectionMembers[prefix] = make(map[string]*value.Value)
				collectionPrevious[prefix] = make(map[string]*value.Value)
			}
			collectionMembers[prefix][key] = current
			collectionPrevious[prefix][key] = prev
			continue
		}
		_ = s.registry.ScheduleSubscriberUpdate(ctx, key, current, prev)
	}
	for prefix, members := range collectionMembers {
		_ = s.registry.ScheduleNotifyCollectionSubscribers(ctx, prefix, members, collectionPrevious[prefix])
	}

	s.emit(ctx, observability.EventClear, observability.LevelInfo, "store.clear", map[string]any{
		"removedCount": len(toRemove), "defaultCount": len(s.defaults), "preservedCount": len(preserve),
	})
	return nil
}
