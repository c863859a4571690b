package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/collection"
	"github.com/tailored-agentic-units/storecore/store/merge"
	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// MergeCollection merges members into collectionKey's members. Keys absent
// from storage are treated as fresh writes (nested nulls stripped); keys
// already present are merged with nested nulls preserved so the driver can
// apply field deletion. A member whose resolved value is null is removed
// outright from both storage and cache.
func (s *Store) MergeCollection(ctx context.Context, collectionKey string, members map[string]*value.Value) error {
	return s.timed("mergeCollection", func() error {
		return s.mergeCollectionInternal(ctx, collectionKey, members)
	})
}

func (s *Store) mergeCollectionInternal(ctx context.Context, collectionKey string, members map[string]*value.Value) error {
	if len(members) == 0 {
		return ErrEmptyCollection
	}
	if badKey, ok := collection.ValidateMembers(collectionKey, anyMap(members)); !ok {
		if badKey != "" {
			return ErrForeignCollectionMember
		}
		return ErrEmptyCollection
	}
	return s.collapsedCollectionWrite(ctx, collectionKey, nil, members)
}

// collapsedCollectionWrite is the shared engine behind MergeCollection and
// update's collection-collapse step (Phase 3): setPortion members are
// written unconditionally, bypassing the compatibility check the way a
// plain multiSet would; mergePortion members follow the usual merge-or-fresh-
// write split against what is actually in storage. Either map may be nil.
func (s *Store) collapsedCollectionWrite(ctx context.Context, collectionKey string, setPortion, mergePortion map[string]*value.Value) error {
	filteredSet := make(map[string]*value.Value, len(setPortion))
	for key, v := range setPortion {
		filteredSet[key] = s.skip.Filter(key, v)
	}
	filteredMerge := make(map[string]*value.Value, len(mergePortion))
	for key, v := range mergePortion {
		filteredMerge[key] = s.skip.Filter(key, v)
	}

	allKeys, err := s.driver.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	var toRemove []string
	existingPairs := make(map[string]*value.Value)
	newPairs := make(map[string]*value.Value)
	previous := make(map[string]*value.Value, len(filteredSet)+len(filteredMerge))

	for key, v := range filteredSet {
		prev, _ := s.cache.Get(key)
		previous[key] = prev

		materialized := normalizeNulls(v)
		if value.IsNull(materialized) {
			toRemove = append(toRemove, key)
			s.cache.Delete(key)
			continue
		}
		newPairs[key] = materialized
	}

	for key, v := range filteredMerge {
		prev, _ := s.cache.Get(key)
		previous[key] = prev

		if value.IsNull(v) {
			toRemove = append(toRemove, key)
			s.cache.Delete(key)
			continue
		}

		_, existsInStorage := allKeys[key]
		if !existsInStorage {
			newPairs[key] = normalizeNulls(v)
			continue
		}

		compat := value.Check(v, prev)
		if !compat.IsCompatible {
			s.emit(ctx, observability.EventIncompatibleUpdate, observability.LevelWarning, "store.mergeCollection", map[string]any{
				"key": key, "existingKind": compat.ExistingKind.String(), "newKind": compat.NewKind.String(),
			})
			continue
		}
		existingPairs[key] = v
	}

	err = s.withStorageRetry(ctx, func(ctx context.Context) error {
		if len(toRemove) > 0 {
			if rmErr := s.driver.RemoveItems(ctx, toRemove); rmErr != nil {
				return rmErr
			}
		}
		if len(existingPairs) > 0 {
			if mErr := s.driver.MultiMerge(ctx, existingPairs); mErr != nil {
				return mErr
			}
		}
		if len(newPairs) > 0 {
			if sErr := s.driver.MultiSet(ctx, newPairs); sErr != nil {
				return sErr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	merged := make(map[string]*value.Value, len(existingPairs)+len(newPairs))
	for key, delta := range existingPairs {
		m := merge.Apply(previous[key], []*value.Value{delta}, true)
		s.cache.Set(key, m)
		s.debugLogSet(ctx, key, m)
		merged[key] = m
	}
	for key, v := range newPairs {
		s.cache.Set(key, v)
		s.debugLogSet(ctx, key, v)
		merged[key] = v
	}

	s.emit(ctx, observability.EventMergeCollection, observability.LevelInfo, "store.mergeCollection", map[string]any{
		"collectionKey": collectionKey, "memberCount": len(filteredSet) + len(filteredMerge),
	})
	return s.registry.ScheduleNotifyCollectionSubscribers(ctx, collectionKey, merged, previous)
}

// SetCollection replaces collectionKey's members wholesale: any previously
// persisted member not present in members is scheduled for removal.
func (s *Store) SetCollection(ctx context.Context, collectionKey string, members map[string]*value.Value) error {
	return s.timed("setCollection", func() error {
		return s.setCollectionInternal(ctx, collectionKey, members)
	})
}

func (s *Store) setCollectionInternal(ctx context.Context, collectionKey string, members map[string]*value.Value) error {
	if len(members) == 0 {
		return ErrEmptyCollection
	}
	if badKey, ok := collection.ValidateMembers(collectionKey, anyMap(members)); !ok {
		if badKey != "" {
			return ErrForeignCollectionMember
		}
		return ErrEmptyCollection
	}

	allKeys, err := s.driver.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	combined := make(map[string]*value.Value, len(members))
	previous := make(map[string]*value.Value)
	for key := range allKeys {
		if _, isMember := collection.MemberID(collectionKey, key); !isMember {
			continue
		}
		prev, _ := s.cache.Get(key)
		previous[key] = prev
		if _, keep := members[key]; !keep {
			combined[key] = value.Null()
		}
	}
	for key, v := range members {
		combined[key] = s.skip.Filter(key, v)
	}

	if err := s.multiSetInternal(ctx, combined); err != nil {
		return err
	}

	s.emit(ctx, observability.EventSetCollection, observability.LevelInfo, "store.setCollection", map[string]any{
		"collectionKey": collectionKey, "memberCount": len(members),
	})
	return s.registry.ScheduleNotifyCollectionSubscribers(ctx, collectionKey, combined, previous)
}

func anyMap(m map[string]*value.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k := range m {
		out[k] = nil
	}
	return out
}
