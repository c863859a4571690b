package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/merge"
	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/queue"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// Merge enqueues delta for key and waits for the fold it joins (or starts)
// to settle. Multiple Merge calls for the same key arriving while a fold
// is still reading its base value all coalesce into that fold's batch and
// share its single storage read and write.
func (s *Store) Merge(ctx context.Context, key string, delta *value.Value) error {
	return s.timed("merge", func() error { return s.mergeInternal(ctx, key, delta) })
}

func (s *Store) mergeInternal(ctx context.Context, key string, delta *value.Value) error {
	delta = s.skip.Filter(key, delta)
	if value.IsUndefined(delta) {
		return nil
	}

	s.emit(ctx, observability.EventMergeEnqueue, observability.LevelVerbose, "store.merge", map[string]any{"key": key})

	fold := s.queue.Enqueue(key, delta, func(f *queue.Fold) error {
		return s.runFold(ctx, f)
	})
	return fold.Wait()
}

// runFold implements the per-key merge queue fold.
func (s *Store) runFold(ctx context.Context, f *queue.Fold) error {
	key := f.Key()

	existing, err := s.readThrough(ctx, key)
	if err != nil {
		s.emit(ctx, observability.EventMergeAbort, observability.LevelError, "store.merge.fold", map[string]any{"key": key, "error": err.Error()})
		return nil
	}
	if f.Aborted() {
		return nil
	}

	deltas := f.Deltas()
	validDeltas := make([]*value.Value, 0, len(deltas))
	for _, d := range deltas {
		compat := value.Check(d, existing)
		if !compat.IsCompatible {
			s.emit(ctx, observability.EventIncompatibleUpdate, observability.LevelWarning, "store.merge.fold", map[string]any{
				"key": key, "existingKind": compat.ExistingKind.String(), "newKind": compat.NewKind.String(),
			})
			continue
		}
		validDeltas = append(validDeltas, d)
	}
	if len(validDeltas) == 0 {
		return nil
	}

	batchedDelta := merge.Apply(nil, validDeltas, false)

	shouldSetValue := value.IsUndefined(existing)
	if !shouldSetValue {
		for _, d := range validDeltas {
			if value.IsNull(d) {
				shouldSetValue = true
				break
			}
		}
	}

	f.Finish()
	if s.perf != nil {
		s.perf.RecordFold()
	}

	s.emit(ctx, observability.EventMergeFold, observability.LevelVerbose, "store.merge.fold", map[string]any{
		"key": key, "deltaCount": len(validDeltas), "shouldSetValue": shouldSetValue,
	})

	if value.IsNull(batchedDelta) {
		return s.removeKey(ctx, key)
	}

	base := existing
	if shouldSetValue {
		base = nil
	}
	preMerged := merge.Apply(base, []*value.Value{batchedDelta}, true)

	hasChanged := s.cache.HasValueChanged(key, preMerged)
	s.cache.Set(key, preMerged)
	s.debugLogSet(ctx, key, preMerged)
	_ = s.registry.BroadcastUpdate(ctx, key, preMerged, hasChanged)

	if !hasChanged {
		return nil
	}

	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.driver.MergeItem(ctx, key, batchedDelta, preMerged, shouldSetValue)
	})
}

// readThrough returns the cached value for key, reading through to storage
// on a cache miss.
func (s *Store) readThrough(ctx context.Context, key string) (*value.Value, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := s.driver.GetItem(ctx, key)
	if err != nil {
		return nil, err
	}
	if !value.IsUndefined(v) {
		s.cache.Set(key, v)
	}
	return v, nil
}
