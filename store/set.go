package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// Set overwrites key with v. A pending merge fold for key is aborted first,
// so set always wins a race against an in-flight merge. v of Undefined is
// a no-op; v of Null is also a no-op when nothing is cached for key yet
// (there is nothing to remove), and otherwise clears the cached and stored
// value.
func (s *Store) Set(ctx context.Context, key string, v *value.Value) error {
	return s.timed("set", func() error { return s.setInternal(ctx, key, v) })
}

func (s *Store) setInternal(ctx context.Context, key string, v *value.Value) error {
	s.queue.Abort(key)

	v = s.skip.Filter(key, v)

	if value.IsUndefined(v) {
		return nil
	}
	if !s.cache.Has(key) && value.IsNull(v) {
		return nil
	}

	existing, _ := s.cache.Get(key)
	compat := value.Check(v, existing)
	if !compat.IsCompatible {
		s.emit(ctx, observability.EventIncompatibleUpdate, observability.LevelWarning, "store.set", map[string]any{
			"key": key, "existingKind": compat.ExistingKind.String(), "newKind": compat.NewKind.String(),
		})
		return nil
	}

	normalized := normalizeNulls(v)
	if value.IsNull(normalized) {
		return s.removeKey(ctx, key)
	}

	hasChanged := s.cache.HasValueChanged(key, normalized)
	s.cache.Set(key, normalized)
	s.debugLogSet(ctx, key, normalized)
	_ = s.registry.BroadcastUpdate(ctx, key, normalized, hasChanged)

	if !hasChanged {
		return nil
	}

	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.driver.SetItem(ctx, key, normalized)
	})
}

// MultiSet applies the skippable filter to every entry, aborts any pending
// merge per key, updates the cache, and schedules per-key subscriber
// notifications, before issuing a single Storage.MultiSet call.
func (s *Store) MultiSet(ctx context.Context, data map[string]*value.Value) error {
	return s.timed("multiSet", func() error { return s.multiSetInternal(ctx, data) })
}

func (s *Store) multiSetInternal(ctx context.Context, data map[string]*value.Value) error {
	pairs := make(map[string]*value.Value, len(data))
	var toRemove []string
	for key, v := range data {
		s.queue.Abort(key)
		v = s.skip.Filter(key, v)
		if value.IsUndefined(v) {
			continue
		}
		prev, _ := s.cache.Get(key)
		normalized := normalizeNulls(v)
		if value.IsNull(normalized) {
			s.cache.Delete(key)
			_ = s.registry.ScheduleSubscriberUpdate(ctx, key, nil, prev)
			toRemove = append(toRemove, key)
			continue
		}
		s.cache.Set(key, normalized)
		s.debugLogSet(ctx, key, normalized)
		_ = s.registry.ScheduleSubscriberUpdate(ctx, key, normalized, prev)
		pairs[key] = normalized
	}
	if len(pairs) == 0 && len(toRemove) == 0 {
		return nil
	}
	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		if len(toRemove) > 0 {
			if err := s.driver.RemoveItems(ctx, toRemove); err != nil {
				return err
			}
		}
		if len(pairs) > 0 {
			if err := s.driver.MultiSet(ctx, pairs); err != nil {
				return err
			}
		}
		return nil
	})
}

// removeKey drops key from cache and storage and notifies subscribers of
// its removal (represented to subscribers as Undefined).
func (s *Store) removeKey(ctx context.Context, key string) error {
	s.cache.Delete(key)
	_ = s.registry.BroadcastUpdate(ctx, key, nil, true)
	return s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.driver.RemoveItems(ctx, []string{key})
	})
}

// normalizeNulls strips nested nulls from a freshly-set value: a top-level
// null still means "remove the key" to callers further up the pipeline,
// but nested nulls inside an object being set outright should never
// survive into cache or storage (there is no prior value for them to
// "delete" from). Arrays are kept as-is.
func normalizeNulls(v *value.Value) *value.Value {
	if value.IsNull(v) || value.IsUndefined(v) {
		return v
	}
	if value.IsObject(v) {
		out := make(map[string]*value.Value)
		for k, fv := range v.Fields() {
			if value.IsNull(fv) {
				continue
			}
			out[k] = normalizeNulls(fv)
		}
		return value.Object(out)
	}
	return v
}

// debugLogSet emits a verbose event carrying the full written value when
// Config.DebugSetState is enabled. Off by default: it exists for local
// debugging of cache writes, not for production observability volume.
func (s *Store) debugLogSet(ctx context.Context, key string, v *value.Value) {
	if !s.cfg.DebugSetState {
		return
	}
	s.emit(ctx, observability.EventDebugSetState, observability.LevelVerbose, "store.debug", map[string]any{
		"key": key, "value": v.ToAny(),
	})
}

// timed wraps fn with the performance decorator when enabled, otherwise
// runs it directly.
func (s *Store) timed(op string, fn func() error) error {
	if s.perf == nil {
		return fn()
	}
	return s.perf.Time(op, fn)
}
