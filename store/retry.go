package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/observability"
)

// retryBudget bounds how many times a storage failure evicts the
// least-recently-used evictable key and retries the original call before
// the failure is surfaced to the caller.
const retryBudget = 2

// withStorageRetry runs op, and on failure evicts the least-recently-used
// evictable key from cache and storage before retrying, up to retryBudget
// times. A terminal failure is returned as ErrStorageUnavailable; the
// driver's own error is reported only in the emitted failure event.
func (s *Store) withStorageRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	for attempt := 0; err != nil && attempt < retryBudget; attempt++ {
		key, ok := s.cache.LeastRecentlyUsedEvictable()
		if !ok {
			break
		}

		s.emit(ctx, observability.EventStorageRetry, observability.LevelWarning, "store.retry", map[string]any{
			"key":     key,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})

		s.cache.Delete(key)
		_ = s.driver.RemoveItems(ctx, []string{key})

		err = op(ctx)
	}
	if err != nil {
		s.emit(ctx, observability.EventStorageFailure, observability.LevelError, "store.retry", map[string]any{"error": err.Error()})
		return ErrStorageUnavailable
	}
	return nil
}
