package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// DeferredInit seeds every declared default key state into storage and
// cache for keys not already present, mirroring the reset half of clear
// but running once at startup rather than on every call. Keys already
// present in storage are left untouched.
func (s *Store) DeferredInit(ctx context.Context) error {
	if len(s.defaults) == 0 {
		return nil
	}

	allKeys, err := s.driver.GetAllKeys(ctx)
	if err != nil {
		return err
	}

	missing := make(map[string]*value.Value, len(s.defaults))
	for key, v := range s.defaults {
		if _, present := allKeys[key]; present {
			continue
		}
		missing[key] = v.Clone()
	}
	if len(missing) == 0 {
		return nil
	}

	if err := s.withStorageRetry(ctx, func(ctx context.Context) error {
		return s.driver.MultiSet(ctx, missing)
	}); err != nil {
		return err
	}

	for key, v := range missing {
		s.cache.Set(key, v)
	}

	s.emit(ctx, observability.EventInit, observability.LevelInfo, "store.init", map[string]any{"seededCount": len(missing)})
	return nil
}
