// Package store is the write-pipeline façade: it orchestrates the cache,
// merge primitive, merge queue, collection helpers, storage driver and
// subscriber registry into the seven write operations (set, multiSet,
// merge, mergeCollection, setCollection, clear, update) plus the
// deferred-init lifecycle task.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"

	"github.com/tailored-agentic-units/storecore/config"
	"github.com/tailored-agentic-units/storecore/store/cache"
	"github.com/tailored-agentic-units/storecore/store/collection"
	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/perf"
	"github.com/tailored-agentic-units/storecore/store/queue"
	"github.com/tailored-agentic-units/storecore/store/storage"
	"github.com/tailored-agentic-units/storecore/store/subscriber"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// Options configures a Store. Driver and Registry default to in-process
// reference implementations (storage.MemStore, subscriber.Hub) when left
// nil, while still accepting overrides for testing.
type Options struct {
	Config   config.Config
	Driver   storage.Driver
	Registry subscriber.Registry
	Observer observability.Observer

	// MetricsSet backs the performance decorator when
	// Config.EnablePerformanceMetrics is set. Defaults to
	// vmetrics.NewSet() when nil.
	MetricsSet *vmetrics.Set

	// SnapshotFunc implements Update's Phase 5 snapshot hook. Left nil by
	// default; callers that stage UI loading-state data ahead of an
	// update's main batch supply one.
	SnapshotFunc SnapshotFunc
}

// Store is the write pipeline and merge engine. All methods are safe for
// concurrent use.
type Store struct {
	cfg config.Config

	cache       *cache.Cache
	queue       *queue.MergeQueue
	collections *collection.Registry
	skip        *collection.SkipSet

	driver   storage.Driver
	registry subscriber.Registry
	observer observability.Observer
	perf     *perf.Decorator

	defaults     map[string]*value.Value
	snapshotKeys map[string]struct{}
	snapshotFunc SnapshotFunc
}

// New builds a Store from opts and initializes the storage driver.
func New(ctx context.Context, opts Options) (*Store, error) {
	cfg := opts.Config

	driver := opts.Driver
	if driver == nil {
		driver = storage.NewMemStore()
	}
	if err := driver.Init(ctx); err != nil {
		return nil, fmt.Errorf("store: init driver: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = subscriber.New(cfg.SubscriberBufferSize)
	}

	observer := opts.Observer
	if observer == nil {
		observer = observability.NewSlogObserver(slog.Default())
	}

	defaults, err := decodeInitialStates(cfg.InitialKeyStates)
	if err != nil {
		return nil, fmt.Errorf("store: decode initial key states: %w", err)
	}

	collections := collection.New(cfg.CollectionKeys)
	snapshotKeys := make(map[string]struct{}, len(cfg.FullyMergedSnapshotKeys))
	for _, k := range cfg.FullyMergedSnapshotKeys {
		snapshotKeys[k] = struct{}{}
	}

	var perfDecorator *perf.Decorator
	if cfg.EnablePerformanceMetrics {
		set := opts.MetricsSet
		if set == nil {
			set = vmetrics.NewSet()
		}
		perfDecorator = perf.NewDecorator(set, "storecore")
	}

	s := &Store{
		cfg:          cfg,
		cache:        cache.New(cache.Options{EvictableKeys: cfg.EvictableKeys, MaxCachedKeysCount: cfg.MaxCachedKeysCount}),
		queue:        queue.New(),
		collections:  collections,
		skip:         collection.NewSkipSet(collections, cfg.SkippableCollectionMemberIDs),
		driver:       driver,
		registry:     registry,
		observer:     observer,
		perf:         perfDecorator,
		defaults:     defaults,
		snapshotKeys: snapshotKeys,
		snapshotFunc: opts.SnapshotFunc,
	}

	if cfg.ShouldSyncMultipleInstances {
		if src, ok := driver.(storage.InstanceSyncSource); ok {
			if err := s.wireInstanceSync(src); err != nil {
				return nil, fmt.Errorf("store: wire instance sync: %w", err)
			}
		}
	}

	return s, nil
}

func decodeInitialStates(raw map[string]json.RawMessage) (map[string]*value.Value, error) {
	out := make(map[string]*value.Value, len(raw))
	for k, r := range raw {
		v, err := value.FromJSON(r)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func (s *Store) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	if s.observer == nil {
		return
	}
	s.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	})
}

// Get returns the cached value for key and whether it is present. It is a
// supplementary read accessor used by cmd/storectl and by tests to observe
// write-pipeline outcomes.
func (s *Store) Get(key string) (*value.Value, bool) {
	return s.cache.Get(key)
}

// Snapshot returns every cached key whose value is present under the given
// prefix ("" for all keys).
func (s *Store) Snapshot(prefix string) map[string]*value.Value {
	return s.cache.Entries(prefix)
}
