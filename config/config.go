// Package config resolves the store's Init Options into a Config,
// following a DefaultConfig/Merge pattern used consistently across this
// codebase's subsystems.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds every Init Option the store accepts.
type Config struct {
	// CollectionKeys declares the key registry: individual keys are implicit (any
	// string not matching a collection prefix), collection prefixes are
	// listed explicitly.
	CollectionKeys []string `json:"collection_keys,omitempty"`

	// InitialKeyStates are the default values clear restores.
	InitialKeyStates map[string]json.RawMessage `json:"initial_key_states,omitempty"`

	// EvictableKeys are eligible for LRU eviction under storage pressure.
	EvictableKeys []string `json:"evictable_keys,omitempty"`

	// MaxCachedKeysCount bounds the recency list; 0 disables eviction.
	MaxCachedKeysCount int `json:"max_cached_keys_count,omitempty"`

	// ShouldSyncMultipleInstances enables cross-instance sync when the
	// storage driver supports keepInstancesSync.
	ShouldSyncMultipleInstances bool `json:"should_sync_multiple_instances,omitempty"`

	// DebugSetState turns on verbose cache-write logging.
	DebugSetState bool `json:"debug_set_state,omitempty"`

	// EnablePerformanceMetrics wraps public ops with timing decorators.
	EnablePerformanceMetrics bool `json:"enable_performance_metrics,omitempty"`

	// SkippableCollectionMemberIDs coerces writes to these member ids to
	// null regardless of input.
	SkippableCollectionMemberIDs []string `json:"skippable_collection_member_ids,omitempty"`

	// FullyMergedSnapshotKeys are keys whose snapshot subscribers want the
	// fully materialized value rather than the delta form.
	FullyMergedSnapshotKeys []string `json:"fully_merged_snapshot_keys,omitempty"`

	// SubscriberBufferSize bounds each subscriber channel in the default
	// in-process Hub registry.
	SubscriberBufferSize int `json:"subscriber_buffer_size,omitempty"`
}

const defaultMaxCachedKeysCount = 1000
const defaultSubscriberBufferSize = 16

// DefaultConfig returns a Config with sensible zero-config defaults.
func DefaultConfig() Config {
	return Config{
		MaxCachedKeysCount:   defaultMaxCachedKeysCount,
		SubscriberBufferSize: defaultSubscriberBufferSize,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if len(source.CollectionKeys) > 0 {
		c.CollectionKeys = source.CollectionKeys
	}
	if len(source.InitialKeyStates) > 0 {
		c.InitialKeyStates = source.InitialKeyStates
	}
	if len(source.EvictableKeys) > 0 {
		c.EvictableKeys = source.EvictableKeys
	}
	if source.MaxCachedKeysCount > 0 {
		c.MaxCachedKeysCount = source.MaxCachedKeysCount
	}
	if source.ShouldSyncMultipleInstances {
		c.ShouldSyncMultipleInstances = true
	}
	if source.DebugSetState {
		c.DebugSetState = true
	}
	if source.EnablePerformanceMetrics {
		c.EnablePerformanceMetrics = true
	}
	if len(source.SkippableCollectionMemberIDs) > 0 {
		c.SkippableCollectionMemberIDs = source.SkippableCollectionMemberIDs
	}
	if len(source.FullyMergedSnapshotKeys) > 0 {
		c.FullyMergedSnapshotKeys = source.FullyMergedSnapshotKeys
	}
	if source.SubscriberBufferSize > 0 {
		c.SubscriberBufferSize = source.SubscriberBufferSize
	}
}

// LoadFile reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadFile(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
