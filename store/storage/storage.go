// Package storage defines the pluggable storage-driver contract and
// provides two reference implementations: an in-memory driver for tests
// and a file-backed driver using an atomic temp-file-and-rename write
// pattern for standalone use (e.g. cmd/storectl).
package storage

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/value"
)

// Driver is the pluggable blob interface the write pipeline calls into.
// Implementations choose whether MergeItem consumes the delta or the
// pre-merged snapshot; both are always provided.
type Driver interface {
	Init(ctx context.Context) error
	GetItem(ctx context.Context, key string) (*value.Value, error)
	GetAllKeys(ctx context.Context) (map[string]struct{}, error)
	SetItem(ctx context.Context, key string, v *value.Value) error
	MultiSet(ctx context.Context, pairs map[string]*value.Value) error
	MergeItem(ctx context.Context, key string, delta, preMerged *value.Value, shouldSetValue bool) error
	MultiMerge(ctx context.Context, pairs map[string]*value.Value) error
	RemoveItems(ctx context.Context, keys []string) error
}

// InstanceSyncSource is implemented by drivers that support
// keepInstancesSync: delivering writes from other instances via a callback
// that bypasses the merge queue entirely.
type InstanceSyncSource interface {
	KeepInstancesSync(callback func(key string, v *value.Value)) error
}
