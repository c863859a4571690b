package storage

import (
	"context"
	"sync"

	"github.com/tailored-agentic-units/storecore/store/merge"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// MemStore is an in-memory reference Driver, useful for tests and for
// exercising multi-instance sync (it implements InstanceSyncSource).
type MemStore struct {
	mu     sync.Mutex
	values map[string]*value.Value

	syncMu sync.Mutex
	syncCb func(key string, v *value.Value)
}

// NewMemStore creates an empty in-memory driver.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]*value.Value)}
}

func (m *MemStore) Init(ctx context.Context) error { return nil }

func (m *MemStore) GetItem(ctx context.Context, key string) (*value.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *MemStore) GetAllKeys(ctx context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.values))
	for k := range m.values {
		out[k] = struct{}{}
	}
	return out, nil
}

func (m *MemStore) SetItem(ctx context.Context, key string, v *value.Value) error {
	m.mu.Lock()
	if value.IsNull(v) || value.IsUndefined(v) {
		delete(m.values, key)
	} else {
		m.values[key] = v
	}
	m.mu.Unlock()
	m.notify(key, v)
	return nil
}

func (m *MemStore) MultiSet(ctx context.Context, pairs map[string]*value.Value) error {
	for k, v := range pairs {
		if err := m.SetItem(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) MergeItem(ctx context.Context, key string, delta, preMerged *value.Value, shouldSetValue bool) error {
	m.mu.Lock()
	if value.IsNull(delta) {
		delete(m.values, key)
		m.mu.Unlock()
		m.notify(key, value.Null())
		return nil
	}
	if shouldSetValue {
		m.values[key] = preMerged
		m.mu.Unlock()
		m.notify(key, preMerged)
		return nil
	}
	existing := m.values[key]
	m.values[key] = merge.Apply(existing, []*value.Value{delta}, true)
	result := m.values[key]
	m.mu.Unlock()
	m.notify(key, result)
	return nil
}

func (m *MemStore) MultiMerge(ctx context.Context, pairs map[string]*value.Value) error {
	for k, delta := range pairs {
		m.mu.Lock()
		existing := m.values[k]
		m.mu.Unlock()
		merged := merge.Apply(existing, []*value.Value{delta}, true)
		if err := m.MergeItem(ctx, k, delta, merged, value.IsUndefined(existing)); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) RemoveItems(ctx context.Context, keys []string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.values, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.notify(k, nil)
	}
	return nil
}

// KeepInstancesSync registers callback to receive every write this driver
// makes, standing in for a write made by a sibling instance.
func (m *MemStore) KeepInstancesSync(callback func(key string, v *value.Value)) error {
	m.syncMu.Lock()
	m.syncCb = callback
	m.syncMu.Unlock()
	return nil
}

func (m *MemStore) notify(key string, v *value.Value) {
	m.syncMu.Lock()
	cb := m.syncCb
	m.syncMu.Unlock()
	if cb != nil {
		cb(key, v)
	}
}
