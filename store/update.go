package store

import (
	"context"

	"github.com/tailored-agentic-units/storecore/store/collection"
	"github.com/tailored-agentic-units/storecore/store/merge"
	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/parallel"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// UpdateMethod names one of the operations Update can compose.
type UpdateMethod string

const (
	MethodSet             UpdateMethod = "set"
	MethodMerge           UpdateMethod = "merge"
	MethodMultiSet        UpdateMethod = "multiSet"
	MethodMergeCollection UpdateMethod = "mergeCollection"
	MethodSetCollection   UpdateMethod = "setCollection"
	MethodClear           UpdateMethod = "clear"
)

// UpdateOp is one heterogeneous operation inside a single Update call.
type UpdateOp struct {
	Method         UpdateMethod
	Key            string                  // set, merge, mergeCollection/setCollection (collection key)
	Value          *value.Value            // set, merge
	Data           map[string]*value.Value // multiSet
	Members        map[string]*value.Value // mergeCollection, setCollection
	KeysToPreserve []string                // clear
}

// SnapshotFunc, when set on Store, produces additional writes that must
// settle before an Update's main batch — staging UI loading-state snapshot
// data ahead of the operations that trigger it.
type SnapshotFunc func(ctx context.Context, ops []UpdateOp) ([]func(ctx context.Context) error, error)

// Update atomically composes a batch of heterogeneous operations,
// collapsing per-key writes and eligible collection writes into a minimum
// number of key-coherent calls before executing them.
func (s *Store) Update(ctx context.Context, ops []UpdateOp) error {
	return s.timed("update", func() error { return s.updateInternal(ctx, ops) })
}

func (s *Store) updateInternal(ctx context.Context, ops []UpdateOp) error {
	if err := validateUpdateOps(ops); err != nil {
		return err
	}

	keyQueue, keyOrder, clearOp, deferredSetCollections := buildUpdateQueue(ops)

	var collectionWrites []func(ctx context.Context) error
	for _, prefix := range s.collections.Prefixes() {
		matched := collapsedByPrefix(keyQueue, prefix)
		if len(matched) == 0 {
			continue
		}

		setPortion := make(map[string]*value.Value, len(matched))
		mergePortion := make(map[string]*value.Value, len(matched))
		for key, queuedOps := range matched {
			if value.IsNull(queuedOps[0]) {
				setPortion[key] = merge.Apply(nil, queuedOps, true)
			} else {
				mergePortion[key] = merge.Apply(nil, queuedOps, false)
			}
			delete(keyQueue, key)
		}

		prefix, setPortion, mergePortion := prefix, setPortion, mergePortion
		collectionWrites = append(collectionWrites, func(ctx context.Context) error {
			return s.collapsedCollectionWrite(ctx, prefix, setPortion, mergePortion)
		})
	}

	// Phase 4: emit per-key writes for everything left ungrouped.
	var mainOps []func(ctx context.Context) error
	for _, key := range keyOrder {
		queuedOps, ok := keyQueue[key]
		if !ok {
			continue
		}
		key, queuedOps := key, queuedOps
		if value.IsNull(queuedOps[0]) {
			full := merge.Apply(nil, queuedOps, true)
			mainOps = append(mainOps, func(ctx context.Context) error { return s.Set(ctx, key, full) })
		} else {
			delta := merge.Apply(nil, queuedOps, false)
			mainOps = append(mainOps, func(ctx context.Context) error { return s.Merge(ctx, key, delta) })
		}
	}
	mainOps = append(mainOps, collectionWrites...)
	for _, op := range deferredSetCollections {
		op := op
		mainOps = append(mainOps, func(ctx context.Context) error { return s.SetCollection(ctx, op.Key, op.Members) })
	}

	// Phase 5: the snapshot hook runs before the main batch.
	var snapshotOps []func(ctx context.Context) error
	if s.snapshotFunc != nil {
		fns, err := s.snapshotFunc(ctx, ops)
		if err != nil {
			return err
		}
		snapshotOps = fns
	}

	// Phase 6: execute.
	if clearOp != nil {
		if err := s.Clear(ctx, clearOp.KeysToPreserve); err != nil {
			return err
		}
	}

	// The snapshot batch must fully settle before the main batch starts —
	// staged loading-state writes exist so subscribers see them ahead of
	// the operations that trigger them, a guarantee a shared worker pool
	// across both batches would not honor.
	if len(snapshotOps) > 0 {
		if err := runWrites(ctx, s.observer, snapshotOps); err != nil {
			return err
		}
	}

	err := runWrites(ctx, s.observer, mainOps)
	s.emit(ctx, observability.EventUpdate, observability.LevelInfo, "store.update", map[string]any{
		"opCount": len(ops), "keyWrites": len(mainOps), "error": err != nil,
	})
	return err
}

// buildUpdateQueue implements Phase 2: folding the raw op list into a
// per-key op queue, a deferred setCollection list, and a captured clear.
func buildUpdateQueue(ops []UpdateOp) (keyQueue map[string][]*value.Value, keyOrder []string, clearOp *UpdateOp, deferredSetCollections []UpdateOp) {
	keyQueue = make(map[string][]*value.Value)

	appendSet := func(key string, v *value.Value) {
		if _, seen := keyQueue[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		keyQueue[key] = []*value.Value{value.Null(), v}
	}
	appendMerge := func(key string, v *value.Value) {
		if _, seen := keyQueue[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		if value.IsNull(v) {
			keyQueue[key] = []*value.Value{value.Null()}
			return
		}
		keyQueue[key] = append(keyQueue[key], v)
	}

	for _, op := range ops {
		switch op.Method {
		case MethodSet:
			appendSet(op.Key, op.Value)
		case MethodMerge:
			appendMerge(op.Key, op.Value)
		case MethodMultiSet:
			for k, v := range op.Data {
				appendSet(k, v)
			}
		case MethodMergeCollection:
			for k, v := range op.Members {
				appendMerge(k, v)
			}
		case MethodSetCollection:
			deferredSetCollections = append(deferredSetCollections, op)
		case MethodClear:
			opCopy := op
			clearOp = &opCopy
		}
	}
	return keyQueue, keyOrder, clearOp, deferredSetCollections
}

// collapsedByPrefix returns the queued ops for every key under prefix,
// but only when at least two keys match — a lone match stays in the
// per-key emission path instead of becoming a one-member collection call.
func collapsedByPrefix(keyQueue map[string][]*value.Value, prefix string) map[string][]*value.Value {
	matches := make(map[string][]*value.Value)
	for key, queuedOps := range keyQueue {
		if id, isMember := collection.MemberID(prefix, key); isMember && id != "" {
			matches[key] = queuedOps
		}
	}
	if len(matches) < 2 {
		return nil
	}
	return matches
}

// runWrites fans fns out across a bounded worker pool via parallel.Run and
// waits for all to finish, returning the first error when any failed. Across
// keys there is no ordering guarantee; once one write fails, writes not yet
// started are canceled rather than run.
func runWrites(ctx context.Context, observer observability.Observer, fns []func(ctx context.Context) error) error {
	tasks := make([]parallel.Task, len(fns))
	for i, fn := range fns {
		tasks[i] = fn
	}
	return parallel.Run(ctx, tasks, observer)
}

func validateUpdateOps(ops []UpdateOp) error {
	for _, op := range ops {
		switch op.Method {
		case MethodSet, MethodMerge:
			if op.Key == "" {
				return ErrInvalidUpdate
			}
		case MethodMultiSet:
			if op.Data == nil {
				return ErrInvalidUpdate
			}
		case MethodMergeCollection, MethodSetCollection:
			if op.Key == "" || len(op.Members) == 0 {
				return ErrInvalidUpdate
			}
			if badKey, ok := collection.ValidateMembers(op.Key, anyMap(op.Members)); !ok {
				if badKey != "" {
					return ErrForeignCollectionMember
				}
				return ErrEmptyCollection
			}
		case MethodClear:
			// no key required
		default:
			return ErrUnknownMethod
		}
	}
	return nil
}
