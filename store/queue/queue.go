// Package queue implements the per-key merge queue: an ordered list of
// deltas and a single shared future per key, guaranteeing at most one
// storage read and one storage write per folded batch, regardless of how
// many deltas coalesced into it.
//
// Go's runtime is genuinely parallel, so this is hand-rolled on a
// mutex-guarded map and a per-key goroutine rather than built on
// golang.org/x/sync/singleflight: singleflight.Do fixes its function at
// first call and gives every caller the same result, but this queue must
// let callers that arrive *after* a fold has started still append their
// delta to the batch that fold is about to read against — singleflight has
// no hook for that.
package queue

import (
	"sync"

	"github.com/tailored-agentic-units/storecore/store/value"
)

// Fold represents one in-flight batch for a single key. A fold body
// (supplied by the caller of Enqueue) reads Deltas() to see everything
// coalesced so far, checks Aborted() after any suspension point, and calls
// Finish() once it has taken its batch, before issuing its storage write —
// after which further Enqueue calls for the same key start a new Fold.
type Fold struct {
	key string
	q   *MergeQueue

	mu       sync.Mutex
	deltas   []*value.Value
	aborted  bool
	finished bool

	done chan struct{}
	err  error
}

// Key returns the key this fold is batching deltas for.
func (f *Fold) Key() string { return f.key }

// Deltas returns a snapshot of every delta coalesced into this fold so far,
// in enqueue order.
func (f *Fold) Deltas() []*value.Value {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*value.Value(nil), f.deltas...)
}

// Aborted reports whether a Set or Clear has invalidated this fold's
// eventual write; fold bodies must recheck it after every suspension point.
func (f *Fold) Aborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// Finish detaches this fold from the queue so that subsequent Enqueue calls
// for the same key start a fresh fold. Safe to call more than once.
func (f *Fold) Finish() {
	f.mu.Lock()
	already := f.finished
	f.finished = true
	f.mu.Unlock()
	if already {
		return
	}
	f.q.detach(f)
}

// settle records the fold's outcome and wakes every waiter. It calls Finish
// first in case the fold body has not, so MergeQueue state never outlives
// the fold that's allowed to mutate it.
func (f *Fold) settle(err error) {
	f.Finish()
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.done)
}

// Wait blocks until the fold settles and returns its outcome.
func (f *Fold) Wait() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// FoldFunc runs the body of a fold: reading the base value, applying every
// coalesced delta, and writing the result, minus the single-flight/
// coalescing mechanics the queue already provides.
type FoldFunc func(fold *Fold) error

// MergeQueue tracks at most one in-flight Fold per key.
type MergeQueue struct {
	mu      sync.Mutex
	entries map[string]*Fold
}

// New creates an empty MergeQueue.
func New() *MergeQueue {
	return &MergeQueue{entries: make(map[string]*Fold)}
}

// Enqueue appends delta to key's in-flight fold, or starts a new one by
// running foldFn in a new goroutine if none is in flight. The returned
// Fold may already be running by the time it is returned; call Wait to
// observe its outcome.
func (q *MergeQueue) Enqueue(key string, delta *value.Value, foldFn FoldFunc) *Fold {
	q.mu.Lock()
	if f, exists := q.entries[key]; exists {
		f.mu.Lock()
		f.deltas = append(f.deltas, delta)
		f.mu.Unlock()
		q.mu.Unlock()
		return f
	}

	f := &Fold{
		key:    key,
		q:      q,
		deltas: []*value.Value{delta},
		done:   make(chan struct{}),
	}
	q.entries[key] = f
	q.mu.Unlock()

	go func() {
		f.settle(foldFn(f))
	}()

	return f
}

// Abort invalidates the in-flight fold for key, if any, and detaches it
// immediately so the next Enqueue starts fresh — a set or clear cancels an
// in-flight merge fold for the same key. The aborted fold's own goroutine
// is left to notice Aborted() and resolve on its own; Abort does not block
// on it, so the caller that triggered the abort proceeds independently.
func (q *MergeQueue) Abort(key string) {
	q.mu.Lock()
	f, exists := q.entries[key]
	if exists {
		delete(q.entries, key)
	}
	q.mu.Unlock()

	if !exists {
		return
	}
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
}

// Pending reports whether key currently has an in-flight fold.
func (q *MergeQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[key]
	return ok
}

func (q *MergeQueue) detach(f *Fold) {
	q.mu.Lock()
	if cur, ok := q.entries[f.key]; ok && cur == f {
		delete(q.entries, f.key)
	}
	q.mu.Unlock()
}
