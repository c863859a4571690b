package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/storecore/config"
	"github.com/tailored-agentic-units/storecore/store"
	"github.com/tailored-agentic-units/storecore/store/observability"
	"github.com/tailored-agentic-units/storecore/store/storage"
	"github.com/tailored-agentic-units/storecore/store/subscriber"
	"github.com/tailored-agentic-units/storecore/store/value"
)

func newStore(t *testing.T, cfg config.Config) (*store.Store, storage.Driver) {
	t.Helper()
	driver := storage.NewMemStore()
	s, err := store.New(context.Background(), store.Options{Config: cfg, Driver: driver})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return s, driver
}

func TestSet_WritesCacheAndStorage(t *testing.T) {
	s, driver := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := s.Get("k")
	if !ok || got.ToAny() != "v" {
		t.Errorf("Get() = (%v, %v), want (v, true)", got, ok)
	}

	stored, err := driver.GetItem(ctx, "k")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if stored.ToAny() != "v" {
		t.Errorf("storage has %v, want v", stored.ToAny())
	}
}

func TestSet_UndefinedIsNoOp(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected undefined set to never create the key")
	}
}

func TestSet_NullOnUncachedKeyIsNoOp(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.Null()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected null set on an uncached key to be a no-op, not create a cached null")
	}
}

func TestSet_NullOnCachedKeyRemoves(t *testing.T) {
	s, driver := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", value.Null()); err != nil {
		t.Fatalf("Set(null): %v", err)
	}

	if _, ok := s.Get("k"); ok {
		t.Error("expected null set on a cached key to remove it")
	}
	stored, _ := driver.GetItem(ctx, "k")
	if !value.IsUndefined(stored) {
		t.Errorf("expected storage cleared, got kind %v", value.KindOf(stored))
	}
}

func TestSet_IncompatibleUpdateIsDropped(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.Object(map[string]*value.Value{"a": value.Number(1)})); err != nil {
		t.Fatalf("Set object: %v", err)
	}
	if err := s.Set(ctx, "k", value.Array([]*value.Value{value.Number(1)})); err != nil {
		t.Fatalf("Set array: %v", err)
	}

	got, _ := s.Get("k")
	if !value.IsObject(got) {
		t.Errorf("expected incompatible array-over-object set to be dropped, got kind %v", value.KindOf(got))
	}
}

func TestMerge_CoalescesConcurrentDeltas(t *testing.T) {
	s, driver := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.Object(map[string]*value.Value{"a": value.Number(1)})); err != nil {
		t.Fatalf("Set: %v", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.Merge(ctx, "k", value.Object(map[string]*value.Value{"b": value.Number(2)})) }()
	go func() { errCh <- s.Merge(ctx, "k", value.Object(map[string]*value.Value{"c": value.Number(3)})) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}

	got, _ := s.Get("k")
	fields := got.Fields()
	if fields["a"].ToAny() != float64(1) || fields["b"].ToAny() != float64(2) || fields["c"].ToAny() != float64(3) {
		t.Errorf("unexpected merged fields: %v", got.ToAny())
	}

	stored, _ := driver.GetItem(ctx, "k")
	if !value.Equal(stored, got) {
		t.Errorf("expected storage to match cache after fold settles: storage=%v cache=%v", stored.ToAny(), got.ToAny())
	}
}

func TestMerge_NullDeltaRemovesKey(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "k", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Merge(ctx, "k", value.Null()); err != nil {
		t.Fatalf("Merge(null): %v", err)
	}
	if _, ok := s.Get("k"); ok {
		t.Error("expected a null merge delta to remove the key")
	}
}

func TestMergeCollection_ValidatesMembers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CollectionKeys = []string{"report_"}
	s, _ := newStore(t, cfg)
	ctx := context.Background()

	err := s.MergeCollection(ctx, "report_", map[string]*value.Value{"other_1": value.Number(1)})
	if !errors.Is(err, store.ErrForeignCollectionMember) {
		t.Errorf("expected ErrForeignCollectionMember, got %v", err)
	}

	if err := s.MergeCollection(ctx, "report_", nil); !errors.Is(err, store.ErrEmptyCollection) {
		t.Errorf("expected ErrEmptyCollection, got %v", err)
	}
}

func TestMergeCollection_WritesMembers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CollectionKeys = []string{"report_"}
	s, _ := newStore(t, cfg)
	ctx := context.Background()

	members := map[string]*value.Value{
		"report_1": value.Object(map[string]*value.Value{"name": value.String("a")}),
		"report_2": value.Object(map[string]*value.Value{"name": value.String("b")}),
	}
	if err := s.MergeCollection(ctx, "report_", members); err != nil {
		t.Fatalf("MergeCollection: %v", err)
	}

	got, ok := s.Get("report_1")
	if !ok || got.Fields()["name"].ToAny() != "a" {
		t.Errorf("unexpected report_1: %v", got)
	}
}

func TestSetCollection_RemovesMembersNotInNewSet(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CollectionKeys = []string{"report_"}
	s, _ := newStore(t, cfg)
	ctx := context.Background()

	if err := s.MergeCollection(ctx, "report_", map[string]*value.Value{
		"report_1": value.Number(1),
		"report_2": value.Number(2),
	}); err != nil {
		t.Fatalf("seed MergeCollection: %v", err)
	}

	if err := s.SetCollection(ctx, "report_", map[string]*value.Value{"report_1": value.Number(99)}); err != nil {
		t.Fatalf("SetCollection: %v", err)
	}

	if _, ok := s.Get("report_2"); ok {
		t.Error("expected report_2 to be removed by SetCollection since it was absent from the new set")
	}
	got, ok := s.Get("report_1")
	if !ok || got.ToAny() != float64(99) {
		t.Errorf("unexpected report_1: %v", got)
	}
}

func TestClear_RestoresDefaultsAndRemovesOthers(t *testing.T) {
	s, driver := newStore(t, config.Config{
		MaxCachedKeysCount:   1000,
		SubscriberBufferSize: 16,
		InitialKeyStates: map[string]json.RawMessage{
			"lang": json.RawMessage(`"en"`),
		},
	})
	ctx := context.Background()

	if err := s.Set(ctx, "lang", value.String("fr")); err != nil {
		t.Fatalf("Set lang: %v", err)
	}
	if err := s.Set(ctx, "transient", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(ctx, nil); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if _, ok := s.Get("transient"); ok {
		t.Error("expected transient key removed by Clear")
	}
	stored, err := driver.GetItem(ctx, "transient")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !value.IsUndefined(stored) {
		t.Errorf("expected transient key removed from storage, got kind %v", value.KindOf(stored))
	}

	got, ok := s.Get("lang")
	if !ok || got.ToAny() != "en" {
		t.Errorf("expected lang restored to its default, got (%v, %v)", got, ok)
	}
	storedLang, err := driver.GetItem(ctx, "lang")
	if err != nil {
		t.Fatalf("GetItem lang: %v", err)
	}
	if storedLang.ToAny() != "en" {
		t.Errorf("expected storage to hold the default for lang, got %v", storedLang.ToAny())
	}
}

func TestClear_PreservesNamedKeys(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	if err := s.Set(ctx, "keep-me", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Clear(ctx, []string{"keep-me"}); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	got, ok := s.Get("keep-me")
	if !ok || got.ToAny() != "v" {
		t.Errorf("expected preserved key untouched, got (%v, %v)", got, ok)
	}
}

func TestUpdate_ComposesHeterogeneousOps(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	ops := []store.UpdateOp{
		{Method: store.MethodSet, Key: "a", Value: value.Object(map[string]*value.Value{"x": value.Number(1)})},
		{Method: store.MethodMerge, Key: "a", Value: value.Object(map[string]*value.Value{"y": value.Number(2)})},
		{Method: store.MethodMultiSet, Data: map[string]*value.Value{"b": value.String("v")}},
	}

	if err := s.Update(ctx, ops); err != nil {
		t.Fatalf("Update: %v", err)
	}

	gotA, _ := s.Get("a")
	fields := gotA.Fields()
	if fields["x"].ToAny() != float64(1) || fields["y"].ToAny() != float64(2) {
		t.Errorf("unexpected merged key 'a': %v", gotA.ToAny())
	}

	gotB, ok := s.Get("b")
	if !ok || gotB.ToAny() != "v" {
		t.Errorf("unexpected key 'b': (%v, %v)", gotB, ok)
	}
}

func TestUpdate_RejectsUnknownMethod(t *testing.T) {
	s, _ := newStore(t, config.DefaultConfig())
	ctx := context.Background()

	err := s.Update(ctx, []store.UpdateOp{{Method: "bogus"}})
	if !errors.Is(err, store.ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestDeferredInit_SeedsMissingDefaultsOnly(t *testing.T) {
	driver := storage.NewMemStore()
	ctx := context.Background()
	_ = driver.SetItem(ctx, "already-present", value.String("from-storage"))

	cfg := config.Config{
		MaxCachedKeysCount:   1000,
		SubscriberBufferSize: 16,
		InitialKeyStates: map[string]json.RawMessage{
			"already-present": json.RawMessage(`"default-value"`),
			"missing-key":     json.RawMessage(`"seeded-value"`),
		},
	}
	s, err := store.New(ctx, store.Options{Config: cfg, Driver: driver})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.DeferredInit(ctx); err != nil {
		t.Fatalf("DeferredInit: %v", err)
	}

	if _, ok := s.Get("already-present"); ok {
		t.Error("expected a key already present in storage to not be re-seeded into the cache")
	}

	got, ok := s.Get("missing-key")
	if !ok || got.ToAny() != "seeded-value" {
		t.Errorf("expected missing-key seeded with its default, got (%v, %v)", got, ok)
	}

	stored, err := driver.GetItem(ctx, "missing-key")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if stored.ToAny() != "seeded-value" {
		t.Errorf("expected storage seeded too, got %v", stored.ToAny())
	}
}

// recordingRegistry wraps a real subscriber.Registry and records every
// ScheduleNotifyCollectionSubscribers call, so tests can assert Clear groups
// collection members into a single batched notification instead of one
// call per member.
type recordingRegistry struct {
	subscriber.Registry
	collectionCalls []string
}

func (r *recordingRegistry) ScheduleNotifyCollectionSubscribers(ctx context.Context, collectionKey string, members, previous map[string]*value.Value) error {
	r.collectionCalls = append(r.collectionCalls, collectionKey)
	return r.Registry.ScheduleNotifyCollectionSubscribers(ctx, collectionKey, members, previous)
}

func TestClear_BatchesCollectionMemberNotifications(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CollectionKeys = []string{"report_"}
	cfg.MaxCachedKeysCount = 1000
	cfg.SubscriberBufferSize = 16

	rec := &recordingRegistry{Registry: subscriber.New(cfg.SubscriberBufferSize)}
	driver := storage.NewMemStore()
	s, err := store.New(context.Background(), store.Options{Config: cfg, Driver: driver, Registry: rec})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ctx := context.Background()

	if err := s.MergeCollection(ctx, "report_", map[string]*value.Value{
		"report_1": value.Number(1),
		"report_2": value.Number(2),
	}); err != nil {
		t.Fatalf("seed MergeCollection: %v", err)
	}
	rec.collectionCalls = nil // discard the seeding MergeCollection's own notification

	if err := s.Clear(ctx, nil); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	if len(rec.collectionCalls) != 1 {
		t.Fatalf("expected exactly one batched collection notification from Clear, got %d: %v", len(rec.collectionCalls), rec.collectionCalls)
	}
	if rec.collectionCalls[0] != "report_" {
		t.Errorf("expected notification for collection 'report_', got %q", rec.collectionCalls[0])
	}
}

// recordingObserver captures every emitted event for assertions.
type recordingObserver struct {
	events []observability.Event
}

func (r *recordingObserver) OnEvent(ctx context.Context, event observability.Event) {
	r.events = append(r.events, event)
}

func (r *recordingObserver) has(typ observability.EventType) bool {
	for _, e := range r.events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestSet_DebugSetStateEmitsEventWhenEnabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DebugSetState = true
	obs := &recordingObserver{}
	s, err := store.New(context.Background(), store.Options{Config: cfg, Driver: storage.NewMemStore(), Observer: obs})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	if err := s.Set(context.Background(), "k", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if !obs.has(observability.EventDebugSetState) {
		t.Error("expected EventDebugSetState to be emitted when DebugSetState is enabled")
	}
}

func TestSet_DebugSetStateSilentWhenDisabled(t *testing.T) {
	obs := &recordingObserver{}
	s, err := store.New(context.Background(), store.Options{Config: config.DefaultConfig(), Driver: storage.NewMemStore(), Observer: obs})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	if err := s.Set(context.Background(), "k", value.String("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if obs.has(observability.EventDebugSetState) {
		t.Error("expected no EventDebugSetState when DebugSetState is disabled (the default)")
	}
}

// orderRecordingDriver records the order in which SetItem lands, so tests
// can tell a snapshot-batch write from a main-batch write by timing.
type orderRecordingDriver struct {
	storage.Driver
	mu     *sync.Mutex
	events *[]string
}

func (d *orderRecordingDriver) SetItem(ctx context.Context, key string, v *value.Value) error {
	d.mu.Lock()
	*d.events = append(*d.events, "main:"+key)
	d.mu.Unlock()
	return d.Driver.SetItem(ctx, key, v)
}

func TestUpdate_SnapshotOpsCompleteBeforeMainOps(t *testing.T) {
	var mu sync.Mutex
	var events []string

	driver := &orderRecordingDriver{Driver: storage.NewMemStore(), mu: &mu, events: &events}
	snapshotFunc := func(ctx context.Context, ops []store.UpdateOp) ([]func(ctx context.Context) error, error) {
		fns := make([]func(ctx context.Context) error, 4)
		for i := range fns {
			fns[i] = func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				events = append(events, "snapshot")
				mu.Unlock()
				return nil
			}
		}
		return fns, nil
	}

	s, err := store.New(context.Background(), store.Options{
		Config:       config.DefaultConfig(),
		Driver:       driver,
		SnapshotFunc: snapshotFunc,
	})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}

	ops := []store.UpdateOp{
		{Method: store.MethodSet, Key: "a", Value: value.String("1")},
		{Method: store.MethodSet, Key: "b", Value: value.String("2")},
		{Method: store.MethodSet, Key: "c", Value: value.String("3")},
		{Method: store.MethodSet, Key: "d", Value: value.String("4")},
	}
	if err := s.Update(context.Background(), ops); err != nil {
		t.Fatalf("Update: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()

	firstMain, lastSnapshot := -1, -1
	for i, e := range events {
		if e == "snapshot" {
			lastSnapshot = i
		} else if firstMain == -1 {
			firstMain = i
		}
	}
	if firstMain == -1 || lastSnapshot == -1 {
		t.Fatalf("expected both snapshot and main writes recorded, got %v", events)
	}
	if firstMain < lastSnapshot {
		t.Errorf("expected every snapshot op to finish before any main op starts, got order %v", events)
	}
}

// blockingReadDriver blocks its first GetItem call until release is closed,
// letting a test suspend a merge fold mid-read to race it against a Set.
type blockingReadDriver struct {
	storage.Driver
	release        chan struct{}
	getItemEntered chan struct{}
	entered        sync.Once
	mergeItemCalls atomic.Int32
}

func (d *blockingReadDriver) GetItem(ctx context.Context, key string) (*value.Value, error) {
	d.entered.Do(func() { close(d.getItemEntered) })
	<-d.release
	return d.Driver.GetItem(ctx, key)
}

func (d *blockingReadDriver) MergeItem(ctx context.Context, key string, delta, preMerged *value.Value, shouldSetValue bool) error {
	d.mergeItemCalls.Add(1)
	return d.Driver.MergeItem(ctx, key, delta, preMerged, shouldSetValue)
}

func TestMerge_AbortedByInterveningSetLeavesSetValueWinning(t *testing.T) {
	driver := &blockingReadDriver{
		Driver:         storage.NewMemStore(),
		release:        make(chan struct{}),
		getItemEntered: make(chan struct{}),
	}
	s, err := store.New(context.Background(), store.Options{Config: config.DefaultConfig(), Driver: driver})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	ctx := context.Background()

	mergeDone := make(chan error, 1)
	go func() {
		mergeDone <- s.Merge(ctx, "k", value.Object(map[string]*value.Value{"a": value.Number(1)}))
	}()

	select {
	case <-driver.getItemEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the merge fold to reach its storage read")
	}

	if err := s.Set(ctx, "k", value.String("direct")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	close(driver.release)

	if err := <-mergeDone; err != nil {
		t.Fatalf("Merge: %v", err)
	}

	got, ok := s.Get("k")
	if !ok || got.ToAny() != "direct" {
		t.Errorf("expected Set's value to win over the aborted fold, got (%v, %v)", got, ok)
	}
	if n := driver.mergeItemCalls.Load(); n != 0 {
		t.Errorf("expected the aborted fold to never reach MergeItem, got %d calls", n)
	}
}
