package storage_test

import (
	"context"
	"testing"

	"github.com/tailored-agentic-units/storecore/store/storage"
	"github.com/tailored-agentic-units/storecore/store/value"
)

func drivers(t *testing.T) map[string]storage.Driver {
	return map[string]storage.Driver{
		"MemStore":  storage.NewMemStore(),
		"FileStore": storage.NewFileStore(t.TempDir()),
	}
}

func TestDriver_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if err := d.Init(ctx); err != nil {
				t.Fatalf("init: %v", err)
			}

			if err := d.SetItem(ctx, "k", value.String("v")); err != nil {
				t.Fatalf("SetItem: %v", err)
			}

			got, err := d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if got.ToAny() != "v" {
				t.Errorf("got %v, want v", got.ToAny())
			}

			if err := d.RemoveItems(ctx, []string{"k"}); err != nil {
				t.Fatalf("RemoveItems: %v", err)
			}
			got, err = d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem after remove: %v", err)
			}
			if !value.IsUndefined(got) {
				t.Errorf("expected removed key to read back undefined, got kind %v", value.KindOf(got))
			}
		})
	}
}

func TestDriver_SetItemNull_RemovesRatherThanStores(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = d.Init(ctx)
			_ = d.SetItem(ctx, "k", value.String("v"))

			if err := d.SetItem(ctx, "k", value.Null()); err != nil {
				t.Fatalf("SetItem(null): %v", err)
			}

			got, err := d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if !value.IsUndefined(got) {
				t.Errorf("expected null set to clear the key, got kind %v", value.KindOf(got))
			}
		})
	}
}

func TestDriver_MergeItem_DeltaMode(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = d.Init(ctx)
			base := value.Object(map[string]*value.Value{"a": value.Number(1), "b": value.Number(2)})
			_ = d.SetItem(ctx, "k", base)

			delta := value.Object(map[string]*value.Value{"b": value.Number(9)})
			if err := d.MergeItem(ctx, "k", delta, nil, false); err != nil {
				t.Fatalf("MergeItem: %v", err)
			}

			got, err := d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			fields := got.Fields()
			if fields["a"].ToAny() != float64(1) || fields["b"].ToAny() != float64(9) {
				t.Errorf("unexpected merged fields: %v", got.ToAny())
			}
		})
	}
}

func TestDriver_MergeItem_ShouldSetValueUsesPreMerged(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = d.Init(ctx)
			preMerged := value.String("materialized")
			if err := d.MergeItem(ctx, "k", value.String("ignored-delta"), preMerged, true); err != nil {
				t.Fatalf("MergeItem: %v", err)
			}

			got, err := d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if got.ToAny() != "materialized" {
				t.Errorf("expected preMerged value stored directly, got %v", got.ToAny())
			}
		})
	}
}

func TestDriver_MergeItem_NullDeltaRemoves(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = d.Init(ctx)
			_ = d.SetItem(ctx, "k", value.String("v"))

			if err := d.MergeItem(ctx, "k", value.Null(), nil, false); err != nil {
				t.Fatalf("MergeItem: %v", err)
			}

			got, err := d.GetItem(ctx, "k")
			if err != nil {
				t.Fatalf("GetItem: %v", err)
			}
			if !value.IsUndefined(got) {
				t.Errorf("expected null delta to remove the key, got kind %v", value.KindOf(got))
			}
		})
	}
}

func TestDriver_GetAllKeys(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_ = d.Init(ctx)
			_ = d.SetItem(ctx, "a", value.Number(1))
			_ = d.SetItem(ctx, "b", value.Number(2))

			keys, err := d.GetAllKeys(ctx)
			if err != nil {
				t.Fatalf("GetAllKeys: %v", err)
			}
			if len(keys) != 2 {
				t.Errorf("expected 2 keys, got %d (%v)", len(keys), keys)
			}
		})
	}
}

func TestMemStore_KeepInstancesSync_NotifiesOnWrite(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemStore()

	var notified string
	_ = m.KeepInstancesSync(func(key string, v *value.Value) { notified = key })

	_ = m.SetItem(ctx, "k", value.String("v"))
	if notified != "k" {
		t.Errorf("expected sync callback notified for key 'k', got %q", notified)
	}
}
