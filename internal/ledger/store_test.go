package ledger

import (
	"context"
	"testing"
)

func TestMemStoreOwnedBuckets(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	// Bucket is created lazily on first insert.
	if err := s.AddOwned(ctx, alice, 3); err != nil {
		t.Fatalf("add owned: %v", err)
	}
	if err := s.AddOwned(ctx, alice, 1); err != nil {
		t.Fatalf("add owned: %v", err)
	}
	ids, err := s.OwnedAssets(ctx, alice)
	if err != nil {
		t.Fatalf("owned assets: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("expected ascending [1 3], got %v", ids)
	}

	// Removing a non-member or from an unknown account must not fail.
	if err := s.RemoveOwned(ctx, alice, 99); err != nil {
		t.Fatalf("remove non-member: %v", err)
	}
	if err := s.RemoveOwned(ctx, bob, 1); err != nil {
		t.Fatalf("remove from unknown account: %v", err)
	}

	if err := s.RemoveOwned(ctx, alice, 3); err != nil {
		t.Fatalf("remove owned: %v", err)
	}
	ids, _ = s.OwnedAssets(ctx, alice)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected [1], got %v", ids)
	}
}

func TestMemStoreParentPresence(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if _, ok, _ := s.Parent(ctx, 1); ok {
		t.Fatal("expected absent parent row")
	}

	// A root asset has a present row with a nil ref.
	if err := s.SetParent(ctx, 1, nil); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	ref, ok, _ := s.Parent(ctx, 1)
	if !ok || ref != nil {
		t.Fatalf("expected present nil parent, ok=%v ref=%v", ok, ref)
	}

	if err := s.SetParent(ctx, 2, &ParentRef{ID: 1, Relation: 50}); err != nil {
		t.Fatalf("set parent: %v", err)
	}
	ref, ok, _ = s.Parent(ctx, 2)
	if !ok || ref == nil || ref.ID != 1 || ref.Relation != 50 {
		t.Fatalf("unexpected parent: ok=%v ref=%v", ok, ref)
	}
	// The returned ref must be a copy.
	ref.Relation = 7
	again, _, _ := s.Parent(ctx, 2)
	if again.Relation != 50 {
		t.Fatalf("store aliased parent ref: %v", again)
	}
}

func TestMemStoreCopiesValues(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	metadata := []byte{1, 2, 3}
	if err := s.SetMetadata(ctx, 1, metadata); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	metadata[0] = 9
	got, ok, _ := s.Metadata(ctx, 1)
	if !ok || got[0] != 1 {
		t.Fatalf("store aliased metadata: %v", got)
	}

	items := []CO2Emission{{Category: CategoryProcess, Value: 5, Date: defaultDate}}
	if err := s.SetEmissions(ctx, 1, items); err != nil {
		t.Fatalf("set emissions: %v", err)
	}
	items[0].Value = 6
	stored, ok, _ := s.Emissions(ctx, 1)
	if !ok || stored[0].Value != 5 {
		t.Fatalf("store aliased emissions: %v", stored)
	}
}
