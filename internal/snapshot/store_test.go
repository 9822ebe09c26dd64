package snapshot

import (
	"testing"

	"github.com/gsharad007/spacerama/internal/geom"
	"github.com/gsharad007/spacerama/internal/sim"
)

func sampleEntities() []EntityState {
	first := NewEntityState(0)
	first.Position = geom.Vec3{X: 1, Y: 2, Z: 3}
	first.LinearVelocity = geom.Vec3{Z: -4}
	second := NewEntityState(1)
	second.AutoBalance = true
	return []EntityState{first, second}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(8)
	entities := sampleEntities()
	store.Save(10, entities)

	loaded, ok := store.Load(10)
	if !ok {
		t.Fatalf("expected tick 10 to load")
	}
	if len(loaded) != len(entities) {
		t.Fatalf("expected %d entities, got %d", len(entities), len(loaded))
	}
	for i := range entities {
		if loaded[i] != entities[i] {
			t.Fatalf("entity %d mismatch: %+v vs %+v", i, loaded[i], entities[i])
		}
	}
}

func TestStoreSaveCopiesInput(t *testing.T) {
	store := NewStore(4)
	entities := sampleEntities()
	store.Save(1, entities)
	entities[0].Position.X = 99

	loaded, _ := store.Load(1)
	if loaded[0].Position.X != 1 {
		t.Fatalf("expected stored snapshot to be isolated from caller, got %v", loaded[0].Position.X)
	}
	loaded[0].Position.X = 42
	again, _ := store.Load(1)
	if again[0].Position.X != 1 {
		t.Fatalf("expected loaded snapshot to be a copy")
	}
}

func TestStoreReportsEvictedTick(t *testing.T) {
	store := NewStore(4)
	for tick := sim.Tick(0); tick < 6; tick++ {
		store.Save(tick, sampleEntities())
	}
	if _, ok := store.Load(1); ok {
		t.Fatalf("expected tick 1 to be evicted")
	}
	if _, ok := store.Load(5); !ok {
		t.Fatalf("expected tick 5 to be held")
	}
	if _, ok := store.Load(40); ok {
		t.Fatalf("expected never-saved tick to report missing")
	}
	if oldest, ok := store.Oldest(); !ok || oldest != 2 {
		t.Fatalf("expected oldest=2, got %d ok=%v", oldest, ok)
	}
}

func TestStorePatchReplacesEntity(t *testing.T) {
	store := NewStore(4)
	store.Save(3, sampleEntities())

	patched := NewEntityState(1)
	patched.Position = geom.Vec3{Y: 7}
	if !store.Patch(3, patched) {
		t.Fatalf("expected patch to apply")
	}
	loaded, _ := store.Load(3)
	if loaded[1].Position.Y != 7 {
		t.Fatalf("expected patched entity, got %+v", loaded[1])
	}
	if store.Patch(4, patched) {
		t.Fatalf("expected patch of unsaved tick to fail")
	}
	if store.Patch(3, NewEntityState(9)) {
		t.Fatalf("expected patch of unknown entity to fail")
	}
}

func TestChecksumDetectsBitChanges(t *testing.T) {
	entities := sampleEntities()
	base := Checksum(entities)
	if Checksum(sampleEntities()) != base {
		t.Fatalf("expected identical state to hash identically")
	}
	entities[1].AngularVelocity.X = 1e-7
	if Checksum(entities) == base {
		t.Fatalf("expected checksum to change")
	}
}

func TestFindUsesArenaIndex(t *testing.T) {
	entities := sampleEntities()
	state, ok := Find(entities, 1)
	if !ok || !state.AutoBalance {
		t.Fatalf("expected entity 1, got %+v ok=%v", state, ok)
	}
	if _, ok := Find(entities, 5); ok {
		t.Fatalf("expected unknown entity to be missing")
	}
}
