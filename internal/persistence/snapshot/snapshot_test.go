package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"infinityworld.gg/internal/store"
)

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	p, err := st.Players.Create(ctx, "ada", 500)
	if err != nil {
		t.Fatalf("create player: %v", err)
	}
	obj, _, err := st.Catalog.Upsert(ctx, store.CatalogObject{Name: "BENCH", Width: 2, Depth: 1, Free: true})
	if err != nil {
		t.Fatalf("upsert object: %v", err)
	}
	tx, err := st.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	parcel, err := st.Parcels.CreateOwnedTx(ctx, tx, 1, 2, p.ID)
	if err != nil {
		t.Fatalf("create parcel: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := st.Objects.Create(ctx, parcel.ID, obj.ID, 3, 0); err != nil {
		t.Fatalf("place object: %v", err)
	}

	snap, err := Export(ctx, st)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if snap.Header.Version != 1 || snap.Header.GeneratedAt == 0 {
		t.Fatalf("bad header: %+v", snap.Header)
	}

	path := filepath.Join(t.TempDir(), "1.snap.zst")
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(got.Players) != 1 || got.Players[0].Name != "ada" || got.Players[0].Coins != 500 {
		t.Fatalf("players did not round trip: %+v", got.Players)
	}
	if len(got.Parcels) != 1 || got.Parcels[0].X != 1 || got.Parcels[0].Y != 2 {
		t.Fatalf("parcels did not round trip: %+v", got.Parcels)
	}
	if got.Parcels[0].OwnerID == nil || *got.Parcels[0].OwnerID != p.ID {
		t.Fatalf("owner did not round trip: %+v", got.Parcels[0])
	}
	if len(got.Objects) != 1 || got.Objects[0].ObjectID != obj.ID || got.Objects[0].LocalX != 3 {
		t.Fatalf("objects did not round trip: %+v", got.Objects)
	}
	if len(got.Catalog) != 1 || got.Catalog[0].Name != "BENCH" {
		t.Fatalf("catalog did not round trip: %+v", got.Catalog)
	}
}
