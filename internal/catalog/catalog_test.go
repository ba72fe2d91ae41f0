package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"infinityworld.gg/internal/store"
)

const sampleSeed = `objects:
  - name: BENCH
    width: 2
    depth: 1
    price: 0
    free: true
  - name: FOUNTAIN
    width: 3
    depth: 3
    price: 200
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return p
}

func TestLoad_ValidatesAndDigests(t *testing.T) {
	f, digest, err := Load(writeSeed(t, sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Objects) != 2 || digest == "" {
		t.Fatalf("unexpected seed: %+v digest=%q", f, digest)
	}

	if _, _, err := Load(writeSeed(t, "objects:\n  - name: X\n    width: 0\n    depth: 1\n")); err == nil {
		t.Fatalf("zero width must be rejected")
	}
	if _, _, err := Load(writeSeed(t, "objects:\n  - name: A\n    width: 1\n    depth: 1\n  - name: A\n    width: 1\n    depth: 1\n")); err == nil {
		t.Fatalf("duplicate name must be rejected")
	}
}

func TestSync_UpsertsAndGrantsFree(t *testing.T) {
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	p, err := st.Players.Create(ctx, "ada", 500)
	if err != nil {
		t.Fatalf("create player: %v", err)
	}

	f, _, err := Load(writeSeed(t, sampleSeed))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	created, err := Sync(ctx, st, f, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}

	// The free BENCH lands in the existing player's inventory.
	bench, err := st.Catalog.GetByName(ctx, "BENCH")
	if err != nil {
		t.Fatalf("get bench: %v", err)
	}
	unlocks, err := st.Inventory.ListByPlayer(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unlocks) != 1 || unlocks[0] != bench.ID {
		t.Fatalf("expected bench granted, got %v", unlocks)
	}

	// Re-sync is a no-op.
	created, err = Sync(ctx, st, f, nil)
	if err != nil {
		t.Fatalf("re-sync: %v", err)
	}
	if created != 0 {
		t.Fatalf("re-sync should create nothing, got %d", created)
	}
	unlocks, err = st.Inventory.ListByPlayer(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(unlocks) != 1 {
		t.Fatalf("re-sync must not duplicate grants: %v", unlocks)
	}
}
