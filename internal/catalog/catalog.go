// Package catalog loads the placeable-object catalog from configs/catalog.yaml
// and syncs it into the store at startup. Seeding is additive: objects are
// upserted by name, rows are never removed, and a free object appearing for
// the first time is granted to every existing player.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"infinityworld.gg/internal/store"
)

type SeedFile struct {
	Objects []SeedObject `yaml:"objects"`
}

type SeedObject struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
	Depth int    `yaml:"depth"`
	Price int64  `yaml:"price"`
	Free  bool   `yaml:"free"`
}

// Load reads and validates a seed file and returns it with a content digest.
func Load(path string) (SeedFile, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, "", err
	}
	var f SeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return SeedFile{}, "", fmt.Errorf("catalog.yaml: %w", err)
	}
	seen := map[string]bool{}
	for _, o := range f.Objects {
		if o.Name == "" || o.Width <= 0 || o.Depth <= 0 || o.Price < 0 {
			return SeedFile{}, "", fmt.Errorf("catalog.yaml: invalid object %+v", o)
		}
		if seen[o.Name] {
			return SeedFile{}, "", fmt.Errorf("catalog.yaml: duplicate object %q", o.Name)
		}
		seen[o.Name] = true
	}
	sum := sha256.Sum256(raw)
	return f, hex.EncodeToString(sum[:]), nil
}

// Sync upserts every seed object and grants newly appearing free objects to
// all existing players. Returns the number of newly created objects.
func Sync(ctx context.Context, st *store.Store, f SeedFile, logger *log.Logger) (int, error) {
	if logger == nil {
		logger = log.Default()
	}
	created := 0
	for _, o := range f.Objects {
		obj, isNew, err := st.Catalog.Upsert(ctx, store.CatalogObject{
			Name:  o.Name,
			Width: o.Width,
			Depth: o.Depth,
			Price: o.Price,
			Free:  o.Free,
		})
		if err != nil {
			return created, fmt.Errorf("upsert %q: %w", o.Name, err)
		}
		if !isNew {
			continue
		}
		created++
		if obj.Free {
			if err := st.Inventory.GrantToAll(ctx, obj.ID); err != nil {
				return created, fmt.Errorf("grant %q: %w", o.Name, err)
			}
			logger.Printf("catalog: new free object %q granted to all players", o.Name)
		}
	}
	return created, nil
}
