// Package snapshot exports the durable world state to a compressed file for
// backups and offline inspection. The format is a one-line JSON header
// followed by a gob payload, zstd-compressed.
package snapshot

import (
	"bufio"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"infinityworld.gg/internal/store"
)

type Header struct {
	Version     int   `json:"version"`
	GeneratedAt int64 `json:"generated_at"` // unix seconds
}

// ExportV1 is a full dump of the relational world state.
type ExportV1 struct {
	Header Header `json:"header"`

	Players []store.Player        `json:"players"`
	Parcels []store.Parcel        `json:"parcels"`
	Objects []store.PlacedObject  `json:"objects"`
	Catalog []store.CatalogObject `json:"catalog"`
}

// Export gathers the current durable state. The walk is parcel by parcel so
// the query shapes match what the room itself uses.
func Export(ctx context.Context, st *store.Store) (ExportV1, error) {
	snap := ExportV1{Header: Header{Version: 1, GeneratedAt: time.Now().Unix()}}

	catalog, err := st.Catalog.List(ctx)
	if err != nil {
		return snap, fmt.Errorf("export catalog: %w", err)
	}
	snap.Catalog = catalog

	players, err := st.Players.List(ctx)
	if err != nil {
		return snap, fmt.Errorf("export players: %w", err)
	}
	snap.Players = players

	parcels, err := st.Parcels.ListAll(ctx)
	if err != nil {
		return snap, fmt.Errorf("export parcels: %w", err)
	}
	snap.Parcels = parcels

	ids := make([]int64, 0, len(parcels))
	for _, p := range parcels {
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		objs, err := st.Objects.ListByParcels(ctx, ids)
		if err != nil {
			return snap, fmt.Errorf("export objects: %w", err)
		}
		snap.Objects = objs
	}
	return snap, nil
}

func WriteSnapshot(path string, snap ExportV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (ExportV1, error) {
	var snap ExportV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line first; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
