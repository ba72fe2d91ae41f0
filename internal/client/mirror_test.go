package client

import (
	"testing"

	"infinityworld.gg/internal/protocol"
)

func owner(id int64) *int64 { return &id }

func TestMirror_ApplyOrder(t *testing.T) {
	m := NewMirror()

	m.Apply([]protocol.Event{{
		Kind:   protocol.EventParcelAdded,
		X:      2, Y: 3,
		Parcel: &protocol.Parcel{ID: 10, X: 2, Y: 3, OwnerID: owner(1)},
		Objects: []protocol.PlacedObject{
			{ID: 100, ParcelID: 10, ObjectID: 7, LocalX: 1, LocalY: 1},
		},
	}})
	mp, ok := m.Parcel(2, 3)
	if !ok {
		t.Fatalf("parcel not mirrored")
	}
	if len(mp.Objects) != 1 || mp.Objects[100].ObjectID != 7 {
		t.Fatalf("objects not mirrored: %+v", mp.Objects)
	}

	m.Apply([]protocol.Event{{
		Kind:     protocol.EventObjectAdded,
		ParcelID: 10,
		Object:   &protocol.PlacedObject{ID: 101, ParcelID: 10, ObjectID: 8, LocalX: 4, LocalY: 4},
	}})
	mp, _ = m.Parcel(2, 3)
	if len(mp.Objects) != 2 {
		t.Fatalf("want 2 objects, got %d", len(mp.Objects))
	}

	// Ownership flip keeps the placed objects.
	m.Apply([]protocol.Event{{
		Kind:   protocol.EventParcelChanged,
		X:      2, Y: 3,
		Parcel: &protocol.Parcel{ID: 10, X: 2, Y: 3, OwnerID: owner(2)},
	}})
	mp, _ = m.Parcel(2, 3)
	if *mp.Parcel.OwnerID != 2 {
		t.Fatalf("owner not updated: %+v", mp.Parcel)
	}
	if len(mp.Objects) != 2 {
		t.Fatalf("parcelChanged dropped objects")
	}

	m.Apply([]protocol.Event{{Kind: protocol.EventObjectRemoved, PlacedObjectID: 100}})
	mp, _ = m.Parcel(2, 3)
	if len(mp.Objects) != 1 {
		t.Fatalf("object not removed: %+v", mp.Objects)
	}

	m.Apply([]protocol.Event{{Kind: protocol.EventParcelRemoved, X: 2, Y: 3}})
	if _, ok := m.Parcel(2, 3); ok {
		t.Fatalf("parcel not evicted")
	}
	if m.Len() != 0 {
		t.Fatalf("mirror not empty: %d", m.Len())
	}

	// Stragglers for an evicted parcel are ignored.
	m.Apply([]protocol.Event{{
		Kind:     protocol.EventObjectAdded,
		ParcelID: 10,
		Object:   &protocol.PlacedObject{ID: 102, ParcelID: 10, ObjectID: 8},
	}})
	if m.Len() != 0 {
		t.Fatalf("straggler resurrected parcel")
	}
}

func TestMirror_ParcelReturnsCopy(t *testing.T) {
	m := NewMirror()
	m.Apply([]protocol.Event{{
		Kind:   protocol.EventParcelAdded,
		X:      0, Y: 0,
		Parcel: &protocol.Parcel{ID: 1, OwnerID: nil},
		Objects: []protocol.PlacedObject{
			{ID: 100, ParcelID: 1, ObjectID: 7},
		},
	}})
	mp, _ := m.Parcel(0, 0)
	delete(mp.Objects, 100)
	again, _ := m.Parcel(0, 0)
	if len(again.Objects) != 1 {
		t.Fatalf("caller mutated mirror state")
	}
}

func TestMirror_Clear(t *testing.T) {
	m := NewMirror()
	m.Apply([]protocol.Event{{
		Kind: protocol.EventParcelAdded, X: 1, Y: 1,
		Parcel: &protocol.Parcel{ID: 5},
	}})
	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("clear left %d parcels", m.Len())
	}
	if _, ok := m.Parcel(1, 1); ok {
		t.Fatalf("parcel survived clear")
	}
}
