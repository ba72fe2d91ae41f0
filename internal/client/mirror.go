// Package client is the sync adapter a game frontend (or the bundled bot)
// embeds: a local mirror of the streamed neighborhood, intent senders, and a
// reconnect loop that resumes the server-side session within its grace
// window. Rendering is the embedder's problem; the mirror just holds state.
package client

import (
	"sync"

	"infinityworld.gg/internal/protocol"
)

type Coord struct {
	X, Y int
}

// MirrorParcel is one coordinate's replicated state.
type MirrorParcel struct {
	Parcel  protocol.Parcel
	Objects map[int64]protocol.PlacedObject
}

// Mirror is the client-side spatial cache. Events must be applied in
// delivery order; the server guarantees events for one coordinate are never
// reordered relative to each other, so last-writer-wins is safe.
type Mirror struct {
	mu      sync.RWMutex
	parcels map[Coord]*MirrorParcel
	byID    map[int64]Coord
	objects map[int64]int64 // placed object id -> parcel id
}

func NewMirror() *Mirror {
	return &Mirror{
		parcels: map[Coord]*MirrorParcel{},
		byID:    map[int64]Coord{},
		objects: map[int64]int64{},
	}
}

// Apply folds one batch of server events into the mirror, in order.
func (m *Mirror) Apply(events []protocol.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		m.apply(ev)
	}
}

func (m *Mirror) apply(ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventParcelAdded:
		if ev.Parcel == nil {
			return
		}
		c := Coord{X: ev.X, Y: ev.Y}
		mp := &MirrorParcel{Parcel: *ev.Parcel, Objects: map[int64]protocol.PlacedObject{}}
		for _, o := range ev.Objects {
			mp.Objects[o.ID] = o
			m.objects[o.ID] = ev.Parcel.ID
		}
		if old, ok := m.parcels[c]; ok {
			m.forgetObjects(old)
		}
		m.parcels[c] = mp
		m.byID[ev.Parcel.ID] = c

	case protocol.EventParcelChanged:
		if ev.Parcel == nil {
			return
		}
		c := Coord{X: ev.X, Y: ev.Y}
		if mp, ok := m.parcels[c]; ok {
			mp.Parcel = *ev.Parcel
		} else {
			m.parcels[c] = &MirrorParcel{Parcel: *ev.Parcel, Objects: map[int64]protocol.PlacedObject{}}
		}
		m.byID[ev.Parcel.ID] = c

	case protocol.EventParcelRemoved:
		c := Coord{X: ev.X, Y: ev.Y}
		if mp, ok := m.parcels[c]; ok {
			m.forgetObjects(mp)
			delete(m.byID, mp.Parcel.ID)
			delete(m.parcels, c)
		}

	case protocol.EventObjectAdded:
		if ev.Object == nil {
			return
		}
		c, ok := m.byID[ev.ParcelID]
		if !ok {
			return
		}
		m.parcels[c].Objects[ev.Object.ID] = *ev.Object
		m.objects[ev.Object.ID] = ev.ParcelID

	case protocol.EventObjectRemoved:
		pid, ok := m.objects[ev.PlacedObjectID]
		if !ok {
			return
		}
		if c, ok := m.byID[pid]; ok {
			delete(m.parcels[c].Objects, ev.PlacedObjectID)
		}
		delete(m.objects, ev.PlacedObjectID)
	}
}

func (m *Mirror) forgetObjects(mp *MirrorParcel) {
	for id := range mp.Objects {
		delete(m.objects, id)
	}
}

// Parcel returns a copy of the replicated state at (x, y).
func (m *Mirror) Parcel(x, y int) (MirrorParcel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.parcels[Coord{X: x, Y: y}]
	if !ok {
		return MirrorParcel{}, false
	}
	out := MirrorParcel{Parcel: mp.Parcel, Objects: make(map[int64]protocol.PlacedObject, len(mp.Objects))}
	for id, o := range mp.Objects {
		out.Objects[id] = o
	}
	return out, true
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parcels)
}

// Clear wipes the mirror, used when reconnection is abandoned.
func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parcels = map[Coord]*MirrorParcel{}
	m.byID = map[int64]Coord{}
	m.objects = map[int64]int64{}
}
