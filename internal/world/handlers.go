package world

import (
	"context"
	"encoding/json"

	"infinityworld.gg/internal/economy"
	"infinityworld.gg/internal/fault"
	"infinityworld.gg/internal/protocol"
	"infinityworld.gg/internal/store"
)

func (r *Room) handleIntent(ctx context.Context, env IntentEnvelope) {
	s, ok := r.sessions[env.SessionID]
	if !ok || !s.attached() {
		return
	}

	var err error
	switch env.Msg.Type {
	case protocol.TypeRequestParcels:
		err = r.requestParcels(ctx, s, env.Msg.X, env.Msg.Y)
	case protocol.TypePlaceBuild:
		err = r.placeBuild(ctx, s, env.Msg)
	case protocol.TypeMoveBuild:
		err = r.moveBuild(ctx, s, env.Msg)
	case protocol.TypeDeleteBuild:
		err = r.deleteBuild(ctx, s, env.Msg)
	case protocol.TypeBuyParcel:
		err = r.buyParcel(ctx, s, env.Msg.X, env.Msg.Y)
	default:
		err = fault.New(fault.ValidationFailed, "unknown intent %q", env.Msg.Type)
	}
	if err != nil {
		if fault.KindOf(err) == fault.Internal {
			r.logger.Printf("intent %s from session %s failed: %v", env.Msg.Type, s.id, err)
		}
		r.sendMsg(s, protocol.ActionErrorMsg{
			Type:    protocol.TypeActionError,
			Action:  env.Msg.Type,
			Error:   protocol.CodeFor(err),
			Message: err.Error(),
		})
	}
}

// requestParcels recenters the session's view square on (x, y). Coordinates
// gaining their first observer are fetched from the store once; coordinates
// losing their last observer are evicted. The requesting session receives
// add events for parcels entering its view and remove events for parcels
// leaving it; there is no direct reply.
func (r *Room) requestParcels(ctx context.Context, s *session, x, y int) error {
	next, diff := r.views.SetView(s.view, Coord{X: x, Y: y})

	// The view moves only once the new coordinates are loaded. A failed load
	// reverts the refcounts so the old view stays consistent and a retry
	// re-crosses the 0->1 residency transition.
	if err := r.materialize(ctx, diff.Load); err != nil {
		r.views.Revert(diff)
		return err
	}
	s.view = next
	for _, c := range diff.Evict {
		r.evict(c)
	}

	for _, c := range diff.SessionAdded {
		if e, ok := r.parcels[c]; ok && e.parcel != nil {
			s.queueEvent(parcelAddedEvent(c, e))
		}
	}
	for _, c := range diff.SessionRemoved {
		s.queueEvent(protocol.Event{Kind: protocol.EventParcelRemoved, X: c.X, Y: c.Y})
	}
	r.flush(s)
	return nil
}

// materialize loads the given coordinates into the mirror with one area query
// and one batched object query. Coordinates with no store row become virtual
// entries so repeat requests skip the store entirely.
func (r *Room) materialize(ctx context.Context, coords []Coord) error {
	if len(coords) == 0 {
		return nil
	}
	minX, maxX := coords[0].X, coords[0].X
	minY, maxY := coords[0].Y, coords[0].Y
	want := make(map[Coord]bool, len(coords))
	for _, c := range coords {
		want[c] = true
		if c.X < minX {
			minX = c.X
		}
		if c.X > maxX {
			maxX = c.X
		}
		if c.Y < minY {
			minY = c.Y
		}
		if c.Y > maxY {
			maxY = c.Y
		}
	}

	rows, err := r.st.Parcels.FindInArea(ctx, minX, maxX, minY, maxY)
	if err != nil {
		return err
	}
	byCoord := make(map[Coord]store.Parcel, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, p := range rows {
		c := Coord{X: p.X, Y: p.Y}
		if !want[c] {
			continue
		}
		byCoord[c] = p
		ids = append(ids, p.ID)
	}

	objsByParcel := map[int64][]store.PlacedObject{}
	if len(ids) > 0 {
		objs, err := r.st.Objects.ListByParcels(ctx, ids)
		if err != nil {
			return err
		}
		for _, o := range objs {
			objsByParcel[o.ParcelID] = append(objsByParcel[o.ParcelID], o)
		}
	}

	for _, c := range coords {
		if _, already := r.parcels[c]; already {
			continue
		}
		e := &parcelEntry{objects: map[int64]store.PlacedObject{}}
		if p, ok := byCoord[c]; ok {
			row := p
			e.parcel = &row
			r.byParcel[p.ID] = c
			for _, o := range objsByParcel[p.ID] {
				e.objects[o.ID] = o
				r.objects[o.ID] = p.ID
			}
		}
		r.parcels[c] = e
	}
	r.statResident.Store(int64(len(r.parcels)))
	r.recountObjects()
	return nil
}

func (r *Room) placeBuild(ctx context.Context, s *session, m protocol.IntentMsg) error {
	c, ok := r.byParcel[m.ParcelID]
	if !ok {
		return fault.New(fault.NotFound, "parcel %d is not in view", m.ParcelID)
	}
	e := r.parcels[c]
	if e.parcel == nil || e.parcel.OwnerID == nil || *e.parcel.OwnerID != s.playerID {
		return fault.New(fault.Forbidden, "parcel %d is not yours", m.ParcelID)
	}
	obj, ok := r.catalog[m.ObjectID]
	if !ok {
		return fault.New(fault.NotFound, "unknown catalog object %d", m.ObjectID)
	}
	unlocked, err := r.st.Inventory.Has(ctx, s.playerID, m.ObjectID)
	if err != nil {
		return err
	}
	if !unlocked {
		return fault.New(fault.Forbidden, "object %q is not unlocked", obj.Name)
	}
	if err := r.checkFootprint(e, obj, m.LocalX, m.LocalY, 0); err != nil {
		return err
	}

	placed, err := r.st.Objects.Create(ctx, m.ParcelID, m.ObjectID, m.LocalX, m.LocalY)
	if err != nil {
		return err
	}
	e.objects[placed.ID] = placed
	r.objects[placed.ID] = m.ParcelID
	r.recountObjects()

	wo := wireObject(placed)
	r.broadcast(c, protocol.Event{Kind: protocol.EventObjectAdded, ParcelID: m.ParcelID, Object: &wo})
	r.sendMsg(s, protocol.ActionOkMsg{Type: protocol.TypeActionOk, Action: protocol.TypePlaceBuild, PlacedObjectID: placed.ID})
	return nil
}

func (r *Room) moveBuild(ctx context.Context, s *session, m protocol.IntentMsg) error {
	placed, e, c, err := r.ownedObject(s, m.PlacedObjectID)
	if err != nil {
		return err
	}
	obj, ok := r.catalog[placed.ObjectID]
	if !ok {
		return fault.New(fault.Internal, "catalog object %d missing for placed object %d", placed.ObjectID, placed.ID)
	}
	if err := r.checkFootprint(e, obj, m.LocalX, m.LocalY, placed.ID); err != nil {
		return err
	}

	if err := r.st.Objects.UpdatePos(ctx, placed.ID, m.LocalX, m.LocalY); err != nil {
		return err
	}
	placed.LocalX, placed.LocalY = m.LocalX, m.LocalY
	e.objects[placed.ID] = placed

	wo := wireObject(placed)
	r.broadcast(c, protocol.Event{Kind: protocol.EventObjectRemoved, ParcelID: placed.ParcelID, PlacedObjectID: placed.ID})
	r.broadcast(c, protocol.Event{Kind: protocol.EventObjectAdded, ParcelID: placed.ParcelID, Object: &wo})
	r.sendMsg(s, protocol.ActionOkMsg{Type: protocol.TypeActionOk, Action: protocol.TypeMoveBuild})
	return nil
}

func (r *Room) deleteBuild(ctx context.Context, s *session, m protocol.IntentMsg) error {
	placed, e, c, err := r.ownedObject(s, m.PlacedObjectID)
	if err != nil {
		return err
	}
	if err := r.st.Objects.Delete(ctx, placed.ID); err != nil {
		return err
	}
	delete(e.objects, placed.ID)
	delete(r.objects, placed.ID)
	r.recountObjects()

	r.broadcast(c, protocol.Event{Kind: protocol.EventObjectRemoved, ParcelID: placed.ParcelID, PlacedObjectID: placed.ID})
	r.sendMsg(s, protocol.ActionOkMsg{Type: protocol.TypeActionOk, Action: protocol.TypeDeleteBuild})
	return nil
}

func (r *Room) buyParcel(ctx context.Context, s *session, x, y int) error {
	res, err := r.econ.BuyParcel(ctx, s.playerID, x, y, "ws")
	if err != nil {
		return err
	}
	r.statPurchases.Add(1)
	r.mirrorPurchase(res)

	wp := wireParcel(res.Parcel)
	coins := res.Balance
	r.sendMsg(s, protocol.ActionOkMsg{
		Type:   protocol.TypeActionOk,
		Action: protocol.TypeBuyParcel,
		Parcel: &wp,
		Coins:  &coins,
	})
	return nil
}

// mirrorPurchase folds a committed purchase into the mirror and notifies
// every session viewing the coordinate. A coordinate nobody views stays
// unmaterialized; it will be fetched fresh on the next area request.
func (r *Room) mirrorPurchase(res economy.BuyResult) {
	c := Coord{X: res.Parcel.X, Y: res.Parcel.Y}
	e, resident := r.parcels[c]
	if !resident {
		return
	}
	hadRow := e.parcel != nil
	row := res.Parcel
	e.parcel = &row
	r.byParcel[row.ID] = c

	wp := wireParcel(row)
	if hadRow {
		r.broadcast(c, protocol.Event{Kind: protocol.EventParcelChanged, X: c.X, Y: c.Y, Parcel: &wp})
	} else {
		r.broadcast(c, parcelAddedEvent(c, e))
	}
}

// ownedObject resolves a placed object id to its resident state and checks
// the requester owns the containing parcel.
func (r *Room) ownedObject(s *session, placedID int64) (store.PlacedObject, *parcelEntry, Coord, error) {
	parcelID, ok := r.objects[placedID]
	if !ok {
		return store.PlacedObject{}, nil, Coord{}, fault.New(fault.NotFound, "placed object %d is not in view", placedID)
	}
	c := r.byParcel[parcelID]
	e := r.parcels[c]
	if e == nil || e.parcel == nil {
		return store.PlacedObject{}, nil, Coord{}, fault.New(fault.NotFound, "placed object %d is not in view", placedID)
	}
	if e.parcel.OwnerID == nil || *e.parcel.OwnerID != s.playerID {
		return store.PlacedObject{}, nil, Coord{}, fault.New(fault.Forbidden, "parcel %d is not yours", parcelID)
	}
	return e.objects[placedID], e, c, nil
}

// checkFootprint validates bounds and overlap for placing obj at (lx, ly).
// ignoreID exempts the object being moved from the overlap scan.
func (r *Room) checkFootprint(e *parcelEntry, obj store.CatalogObject, lx, ly int, ignoreID int64) error {
	size := r.cfg.ParcelSize
	if lx < 0 || ly < 0 || lx+obj.Width > size || ly+obj.Depth > size {
		return fault.New(fault.OutOfBounds, "footprint %dx%d at (%d,%d) exceeds parcel bounds", obj.Width, obj.Depth, lx, ly)
	}
	for _, other := range e.objects {
		if other.ID == ignoreID {
			continue
		}
		oc, ok := r.catalog[other.ObjectID]
		if !ok {
			continue
		}
		if lx < other.LocalX+oc.Width && other.LocalX < lx+obj.Width &&
			ly < other.LocalY+oc.Depth && other.LocalY < ly+obj.Depth {
			return fault.New(fault.ValidationFailed, "footprint overlaps placed object %d", other.ID)
		}
	}
	return nil
}

// broadcast queues an event for every attached session viewing c and flushes
// immediately, preserving per-coordinate mutation order.
func (r *Room) broadcast(c Coord, ev protocol.Event) {
	for _, s := range r.sessions {
		if _, viewing := s.view[c]; !viewing {
			continue
		}
		s.queueEvent(ev)
		r.flush(s)
	}
}

// flush drains a session's pending events into one batch frame.
func (r *Room) flush(s *session) {
	if len(s.pending) == 0 || s.out == nil {
		return
	}
	batch := protocol.EventBatchMsg{
		Type:            protocol.TypeEvents,
		ProtocolVersion: protocol.Version,
		Events:          s.pending,
	}
	s.pending = nil
	r.sendMsg(s, batch)
}

// sendMsg marshals and queues one frame without blocking the room goroutine.
// A full client queue drops the frame; the client catches up on its next
// area request.
func (r *Room) sendMsg(s *session, v any) {
	if s.out == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.logger.Printf("marshal frame for session %s: %v", s.id, err)
		return
	}
	select {
	case s.out <- raw:
	default:
		r.statDropped.Add(1)
	}
}
