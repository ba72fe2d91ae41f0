package world

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"infinityworld.gg/internal/economy"
	"infinityworld.gg/internal/protocol"
	"infinityworld.gg/internal/store"
	"infinityworld.gg/internal/tuning"
)

var resumeSeq atomic.Int64

func stubResume(pid int64, sid string) (string, error) {
	return fmt.Sprintf("resume-%d-%s-%d", pid, sid, resumeSeq.Add(1)), nil
}

func startRoom(t *testing.T, cfg tuning.Tuning) (*Room, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	eng := economy.New(st, cfg.ParcelPrice, cfg.ProximityD, nil, nil)
	room := NewRoom(cfg, st, eng, stubResume, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = room.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for room.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("room never became active")
		}
		time.Sleep(time.Millisecond)
	}
	return room, st
}

type client struct {
	sessionID string
	playerID  int64
	out       chan []byte
}

func joinRoom(t *testing.T, room *Room, playerID int64, name string) (client, protocol.InitPlayerMsg) {
	t.Helper()
	out := make(chan []byte, 64)
	resp := make(chan JoinResponse, 1)
	room.Join() <- JoinRequest{PlayerID: playerID, Name: name, Out: out, Resp: resp}
	select {
	case jr := <-resp:
		if jr.Err != nil {
			t.Fatalf("join: %v", jr.Err)
		}
		return client{sessionID: jr.SessionID, playerID: jr.Init.PlayerID, out: out}, jr.Init
	case <-time.After(2 * time.Second):
		t.Fatalf("join timed out")
	}
	return client{}, protocol.InitPlayerMsg{}
}

func (c client) send(room *Room, m protocol.IntentMsg) {
	room.Inbox() <- IntentEnvelope{SessionID: c.sessionID, Msg: m}
}

// frame reads the next frame of the given type, failing on anything else.
func (c client) frame(t *testing.T, wantType string) []byte {
	t.Helper()
	select {
	case raw := <-c.out:
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if base.Type != wantType {
			t.Fatalf("expected %s frame, got %s: %s", wantType, base.Type, raw)
		}
		return raw
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s frame arrived", wantType)
	}
	return nil
}

// barrier flushes the intent queue: deleting a nonexistent object always
// fails point-to-point, so once the error arrives every prior intent from
// this session has been processed.
func (c client) barrier(t *testing.T, room *Room) {
	t.Helper()
	c.send(room, protocol.IntentMsg{Type: protocol.TypeDeleteBuild, PlacedObjectID: 1 << 40})
	raw := c.frame(t, protocol.TypeActionError)
	var msg protocol.ActionErrorMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Error != protocol.ErrNotFound {
		t.Fatalf("barrier expected %s, got %s", protocol.ErrNotFound, msg.Error)
	}
}

func TestRoom_JoinCreatesPlayer(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	_, init := joinRoom(t, room, 0, "ada")
	if init.Coins != 500 || init.PlayerID == 0 {
		t.Fatalf("unexpected init: %+v", init)
	}
	if init.ResumeToken == "" || init.ViewRadius != 2 || init.ParcelSize != 16 {
		t.Fatalf("init missing parameters: %+v", init)
	}
	if len(init.Parcels) != 0 || len(init.Inventory) != 0 {
		t.Fatalf("fresh player should own nothing: %+v", init)
	}
}

func TestRoom_IdempotentViewLoading(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	cl, _ := joinRoom(t, room, 0, "ada")

	// A purchase seeds one real row inside the view square.
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeBuyParcel, X: 1, Y: 1})
	cl.frame(t, protocol.TypeActionOk)

	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	raw := cl.frame(t, protocol.TypeEvents)
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != protocol.EventParcelAdded {
		t.Fatalf("expected one parcelAdded, got %+v", batch.Events)
	}

	// Same request again: no new events, residency unchanged.
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	cl.barrier(t, room)
	select {
	case raw := <-cl.out:
		t.Fatalf("repeat request should stream nothing, got %s", raw)
	default:
	}
	sum := room.Summary(context.Background())
	if sum.ResidentParcels != 25 {
		t.Fatalf("expected 25 resident coordinates, got %d", sum.ResidentParcels)
	}
}

func TestRoom_RefCountedEviction(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	a, _ := joinRoom(t, room, 0, "ada")
	b, _ := joinRoom(t, room, 0, "bob")

	a.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	b.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	a.barrier(t, room)
	b.barrier(t, room)
	if sum := room.Summary(context.Background()); sum.ResidentParcels != 25 {
		t.Fatalf("expected 25 resident, got %d", sum.ResidentParcels)
	}

	// a walks away: the shared square stays resident for b.
	a.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 100, Y: 100})
	a.barrier(t, room)
	if sum := room.Summary(context.Background()); sum.ResidentParcels != 50 {
		t.Fatalf("expected 50 resident (two squares), got %d", sum.ResidentParcels)
	}

	// b leaves for good: only a's square survives.
	room.Leave() <- LeaveRequest{SessionID: b.sessionID, Consented: true}
	a.barrier(t, room)
	if sum := room.Summary(context.Background()); sum.ResidentParcels != 25 {
		t.Fatalf("expected 25 resident after leave, got %d", sum.ResidentParcels)
	}
}

func TestRoom_BuyParcelStreamsToViewers(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	buyer, _ := joinRoom(t, room, 0, "ada")
	watcher, _ := joinRoom(t, room, 0, "bob")

	watcher.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 1, Y: 1})
	watcher.barrier(t, room)

	buyer.send(room, protocol.IntentMsg{Type: protocol.TypeBuyParcel, X: 1, Y: 1})
	raw := buyer.frame(t, protocol.TypeActionOk)
	var ok protocol.ActionOkMsg
	if err := json.Unmarshal(raw, &ok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ok.Action != protocol.TypeBuyParcel || ok.Parcel == nil || ok.Coins == nil || *ok.Coins != 400 {
		t.Fatalf("unexpected ok: %+v", ok)
	}

	raw = watcher.frame(t, protocol.TypeEvents)
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != protocol.EventParcelAdded {
		t.Fatalf("watcher should see parcelAdded, got %+v", batch.Events)
	}
	if batch.Events[0].Parcel == nil || batch.Events[0].Parcel.OwnerID == nil || *batch.Events[0].Parcel.OwnerID != buyer.playerID {
		t.Fatalf("event carries wrong ownership: %+v", batch.Events[0])
	}
}

func TestRoom_PlaceRequiresOwnershipAndUnlock(t *testing.T) {
	room, st := startRoom(t, tuning.Defaults())
	ctx := context.Background()

	obj, _, err := st.Catalog.Upsert(ctx, store.CatalogObject{Name: "BENCH", Width: 2, Depth: 1, Free: true})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	// The room preloads the catalog on startup; restart to pick it up.
	room.Dispose()
	room, _ = startRoomWith(t, tuning.Defaults(), st)

	owner, _ := joinRoom(t, room, 0, "ada")
	other, _ := joinRoom(t, room, 0, "bob")

	owner.send(room, protocol.IntentMsg{Type: protocol.TypeBuyParcel, X: 0, Y: 0})
	raw := owner.frame(t, protocol.TypeActionOk)
	var okMsg protocol.ActionOkMsg
	if err := json.Unmarshal(raw, &okMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	parcelID := okMsg.Parcel.ID
	owner.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	owner.frame(t, protocol.TypeEvents)
	other.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	other.frame(t, protocol.TypeEvents)

	// Not the owner.
	other.send(room, protocol.IntentMsg{Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: obj.ID, LocalX: 0, LocalY: 0})
	raw = other.frame(t, protocol.TypeActionError)
	var errMsg protocol.ActionErrorMsg
	if err := json.Unmarshal(raw, &errMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errMsg.Error != protocol.ErrForbidden {
		t.Fatalf("expected %s, got %s", protocol.ErrForbidden, errMsg.Error)
	}

	// Owner without the unlock.
	owner.send(room, protocol.IntentMsg{Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: obj.ID, LocalX: 0, LocalY: 0})
	raw = owner.frame(t, protocol.TypeActionError)
	if err := json.Unmarshal(raw, &errMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errMsg.Error != protocol.ErrForbidden {
		t.Fatalf("expected %s, got %s", protocol.ErrForbidden, errMsg.Error)
	}

	// Unlock, then place: both viewers get the object event.
	if _, err := st.Inventory.InsertIfAbsent(ctx, owner.playerID, obj.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	owner.send(room, protocol.IntentMsg{Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: obj.ID, LocalX: 3, LocalY: 3})
	raw = owner.frame(t, protocol.TypeEvents)
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != protocol.EventObjectAdded {
		t.Fatalf("expected objectAdded, got %+v", batch.Events)
	}
	owner.frame(t, protocol.TypeActionOk)
	other.frame(t, protocol.TypeEvents)

	// Overlap is rejected.
	owner.send(room, protocol.IntentMsg{Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: obj.ID, LocalX: 4, LocalY: 3})
	raw = owner.frame(t, protocol.TypeActionError)
	if err := json.Unmarshal(raw, &errMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errMsg.Error != protocol.ErrValidation {
		t.Fatalf("expected %s, got %s", protocol.ErrValidation, errMsg.Error)
	}

	// Out of bounds is rejected.
	owner.send(room, protocol.IntentMsg{Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: obj.ID, LocalX: 15, LocalY: 0})
	raw = owner.frame(t, protocol.TypeActionError)
	if err := json.Unmarshal(raw, &errMsg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if errMsg.Error != protocol.ErrOutOfBounds {
		t.Fatalf("expected %s, got %s", protocol.ErrOutOfBounds, errMsg.Error)
	}
}

func TestRoom_GraceWindowExpiry(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.GraceWindowSec = 0
	room, _ := startRoom(t, cfg)
	cl, _ := joinRoom(t, room, 0, "ada")

	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	cl.barrier(t, room)

	room.Leave() <- LeaveRequest{SessionID: cl.sessionID, Consented: false}
	deadline := time.Now().Add(2 * time.Second)
	for {
		sum := room.Summary(context.Background())
		if sum.Sessions == 0 && sum.ResidentParcels == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("grace expiry never tore the session down: %+v", sum)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoom_RejoinDuringGraceKeepsSession(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	cl, init := joinRoom(t, room, 0, "ada")

	cl.send(room, protocol.IntentMsg{Type: protocol.TypeBuyParcel, X: 0, Y: 0})
	cl.frame(t, protocol.TypeActionOk)
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	cl.frame(t, protocol.TypeEvents)

	room.Leave() <- LeaveRequest{SessionID: cl.sessionID, Consented: false}

	// Rejoining as the same player takes the gracing session over; the
	// resident view is replayed onto the new transport.
	re, reInit := joinRoom(t, room, init.PlayerID, "")
	if re.sessionID != cl.sessionID {
		t.Fatalf("expected session takeover, got %s vs %s", re.sessionID, cl.sessionID)
	}
	if reInit.ResumeToken == init.ResumeToken {
		t.Fatalf("resume token must rotate on reattach")
	}
	raw := re.frame(t, protocol.TypeEvents)
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(raw, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != protocol.EventParcelAdded {
		t.Fatalf("expected view replay, got %+v", batch.Events)
	}
}

func TestRoom_AttachValidatesToken(t *testing.T) {
	room, _ := startRoom(t, tuning.Defaults())
	cl, init := joinRoom(t, room, 0, "ada")
	room.Leave() <- LeaveRequest{SessionID: cl.sessionID, Consented: false}

	out := make(chan []byte, 8)
	resp := make(chan JoinResponse, 1)
	room.Attach() <- AttachRequest{
		PlayerID:    cl.playerID,
		SessionID:   cl.sessionID,
		ResumeToken: "stale-token",
		Out:         out,
		Resp:        resp,
	}
	jr := <-resp
	if jr.Err == nil {
		t.Fatalf("stale token must be rejected")
	}

	resp = make(chan JoinResponse, 1)
	room.Attach() <- AttachRequest{
		PlayerID:    cl.playerID,
		SessionID:   cl.sessionID,
		ResumeToken: init.ResumeToken,
		Out:         out,
		Resp:        resp,
	}
	jr = <-resp
	if jr.Err != nil {
		t.Fatalf("attach with current token: %v", jr.Err)
	}
	if jr.Init.ResumeToken == init.ResumeToken {
		t.Fatalf("token must rotate on attach")
	}
}

// startRoomWith runs a second room over an already-open store.
func startRoomWith(t *testing.T, cfg tuning.Tuning, st *store.Store) (*Room, *store.Store) {
	t.Helper()
	eng := economy.New(st, cfg.ParcelPrice, cfg.ProximityD, nil, nil)
	room := NewRoom(cfg, st, eng, stubResume, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = room.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(2 * time.Second)
	for room.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatalf("room never became active")
		}
		time.Sleep(time.Millisecond)
	}
	return room, st
}

func TestRoom_FailedViewMoveKeepsOldView(t *testing.T) {
	room, st := startRoom(t, tuning.Defaults())
	cl, _ := joinRoom(t, room, 0, "ada")

	// Seed a row and take a view over it.
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeBuyParcel, X: 1, Y: 1})
	cl.frame(t, protocol.TypeActionOk)
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	cl.frame(t, protocol.TypeEvents)

	// Kill the store so the next view move cannot load its coordinates.
	_ = st.Close()
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 50, Y: 50})
	raw := cl.frame(t, protocol.TypeActionError)
	var msg protocol.ActionErrorMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Error != protocol.ErrInternal {
		t.Fatalf("failed load should surface %s, got %s", protocol.ErrInternal, msg.Error)
	}

	// The session still holds its old view: repeating the original request is
	// a no-op that needs no storage and streams nothing.
	cl.send(room, protocol.IntentMsg{Type: protocol.TypeRequestParcels, X: 0, Y: 0})
	cl.barrier(t, room)
	select {
	case raw := <-cl.out:
		t.Fatalf("old view should be intact, got %s", raw)
	default:
	}
	sum := room.Summary(context.Background())
	if sum.ResidentParcels != 25 {
		t.Fatalf("expected 25 resident coordinates, got %d", sum.ResidentParcels)
	}

	// Leaving releases exactly what the session holds; nothing is stranded.
	room.Leave() <- LeaveRequest{SessionID: cl.sessionID, Consented: true}
	deadline := time.Now().Add(2 * time.Second)
	for {
		sum = room.Summary(context.Background())
		if sum.Sessions == 0 && sum.ResidentParcels == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("eviction incomplete after leave: %+v", sum)
		}
		time.Sleep(time.Millisecond)
	}
}
