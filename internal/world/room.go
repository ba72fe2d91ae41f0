// Package world holds the authoritative in-memory mirror of one world
// instance. A Room is a single-threaded actor: every join, leave and intent
// funnels through one goroutine, so the mirror never needs a lock. The
// relational store stays the source of truth; the mirror only ever holds
// coordinates at least one session is currently viewing.
package world

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"infinityworld.gg/internal/economy"
	"infinityworld.gg/internal/fault"
	"infinityworld.gg/internal/protocol"
	"infinityworld.gg/internal/store"
	"infinityworld.gg/internal/tuning"
)

// Room lifecycle states.
const (
	StateCreated int32 = iota
	StateActive
	StateDisposing
	StateDisposed
)

type JoinRequest struct {
	PlayerID int64  // 0 creates a fresh player
	Name     string // only used when creating
	Out      chan []byte
	Resp     chan JoinResponse
}

// AttachRequest resumes a session within its grace window. The transport has
// already verified the token signature; the room still compares the raw
// token against the session's current one, so rotated-out tokens stop
// working immediately.
type AttachRequest struct {
	PlayerID    int64
	SessionID   string
	ResumeToken string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	SessionID string
	Init      protocol.InitPlayerMsg
	Err       error
}

type LeaveRequest struct {
	SessionID string
	// Consented leaves tear the session down immediately; unconsented
	// ones arm the grace window first.
	Consented bool
}

type IntentEnvelope struct {
	SessionID string
	Msg       protocol.IntentMsg
}

// parcelEntry is the resident state for one coordinate. parcel is nil for
// virtual coordinates: observed but never purchased, no store row.
type parcelEntry struct {
	parcel  *store.Parcel
	objects map[int64]store.PlacedObject
}

// Room is the authoritative actor for one world instance. All fields below
// the channels are owned by the Run goroutine.
type Room struct {
	cfg    tuning.Tuning
	st     *store.Store
	econ   *economy.Engine
	logger *log.Logger

	state atomic.Int32

	// issueResume mints a fresh resume token for (playerID, sessionID).
	issueResume func(playerID int64, sessionID string) (string, error)

	inbox    chan IntentEnvelope
	join     chan JoinRequest
	attach   chan AttachRequest
	leave    chan LeaveRequest
	graceUp  chan string
	external chan economy.BuyResult
	stateReq chan chan StateSummary
	stop     chan struct{}

	sessions map[string]*session
	byPlayer map[int64]*session
	views    *ViewManager
	parcels  map[Coord]*parcelEntry
	byParcel map[int64]Coord // parcel row id -> coordinate
	objects  map[int64]int64 // placed object id -> parcel row id
	catalog  map[int64]store.CatalogObject

	// Counters readable from any goroutine.
	statSessions  atomic.Int64
	statResident  atomic.Int64
	statObjects   atomic.Int64
	statPurchases atomic.Int64
	statEvictions atomic.Int64
	statDropped   atomic.Int64
}

// StateSummary is a point-in-time view of the room for the admin surface.
type StateSummary struct {
	State           int32             `json:"state"`
	Sessions        int               `json:"sessions"`
	ResidentParcels int               `json:"residentParcels"`
	ResidentObjects int               `json:"residentObjects"`
	Parcels         []protocol.Parcel `json:"parcels"`
}

func NewRoom(cfg tuning.Tuning, st *store.Store, econ *economy.Engine, issueResume func(int64, string) (string, error), logger *log.Logger) *Room {
	if logger == nil {
		logger = log.Default()
	}
	r := &Room{
		cfg:         cfg,
		st:          st,
		econ:        econ,
		logger:      logger,
		issueResume: issueResume,
		inbox:       make(chan IntentEnvelope, 1024),
		join:        make(chan JoinRequest, 64),
		attach:      make(chan AttachRequest, 64),
		leave:       make(chan LeaveRequest, 64),
		graceUp:     make(chan string, 64),
		external:    make(chan economy.BuyResult, 64),
		stateReq:    make(chan chan StateSummary, 8),
		stop:        make(chan struct{}),
		sessions:    map[string]*session{},
		byPlayer:    map[int64]*session{},
		views:       NewViewManager(cfg.ViewRadius),
		parcels:     map[Coord]*parcelEntry{},
		byParcel:    map[int64]Coord{},
		objects:     map[int64]int64{},
		catalog:     map[int64]store.CatalogObject{},
	}
	r.state.Store(StateCreated)
	return r
}

func (r *Room) Inbox() chan<- IntentEnvelope { return r.inbox }
func (r *Room) Join() chan<- JoinRequest     { return r.join }
func (r *Room) Attach() chan<- AttachRequest { return r.attach }
func (r *Room) Leave() chan<- LeaveRequest   { return r.leave }
func (r *Room) State() int32                 { return r.state.Load() }

// Run preloads the catalog, moves the room to Active and processes requests
// one at a time until the context ends or Dispose is called.
func (r *Room) Run(ctx context.Context) error {
	objs, err := r.st.Catalog.List(ctx)
	if err != nil {
		return err
	}
	for _, o := range objs {
		r.catalog[o.ID] = o
	}
	r.state.Store(StateActive)
	r.logger.Printf("room active, %d catalog objects", len(r.catalog))

	for {
		select {
		case <-ctx.Done():
			r.dispose()
			return ctx.Err()
		case <-r.stop:
			r.dispose()
			return nil
		case req := <-r.join:
			r.handleJoin(ctx, req)
		case req := <-r.attach:
			r.handleAttach(ctx, req)
		case req := <-r.leave:
			r.handleLeave(req)
		case sid := <-r.graceUp:
			r.handleGraceExpired(sid)
		case res := <-r.external:
			r.mirrorPurchase(res)
		case env := <-r.inbox:
			r.handleIntent(ctx, env)
		case resp := <-r.stateReq:
			resp <- r.summarize()
		}
	}
}

// NotifyPurchase folds a purchase committed outside the room (the REST
// surface) into the mirror so viewers see it without waiting for their next
// area request. Best effort and non-blocking.
func (r *Room) NotifyPurchase(res economy.BuyResult) {
	select {
	case r.external <- res:
	case <-r.stop:
	default:
	}
}

// Dispose asks the room to tear down. Safe to call more than once.
func (r *Room) Dispose() {
	if r.state.CompareAndSwap(StateActive, StateDisposing) ||
		r.state.CompareAndSwap(StateCreated, StateDisposing) {
		close(r.stop)
	}
}

func (r *Room) dispose() {
	r.state.Store(StateDisposing)
	for _, s := range r.sessions {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
		if s.out != nil {
			close(s.out)
		}
	}
	r.sessions = map[string]*session{}
	r.byPlayer = map[int64]*session{}
	r.parcels = map[Coord]*parcelEntry{}
	r.byParcel = map[int64]Coord{}
	r.objects = map[int64]int64{}
	r.statSessions.Store(0)
	r.statResident.Store(0)
	r.statObjects.Store(0)
	r.state.Store(StateDisposed)
	r.logger.Printf("room disposed")
}

// Summary answers an admin state query. Blocks until the room goroutine
// services it; returns a zero summary once the room is disposed.
func (r *Room) Summary(ctx context.Context) StateSummary {
	resp := make(chan StateSummary, 1)
	select {
	case r.stateReq <- resp:
	case <-r.stop:
		return StateSummary{State: r.state.Load()}
	case <-ctx.Done():
		return StateSummary{State: r.state.Load()}
	}
	select {
	case s := <-resp:
		return s
	case <-ctx.Done():
		return StateSummary{State: r.state.Load()}
	}
}

func (r *Room) summarize() StateSummary {
	s := StateSummary{
		State:           r.state.Load(),
		Sessions:        len(r.sessions),
		ResidentParcels: len(r.parcels),
	}
	for _, e := range r.parcels {
		s.ResidentObjects += len(e.objects)
		if e.parcel != nil {
			s.Parcels = append(s.Parcels, wireParcel(*e.parcel))
		}
	}
	return s
}

// Metrics exposes the counters for the /metrics endpoint.
type Metrics struct {
	Sessions        int64
	ResidentParcels int64
	ResidentObjects int64
	Purchases       int64
	Evictions       int64
	DroppedFrames   int64
}

func (r *Room) Metrics() Metrics {
	return Metrics{
		Sessions:        r.statSessions.Load(),
		ResidentParcels: r.statResident.Load(),
		ResidentObjects: r.statObjects.Load(),
		Purchases:       r.statPurchases.Load(),
		Evictions:       r.statEvictions.Load(),
		DroppedFrames:   r.statDropped.Load(),
	}
}

func (r *Room) handleJoin(ctx context.Context, req JoinRequest) {
	player, err := r.resolvePlayer(ctx, req)
	if err != nil {
		reply(req.Resp, JoinResponse{Err: err})
		return
	}

	// A player rejoining while a previous session lingers in grace takes
	// that session over rather than creating a second membership.
	if prev, ok := r.byPlayer[player.ID]; ok {
		r.reattach(ctx, prev, req.Out, req.Resp, player)
		return
	}

	s := &session{
		id:       uuid.NewString(),
		playerID: player.ID,
		name:     player.Name,
		out:      req.Out,
		view:     ViewSet{},
	}
	token, err := r.issueResume(player.ID, s.id)
	if err != nil {
		reply(req.Resp, JoinResponse{Err: fault.New(fault.Internal, "issue resume token: %v", err)})
		return
	}
	s.resumeToken = token
	r.sessions[s.id] = s
	r.byPlayer[player.ID] = s
	r.statSessions.Store(int64(len(r.sessions)))

	init, err := r.initPlayerMsg(ctx, player, token)
	if err != nil {
		delete(r.sessions, s.id)
		delete(r.byPlayer, player.ID)
		r.statSessions.Store(int64(len(r.sessions)))
		reply(req.Resp, JoinResponse{Err: err})
		return
	}
	r.logger.Printf("player %d joined as session %s", player.ID, s.id)
	reply(req.Resp, JoinResponse{SessionID: s.id, Init: init})
}

func (r *Room) resolvePlayer(ctx context.Context, req JoinRequest) (store.Player, error) {
	if req.PlayerID != 0 {
		return r.st.Players.GetByID(ctx, req.PlayerID)
	}
	name := req.Name
	if name == "" {
		name = "player-" + uuid.NewString()[:8]
	}
	return r.st.Players.Create(ctx, name, r.cfg.StartingCoins)
}

func (r *Room) handleAttach(ctx context.Context, req AttachRequest) {
	s, ok := r.sessions[req.SessionID]
	if !ok || s.playerID != req.PlayerID || s.resumeToken != req.ResumeToken {
		reply(req.Resp, JoinResponse{Err: fault.New(fault.Unauthenticated, "resume token not recognized")})
		return
	}
	player, err := r.st.Players.GetByID(ctx, s.playerID)
	if err != nil {
		reply(req.Resp, JoinResponse{Err: err})
		return
	}
	r.reattach(ctx, s, req.Out, req.Resp, player)
}

func (r *Room) reattach(ctx context.Context, s *session, out chan []byte, resp chan JoinResponse, player store.Player) {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.out != nil && s.out != out {
		close(s.out)
	}
	s.out = out

	token, err := r.issueResume(s.playerID, s.id)
	if err != nil {
		reply(resp, JoinResponse{Err: fault.New(fault.Internal, "issue resume token: %v", err)})
		return
	}
	s.resumeToken = token

	init, err := r.initPlayerMsg(ctx, player, token)
	if err != nil {
		reply(resp, JoinResponse{Err: err})
		return
	}
	r.logger.Printf("player %d reattached session %s", s.playerID, s.id)
	reply(resp, JoinResponse{SessionID: s.id, Init: init})

	// Replay the resident view so the client can rebuild its mirror.
	for c := range s.view {
		if e, ok := r.parcels[c]; ok && e.parcel != nil {
			s.queueEvent(parcelAddedEvent(c, e))
		}
	}
	r.flush(s)
}

func (r *Room) handleLeave(req LeaveRequest) {
	s, ok := r.sessions[req.SessionID]
	if !ok {
		return
	}
	if req.Consented {
		r.teardown(s)
		return
	}
	// Unconsented: keep membership and view, detach the transport and arm
	// the grace window.
	s.out = nil
	s.pending = nil
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	sid := s.id
	s.graceTimer = time.AfterFunc(r.cfg.GraceWindow(), func() {
		select {
		case r.graceUp <- sid:
		case <-r.stop:
		}
	})
	r.logger.Printf("session %s detached, grace window %s", sid, r.cfg.GraceWindow())
}

func (r *Room) handleGraceExpired(sid string) {
	s, ok := r.sessions[sid]
	if !ok || s.attached() {
		// Resumed (or already gone) before the timer drained.
		return
	}
	r.logger.Printf("session %s grace window elapsed", sid)
	r.teardown(s)
}

// teardown removes a session's membership and runs the eviction pass for the
// coordinates it was the last observer of.
func (r *Room) teardown(s *session) {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	delete(r.sessions, s.id)
	delete(r.byPlayer, s.playerID)
	r.statSessions.Store(int64(len(r.sessions)))

	for _, c := range r.views.DropView(s.view) {
		r.evict(c)
	}
	s.view = ViewSet{}
}

// evict drops a coordinate from the mirror. Cache-only: the store rows are
// untouched.
func (r *Room) evict(c Coord) {
	e, ok := r.parcels[c]
	if !ok {
		return
	}
	for id := range e.objects {
		delete(r.objects, id)
	}
	if e.parcel != nil {
		delete(r.byParcel, e.parcel.ID)
	}
	delete(r.parcels, c)
	r.statEvictions.Add(1)
	r.statResident.Store(int64(len(r.parcels)))
	r.recountObjects()
}

func (r *Room) recountObjects() {
	r.statObjects.Store(int64(len(r.objects)))
}

func (r *Room) initPlayerMsg(ctx context.Context, player store.Player, token string) (protocol.InitPlayerMsg, error) {
	owned, err := r.st.Parcels.ListByOwner(ctx, player.ID)
	if err != nil {
		return protocol.InitPlayerMsg{}, err
	}
	inv, err := r.st.Inventory.ListByPlayer(ctx, player.ID)
	if err != nil {
		return protocol.InitPlayerMsg{}, err
	}
	parcels := make([]protocol.Parcel, 0, len(owned))
	for _, p := range owned {
		parcels = append(parcels, wireParcel(p))
	}
	if inv == nil {
		inv = []int64{}
	}
	return protocol.InitPlayerMsg{
		Type:            protocol.TypeInitPlayer,
		ProtocolVersion: protocol.Version,
		PlayerID:        player.ID,
		Name:            player.Name,
		Coins:           player.Coins,
		Parcels:         parcels,
		Inventory:       inv,
		ResumeToken:     token,
		ViewRadius:      r.cfg.ViewRadius,
		ParcelSize:      r.cfg.ParcelSize,
	}, nil
}

func wireParcel(p store.Parcel) protocol.Parcel {
	return protocol.Parcel{ID: p.ID, X: p.X, Y: p.Y, OwnerID: p.OwnerID, System: p.System}
}

func wireObject(o store.PlacedObject) protocol.PlacedObject {
	return protocol.PlacedObject{ID: o.ID, ParcelID: o.ParcelID, ObjectID: o.ObjectID, LocalX: o.LocalX, LocalY: o.LocalY}
}

func parcelAddedEvent(c Coord, e *parcelEntry) protocol.Event {
	ev := protocol.Event{
		Kind:   protocol.EventParcelAdded,
		X:      c.X,
		Y:      c.Y,
		Parcel: &protocol.Parcel{},
	}
	*ev.Parcel = wireParcel(*e.parcel)
	for _, o := range e.objects {
		ev.Objects = append(ev.Objects, wireObject(o))
	}
	return ev
}

func reply(ch chan JoinResponse, resp JoinResponse) {
	if ch != nil {
		ch <- resp
	}
}
