package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"infinityworld.gg/internal/protocol"
)

// Callbacks is the typed event surface of an Adapter. All callbacks fire on
// the adapter's reader goroutine; handlers must not block.
type Callbacks struct {
	// OnInit fires after every successful handshake, fresh or resumed.
	OnInit func(protocol.InitPlayerMsg)
	// OnEvents fires after a batch has been folded into the mirror.
	OnEvents func([]protocol.Event)
	// OnActionOk / OnActionError fire for point-to-point intent replies.
	OnActionOk    func(protocol.ActionOkMsg)
	OnActionError func(protocol.ActionErrorMsg)
	// OnDisconnected fires once, when reconnection is abandoned and the
	// mirror has been cleared.
	OnDisconnected func()
}

type Config struct {
	URL      string // ws:// endpoint
	Name     string // player name for fresh joins
	PlayerID int64  // returning player, 0 to create
	MaxQueue int    // requested outbound queue depth, 0 for server default

	// Reconnection. After MaxAttempts consecutive failed dials the adapter
	// gives up, clears the mirror and reports OnDisconnected.
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c *Config) defaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
}

// Adapter owns one logical session: it dials, speaks the handshake, folds
// event batches into its Mirror and transparently resumes after transport
// drops using the server's resume token.
type Adapter struct {
	cfg    Config
	cb     Callbacks
	mirror *Mirror
	logger *log.Logger

	mu          sync.Mutex
	conn        *websocket.Conn
	resumeToken string
	parcelSize  int
	camera      Coord
	cameraSet   bool
}

func New(cfg Config, cb Callbacks, logger *log.Logger) *Adapter {
	cfg.defaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[client] ", log.LstdFlags)
	}
	return &Adapter{
		cfg:        cfg,
		cb:         cb,
		mirror:     NewMirror(),
		logger:     logger,
		parcelSize: 16,
	}
}

func (a *Adapter) Mirror() *Mirror { return a.mirror }

// Run connects and processes the session until ctx is cancelled or
// reconnection is exhausted. Transport drops inside a session are retried
// with the resume token; only repeated dial failures abandon the session.
func (a *Adapter) Run(ctx context.Context) error {
	attempts := 0
	for {
		established, err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil // server closed us cleanly
		}
		if established {
			attempts = 0
		}
		attempts++
		if attempts >= a.cfg.MaxAttempts {
			a.mirror.Clear()
			if a.cb.OnDisconnected != nil {
				a.cb.OnDisconnected()
			}
			return fmt.Errorf("reconnect abandoned after %d attempts: %w", attempts, err)
		}
		delay := a.backoff(attempts)
		a.logger.Printf("connection lost (%v), retrying in %s", err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Adapter) backoff(attempt int) time.Duration {
	d := time.Duration(float64(a.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > a.cfg.MaxBackoff {
		d = a.cfg.MaxBackoff
	}
	return d
}

// session runs one dial-handshake-read cycle. A non-nil error means the
// transport dropped and the session should be resumed; established reports
// whether the handshake completed before the drop.
func (a *Adapter) session(ctx context.Context) (established bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		MaxQueue:        a.cfg.MaxQueue,
	}
	a.mu.Lock()
	if a.resumeToken != "" {
		hello.ResumeToken = a.resumeToken
	} else {
		hello.PlayerID = a.cfg.PlayerID
		hello.Name = a.cfg.Name
	}
	a.mu.Unlock()
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return false, fmt.Errorf("hello: %w", err)
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("handshake read: %w", err)
	}
	var init protocol.InitPlayerMsg
	if err := json.Unmarshal(raw, &init); err != nil || init.Type != protocol.TypeInitPlayer {
		conn.Close()
		if err == nil {
			err = errors.New("unexpected handshake reply " + string(raw))
		}
		return false, err
	}

	a.mu.Lock()
	a.conn = conn
	a.resumeToken = init.ResumeToken
	if init.ParcelSize > 0 {
		a.parcelSize = init.ParcelSize
	}
	camSet, cam := a.cameraSet, a.camera
	a.mu.Unlock()

	if a.cb.OnInit != nil {
		a.cb.OnInit(init)
	}
	// A resumed session already had its view replayed by the server; a view
	// request here is a no-op there and restores the view on a fresh join.
	if camSet {
		a.sendIntent(protocol.RequestParcelsMsg{
			Type: protocol.TypeRequestParcels, X: cam.X, Y: cam.Y,
		})
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return true, a.readLoop(conn)
}

func (a *Adapter) readLoop(conn *websocket.Conn) error {
	defer func() {
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			a.logger.Printf("bad frame: %v", err)
			continue
		}
		switch base.Type {
		case protocol.TypeEvents:
			var batch protocol.EventBatchMsg
			if err := json.Unmarshal(raw, &batch); err != nil {
				a.logger.Printf("bad events frame: %v", err)
				continue
			}
			a.mirror.Apply(batch.Events)
			if a.cb.OnEvents != nil {
				a.cb.OnEvents(batch.Events)
			}
		case protocol.TypeActionOk:
			var msg protocol.ActionOkMsg
			if err := json.Unmarshal(raw, &msg); err == nil && a.cb.OnActionOk != nil {
				a.cb.OnActionOk(msg)
			}
		case protocol.TypeActionError:
			var msg protocol.ActionErrorMsg
			if err := json.Unmarshal(raw, &msg); err == nil && a.cb.OnActionError != nil {
				a.cb.OnActionError(msg)
			}
		default:
			a.logger.Printf("unhandled message type %q", base.Type)
		}
	}
}

// TrackCamera reports the camera's world position in pixels. Requests are
// coalesced to parcel granularity so sub-parcel movement produces no
// traffic; only crossing into a new parcel re-centers the view.
func (a *Adapter) TrackCamera(px, py float64) {
	a.mu.Lock()
	c := Coord{
		X: int(math.Floor(px / float64(a.parcelSize))),
		Y: int(math.Floor(py / float64(a.parcelSize))),
	}
	if a.cameraSet && c == a.camera {
		a.mu.Unlock()
		return
	}
	a.camera = c
	a.cameraSet = true
	a.mu.Unlock()

	a.sendIntent(protocol.RequestParcelsMsg{
		Type: protocol.TypeRequestParcels, X: c.X, Y: c.Y,
	})
}

// RequestParcels re-centers the view on a parcel coordinate directly.
func (a *Adapter) RequestParcels(x, y int) error {
	a.mu.Lock()
	a.camera = Coord{X: x, Y: y}
	a.cameraSet = true
	a.mu.Unlock()
	return a.sendIntent(protocol.RequestParcelsMsg{Type: protocol.TypeRequestParcels, X: x, Y: y})
}

func (a *Adapter) BuyParcel(x, y int) error {
	return a.sendIntent(protocol.BuyParcelMsg{Type: protocol.TypeBuyParcel, X: x, Y: y})
}

func (a *Adapter) PlaceBuild(parcelID, objectID int64, lx, ly int) error {
	return a.sendIntent(protocol.PlaceBuildMsg{
		Type: protocol.TypePlaceBuild, ParcelID: parcelID, ObjectID: objectID, LocalX: lx, LocalY: ly,
	})
}

func (a *Adapter) MoveBuild(placedID int64, lx, ly int) error {
	return a.sendIntent(protocol.MoveBuildMsg{
		Type: protocol.TypeMoveBuild, PlacedObjectID: placedID, LocalX: lx, LocalY: ly,
	})
}

func (a *Adapter) DeleteBuild(placedID int64) error {
	return a.sendIntent(protocol.DeleteBuildMsg{Type: protocol.TypeDeleteBuild, PlacedObjectID: placedID})
}

func (a *Adapter) sendIntent(v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return errors.New("not connected")
	}
	return a.conn.WriteJSON(v)
}
