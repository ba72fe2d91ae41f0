package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"infinityworld.gg/internal/protocol"
)

// fakeServer accepts websocket sessions, answers the handshake and records
// every hello and intent frame it sees.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	hellos  []protocol.HelloMsg
	intents []protocol.BaseMessage
	tokens  int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var hello protocol.HelloMsg
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	fs.mu.Lock()
	fs.hellos = append(fs.hellos, hello)
	fs.tokens++
	token := fs.tokens
	fs.mu.Unlock()

	init := protocol.InitPlayerMsg{
		Type:            protocol.TypeInitPlayer,
		ProtocolVersion: protocol.Version,
		PlayerID:        1,
		Name:            "tester",
		Coins:           500,
		Parcels:         []protocol.Parcel{},
		Inventory:       []int64{},
		ResumeToken:     "tok-" + string(rune('0'+token)),
		ViewRadius:      2,
		ParcelSize:      16,
	}
	if err := conn.WriteJSON(init); err != nil {
		return
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			continue
		}
		fs.mu.Lock()
		fs.intents = append(fs.intents, base)
		fs.mu.Unlock()
	}
}

func (fs *fakeServer) helloCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.hellos)
}

func (fs *fakeServer) intentsOf(typ string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, m := range fs.intents {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startAdapter(t *testing.T, fs *fakeServer, cfg Config) (*Adapter, chan protocol.InitPlayerMsg) {
	t.Helper()
	cfg.URL = fs.url()
	inits := make(chan protocol.InitPlayerMsg, 8)
	a := New(cfg, Callbacks{
		OnInit: func(m protocol.InitPlayerMsg) { inits <- m },
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-inits:
	case <-time.After(2 * time.Second):
		t.Fatalf("handshake did not complete")
	}
	return a, inits
}

func TestAdapter_CameraCoalescing(t *testing.T) {
	fs := newFakeServer(t)
	a, _ := startAdapter(t, fs, Config{Name: "tester"})

	// Three positions inside parcel (0, 0), then one crossing into (1, 0).
	a.TrackCamera(1, 1)
	a.TrackCamera(8, 12)
	a.TrackCamera(15.9, 0)
	a.TrackCamera(16, 0)

	waitFor(t, "view requests", func() bool {
		return fs.intentsOf(protocol.TypeRequestParcels) >= 2
	})
	if got := fs.intentsOf(protocol.TypeRequestParcels); got != 2 {
		t.Fatalf("want 2 requestParcels, got %d", got)
	}
}

func TestAdapter_NegativeCameraFloors(t *testing.T) {
	fs := newFakeServer(t)
	a, _ := startAdapter(t, fs, Config{Name: "tester"})

	// -1px is inside parcel (-1, -1), not (0, 0).
	a.TrackCamera(-1, -1)
	a.TrackCamera(-15, -15)
	waitFor(t, "view request", func() bool {
		return fs.intentsOf(protocol.TypeRequestParcels) >= 1
	})
	if got := fs.intentsOf(protocol.TypeRequestParcels); got != 1 {
		t.Fatalf("want 1 requestParcels, got %d", got)
	}
	a.mu.Lock()
	cam := a.camera
	a.mu.Unlock()
	if cam != (Coord{X: -1, Y: -1}) {
		t.Fatalf("camera parcel = %+v, want (-1, -1)", cam)
	}
}

func TestAdapter_ResumesWithTokenAndReissuesView(t *testing.T) {
	fs := newFakeServer(t)
	a, inits := startAdapter(t, fs, Config{Name: "tester", BaseBackoff: 10 * time.Millisecond})

	a.TrackCamera(40, 40) // parcel (2, 2)
	waitFor(t, "first view request", func() bool {
		return fs.intentsOf(protocol.TypeRequestParcels) >= 1
	})

	// Kill the transport out from under the adapter.
	a.mu.Lock()
	a.conn.Close()
	a.mu.Unlock()

	select {
	case <-inits:
	case <-time.After(2 * time.Second):
		t.Fatalf("adapter did not resume")
	}
	waitFor(t, "second hello", func() bool { return fs.helloCount() == 2 })

	fs.mu.Lock()
	first, second := fs.hellos[0], fs.hellos[1]
	fs.mu.Unlock()
	if first.ResumeToken != "" {
		t.Fatalf("fresh join carried a resume token")
	}
	if second.ResumeToken != "tok-1" {
		t.Fatalf("resume token = %q, want token from first init", second.ResumeToken)
	}
	if second.PlayerID != 0 || second.Name != "" {
		t.Fatalf("resume hello should carry only the token: %+v", second)
	}

	// The view is re-requested at the tracked camera after resume.
	waitFor(t, "view re-request", func() bool {
		return fs.intentsOf(protocol.TypeRequestParcels) >= 2
	})
}

func TestAdapter_AbandonClearsMirrorAndReports(t *testing.T) {
	disconnected := make(chan struct{})
	a := New(Config{
		URL:         "ws://127.0.0.1:1", // nothing listens here
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	}, Callbacks{
		OnDisconnected: func() { close(disconnected) },
	}, nil)
	a.mirror.Apply([]protocol.Event{{
		Kind: protocol.EventParcelAdded, X: 0, Y: 0,
		Parcel: &protocol.Parcel{ID: 1},
	}})

	err := a.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error from exhausted reconnect")
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatalf("OnDisconnected not fired")
	}
	if a.mirror.Len() != 0 {
		t.Fatalf("mirror not cleared on abandon")
	}
}

func TestAdapter_Backoff(t *testing.T) {
	a := New(Config{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}, Callbacks{}, nil)
	if got := a.backoff(1); got != 100*time.Millisecond {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := a.backoff(2); got != 200*time.Millisecond {
		t.Fatalf("backoff(2) = %v", got)
	}
	if got := a.backoff(5); got != 500*time.Millisecond {
		t.Fatalf("backoff(5) = %v, want cap", got)
	}
}
