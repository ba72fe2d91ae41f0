// Command bot is a headless client used for smoke testing and load: it joins
// the world, wanders its camera around the origin and occasionally tries to
// buy the parcel it is looking at.
package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"infinityworld.gg/internal/client"
	"infinityworld.gg/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		player = flag.Int64("player", 0, "returning player id (0 creates a fresh player)")
		wander = flag.Duration("wander", 3*time.Second, "camera move interval")
		buyPct = flag.Int("buy_pct", 10, "chance in percent of trying to buy the viewed parcel")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	var parcelSize atomic.Int32
	parcelSize.Store(16)
	a := client.New(client.Config{
		URL:      *url,
		Name:     *name,
		PlayerID: *player,
	}, client.Callbacks{
		OnInit: func(m protocol.InitPlayerMsg) {
			if m.ParcelSize > 0 {
				parcelSize.Store(int32(m.ParcelSize))
			}
			logger.Printf("joined player=%d name=%s coins=%d parcels=%d",
				m.PlayerID, m.Name, m.Coins, len(m.Parcels))
		},
		OnEvents: func(evs []protocol.Event) {
			for _, ev := range evs {
				if ev.Kind == protocol.EventParcelAdded || ev.Kind == protocol.EventParcelChanged {
					logger.Printf("%s (%d, %d)", ev.Kind, ev.X, ev.Y)
				}
			}
		},
		OnActionOk: func(m protocol.ActionOkMsg) {
			if m.Action == protocol.TypeBuyParcel && m.Parcel != nil {
				logger.Printf("bought (%d, %d), coins=%d", m.Parcel.X, m.Parcel.Y, *m.Coins)
			}
		},
		OnActionError: func(m protocol.ActionErrorMsg) {
			logger.Printf("%s failed: %s %s", m.Action, m.Error, m.Message)
		},
		OnDisconnected: func() {
			logger.Printf("disconnected, giving up")
			cancel()
		},
	}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("run: %v", err)
		}
	}()

	// Random walk over parcel coordinates near the origin.
	x, y := 0, 0
	ticker := time.NewTicker(*wander)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return
		case <-done:
			return
		case <-ticker.C:
			x += rand.Intn(3) - 1
			y += rand.Intn(3) - 1
			size := int(parcelSize.Load())
			a.TrackCamera(float64(x*size), float64(y*size))
			if rand.Intn(100) < *buyPct {
				if err := a.BuyParcel(x, y); err != nil {
					logger.Printf("buy: %v", err)
				}
			}
		}
	}
}
