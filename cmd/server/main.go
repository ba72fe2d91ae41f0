package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"infinityworld.gg/internal/auth"
	"infinityworld.gg/internal/catalog"
	"infinityworld.gg/internal/config"
	"infinityworld.gg/internal/economy"
	"infinityworld.gg/internal/persistence/snapshot"
	"infinityworld.gg/internal/queue"
	"infinityworld.gg/internal/store"
	"infinityworld.gg/internal/transport/rest"
	"infinityworld.gg/internal/transport/ws"
	"infinityworld.gg/internal/tuning"
	"infinityworld.gg/internal/world"
)

const (
	playerTokenTTL = 24 * time.Hour
	resumeTokenTTL = time.Hour
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		catalogPath = flag.String("catalog", "", "path to catalog.yaml (default: <configs>/catalog.yaml)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg := config.Load()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	dsn := cfg.DBDSN
	if cfg.DBDriver == "sqlite" && dsn == "" {
		dsn = filepath.Join(*dataDir, "world.db")
	}
	st, err := store.Open(cfg.DBDriver, dsn)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	cp := strings.TrimSpace(*catalogPath)
	if cp == "" {
		cp = filepath.Join(*configDir, "catalog.yaml")
	}
	if seed, digest, err := catalog.Load(cp); err != nil {
		if os.IsNotExist(err) {
			logger.Printf("catalog not found (%s); shop will be empty", cp)
		} else {
			logger.Fatalf("load catalog: %v", err)
		}
	} else {
		created, err := catalog.Sync(ctx, st, seed, logger)
		if err != nil {
			logger.Fatalf("sync catalog: %v", err)
		}
		logger.Printf("catalog synced digest=%s created=%d", digest[:12], created)
	}

	// The origin parcel is reserved so the spawn plaza can never be bought.
	if err := st.Parcels.SeedSystem(ctx, 0, 0); err != nil {
		logger.Fatalf("seed system parcels: %v", err)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	pub := queue.NewEconomyPublisher(cfg.AMQPURL, logger)
	econ := economy.New(st, tune.ParcelPrice, tune.ProximityD, pub, logger)
	tokens := auth.New(cfg.JWTSecret, playerTokenTTL, resumeTokenTTL)

	room := world.NewRoom(tune, st, econ, tokens.IssueResume, logger)
	go func() {
		if err := room.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("room stopped: %v", err)
		}
	}()

	wsSrv, err := ws.NewServer(room, tokens, tune.ClientQueueMax, logger)
	if err != nil {
		logger.Fatalf("ws server: %v", err)
	}
	restSrv := rest.NewServer(st, econ, room, tokens, rdb, tune.RateLimits, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := room.Metrics()

		fmt.Fprintf(rw, "# HELP infinityworld_sessions Current number of sessions, grace included.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_sessions gauge\n")
		fmt.Fprintf(rw, "infinityworld_sessions %d\n", m.Sessions)

		fmt.Fprintf(rw, "# HELP infinityworld_resident_parcels Parcels held resident by at least one view.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_resident_parcels gauge\n")
		fmt.Fprintf(rw, "infinityworld_resident_parcels %d\n", m.ResidentParcels)

		fmt.Fprintf(rw, "# HELP infinityworld_resident_objects Placed objects on resident parcels.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_resident_objects gauge\n")
		fmt.Fprintf(rw, "infinityworld_resident_objects %d\n", m.ResidentObjects)

		fmt.Fprintf(rw, "# HELP infinityworld_purchases_total Parcel purchases since start.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_purchases_total counter\n")
		fmt.Fprintf(rw, "infinityworld_purchases_total %d\n", m.Purchases)

		fmt.Fprintf(rw, "# HELP infinityworld_evictions_total Parcels evicted from the resident cache.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_evictions_total counter\n")
		fmt.Fprintf(rw, "infinityworld_evictions_total %d\n", m.Evictions)

		fmt.Fprintf(rw, "# HELP infinityworld_dropped_frames_total Outbound frames dropped on full client queues.\n")
		fmt.Fprintf(rw, "# TYPE infinityworld_dropped_frames_total counter\n")
		fmt.Fprintf(rw, "infinityworld_dropped_frames_total %d\n", m.DroppedFrames)
	})

	// Local-only admin and token endpoints.
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(room.Summary(ctx2))
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel2()
		snap, err := snapshot.Export(ctx2, st)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		path := filepath.Join(*dataDir, "snapshots",
			fmt.Sprintf("%d.snap.zst", time.Now().UTC().Unix()))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": path})
	})
	mux.HandleFunc("/admin/v1/token", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var req struct {
			PlayerID int64 `json:"playerId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlayerID == 0 {
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		tok, err := tokens.IssuePlayer(req.PlayerID)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"token": tok})
	})

	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.Handle("/v1/", restSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		room.Dispose()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("env=%s db=%s listening on %s", cfg.Env, cfg.DBDriver, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
