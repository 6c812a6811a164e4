package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	auditlog "deepshard.gg/internal/persistence/log"
	"deepshard.gg/internal/persistence/sharddb"
	"deepshard.gg/internal/sim/shardmgr"
	"deepshard.gg/internal/sim/tuning"
	"deepshard.gg/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		storeKind  = flag.String("store", "sqlite", "persistence backend: sqlite or memory")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}

	var store sharddb.Store
	switch *storeKind {
	case "sqlite":
		db, err := sharddb.OpenSQLite(filepath.Join(*dataDir, "shards.db"), logger)
		if err != nil {
			logger.Fatalf("open sqlite: %v", err)
		}
		store = db
	case "memory":
		store = sharddb.NewMemory()
	default:
		logger.Fatalf("unknown store backend %q", *storeKind)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("close store: %v", err)
		}
	}()

	audit := auditlog.NewAuditLogger(*dataDir)
	defer audit.Close()

	mgr := shardmgr.New(shardmgr.Options{
		Tuning: tune,
		Store:  store,
		Audit:  audit,
		Logger: logger,
	})

	ctx, cancel := signalContext()
	defer cancel()

	counters := &ws.Counters{}
	wsSrv := ws.NewServer(ws.Options{
		Manager:  mgr,
		Logger:   logger,
		Counters: counters,
	})

	startedAt := time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		shards, players := mgr.Counts()
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"status":     "ok",
			"uptime_s":   int(time.Since(startedAt).Seconds()),
			"players":    players,
			"shards":     shards,
			"heap_bytes": ms.HeapAlloc,
		})
	})
	mux.HandleFunc("/metrics", metricsHandler(mgr, counters))
	if envBool("DS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (DS_ENABLE_PPROF_HTTP=false)")
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Every shard persists its diffs before Shutdown returns.
	mgr.Shutdown()
	logger.Printf("shutdown complete")
}

// metricsHandler writes a minimal Prometheus exposition: manager
// gauges plus the transport's counters.
func metricsHandler(mgr *shardmgr.Manager, ctr *ws.Counters) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		shards, players := mgr.Counts()
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		fmt.Fprintf(rw, "# HELP deepshard_players Connected players across all shards.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_players gauge\n")
		fmt.Fprintf(rw, "deepshard_players %d\n", players)

		fmt.Fprintf(rw, "# HELP deepshard_shards Active shard count.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_shards gauge\n")
		fmt.Fprintf(rw, "deepshard_shards %d\n", shards)

		fmt.Fprintf(rw, "# HELP deepshard_heap_bytes Heap in use.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_heap_bytes gauge\n")
		fmt.Fprintf(rw, "deepshard_heap_bytes %d\n", ms.HeapAlloc)

		fmt.Fprintf(rw, "# HELP deepshard_messages_total Websocket frames by direction.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_messages_total counter\n")
		fmt.Fprintf(rw, "deepshard_messages_total{direction=%q} %d\n", "in", ctr.MessagesIn.Load())
		fmt.Fprintf(rw, "deepshard_messages_total{direction=%q} %d\n", "out", ctr.MessagesOut.Load())

		fmt.Fprintf(rw, "# HELP deepshard_connections_total Socket connects and disconnects.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_connections_total counter\n")
		fmt.Fprintf(rw, "deepshard_connections_total{event=%q} %d\n", "connect", ctr.Connects.Load())
		fmt.Fprintf(rw, "deepshard_connections_total{event=%q} %d\n", "disconnect", ctr.Disconnects.Load())

		fmt.Fprintf(rw, "# HELP deepshard_auth_total Handshake outcomes.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_auth_total counter\n")
		fmt.Fprintf(rw, "deepshard_auth_total{outcome=%q} %d\n", "ok", ctr.AuthOK.Load())
		fmt.Fprintf(rw, "deepshard_auth_total{outcome=%q} %d\n", "fail", ctr.AuthFail.Load())

		fmt.Fprintf(rw, "# HELP deepshard_digs_total Dig intents accepted by the transport.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_digs_total counter\n")
		fmt.Fprintf(rw, "deepshard_digs_total %d\n", ctr.Digs.Load())

		fmt.Fprintf(rw, "# HELP deepshard_errors_total Error events sent to clients.\n")
		fmt.Fprintf(rw, "# TYPE deepshard_errors_total counter\n")
		fmt.Fprintf(rw, "deepshard_errors_total %d\n", ctr.Errors.Load())
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
