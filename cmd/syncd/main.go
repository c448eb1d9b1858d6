package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/swarmguard/sync-engine/internal/engine"
	"github.com/swarmguard/sync-engine/internal/gossip"
	"github.com/swarmguard/sync-engine/internal/logging"
	"github.com/swarmguard/sync-engine/internal/otelinit"
	"github.com/swarmguard/sync-engine/internal/peers"
	"github.com/swarmguard/sync-engine/internal/transport"
)

const serviceName = "syncd"

func main() {
	logging.Init(serviceName)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, serviceName)
	shutdownMetrics := otelinit.InitMetrics(ctx, serviceName)

	nodeID := flag.String("node", getEnv("SYNCD_NODE_ID", fmt.Sprintf("node-%d", os.Getpid())), "node identifier")
	natsURL := flag.String("nats", getEnv("SYNCD_NATS_URL", "nats://127.0.0.1:4222"), "NATS server URL")
	httpAddr := flag.String("http", getEnv("SYNCD_HTTP_ADDR", ":8080"), "HTTP listen address")
	peersFile := flag.String("peers-file", getEnv("SYNCD_PEERS_FILE", ""), "JSON seed membership file, hot-reloaded")
	peersDB := flag.String("peers-db", getEnv("SYNCD_PEERS_DB", "peers.db"), "peer registry database path")
	flag.Parse()

	cfg := engine.Config{
		NodeID: *nodeID,
		Gossip: gossip.Config{
			Fanout:           getEnvInt("SYNCD_GOSSIP_FANOUT", 3),
			Interval:         getEnvDurationMS("SYNCD_GOSSIP_INTERVAL_MS", time.Second),
			MaxTransmissions: getEnvInt("SYNCD_GOSSIP_TTL", 3),
		},
		HeartbeatTimeout:   getEnvDurationMS("SYNCD_HEARTBEAT_TIMEOUT_MS", 5*time.Second),
		CompactionSchedule: getEnv("SYNCD_COMPACTION_SCHEDULE", ""),
		QuiescenceWindow:   getEnvDurationMS("SYNCD_QUIESCENCE_WINDOW_MS", time.Minute),
	}

	carrier, err := transport.Dial(*natsURL, serviceName+"-"+*nodeID)
	if err != nil {
		slog.Error("transport dial failed", "url", *natsURL, "error", err)
		os.Exit(1)
	}
	defer carrier.Close()

	eng := engine.New(cfg, carrier)

	registry, err := peers.Open(*peersDB)
	if err != nil {
		slog.Error("peer registry open failed", "path", *peersDB, "error", err)
		os.Exit(1)
	}
	defer registry.Close()
	eng.SetPeers(registry.IDs())

	adoptPeers := func(list []peers.Peer) {
		for _, p := range list {
			if err := registry.Put(p); err != nil {
				slog.Warn("peer rejected", "peer_id", p.ID, "error", err)
			}
		}
		eng.SetPeers(registry.IDs())
		slog.Info("membership updated", "peers", len(registry.IDs()))
	}
	if *peersFile != "" {
		seed, err := peers.LoadFile(*peersFile)
		if err != nil {
			slog.Error("peers file load failed", "path", *peersFile, "error", err)
			os.Exit(1)
		}
		adoptPeers(seed)
		go func() {
			if err := peers.Watch(ctx, *peersFile, adoptPeers); err != nil && ctx.Err() == nil {
				slog.Error("peers watcher exited", "error", err)
			}
		}()
	}

	if err := carrier.Subscribe(*nodeID, func(_ context.Context, msg gossip.Message) {
		if _, err := eng.Receive(msg); err != nil {
			slog.Debug("gossip receive rejected", "origin", msg.Origin, "error", err)
		}
	}); err != nil {
		slog.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "node_id": *nodeID})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, eng.Stats())
	})
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			NodeID string `json:"node_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "node_id required"})
			return
		}
		eng.Heartbeat(req.NodeID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
	})

	// Full-state exchange for repairing long splits: an operator (or a
	// peer's script) fetches one side's snapshot and posts it to the other.
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, eng.Snapshot())
	})
	mux.HandleFunc("/heal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var snap gossip.StateSnapshot
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 32<<20)).Decode(&snap); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid snapshot"})
			return
		}
		adopted, err := eng.Heal(snap)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"adopted": adopted})
	})

	httpSrv := &http.Server{
		Addr:         *httpAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("syncd started", "node_id", *nodeID, "http_addr", *httpAddr, "nats_url", *natsURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	otelinit.Flush(shutdownCtx, shutdownTrace)
	_ = shutdownMetrics(shutdownCtx)

	slog.Info("shutdown complete")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("bad integer env value ignored", "key", key, "value", v)
	}
	return def
}

func getEnvDurationMS(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
		slog.Warn("bad duration env value ignored", "key", key, "value", v)
	}
	return def
}
