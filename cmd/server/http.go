package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/persistence/indexdb"
	"vanillaminimaps.ai/internal/sim/hud"
	"vanillaminimaps.ai/internal/sim/minimap/icons"
	"vanillaminimaps.ai/internal/transport/ws"
)

type routes struct {
	svc       *hud.Service
	hub       *ws.Hub
	store     *indexdb.SQLiteStore
	ws        *ws.Server
	icons     *icons.Registry
	snapshots *tileSnapshotter
}

func newMux(rt routes, log logrus.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		st, err := rt.svc.Status(ctx)
		if err != nil {
			http.Error(rw, "hud busy", http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, st, rt.hub.Stats())
		if rt.store != nil {
			writeStoreMetrics(rw, rt.store.Stats())
		}
	})

	enableAdminHTTP := envBool("VMM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("VMM_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/status", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			st, err := rt.svc.Status(ctx)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				Status hud.Status  `json:"status"`
				Hub    ws.HubStats `json:"hub"`
				Icons  []string    `json:"icons"`
			}{
				Status: st,
				Hub:    rt.hub.Stats(),
				Icons:  rt.icons.Keys(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/tiles/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rt.snapshots.write()
			rw.WriteHeader(http.StatusAccepted)
		})
	} else {
		log.Info("admin endpoints disabled (VMM_ENABLE_ADMIN_HTTP=false)")
	}

	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	return mux
}

func writeMetrics(rw http.ResponseWriter, st hud.Status, hs ws.HubStats) {
	enabled := 0
	for _, s := range st.Sessions {
		if s.Enabled {
			enabled++
		}
	}

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP minimaps_tick Current hud tick.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_tick counter\n")
	fmt.Fprintf(rw, "minimaps_tick %d\n", st.Tick)

	fmt.Fprintf(rw, "# HELP minimaps_sessions Connected players.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_sessions gauge\n")
	fmt.Fprintf(rw, "minimaps_sessions{state=%q} %d\n", "enabled", enabled)
	fmt.Fprintf(rw, "minimaps_sessions{state=%q} %d\n", "disabled", len(st.Sessions)-enabled)

	fmt.Fprintf(rw, "# HELP minimaps_tiles Live tiles in the shared cache.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_tiles gauge\n")
	fmt.Fprintf(rw, "minimaps_tiles %d\n", st.Tiles)

	fmt.Fprintf(rw, "# HELP minimaps_tile_cache_total Tile cache lookups by outcome.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_tile_cache_total counter\n")
	fmt.Fprintf(rw, "minimaps_tile_cache_total{result=%q} %d\n", "hit", st.Cache.Hits)
	fmt.Fprintf(rw, "minimaps_tile_cache_total{result=%q} %d\n", "cold_hit", st.Cache.ColdHits)
	fmt.Fprintf(rw, "minimaps_tile_cache_total{result=%q} %d\n", "render", st.Cache.Renders)
	fmt.Fprintf(rw, "minimaps_tile_cache_total{result=%q} %d\n", "failure", st.Cache.Failures)
	fmt.Fprintf(rw, "minimaps_tile_cache_total{result=%q} %d\n", "eviction", st.Cache.Evictions)

	fmt.Fprintf(rw, "# HELP minimaps_ws_connections Open websocket connections.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_ws_connections gauge\n")
	fmt.Fprintf(rw, "minimaps_ws_connections %d\n", hs.Connections)

	fmt.Fprintf(rw, "# HELP minimaps_ws_dropped_updates_total Layer updates dropped on full client queues.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_ws_dropped_updates_total counter\n")
	fmt.Fprintf(rw, "minimaps_ws_dropped_updates_total %d\n", hs.DroppedUpdates)

	fmt.Fprintf(rw, "# HELP minimaps_ws_kicked_total Clients disconnected for falling behind.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_ws_kicked_total counter\n")
	fmt.Fprintf(rw, "minimaps_ws_kicked_total %d\n", hs.Kicked)
}

func writeStoreMetrics(rw http.ResponseWriter, s indexdb.Stats) {
	fmt.Fprintf(rw, "# HELP minimaps_index_queue_depth Current player store queue depth.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "minimaps_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP minimaps_index_queue_capacity Player store queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "minimaps_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP minimaps_index_dropped_total Records dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE minimaps_index_dropped_total counter\n")
	fmt.Fprintf(rw, "minimaps_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
	fmt.Fprintf(rw, "minimaps_index_dropped_total{kind=%q} %d\n", "tile_snapshot", s.DropSnapshotTotal)
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
