package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"vanillaminimaps.ai/internal/sim/hud"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
	"vanillaminimaps.ai/internal/transport/ws"
)

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"10.0.0.2:5000":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("VMM_TEST_BOOL", "true")
	if !envBool("VMM_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("VMM_TEST_BOOL", "nope")
	if envBool("VMM_TEST_BOOL", false) {
		t.Fatalf("expected default on parse error")
	}
	if !envBool("VMM_TEST_BOOL_UNSET", true) {
		t.Fatalf("expected default when unset")
	}
}

func TestDefaultEnableAdminHTTP(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	if defaultEnableAdminHTTP() {
		t.Fatalf("admin http should be off in production")
	}
	t.Setenv("DEPLOY_ENV", "")
	if !defaultEnableAdminHTTP() {
		t.Fatalf("admin http should be on by default")
	}
}

func TestWriteMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	st := hud.Status{
		Tick:  42,
		Tiles: 4,
		Cache: tilecache.Stats{Hits: 7, Renders: 4},
		Sessions: []hud.SessionStatus{
			{Enabled: true},
			{Enabled: false},
			{Enabled: true},
		},
	}
	writeMetrics(rec, st, ws.HubStats{Connections: 3, DroppedUpdates: 9})
	body := rec.Body.String()
	for _, want := range []string{
		"minimaps_tick 42\n",
		`minimaps_sessions{state="enabled"} 2`,
		`minimaps_sessions{state="disabled"} 1`,
		"minimaps_tiles 4\n",
		`minimaps_tile_cache_total{result="hit"} 7`,
		"minimaps_ws_connections 3\n",
		"minimaps_ws_dropped_updates_total 9\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}
