package hud

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"

	"vanillaminimaps.ai/internal/sim/minimap"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

type fakeSender struct {
	mu              sync.Mutex
	updates         int
	minimapSpawns   int
	minimapDespawns int
	layerSpawns     int
	layerDespawns   int
}

func (f *fakeSender) SpawnMinimap(*minimap.Minimap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minimapSpawns++
	return nil
}

func (f *fakeSender) DespawnMinimap(*minimap.Minimap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minimapDespawns++
	return nil
}

func (f *fakeSender) SpawnLayer(uuid.UUID, *minimap.Layer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layerSpawns++
	return nil
}

func (f *fakeSender) DespawnLayer(uuid.UUID, *minimap.Layer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layerDespawns++
	return nil
}

func (f *fakeSender) UpdateLayer(uuid.UUID, *minimap.Layer, int, int, int, int, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeSender) counts() (updates, spawns, despawns int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates, f.minimapSpawns, f.minimapDespawns
}

type memStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]PlayerState
}

func (s *memStore) LoadPlayer(_ context.Context, id uuid.UUID) (PlayerState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	return st, ok, nil
}

func (s *memStore) SavePlayer(_ context.Context, st PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Player] = st
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memSink) WriteEvent(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type icons map[string]*minimap.Icon

func (i icons) Icon(key string) *minimap.Icon { return i[key] }
func (i icons) IsSpecial(key string) bool     { return key == minimap.IconPlayer || key == minimap.IconDeath }

func dot(key string) *minimap.Icon {
	return &minimap.Icon{Key: key, Width: 2, Height: 2, Pixels: []byte{1, 1, 1, 1}}
}

type harness struct {
	svc    *Service
	sender *fakeSender
	cache  *tilecache.Cache
	store  *memStore
	sink   *memSink
}

func newHarness(t *testing.T, store *memStore) *harness {
	t.Helper()
	return newHarnessWithRenderer(t, store, tilecache.RendererFunc(func(tilecache.WorldID, int, int) ([]byte, error) {
		return make([]byte, tilecache.TileLen), nil
	}))
}

func newHarnessWithRenderer(t *testing.T, store *memStore, r tilecache.Renderer) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	cache, err := tilecache.New(r, tilecache.Config{}, logger)
	if err != nil {
		t.Fatalf("tilecache.New: %v", err)
	}
	t.Cleanup(cache.Close)
	if store == nil {
		store = &memStore{states: map[uuid.UUID]PlayerState{}}
	}
	h := &harness{sender: &fakeSender{}, cache: cache, store: store, sink: &memSink{}}
	env := minimap.Env{
		Sender: h.sender,
		Icons: icons{
			minimap.IconPlayer: dot(minimap.IconPlayer),
			minimap.IconDeath:  dot(minimap.IconDeath),
			"flag":             dot("flag"),
		},
		Settings: minimap.Settings{
			Scale:         1,
			Shape:         geometry.ShapeCircle,
			CustomMarkers: minimap.MarkerSettings{Limit: 3},
		},
		Log: logger,
	}
	h.svc = New(Config{TickRateHz: 1000, EnabledByDefault: true}, env, cache, store, h.sink)
	return h
}

func TestJoin_EnabledByDefault(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()
	resp := make(chan JoinResponse, 1)
	h.svc.StepOnce([]JoinRequest{{Player: id, Name: "steve", World: "overworld", X: 3, Z: 4, Resp: resp}}, nil, nil, nil)

	if r := <-resp; !r.Enabled || r.Tick != 1 {
		t.Fatalf("join response %+v", r)
	}
	updates, spawns, _ := h.sender.counts()
	if spawns != 1 || updates < 2 {
		t.Fatalf("spawns=%d updates=%d", spawns, updates)
	}
	if h.cache.Viewers() != 1 || h.cache.Len() != 4 {
		t.Fatalf("viewers=%d tiles=%d", h.cache.Viewers(), h.cache.Len())
	}
}

func TestStep_RefreshesIdleSessions(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	before, _, _ := h.sender.counts()

	h.svc.StepOnce(nil, nil, nil, nil)
	if n, _, _ := h.sender.counts(); n <= before {
		t.Fatalf("idle tick sent no updates")
	}
	h.svc.StepOnce(nil, []MoveRequest{{Player: id, X: 300, Z: 0}}, nil, nil)
	if h.cache.Contains(h.cache.KeyOf("overworld", 0, 0)) {
		t.Fatalf("tiles out of view should be swept")
	}
	if !h.cache.Contains(h.cache.KeyOf("overworld", 256, 0)) {
		t.Fatalf("tile under the player missing after move")
	}
}

func TestStep_RetriesFailedTileWhileIdle(t *testing.T) {
	var calls atomic.Int64
	h := newHarnessWithRenderer(t, nil, tilecache.RendererFunc(func(tilecache.WorldID, int, int) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("chunk not loaded")
		}
		return make([]byte, tilecache.TileLen), nil
	}))
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld", X: 0.5, Z: 0.5}}, nil, nil, nil)
	key := h.cache.KeyOf("overworld", 0, 0)
	if calls.Load() == 0 {
		t.Fatalf("join did not render")
	}
	before, _, _ := h.sender.counts()

	for i := 0; i < 3; i++ {
		h.svc.StepOnce(nil, nil, nil, nil)
	}
	if calls.Load() < 2 {
		t.Fatalf("failed tile not retried: render calls=%d", calls.Load())
	}
	if !h.cache.Contains(key) || h.cache.Referenced(key) != 1 {
		t.Fatalf("retried tile cached=%v refs=%d", h.cache.Contains(key), h.cache.Referenced(key))
	}
	if n, _, _ := h.sender.counts(); n <= before {
		t.Fatalf("no repaint after the retry")
	}
}

func TestMove_WorldChangeRespawns(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	h.svc.StepOnce(nil, []MoveRequest{{Player: id, World: "nether", X: 1, Z: 1}}, nil, nil)
	_, spawns, despawns := h.sender.counts()
	if spawns != 2 || despawns != 1 {
		t.Fatalf("spawns=%d despawns=%d", spawns, despawns)
	}
	if !h.cache.Contains(h.cache.KeyOf("nether", 0, 0)) || h.cache.Contains(h.cache.KeyOf("overworld", 0, 0)) {
		t.Fatalf("interest did not follow the world change")
	}
}

func TestCommands_PersistAndRestore(t *testing.T) {
	store := &memStore{states: map[uuid.UUID]PlayerState{}}
	h := newHarness(t, store)
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld", X: 10, Z: 20}}, nil, nil, nil)

	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerAdd, Name: "home", Value: "flag"}); err != nil {
		t.Fatalf("add marker: %v", err)
	}
	_, spawnsBefore, _ := h.sender.counts()
	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpPosition, Value: "right"}); err != nil {
		t.Fatalf("position: %v", err)
	}
	if _, spawns, _ := h.sender.counts(); spawns != spawnsBefore {
		t.Fatalf("position change respawned the minimap")
	}
	h.svc.StepOnce(nil, nil, []DeathRequest{{Player: id, World: "overworld", X: -5, Z: 7}}, nil)

	st := store.states[id]
	if !st.Enabled || st.Position != "right" || len(st.Markers) != 1 || st.Markers[0].X != 10 || st.Markers[0].Icon != "flag" {
		t.Fatalf("saved state %+v", st)
	}
	if st.Death == nil || st.Death.X != -5 || st.Death.Z != 7 {
		t.Fatalf("saved death %+v", st.Death)
	}

	h.svc.StepOnce(nil, nil, nil, []uuid.UUID{id})
	if h.cache.Viewers() != 0 || h.cache.Len() != 0 {
		t.Fatalf("leave left tiles behind: viewers=%d tiles=%d", h.cache.Viewers(), h.cache.Len())
	}

	// A fresh service over the same store brings everything back.
	h2 := newHarness(t, store)
	h2.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	sess := h2.svc.sessions[id]
	if sess.m == nil || sess.m.ScreenPosition() != minimap.Right {
		t.Fatalf("minimap not restored")
	}
	if got := sess.m.Markers(); len(got) != 1 || got[0] != "home" {
		t.Fatalf("markers %v", got)
	}
	if w, x, z, ok := sess.m.DeathPoint(); !ok || w != "overworld" || x != -5 || z != 7 {
		t.Fatalf("death point %v %v %v %v", w, x, z, ok)
	}
	if sess.m.Layer(minimap.PlayerLayer) == nil {
		t.Fatalf("player marker missing")
	}
}

func TestCommands_DisableKeepsMarkers(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	_ = h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerAdd, Name: "home", Value: "flag"})

	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpDisable}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpDisable}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("second disable: %v", err)
	}
	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerAdd, Name: "x", Value: "flag"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("marker on disabled minimap: %v", err)
	}
	h.svc.StepOnce(nil, nil, []DeathRequest{{Player: id, World: "overworld", X: 1, Z: 2}}, nil)
	if h.cache.Viewers() != 0 || h.cache.Len() != 0 {
		t.Fatalf("disabled minimap still holds tiles")
	}
	st := h.store.states[id]
	if st.Enabled || len(st.Markers) != 1 || st.Death == nil {
		t.Fatalf("disabled state %+v", st)
	}

	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpEnable}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	m := h.svc.sessions[id].m
	if len(m.Markers()) != 1 {
		t.Fatalf("markers lost across disable")
	}
	if _, _, _, ok := m.DeathPoint(); !ok {
		t.Fatalf("death recorded while disabled was lost")
	}
}

func TestCommands_Errors(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.svc.Exec(CommandRequest{Player: uuid.New(), Op: OpEnable}); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("unknown player: %v", err)
	}
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerRemove, Name: minimap.PlayerLayer}); !errors.Is(err, minimap.ErrReservedMarker) {
		t.Fatalf("remove reserved: %v", err)
	}
	if err := h.svc.Exec(CommandRequest{Player: id, Op: OpPosition, Value: "top"}); err == nil {
		t.Fatalf("bad position accepted")
	}
	if err := h.svc.Exec(CommandRequest{Player: id, Op: CommandOp(99)}); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("unknown op: %v", err)
	}
}

func TestEvents_Journal(t *testing.T) {
	h := newHarness(t, nil)
	id := uuid.New()
	h.svc.StepOnce([]JoinRequest{{Player: id, World: "overworld"}}, nil, nil, nil)
	_ = h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerAdd, Name: "home", Value: "flag"})
	_ = h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerRename, Name: "home", Value: "base"})
	_ = h.svc.Exec(CommandRequest{Player: id, Op: OpMarkerRemove, Name: "base"})
	h.svc.StepOnce(nil, nil, nil, []uuid.UUID{id})

	want := []string{EventJoin, EventMarkerAdd, EventMarkerRename, EventMarkerRemove, EventLeave}
	got := h.sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("events %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v want %v", got, want)
		}
	}
}

func TestRun_ChannelsAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	id := uuid.New()
	resp := make(chan JoinResponse, 1)
	h.svc.Join() <- JoinRequest{Player: id, Name: "alex", World: "overworld", Resp: resp}
	select {
	case r := <-resp:
		if !r.Enabled {
			t.Fatalf("join not enabled")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("join timed out")
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()
	if err := h.svc.Do(reqCtx, CommandRequest{Player: id, Op: OpMarkerAdd, Name: "home", Value: "flag"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	st, err := h.svc.Status(reqCtx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Sessions) != 1 || st.Sessions[0].Name != "alex" || len(st.Sessions[0].Markers) != 1 {
		t.Fatalf("status %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if !h.store.states[id].Enabled {
		t.Fatalf("shutdown did not persist sessions")
	}
}

func TestMultiSink(t *testing.T) {
	a, b := &memSink{}, &memSink{}
	if err := (MultiSink{a, nil, b}).WriteEvent(Event{Kind: EventJoin}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("fan-out failed")
	}
}
