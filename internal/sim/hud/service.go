// Package hud runs the minimap sessions of every connected player on one goroutine.
package hud

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/sim/minimap"
)

const storeTimeout = 5 * time.Second

// Service owns every minimap. All session state must be accessed only from the Run goroutine
// (or StepOnce in tests).
type Service struct {
	cfg    Config
	env    minimap.Env
	tiles  TileCache
	store  Store
	events EventSink
	log    logrus.FieldLogger

	tick     atomic.Uint64
	sessions map[uuid.UUID]*session

	join    chan JoinRequest
	move    chan MoveRequest
	death   chan DeathRequest
	leave   chan uuid.UUID
	command chan CommandRequest
	status  chan statusReq
	stop    chan struct{}
}

type session struct {
	player *player
	m      *minimap.Minimap // nil while disabled
	state  PlayerState

	worldChanged bool
}

// New wires a service. store and events may be nil.
func New(cfg Config, env minimap.Env, tiles TileCache, store Store, events EventSink) *Service {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if env.Layers == nil {
		env.Layers = &minimap.LayerIDs{}
	}
	if env.Log == nil {
		env.Log = logrus.StandardLogger()
	}
	env.Tiles = tiles
	return &Service{
		cfg:      cfg,
		env:      env,
		tiles:    tiles,
		store:    store,
		events:   events,
		log:      env.Log.WithField("component", "hud"),
		sessions: map[uuid.UUID]*session{},
		join:     make(chan JoinRequest, 64),
		move:     make(chan MoveRequest, 1024),
		death:    make(chan DeathRequest, 64),
		leave:    make(chan uuid.UUID, 64),
		command:  make(chan CommandRequest, 64),
		status:   make(chan statusReq, 8),
		stop:     make(chan struct{}),
	}
}

func (s *Service) Join() chan<- JoinRequest       { return s.join }
func (s *Service) Move() chan<- MoveRequest       { return s.move }
func (s *Service) Death() chan<- DeathRequest     { return s.death }
func (s *Service) Leave() chan<- uuid.UUID        { return s.leave }
func (s *Service) Command() chan<- CommandRequest { return s.command }

func (s *Service) Stop() { close(s.stop) }

func (s *Service) Tick() uint64 { return s.tick.Load() }

// Status asks the loop for a snapshot of every session.
func (s *Service) Status(ctx context.Context) (Status, error) {
	req := statusReq{resp: make(chan Status, 1)}
	select {
	case s.status <- req:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-req.resp:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Do submits a command and waits for its result.
func (s *Service) Do(ctx context.Context, req CommandRequest) error {
	req.Resp = make(chan error, 1)
	select {
	case s.command <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.TickRateHz))
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingMoves []MoveRequest
	var pendingDeaths []DeathRequest
	var pendingLeaves []uuid.UUID

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-s.stop:
			s.shutdown()
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-s.move:
			pendingMoves = append(pendingMoves, req)
		case req := <-s.death:
			pendingDeaths = append(pendingDeaths, req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case req := <-s.command:
			err := s.handleCommand(req)
			if req.Resp != nil {
				req.Resp <- err
			}
		case req := <-s.status:
			req.resp <- s.snapshotStatus()
		case <-ticker.C:
			s.step(pendingJoins, pendingMoves, pendingDeaths, pendingLeaves)
			pendingJoins = pendingJoins[:0]
			pendingMoves = pendingMoves[:0]
			pendingDeaths = pendingDeaths[:0]
			pendingLeaves = pendingLeaves[:0]
		}
	}
}

// StepOnce advances the service by one tick with the given inputs, using the same ordering as Run.
func (s *Service) StepOnce(joins []JoinRequest, moves []MoveRequest, deaths []DeathRequest, leaves []uuid.UUID) uint64 {
	return s.step(joins, moves, deaths, leaves)
}

// Exec runs a command synchronously. Like StepOnce it must not race with Run.
func (s *Service) Exec(req CommandRequest) error {
	return s.handleCommand(req)
}

func (s *Service) step(joins []JoinRequest, moves []MoveRequest, deaths []DeathRequest, leaves []uuid.UUID) uint64 {
	tick := s.tick.Add(1)
	for _, req := range joins {
		s.handleJoin(req)
	}
	for _, req := range moves {
		s.handleMove(req)
	}
	for _, req := range deaths {
		s.handleDeath(req)
	}
	for _, id := range leaves {
		s.handleLeave(id)
	}

	// Every enabled minimap is redrawn each tick, moved or not.
	for _, id := range s.sortedIDs() {
		sess := s.sessions[id]
		if sess.m == nil {
			continue
		}
		var err error
		if sess.worldChanged {
			err = sess.m.Respawn(&s.env)
		} else {
			err = sess.m.Refresh(&s.env)
		}
		if err != nil {
			s.log.WithField("player", id).WithError(err).Warn("minimap update failed")
		}
		sess.worldChanged = false
	}

	if n := s.tiles.Sweep(); n > 0 {
		s.log.WithFields(logrus.Fields{"tick": tick, "evicted": n}).Debug("tile sweep")
	}
	return tick
}

func (s *Service) sortedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}

func (s *Service) snapshotStatus() Status {
	st := Status{
		Tick:  s.tick.Load(),
		Tiles: s.tiles.Len(),
		Cache: s.tiles.Stats(),
	}
	for _, id := range s.sortedIDs() {
		sess := s.sessions[id]
		ss := SessionStatus{
			Player:  id,
			Name:    sess.player.name,
			World:   string(sess.player.world),
			X:       sess.player.x,
			Z:       sess.player.z,
			Enabled: sess.m != nil,
		}
		if sess.m != nil {
			ss.Markers = sess.m.Markers()
		}
		st.Sessions = append(st.Sessions, ss)
	}
	return st
}

func (s *Service) shutdown() {
	for _, id := range s.sortedIDs() {
		s.persist(s.sessions[id])
	}
}

func (s *Service) emit(e Event) {
	if s.events == nil {
		return
	}
	e.Tick = s.tick.Load()
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := s.events.WriteEvent(e); err != nil {
		s.log.WithError(err).Warn("event journal write failed")
	}
}

func (s *Service) persist(sess *session) {
	if sess.m != nil {
		sess.state = stateOf(sess.player.id, sess.m)
	}
	sess.state.Enabled = sess.m != nil
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.SavePlayer(ctx, sess.state); err != nil {
		s.log.WithField("player", sess.player.id).WithError(err).Error("save player state")
	}
}

func (s *Service) load(id uuid.UUID) (PlayerState, bool) {
	if s.store == nil {
		return PlayerState{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	st, ok, err := s.store.LoadPlayer(ctx, id)
	if err != nil {
		s.log.WithField("player", id).WithError(err).Error("load player state")
		return PlayerState{}, false
	}
	return st, ok
}

func wrapPlayer(id uuid.UUID, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("player %s: %w", id, err)
}
