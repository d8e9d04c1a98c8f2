package hud

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/sim/minimap"
)

// player is the live position the service tracks for one connection.
type player struct {
	id    uuid.UUID
	name  string
	world minimap.WorldID
	x, z  float64
}

func (p *player) ID() uuid.UUID                { return p.id }
func (p *player) World() minimap.WorldID       { return p.world }
func (p *player) Position() (float64, float64) { return p.x, p.z }

func (s *Service) handleJoin(req JoinRequest) {
	sess := s.sessions[req.Player]
	if sess == nil {
		sess = &session{player: &player{id: req.Player}}
		st, ok := s.load(req.Player)
		if !ok {
			st = PlayerState{
				Player:   req.Player,
				Enabled:  s.cfg.EnabledByDefault,
				Position: s.cfg.DefaultPosition.String(),
			}
		}
		sess.state = st
		s.sessions[req.Player] = sess
	}
	sess.player.name = req.Name
	sess.player.world = minimap.WorldID(req.World)
	sess.player.x, sess.player.z = req.X, req.Z

	s.emit(Event{Player: req.Player, Kind: EventJoin, World: req.World, X: int(req.X), Z: int(req.Z)})
	if sess.state.Enabled && sess.m == nil {
		if err := s.enable(sess); err != nil {
			s.log.WithField("player", req.Player).WithError(err).Warn("enable minimap on join")
		}
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Tick: s.tick.Load(), Enabled: sess.m != nil}
	}
}

func (s *Service) handleMove(req MoveRequest) {
	sess := s.sessions[req.Player]
	if sess == nil {
		return
	}
	p := sess.player
	world := minimap.WorldID(req.World)
	if world != "" && world != p.world {
		p.world = world
		sess.worldChanged = true
	}
	p.x, p.z = req.X, req.Z
}

func (s *Service) handleDeath(req DeathRequest) {
	sess := s.sessions[req.Player]
	if sess == nil {
		return
	}
	if sess.m != nil {
		if err := sess.m.SetDeathPoint(&s.env, minimap.WorldID(req.World), req.X, req.Z); err != nil {
			s.log.WithField("player", req.Player).WithError(err).Warn("set death point")
		}
	} else {
		sess.state.Death = &DeathPoint{World: req.World, X: req.X, Z: req.Z}
	}
	s.persist(sess)
	s.emit(Event{Player: req.Player, Kind: EventDeathPoint, World: req.World, X: req.X, Z: req.Z})
}

func (s *Service) handleLeave(id uuid.UUID) {
	sess := s.sessions[id]
	if sess == nil {
		return
	}
	s.persist(sess)
	s.tiles.RemoveViewer(id)
	delete(s.sessions, id)
	s.emit(Event{Player: id, Kind: EventLeave})
}

// enable builds the minimap from the session's saved state and spawns it.
func (s *Service) enable(sess *session) error {
	p := sess.player
	pos, err := minimap.ParsePosition(sess.state.Position)
	if err != nil {
		pos = s.cfg.DefaultPosition
	}
	primary := s.env.Layers.NewLayer(p.world, nil)
	primary.Cacheable = true
	m := minimap.New(p, pos, primary)
	if err := m.AttachPlayerMarker(&s.env); err != nil {
		s.log.WithField("player", p.id).WithError(err).Warn("player marker unavailable")
	}
	s.restore(m, sess.state)

	if err := s.env.Sender.SpawnMinimap(m); err != nil {
		return err
	}
	sess.m = m
	sess.worldChanged = false
	return m.Update(&s.env, p.x, p.z, true)
}

func (s *Service) disable(sess *session) error {
	m := sess.m
	sess.state = stateOf(sess.player.id, m)
	sess.m = nil
	s.tiles.RemoveViewer(sess.player.id)
	return s.env.Sender.DespawnMinimap(m)
}

// restore re-creates saved markers and the death point without sending anything.
func (s *Service) restore(m *minimap.Minimap, st PlayerState) {
	for _, ms := range st.Markers {
		icon := s.icon(ms.Icon)
		if icon == nil {
			s.log.WithFields(logrus.Fields{"player": st.Player, "marker": ms.Name, "icon": ms.Icon}).Warn("dropping marker with unknown icon")
			continue
		}
		world := minimap.WorldID(ms.World)
		m.SetLayer(ms.Name, &minimap.SecondaryLayer{
			Base:          s.env.Layers.NewLayer(world, nil),
			Renderer:      minimap.IconRenderer{Icon: icon},
			World:         world,
			X:             ms.X,
			Z:             ms.Z,
			Depth:         ms.Depth,
			TrackLocation: true,
			KeepOnEdge:    s.env.Settings.CustomMarkers.StickToBorder,
		})
	}
	if d := st.Death; d != nil {
		icon := s.icon(minimap.IconDeath)
		if icon == nil {
			return
		}
		world := minimap.WorldID(d.World)
		m.SetLayer(minimap.DeathPointLayer, &minimap.SecondaryLayer{
			Base:          s.env.Layers.NewLayer(world, nil),
			Renderer:      minimap.IconRenderer{Icon: icon},
			World:         world,
			X:             float64(d.X),
			Z:             float64(d.Z),
			Depth:         minimap.DeathMarkerDepth,
			TrackLocation: true,
			KeepOnEdge:    s.env.Settings.DeathMarker.StickToBorder,
			Reserved:      true,
		})
	}
}

func (s *Service) icon(key string) *minimap.Icon {
	if s.env.Icons == nil {
		return nil
	}
	return s.env.Icons.Icon(key)
}

// stateOf captures what must survive a reconnect.
func stateOf(id uuid.UUID, m *minimap.Minimap) PlayerState {
	st := PlayerState{
		Player:   id,
		Enabled:  true,
		Position: m.ScreenPosition().String(),
	}
	if world, x, z, ok := m.DeathPoint(); ok {
		st.Death = &DeathPoint{World: string(world), X: int(x), Z: int(z)}
	}
	for _, name := range m.Markers() {
		l := m.Layer(name)
		icon := ""
		if ic := l.Icon(); ic != nil {
			icon = ic.Key
		}
		st.Markers = append(st.Markers, MarkerState{
			Name:  name,
			Icon:  icon,
			World: string(l.World),
			X:     l.X,
			Z:     l.Z,
			Depth: l.Depth,
		})
	}
	return st
}
