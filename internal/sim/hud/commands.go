package hud

import (
	"fmt"

	"vanillaminimaps.ai/internal/sim/minimap"
)

func (s *Service) handleCommand(req CommandRequest) error {
	sess := s.sessions[req.Player]
	if sess == nil {
		return wrapPlayer(req.Player, ErrUnknownPlayer)
	}

	switch req.Op {
	case OpEnable:
		if sess.m != nil {
			return nil
		}
		if err := s.enable(sess); err != nil {
			return wrapPlayer(req.Player, err)
		}
		s.persist(sess)
		s.emit(Event{Player: req.Player, Kind: EventEnable})
		return nil
	case OpDisable:
		if sess.m == nil {
			return wrapPlayer(req.Player, ErrDisabled)
		}
		err := s.disable(sess)
		s.persist(sess)
		s.emit(Event{Player: req.Player, Kind: EventDisable})
		return wrapPlayer(req.Player, err)
	}

	m := sess.m
	if m == nil {
		return wrapPlayer(req.Player, ErrDisabled)
	}
	var (
		err  error
		kind string
	)
	switch req.Op {
	case OpPosition:
		var pos minimap.ScreenPosition
		if pos, err = minimap.ParsePosition(req.Value); err == nil {
			m.SetScreenPosition(pos)
			err = m.Refresh(&s.env)
			kind = EventPosition
		}
	case OpMarkerAdd:
		kind = EventMarkerAdd
		err = m.AddMarker(&s.env, req.Name, req.Value)
	case OpMarkerIcon:
		kind = EventMarkerIcon
		err = m.SetMarkerIcon(&s.env, req.Name, req.Value)
	case OpMarkerRename:
		kind = EventMarkerRename
		err = m.RenameMarker(&s.env, req.Name, req.Value)
	case OpMarkerRemove:
		kind = EventMarkerRemove
		err = m.RemoveMarker(&s.env, req.Name)
	case OpDeathReset:
		kind = EventDeathReset
		err = m.ResetDeathPoint(&s.env)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOp, req.Op)
	}
	if err != nil {
		return wrapPlayer(req.Player, err)
	}
	s.persist(sess)
	s.emit(Event{Player: req.Player, Kind: kind, Marker: req.Name, Value: req.Value, World: string(sess.player.world)})
	return nil
}
