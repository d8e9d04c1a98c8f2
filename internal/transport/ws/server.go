// Package ws serves minimap clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/protocol"
	"vanillaminimaps.ai/internal/sim/hud"
	"vanillaminimaps.ai/internal/sim/minimap"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
	commandTimeout   = 5 * time.Second
	minQueue         = 32
	maxQueue         = 256
)

// Service is the part of hud.Service the transport drives.
type Service interface {
	Join() chan<- hud.JoinRequest
	Move() chan<- hud.MoveRequest
	Death() chan<- hud.DeathRequest
	Leave() chan<- uuid.UUID
	Do(ctx context.Context, req hud.CommandRequest) error
}

type Server struct {
	svc      Service
	hub      *Hub
	settings protocol.MinimapSettings
	log      logrus.FieldLogger

	upgrader websocket.Upgrader
}

func NewServer(svc Service, hub *Hub, settings protocol.MinimapSettings, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		svc:      svc,
		hub:      hub,
		settings: settings,
		log:      logger.WithField("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		id, out, kicked, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		log := s.log.WithField("player", id)
		log.Info("client connected")

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-kicked:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "disconnected"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()

		s.readLoop(ctx, conn, id, out)
		cancel()

		// Only the current connection of a player ends its session.
		if s.hub.Unregister(id, out) {
			s.svc.Leave() <- id
		}
		log.Info("client disconnected")
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, id uuid.UUID, out chan []byte) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.ProtocolVersion != protocol.Version {
			continue
		}
		if err := protocol.Validate(base.Type, msg); err != nil {
			s.log.WithField("player", id).WithError(err).Debug("invalid message")
			if base.Type == protocol.TypeCommand {
				var cmd protocol.CommandMsg
				_ = json.Unmarshal(msg, &cmd)
				s.ack(id, cmd.ID, protocol.ErrProtoBadRequest, err)
			}
			continue
		}

		switch base.Type {
		case protocol.TypeMove:
			var mv protocol.MoveMsg
			if err := json.Unmarshal(msg, &mv); err != nil {
				continue
			}
			select {
			case s.svc.Move() <- hud.MoveRequest{Player: id, World: mv.World, X: mv.X, Z: mv.Z}:
			case <-ctx.Done():
				return
			}
		case protocol.TypeDeath:
			var d protocol.DeathMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			select {
			case s.svc.Death() <- hud.DeathRequest{Player: id, World: d.World, X: d.X, Z: d.Z}:
			case <-ctx.Done():
				return
			}
		case protocol.TypeCommand:
			var cmd protocol.CommandMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			s.command(ctx, id, cmd)
		}
	}
}

func (s *Server) command(ctx context.Context, id uuid.UUID, cmd protocol.CommandMsg) {
	op, ok := commandOps[cmd.Op]
	if !ok {
		s.ack(id, cmd.ID, protocol.ErrBadRequest, hud.ErrUnknownOp)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	err := s.svc.Do(cctx, hud.CommandRequest{Player: id, Op: op, Name: cmd.Name, Value: cmd.Value})
	s.ack(id, cmd.ID, codeOf(err), err)
}

func (s *Server) ack(id uuid.UUID, ref, code string, err error) {
	msg := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ref,
		Accepted:        err == nil,
	}
	if err != nil {
		msg.Code = code
		msg.Message = err.Error()
	}
	_ = s.hub.sendControl(id, msg)
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (uuid.UUID, chan []byte, <-chan struct{}, bool) {
	reject := func(reason string) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return uuid.Nil, nil, nil, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		reject("expected HELLO")
		return uuid.Nil, nil, nil, false
	}
	if base.ProtocolVersion != protocol.Version {
		reject("bad protocol_version")
		return uuid.Nil, nil, nil, false
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		reject("invalid HELLO")
		return uuid.Nil, nil, nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return uuid.Nil, nil, nil, false
	}

	id := uuid.New()
	if v := strings.TrimSpace(hello.PlayerID); v != "" {
		parsed, err := uuid.Parse(v)
		if err != nil {
			reject("bad player_id")
			return uuid.Nil, nil, nil, false
		}
		id = parsed
	}
	if hello.Name == "" {
		hello.Name = "player"
	}
	maxQ := hello.MaxQueue
	if maxQ < minQueue {
		maxQ = minQueue
	}
	if maxQ > maxQueue {
		maxQ = maxQueue
	}
	out := make(chan []byte, maxQ)

	// Register first so the spawn packets produced by the join are queued behind WELCOME.
	kicked := s.hub.Register(id, out)
	resp := make(chan hud.JoinResponse, 1)
	select {
	case s.svc.Join() <- hud.JoinRequest{Player: id, Name: hello.Name, World: hello.World, X: hello.X, Z: hello.Z, Resp: resp}:
	case <-ctx.Done():
		s.hub.Unregister(id, out)
		return uuid.Nil, nil, nil, false
	}
	var jr hud.JoinResponse
	select {
	case jr = <-resp:
	case <-ctx.Done():
		if s.hub.Unregister(id, out) {
			s.svc.Leave() <- id
		}
		return uuid.Nil, nil, nil, false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        id.String(),
		Tick:            jr.Tick,
		Enabled:         jr.Enabled,
		Settings:        s.settings,
	}
	if err := writeJSON(conn, welcome); err != nil {
		if s.hub.Unregister(id, out) {
			s.svc.Leave() <- id
		}
		return uuid.Nil, nil, nil, false
	}
	return id, out, kicked, true
}

var commandOps = map[string]hud.CommandOp{
	protocol.OpEnable:       hud.OpEnable,
	protocol.OpDisable:      hud.OpDisable,
	protocol.OpPosition:     hud.OpPosition,
	protocol.OpMarkerAdd:    hud.OpMarkerAdd,
	protocol.OpMarkerIcon:   hud.OpMarkerIcon,
	protocol.OpMarkerRename: hud.OpMarkerRename,
	protocol.OpMarkerRemove: hud.OpMarkerRemove,
	protocol.OpDeathReset:   hud.OpDeathReset,
}

// codeOf maps a command error to its wire code.
func codeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, hud.ErrUnknownPlayer):
		return protocol.ErrUnknownPlayer
	case errors.Is(err, hud.ErrDisabled):
		return protocol.ErrDisabled
	case errors.Is(err, hud.ErrUnknownOp):
		return protocol.ErrBadRequest
	case errors.Is(err, minimap.ErrReservedMarker):
		return protocol.ErrReserved
	case errors.Is(err, minimap.ErrMarkerExists):
		return protocol.ErrConflict
	case errors.Is(err, minimap.ErrMarkerLimit):
		return protocol.ErrLimit
	case errors.Is(err, minimap.ErrNoSuchMarker):
		return protocol.ErrNotFound
	case errors.Is(err, minimap.ErrNoIcon):
		return protocol.ErrNoIcon
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrBusy
	case errors.Is(err, minimap.ErrBadPosition):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
