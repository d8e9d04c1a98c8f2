package hud

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"vanillaminimaps.ai/internal/sim/minimap"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

var (
	ErrUnknownPlayer = errors.New("unknown player")
	ErrDisabled      = errors.New("minimap is disabled")
	ErrUnknownOp     = errors.New("unknown command")
)

type Config struct {
	TickRateHz       int
	DefaultPosition  minimap.ScreenPosition
	EnabledByDefault bool
}

// TileCache is the part of tilecache.Cache the service drives directly.
type TileCache interface {
	minimap.TileCache
	RemoveViewer(viewer uuid.UUID)
	Sweep() int
	Stats() tilecache.Stats
	Len() int
}

// Store persists per-player HUD state across sessions.
type Store interface {
	LoadPlayer(ctx context.Context, player uuid.UUID) (PlayerState, bool, error)
	SavePlayer(ctx context.Context, st PlayerState) error
}

type EventSink interface {
	WriteEvent(e Event) error
}

type PlayerState struct {
	Player   uuid.UUID     `json:"player"`
	Enabled  bool          `json:"enabled"`
	Position string        `json:"position"`
	Death    *DeathPoint   `json:"death,omitempty"`
	Markers  []MarkerState `json:"markers,omitempty"`
}

type DeathPoint struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Z     int    `json:"z"`
}

type MarkerState struct {
	Name  string  `json:"name"`
	Icon  string  `json:"icon"`
	World string  `json:"world"`
	X     float64 `json:"x"`
	Z     float64 `json:"z"`
	Depth float32 `json:"depth"`
}

// Event kinds written to the EventSink.
const (
	EventJoin         = "join"
	EventLeave        = "leave"
	EventEnable       = "enable"
	EventDisable      = "disable"
	EventPosition     = "position"
	EventMarkerAdd    = "marker_add"
	EventMarkerIcon   = "marker_icon"
	EventMarkerRename = "marker_rename"
	EventMarkerRemove = "marker_remove"
	EventDeathPoint   = "death_point"
	EventDeathReset   = "death_reset"
)

type Event struct {
	Time   time.Time `json:"time"`
	Tick   uint64    `json:"tick"`
	Player uuid.UUID `json:"player"`
	Kind   string    `json:"kind"`
	Marker string    `json:"marker,omitempty"`
	Value  string    `json:"value,omitempty"`
	World  string    `json:"world,omitempty"`
	X      int       `json:"x,omitempty"`
	Z      int       `json:"z,omitempty"`
}

// MultiSink fans events out to several sinks; the first error is returned after all were tried.
type MultiSink []EventSink

func (m MultiSink) WriteEvent(e Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.WriteEvent(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type JoinRequest struct {
	Player uuid.UUID
	Name   string
	World  string
	X, Z   float64
	Resp   chan JoinResponse
}

type JoinResponse struct {
	Tick    uint64
	Enabled bool
}

type MoveRequest struct {
	Player uuid.UUID
	World  string
	X, Z   float64
}

type DeathRequest struct {
	Player uuid.UUID
	World  string
	X, Z   int
}

type CommandOp int

const (
	OpEnable CommandOp = iota + 1
	OpDisable
	OpPosition     // Value: left | right
	OpMarkerAdd    // Name, Value: icon
	OpMarkerIcon   // Name, Value: icon
	OpMarkerRename // Name, Value: new name
	OpMarkerRemove // Name
	OpDeathReset
)

type CommandRequest struct {
	Player uuid.UUID
	Op     CommandOp
	Name   string
	Value  string
	Resp   chan error
}

type SessionStatus struct {
	Player  uuid.UUID `json:"player"`
	Name    string    `json:"name"`
	World   string    `json:"world"`
	X       float64   `json:"x"`
	Z       float64   `json:"z"`
	Enabled bool      `json:"enabled"`
	Markers []string  `json:"markers,omitempty"`
}

type Status struct {
	Tick     uint64          `json:"tick"`
	Tiles    int             `json:"tiles"`
	Cache    tilecache.Stats `json:"cache"`
	Sessions []SessionStatus `json:"sessions"`
}

type statusReq struct {
	resp chan Status
}
