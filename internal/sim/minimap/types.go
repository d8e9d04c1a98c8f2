// Package minimap holds the per-player HUD state: the primary terrain layer, the ordered
// secondary (marker) layers and the operations that re-encode and push them to the client.
package minimap

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/sim/minimap/compositor"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

const (
	Size   = compositor.Size
	BufLen = compositor.BufLen
)

// Reserved secondary layer names. They cannot be added, modified or removed as markers.
const (
	PlayerLayer     = "player"
	DeathPointLayer = "death_point"
)

// Icon keys looked up through IconProvider.
const (
	IconPlayer = "player"
	IconDeath  = "death"
)

var (
	ErrReservedMarker = errors.New("marker name is reserved")
	ErrMarkerExists   = errors.New("marker with this name already exists")
	ErrMarkerLimit    = errors.New("custom marker limit reached")
	ErrNoSuchMarker   = errors.New("no such marker")
	ErrNoIcon         = errors.New("invalid icon")
	ErrBadPosition    = errors.New("unknown screen position")
)

type WorldID = tilecache.WorldID

type ScreenPosition int

const (
	Left ScreenPosition = iota
	Right
)

func (p ScreenPosition) String() string {
	if p == Right {
		return "right"
	}
	return "left"
}

func ParsePosition(v string) (ScreenPosition, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "left":
		return Left, nil
	case "right":
		return Right, nil
	default:
		return Left, fmt.Errorf("%w %q", ErrBadPosition, v)
	}
}

// Holder is the player a minimap belongs to.
type Holder interface {
	ID() uuid.UUID
	World() WorldID
	Position() (x, z float64)
}

// Layer is one client-visible map surface.
type Layer struct {
	ID       int32
	World    WorldID
	Renderer LayerRenderer
	// Cacheable layers are composited from the shared tile cache instead of Renderer.
	Cacheable bool
}

type LayerRenderer interface {
	Render(m *Minimap, layer *Layer, buf []byte)
}

type LayerRendererFunc func(m *Minimap, layer *Layer, buf []byte)

func (f LayerRendererFunc) Render(m *Minimap, layer *Layer, buf []byte) {
	f(m, layer, buf)
}

// SecondaryLayer is a marker drawn on top of the primary layer.
type SecondaryLayer struct {
	Base *Layer
	// Renderer overrides Base.Renderer when set.
	Renderer LayerRenderer
	// World restricts the layer to one world; empty means every world.
	World         WorldID
	X, Z          float64
	Depth         float32
	TrackLocation bool
	KeepOnEdge    bool
	Reserved      bool
}

// Icon returns the icon drawn by the layer's own renderer, if it is an IconRenderer.
func (l *SecondaryLayer) Icon() *Icon {
	switch r := l.Renderer.(type) {
	case IconRenderer:
		return r.Icon
	case *IconRenderer:
		if r != nil {
			return r.Icon
		}
	}
	return nil
}

// PacketSender delivers spawn, despawn and pixel updates to the holder's client.
type PacketSender interface {
	SpawnMinimap(m *Minimap) error
	DespawnMinimap(m *Minimap) error
	SpawnLayer(viewer uuid.UUID, layer *Layer) error
	DespawnLayer(viewer uuid.UUID, layer *Layer) error
	UpdateLayer(viewer uuid.UUID, layer *Layer, x, y, w, h int, data []byte) error
}

type LayerFactory interface {
	NewLayer(world WorldID, r LayerRenderer) *Layer
}

// IconProvider resolves icon keys. Special icons (player heads, the death marker) exist but
// cannot be assigned to custom markers.
type IconProvider interface {
	Icon(key string) *Icon
	IsSpecial(key string) bool
}

// TileCache is what a cacheable primary layer needs from tilecache.Cache.
type TileCache interface {
	compositor.TileSource
	SetViewerInterest(viewer uuid.UUID, keys []tilecache.Key)
}

type MarkerSettings struct {
	StickToBorder bool
	Limit         int
}

type Settings struct {
	Scale         int
	Shape         geometry.Shape
	DeathMarker   MarkerSettings
	CustomMarkers MarkerSettings
}

func (s Settings) scale() int {
	return max(s.Scale, 1)
}

// Env carries the collaborators every minimap operation needs.
type Env struct {
	Tiles    TileCache
	Sender   PacketSender
	Layers   LayerFactory
	Icons    IconProvider
	Settings Settings
	Log      logrus.FieldLogger
}

func (e *Env) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

// LayerIDs hands out sequential layer IDs.
type LayerIDs struct {
	next atomic.Int32
}

func (f *LayerIDs) NewLayer(world WorldID, r LayerRenderer) *Layer {
	return &Layer{ID: f.next.Add(1), World: world, Renderer: r}
}
