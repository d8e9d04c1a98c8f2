package minimap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/sim/minimap/compositor"
	"vanillaminimaps.ai/internal/sim/minimap/encoder"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

// Minimap is one player's HUD. It is not safe for concurrent use; the hud service owns it.
type Minimap struct {
	holder   Holder
	position ScreenPosition
	primary  *Layer

	order  []string
	layers map[string]*SecondaryLayer

	// tile keys last submitted as viewer interest
	keys []tilecache.Key
}

func New(holder Holder, position ScreenPosition, primary *Layer) *Minimap {
	return &Minimap{
		holder:   holder,
		position: position,
		primary:  primary,
		layers:   map[string]*SecondaryLayer{},
	}
}

func (m *Minimap) Holder() Holder { return m.holder }

func (m *Minimap) ScreenPosition() ScreenPosition { return m.position }

func (m *Minimap) SetScreenPosition(p ScreenPosition) { m.position = p }

func (m *Minimap) Primary() *Layer { return m.primary }

// LayerNames returns the secondary layer names in insertion order.
func (m *Minimap) LayerNames() []string {
	return slices.Clone(m.order)
}

func (m *Minimap) Layer(name string) *SecondaryLayer {
	return m.layers[name]
}

// SetLayer inserts or replaces a secondary layer. A replaced layer keeps its position.
// Nothing is sent to the client.
func (m *Minimap) SetLayer(name string, l *SecondaryLayer) {
	if _, ok := m.layers[name]; !ok {
		m.order = append(m.order, name)
	}
	m.layers[name] = l
}

// RemoveLayer drops a secondary layer without telling the client.
func (m *Minimap) RemoveLayer(name string) *SecondaryLayer {
	l, ok := m.layers[name]
	if !ok {
		return nil
	}
	delete(m.layers, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	return l
}

// Update redraws the primary layer around (playerX, playerZ) and then every secondary layer.
// A tile that failed to render is drawn blank and retried on the next frame.
func (m *Minimap) Update(env *Env, playerX, playerZ float64, forceInterest bool) error {
	scale := env.Settings.scale()
	buf := m.renderPrimary(env, playerX, playerZ, scale, forceInterest)
	encoder.EncodePrimary(buf, m.primaryInput(env, playerX, playerZ))
	if err := env.Sender.UpdateLayer(m.holder.ID(), m.primary, 0, 0, Size, Size, buf); err != nil {
		return fmt.Errorf("update primary layer: %w", err)
	}
	return m.UpdateSecondaryLayers(env)
}

// Refresh redraws the minimap at the holder's current position.
func (m *Minimap) Refresh(env *Env) error {
	x, z := m.holder.Position()
	return m.Update(env, x, z, false)
}

// Respawn recreates the client-side minimap and redraws it with a fresh interest set.
func (m *Minimap) Respawn(env *Env) error {
	if err := env.Sender.DespawnMinimap(m); err != nil {
		return fmt.Errorf("despawn minimap: %w", err)
	}
	if err := env.Sender.SpawnMinimap(m); err != nil {
		return fmt.Errorf("spawn minimap: %w", err)
	}
	x, z := m.holder.Position()
	return m.Update(env, x, z, true)
}

func (m *Minimap) renderPrimary(env *Env, playerX, playerZ float64, scale int, forceInterest bool) []byte {
	if !m.primary.Cacheable || env.Tiles == nil {
		buf := make([]byte, BufLen)
		if m.primary.Renderer != nil {
			m.primary.Renderer.Render(m, m.primary, buf)
		}
		return buf
	}

	frame, err := compositor.Composite(env.Tiles, m.holder.World(), playerX, playerZ, scale)
	if err != nil {
		env.log().WithFields(logrus.Fields{
			"player": m.holder.ID(),
			"world":  m.holder.World(),
		}).WithError(err).Warn("minimap tiles unavailable")
	}
	if scale > 1 || forceInterest || !slices.Equal(m.keys, frame.Keys) {
		env.Tiles.SetViewerInterest(m.holder.ID(), frame.Keys)
		m.keys = frame.Keys
	}
	return frame.Pixels
}

func (m *Minimap) primaryInput(env *Env, x, z float64) encoder.PrimaryInput {
	return encoder.PrimaryInput{
		RightSide: m.position == Right,
		PlayerX:   x,
		PlayerZ:   z,
		Scale:     env.Settings.scale(),
		Shape:     env.Settings.Shape,
	}
}

// UpdateSecondaryLayers redraws every marker visible in the holder's world. Marker positions
// are encoded against the holder's live position.
func (m *Minimap) UpdateSecondaryLayers(env *Env) error {
	world := m.holder.World()
	x, z := m.holder.Position()
	var errs []error
	for _, name := range m.order {
		l := m.layers[name]
		if l.World != "" && l.World != world {
			continue
		}
		buf := make([]byte, BufLen)
		switch {
		case l.Renderer != nil:
			l.Renderer.Render(m, l.Base, buf)
		case l.Base.Renderer != nil:
			l.Base.Renderer.Render(m, l.Base, buf)
		}
		marker := encoder.Marker{
			X:             l.X,
			Z:             l.Z,
			Depth:         float64(l.Depth),
			TrackLocation: l.TrackLocation,
			KeepOnEdge:    l.KeepOnEdge,
		}
		encoder.EncodeSecondary(buf, encoder.SecondaryInput{
			Primary:    m.primaryInput(env, x, z),
			Marker:     marker,
			EdgeRadius: geometry.ClampRadius(env.Settings.Shape, l.Icon().Size()),
		})
		if err := env.Sender.UpdateLayer(m.holder.ID(), l.Base, 0, 0, Size, Size, buf); err != nil {
			errs = append(errs, fmt.Errorf("update layer %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
