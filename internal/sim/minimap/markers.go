package minimap

import (
	"errors"
	"fmt"
)

const (
	DeathMarkerDepth  = 0.05
	markerBaseDepth   = 0.05
	markerDepthStep   = 0.01
	playerMarkerDepth = 0
)

func reserved(name string) bool {
	return name == PlayerLayer || name == DeathPointLayer
}

func resolveIcon(env *Env, key string) (*Icon, error) {
	if env.Icons == nil || env.Icons.IsSpecial(key) {
		return nil, fmt.Errorf("%w: %q", ErrNoIcon, key)
	}
	icon := env.Icons.Icon(key)
	if icon == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoIcon, key)
	}
	return icon, nil
}

// AttachPlayerMarker installs the reserved arrow drawn at the map centre.
func (m *Minimap) AttachPlayerMarker(env *Env) error {
	var icon *Icon
	if env.Icons != nil {
		icon = env.Icons.Icon(IconPlayer)
	}
	if icon == nil {
		return fmt.Errorf("%w: %q", ErrNoIcon, IconPlayer)
	}
	m.SetLayer(PlayerLayer, &SecondaryLayer{
		Base:     env.Layers.NewLayer("", nil),
		Renderer: IconRenderer{Icon: icon},
		X:        Size / 2,
		Z:        Size / 2,
		Depth:    playerMarkerDepth,
		Reserved: true,
	})
	return nil
}

// SetDeathPoint replaces the death marker. The marker is spawned only while the holder is in
// the world the death happened in.
func (m *Minimap) SetDeathPoint(env *Env, world WorldID, x, z int) error {
	var errs []error
	if cur := m.RemoveLayer(DeathPointLayer); cur != nil {
		if err := env.Sender.DespawnLayer(m.holder.ID(), cur.Base); err != nil {
			errs = append(errs, fmt.Errorf("despawn death point: %w", err))
		}
	}

	var icon *Icon
	if env.Icons != nil {
		icon = env.Icons.Icon(IconDeath)
	}
	if icon == nil {
		errs = append(errs, fmt.Errorf("%w: %q", ErrNoIcon, IconDeath))
		return errors.Join(errs...)
	}
	l := &SecondaryLayer{
		Base:          env.Layers.NewLayer(m.holder.World(), nil),
		Renderer:      IconRenderer{Icon: icon},
		World:         world,
		X:             float64(x),
		Z:             float64(z),
		Depth:         DeathMarkerDepth,
		TrackLocation: true,
		KeepOnEdge:    env.Settings.DeathMarker.StickToBorder,
		Reserved:      true,
	}
	m.SetLayer(DeathPointLayer, l)
	if world == m.holder.World() {
		if err := env.Sender.SpawnLayer(m.holder.ID(), l.Base); err != nil {
			errs = append(errs, fmt.Errorf("spawn death point: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Minimap) ResetDeathPoint(env *Env) error {
	cur := m.RemoveLayer(DeathPointLayer)
	if cur == nil {
		return nil
	}
	if err := env.Sender.DespawnLayer(m.holder.ID(), cur.Base); err != nil {
		return fmt.Errorf("despawn death point: %w", err)
	}
	return nil
}

func (m *Minimap) DeathPoint() (world WorldID, x, z float64, ok bool) {
	l := m.layers[DeathPointLayer]
	if l == nil {
		return "", 0, 0, false
	}
	return l.World, l.X, l.Z, true
}

// Markers returns the custom marker names in insertion order.
func (m *Minimap) Markers() []string {
	var out []string
	for _, name := range m.order {
		if !m.layers[name].Reserved {
			out = append(out, name)
		}
	}
	return out
}

// AddMarker pins a custom marker at the holder's current block position.
func (m *Minimap) AddMarker(env *Env, name, iconKey string) error {
	if reserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedMarker, name)
	}
	if _, ok := m.layers[name]; ok {
		return fmt.Errorf("%w: %q", ErrMarkerExists, name)
	}
	if limit := env.Settings.CustomMarkers.Limit; len(m.Markers()) >= limit {
		return fmt.Errorf("%w: at most %d", ErrMarkerLimit, limit)
	}
	icon, err := resolveIcon(env, iconKey)
	if err != nil {
		return err
	}

	world := m.holder.World()
	x, z := m.holder.Position()
	l := &SecondaryLayer{
		Base:          env.Layers.NewLayer(world, nil),
		Renderer:      IconRenderer{Icon: icon},
		World:         world,
		X:             float64(int(x)),
		Z:             float64(int(z)),
		Depth:         markerBaseDepth + markerDepthStep*float32(len(m.order)),
		TrackLocation: true,
		KeepOnEdge:    env.Settings.CustomMarkers.StickToBorder,
	}
	m.SetLayer(name, l)
	if err := env.Sender.SpawnLayer(m.holder.ID(), l.Base); err != nil {
		return fmt.Errorf("spawn marker %q: %w", name, err)
	}
	return m.Refresh(env)
}

func (m *Minimap) customMarker(name string) (*SecondaryLayer, error) {
	if reserved(name) {
		return nil, fmt.Errorf("%w: %q", ErrReservedMarker, name)
	}
	l := m.layers[name]
	if l == nil || l.Reserved {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchMarker, name)
	}
	return l, nil
}

func (m *Minimap) SetMarkerIcon(env *Env, name, iconKey string) error {
	l, err := m.customMarker(name)
	if err != nil {
		return err
	}
	icon, err := resolveIcon(env, iconKey)
	if err != nil {
		return err
	}
	l.Renderer = IconRenderer{Icon: icon}
	return m.Refresh(env)
}

// RenameMarker renames a custom marker in place; its draw order is unchanged.
func (m *Minimap) RenameMarker(env *Env, name, newName string) error {
	l, err := m.customMarker(name)
	if err != nil {
		return err
	}
	if name == newName {
		return nil
	}
	if reserved(newName) {
		return fmt.Errorf("%w: %q", ErrReservedMarker, newName)
	}
	if _, ok := m.layers[newName]; ok {
		return fmt.Errorf("%w: %q", ErrMarkerExists, newName)
	}
	for i, n := range m.order {
		if n == name {
			m.order[i] = newName
			break
		}
	}
	delete(m.layers, name)
	m.layers[newName] = l
	return m.Refresh(env)
}

func (m *Minimap) RemoveMarker(env *Env, name string) error {
	if _, err := m.customMarker(name); err != nil {
		return err
	}
	l := m.RemoveLayer(name)
	if err := env.Sender.DespawnLayer(m.holder.ID(), l.Base); err != nil {
		return fmt.Errorf("despawn marker %q: %w", name, err)
	}
	return m.Refresh(env)
}
