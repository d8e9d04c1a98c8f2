package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vanillaminimaps.ai/internal/logging"
	"vanillaminimaps.ai/internal/sim/minimap"
	"vanillaminimaps.ai/internal/sim/minimap/geometry"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	Minimap   MinimapTuning   `yaml:"minimap"`
	Markers   MarkersTuning   `yaml:"markers"`
	TileCache TileCacheTuning `yaml:"tile_cache"`
	Log       LogTuning       `yaml:"log"`
	Worlds    []WorldSpec     `yaml:"worlds"`
}

type MinimapTuning struct {
	Scale            int    `yaml:"scale"`
	Shape            string `yaml:"shape"`
	Position         string `yaml:"position"`
	EnabledByDefault bool   `yaml:"enabled_by_default"`
}

type MarkersTuning struct {
	DeathMarker   MarkerTuning `yaml:"death_marker"`
	CustomMarkers MarkerTuning `yaml:"custom_markers"`
}

type MarkerTuning struct {
	StickToBorder bool `yaml:"stick_to_border"`
	Limit         int  `yaml:"limit,omitempty"`
}

type TileCacheTuning struct {
	ColdMaxMB      int `yaml:"cold_max_mb"`
	ColdTTLSeconds int `yaml:"cold_ttl_seconds"`
	// SnapshotEverySeconds controls how often live tiles are written to disk; 0 writes only on shutdown.
	SnapshotEverySeconds int `yaml:"snapshot_every_seconds"`
}

type LogTuning struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// WorldSpec describes one world served by the demo terrain renderer.
type WorldSpec struct {
	ID       string `yaml:"id"`
	Seed     int64  `yaml:"seed"`
	SeaLevel int    `yaml:"sea_level"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		Minimap: MinimapTuning{
			Scale:            1,
			Shape:            "circle",
			Position:         "left",
			EnabledByDefault: true,
		},
		Markers: MarkersTuning{
			DeathMarker:   MarkerTuning{StickToBorder: true},
			CustomMarkers: MarkerTuning{StickToBorder: true, Limit: 5},
		},
		TileCache: TileCacheTuning{
			ColdMaxMB:      64,
			ColdTTLSeconds: 120,
		},
		Log: LogTuning{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Worlds: []WorldSpec{
			{ID: "overworld", Seed: 1337, SeaLevel: 62},
		},
	}
}

// Load reads a tuning file over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.Minimap.Scale <= 0 {
		t.Minimap.Scale = 1
	}
	t.Minimap.Shape = strings.ToLower(strings.TrimSpace(t.Minimap.Shape))
	if t.Minimap.Shape == "" {
		t.Minimap.Shape = "circle"
	}
	t.Minimap.Position = strings.ToLower(strings.TrimSpace(t.Minimap.Position))
	if t.Minimap.Position == "" {
		t.Minimap.Position = "left"
	}
	if t.TileCache.ColdTTLSeconds <= 0 {
		t.TileCache.ColdTTLSeconds = 120
	}
	for i := range t.Worlds {
		t.Worlds[i].ID = strings.TrimSpace(t.Worlds[i].ID)
	}
}

func (t Tuning) Validate() error {
	t.Normalize()
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be <= 1000")
	}
	if t.Minimap.Scale > 64 {
		return fmt.Errorf("minimap.scale must be in [1, 64]")
	}
	if _, err := geometry.ParseShape(t.Minimap.Shape); err != nil {
		return fmt.Errorf("minimap.shape: %w", err)
	}
	if _, err := minimap.ParsePosition(t.Minimap.Position); err != nil {
		return fmt.Errorf("minimap.position: %w", err)
	}
	if t.Markers.CustomMarkers.Limit < 0 {
		return fmt.Errorf("markers.custom_markers.limit must be >= 0")
	}
	if t.TileCache.ColdMaxMB < 0 {
		return fmt.Errorf("tile_cache.cold_max_mb must be >= 0")
	}
	if t.TileCache.SnapshotEverySeconds < 0 {
		return fmt.Errorf("tile_cache.snapshot_every_seconds must be >= 0")
	}
	if len(t.Worlds) == 0 {
		return fmt.Errorf("worlds must not be empty")
	}
	seen := map[string]bool{}
	for _, w := range t.Worlds {
		if w.ID == "" {
			return fmt.Errorf("world id must not be empty")
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

// Settings converts the tuning into the values every minimap operation reads.
func (t Tuning) Settings() (minimap.Settings, error) {
	shape, err := geometry.ParseShape(t.Minimap.Shape)
	if err != nil {
		return minimap.Settings{}, err
	}
	return minimap.Settings{
		Scale: t.Minimap.Scale,
		Shape: shape,
		DeathMarker: minimap.MarkerSettings{
			StickToBorder: t.Markers.DeathMarker.StickToBorder,
		},
		CustomMarkers: minimap.MarkerSettings{
			StickToBorder: t.Markers.CustomMarkers.StickToBorder,
			Limit:         t.Markers.CustomMarkers.Limit,
		},
	}, nil
}

func (t Tuning) CacheConfig() tilecache.Config {
	return tilecache.Config{
		ColdMaxCost: int64(t.TileCache.ColdMaxMB) << 20,
		ColdTTL:     time.Duration(t.TileCache.ColdTTLSeconds) * time.Second,
	}
}

func (t Tuning) LogConfig() logging.Config {
	return logging.Config{
		Level:      t.Log.Level,
		Format:     t.Log.Format,
		File:       t.Log.File,
		MaxSizeMB:  t.Log.MaxSizeMB,
		MaxBackups: t.Log.MaxBackups,
		MaxAgeDays: t.Log.MaxAgeDays,
	}
}

func (t Tuning) TickInterval() time.Duration {
	return time.Second / time.Duration(max(t.TickRateHz, 1))
}
