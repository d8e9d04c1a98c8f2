package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/persistence/indexdb"
	"vanillaminimaps.ai/internal/persistence/snapshot"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

type tileSnapshotter struct {
	tiles *tilecache.Cache
	dir   string
	keep  int
	store *indexdb.SQLiteStore // nil when the db is disabled
	log   logrus.FieldLogger

	mu sync.Mutex
}

func (s *tileSnapshotter) loop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.write()
		}
	}
}

func (s *tileSnapshotter) write() {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.tiles.Export()
	if len(records) == 0 {
		return
	}
	path := filepath.Join(s.dir, snapshot.FileName(time.Now()))
	h, size, err := snapshot.WriteTiles(path, records)
	if err != nil {
		s.log.WithError(err).Error("write tile snapshot")
		return
	}
	s.log.WithFields(logrus.Fields{"path": filepath.Base(path), "tiles": h.Tiles, "bytes": size}).Info("tile snapshot written")
	if s.store != nil {
		s.store.RecordTileSnapshot(indexdb.TileSnapshot{
			Path:      path,
			WrittenAt: h.WrittenAt,
			Tiles:     h.Tiles,
			Worlds:    h.Worlds,
			Bytes:     size,
		})
	}
	if n, err := snapshot.Prune(s.dir, s.keep); err != nil {
		s.log.WithError(err).Warn("prune tile snapshots")
	} else if n > 0 {
		s.log.WithField("removed", n).Debug("pruned tile snapshots")
	}
}
