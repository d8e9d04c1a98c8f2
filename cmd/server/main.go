package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"vanillaminimaps.ai/internal/logging"
	"vanillaminimaps.ai/internal/persistence/indexdb"
	persistlog "vanillaminimaps.ai/internal/persistence/log"
	"vanillaminimaps.ai/internal/persistence/snapshot"
	"vanillaminimaps.ai/internal/protocol"
	"vanillaminimaps.ai/internal/sim/hud"
	"vanillaminimaps.ai/internal/sim/minimap"
	"vanillaminimaps.ai/internal/sim/minimap/icons"
	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
	"vanillaminimaps.ai/internal/sim/terrain"
	"vanillaminimaps.ai/internal/sim/tuning"
	"vanillaminimaps.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		iconsPath  = flag.String("icons", "", "path to icons.yaml with extra marker icons (optional)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite player store (state is kept in memory only)")
		loadTiles  = flag.Bool("load_latest_tiles", true, "prewarm the tile cache from the latest tile snapshot")
		keepTiles  = flag.Int("keep_tile_snapshots", 3, "tile snapshots kept on disk")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if errors.Is(err, os.ErrNotExist) {
		tune = tuning.Defaults()
		tune.Normalize()
		err = nil
	}
	if err != nil {
		logrus.WithError(err).Fatal("load tuning")
	}

	logger, logCloser := logging.New(tune.LogConfig().FromEnv())
	defer logCloser.Close()
	log := logging.Component(logger, "server")
	if tune.ProtocolVersion != protocol.Version {
		log.WithFields(logrus.Fields{"tuning": tune.ProtocolVersion, "server": protocol.Version}).Warn("protocol version mismatch; clients must speak the server version")
	}

	settings, err := tune.Settings()
	if err != nil {
		log.WithError(err).Fatal("minimap settings")
	}
	position, _ := minimap.ParsePosition(tune.Minimap.Position)

	iconSet, err := icons.Load(*iconsPath)
	if err != nil {
		log.WithError(err).Fatal("load icons")
	}

	var worlds []terrain.World
	for _, w := range tune.Worlds {
		worlds = append(worlds, terrain.World{ID: tilecache.WorldID(w.ID), Seed: w.Seed, SeaLevel: w.SeaLevel})
	}
	gen, err := terrain.New(worlds...)
	if err != nil {
		log.WithError(err).Fatal("terrain")
	}

	tiles, err := tilecache.New(gen, tune.CacheConfig(), logger)
	if err != nil {
		log.WithError(err).Fatal("tile cache")
	}
	defer tiles.Close()

	tilesDir := filepath.Join(*dataDir, "tiles")
	if *loadTiles {
		prewarm(tiles, tilesDir, log)
	}

	var store *indexdb.SQLiteStore
	var hudStore hud.Store
	var sinks hud.MultiSink
	if !*disableDB {
		store, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "minimaps.sqlite"))
		if err != nil {
			log.WithError(err).Fatal("open player store")
		}
		defer store.Close()
		hudStore = store
		sinks = append(sinks, store)
	}
	eventLog := persistlog.NewEventLogger(*dataDir)
	defer eventLog.Close()
	statusLog := persistlog.NewStatusLogger(*dataDir)
	defer statusLog.Close()
	sinks = append(sinks, eventLog)

	hub := ws.NewHub(logger)
	svc := hud.New(hud.Config{
		TickRateHz:       tune.TickRateHz,
		DefaultPosition:  position,
		EnabledByDefault: tune.Minimap.EnabledByDefault,
	}, minimap.Env{
		Sender:   hub,
		Icons:    iconSet,
		Settings: settings,
		Log:      logger,
	}, tiles, hudStore, sinks)

	ctx, cancel := signalContext()
	defer cancel()

	svcDone := make(chan struct{})
	go func() {
		defer close(svcDone)
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("hud service stopped")
		}
	}()

	snapshots := &tileSnapshotter{
		tiles: tiles,
		dir:   tilesDir,
		keep:  *keepTiles,
		store: store,
		log:   logging.Component(logger, "tile_snapshot"),
	}
	if every := tune.TileCache.SnapshotEverySeconds; every > 0 {
		go snapshots.loop(ctx, time.Duration(every)*time.Second)
	}
	go logStatus(ctx, svc, statusLog, log)

	wsSrv := ws.NewServer(svc, hub, protocol.MinimapSettings{
		TickRateHz: tune.TickRateHz,
		Scale:      settings.Scale,
		Shape:      settings.Shape.String(),
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(routes{svc: svc, hub: hub, store: store, ws: wsSrv, icons: iconSet, snapshots: snapshots}, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	log.WithFields(logrus.Fields{"addr": *addr, "worlds": len(worlds), "tick_rate_hz": tune.TickRateHz}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ListenAndServe")
	}

	cancel()
	<-svcDone
	snapshots.write()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func prewarm(tiles *tilecache.Cache, dir string, log logrus.FieldLogger) {
	path, err := snapshot.Latest(dir)
	if err != nil || path == "" {
		return
	}
	snap, err := snapshot.ReadTiles(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("read tile snapshot")
		return
	}
	n := tiles.Prewarm(snap.Records)
	log.WithFields(logrus.Fields{"path": filepath.Base(path), "tiles": n}).Info("prewarmed tile cache")
}

func logStatus(ctx context.Context, svc *hud.Service, out *persistlog.StatusLogger, log logrus.FieldLogger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			st, err := svc.Status(sctx)
			cancel()
			if err != nil {
				continue
			}
			if err := out.WriteStatus(st); err != nil {
				log.WithError(err).Warn("status journal write failed")
			}
		}
	}
}
