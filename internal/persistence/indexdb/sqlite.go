// Package indexdb keeps per-player minimap state and a queryable event index in SQLite.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vanillaminimaps.ai/internal/sim/hud"
)

var ErrClosed = errors.New("indexdb: store closed")

// SQLiteStore implements hud.Store and hud.EventSink. Every statement runs on one writer
// goroutine, so a LoadPlayer always observes earlier SavePlayer calls even before they commit.
type SQLiteStore struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once
	mu   sync.RWMutex // guards sends on ch against Close

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSavePlayer
	reqLoadPlayer
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	event    hud.Event
	player   hud.PlayerState
	id       uuid.UUID
	snapshot TileSnapshot

	done chan error
	load chan loadResult
}

type loadResult struct {
	st  hud.PlayerState
	ok  bool
	err error
}

// TileSnapshot describes one tile cache snapshot file written to disk.
type TileSnapshot struct {
	Path      string    `json:"path"`
	WrittenAt time.Time `json:"written_at"`
	Tiles     int       `json:"tiles"`
	Worlds    int       `json:"worlds"`
	Bytes     int64     `json:"bytes"`
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropEventTotal    uint64
	DropSnapshotTotal uint64
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db: db,
		// Events burst on joins and command spam; the hud loop must never stall on the index.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			player TEXT PRIMARY KEY,
			enabled INTEGER NOT NULL,
			position TEXT NOT NULL,
			death_world TEXT,
			death_x INTEGER,
			death_z INTEGER,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS markers (
			player TEXT NOT NULL REFERENCES players(player) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			icon TEXT NOT NULL,
			world TEXT NOT NULL,
			x REAL NOT NULL,
			z REAL NOT NULL,
			depth REAL NOT NULL,
			PRIMARY KEY (player, name)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			at TEXT NOT NULL,
			player TEXT NOT NULL,
			kind TEXT NOT NULL,
			marker TEXT,
			value TEXT,
			world TEXT,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_player_tick ON events(player, tick);`,
		`CREATE TABLE IF NOT EXISTS tile_snapshots (
			path TEXT PRIMARY KEY,
			written_at TEXT NOT NULL,
			tiles INTEGER NOT NULL,
			worlds INTEGER NOT NULL,
			bytes INTEGER NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// send enqueues r. With block unset a full queue drops the request and reports false.
func (s *SQLiteStore) send(ctx context.Context, r req, block bool) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return false, ErrClosed
	}
	if !block {
		select {
		case s.ch <- r:
			return true, nil
		default:
			return false, nil
		}
	}
	select {
	case s.ch <- r:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// WriteEvent indexes e. It never blocks; events are dropped when the writer falls behind since
// the JSONL journal remains the source of truth.
func (s *SQLiteStore) WriteEvent(e hud.Event) error {
	if s == nil {
		return nil
	}
	ok, err := s.send(context.Background(), req{kind: reqEvent, event: e}, false)
	if err == nil && !ok {
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteStore) RecordTileSnapshot(snap TileSnapshot) {
	if s == nil {
		return
	}
	ok, err := s.send(context.Background(), req{kind: reqSnapshot, snapshot: snap}, false)
	if err == nil && !ok {
		s.dropSnapshot.Add(1)
	}
}

// SavePlayer replaces the stored state of st.Player and commits before returning.
func (s *SQLiteStore) SavePlayer(ctx context.Context, st hud.PlayerState) error {
	done := make(chan error, 1)
	if _, err := s.send(ctx, req{kind: reqSavePlayer, player: st, done: done}, true); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) LoadPlayer(ctx context.Context, id uuid.UUID) (hud.PlayerState, bool, error) {
	resp := make(chan loadResult, 1)
	if _, err := s.send(ctx, req{kind: reqLoadPlayer, id: id, load: resp}, true); err != nil {
		return hud.PlayerState{}, false, err
	}
	select {
	case r := <-resp:
		return r.st, r.ok, r.err
	case <-ctx.Done():
		return hud.PlayerState{}, false, ctx.Err()
	}
}

// Flush commits everything queued before it.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	if _, err := s.send(ctx, req{kind: reqFlush, done: done}, true); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteStore) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteStore) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() error {
		if tx != nil {
			return nil
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
		return nil
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
			if !ok {
				_ = commit()
				return
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				_ = commit()
			}
			continue
		}

		if err := begin(); err != nil {
			reply(r, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		switch r.kind {
		case reqEvent:
			if err := insertEvent(ctx, tx, r.event); err != nil {
				rollback()
				continue
			}
			opCount++
		case reqSnapshot:
			if err := insertSnapshot(ctx, tx, r.snapshot); err != nil {
				rollback()
				continue
			}
			opCount++
		case reqSavePlayer:
			err := savePlayer(ctx, tx, r.player)
			if err != nil {
				rollback()
			} else {
				err = commit()
			}
			reply(r, err)
			continue
		case reqLoadPlayer:
			st, found, err := loadPlayer(ctx, tx, r.id)
			r.load <- loadResult{st: st, ok: found, err: err}
			continue
		case reqFlush:
			reply(r, commit())
			continue
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}
}

func reply(r req, err error) {
	switch {
	case r.done != nil:
		r.done <- err
	case r.load != nil:
		r.load <- loadResult{err: err}
	}
}

func insertEvent(ctx context.Context, tx *sql.Tx, e hud.Event) error {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events(tick,at,player,kind,marker,value,world,x,z) VALUES(?,?,?,?,?,?,?,?,?)`,
		int64(e.Tick), at.UTC().Format(time.RFC3339Nano), e.Player.String(), e.Kind,
		e.Marker, e.Value, e.World, e.X, e.Z,
	)
	return err
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, sn TileSnapshot) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO tile_snapshots(path,written_at,tiles,worlds,bytes) VALUES(?,?,?,?,?)`,
		sn.Path, sn.WrittenAt.UTC().Format(time.RFC3339Nano), sn.Tiles, sn.Worlds, sn.Bytes,
	)
	return err
}

func savePlayer(ctx context.Context, tx *sql.Tx, st hud.PlayerState) error {
	id := st.Player.String()
	var (
		deathWorld     sql.NullString
		deathX, deathZ sql.NullInt64
	)
	if d := st.Death; d != nil {
		deathWorld = sql.NullString{String: d.World, Valid: true}
		deathX = sql.NullInt64{Int64: int64(d.X), Valid: true}
		deathZ = sql.NullInt64{Int64: int64(d.Z), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO players(player,enabled,position,death_world,death_x,death_z,updated_at) VALUES(?,?,?,?,?,?,?)`,
		id, st.Enabled, st.Position, deathWorld, deathX, deathZ, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("save player %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM markers WHERE player=?`, id); err != nil {
		return fmt.Errorf("clear markers %s: %w", id, err)
	}
	for i, m := range st.Markers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO markers(player,seq,name,icon,world,x,z,depth) VALUES(?,?,?,?,?,?,?,?)`,
			id, i, m.Name, m.Icon, m.World, m.X, m.Z, float64(m.Depth),
		); err != nil {
			return fmt.Errorf("save marker %q of %s: %w", m.Name, id, err)
		}
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadPlayer(ctx context.Context, q querier, id uuid.UUID) (hud.PlayerState, bool, error) {
	st := hud.PlayerState{Player: id}
	var (
		deathWorld     sql.NullString
		deathX, deathZ sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT enabled,position,death_world,death_x,death_z FROM players WHERE player=?`, id.String(),
	).Scan(&st.Enabled, &st.Position, &deathWorld, &deathX, &deathZ)
	if errors.Is(err, sql.ErrNoRows) {
		return hud.PlayerState{}, false, nil
	}
	if err != nil {
		return hud.PlayerState{}, false, err
	}
	if deathWorld.Valid {
		st.Death = &hud.DeathPoint{World: deathWorld.String, X: int(deathX.Int64), Z: int(deathZ.Int64)}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT name,icon,world,x,z,depth FROM markers WHERE player=? ORDER BY seq`, id.String())
	if err != nil {
		return hud.PlayerState{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			m     hud.MarkerState
			depth float64
		)
		if err := rows.Scan(&m.Name, &m.Icon, &m.World, &m.X, &m.Z, &depth); err != nil {
			return hud.PlayerState{}, false, err
		}
		m.Depth = float32(depth)
		st.Markers = append(st.Markers, m)
	}
	return st, true, rows.Err()
}
