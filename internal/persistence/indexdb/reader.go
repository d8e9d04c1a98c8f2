package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vanillaminimaps.ai/internal/sim/hud"
)

// Reader runs ad-hoc queries against a store database, e.g. from the admin tool.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Player(ctx context.Context, id uuid.UUID) (hud.PlayerState, bool, error) {
	return loadPlayer(ctx, r.db, id)
}

func (r *Reader) Players(ctx context.Context) ([]hud.PlayerState, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player FROM players ORDER BY player`)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			_ = rows.Close()
			return nil, err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("player row %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	out := make([]hud.PlayerState, 0, len(ids))
	for _, id := range ids {
		st, ok, err := loadPlayer(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// Events returns the newest events, newest first. A zero player matches everyone.
func (r *Reader) Events(ctx context.Context, player uuid.UUID, limit int) ([]hud.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT tick,at,player,kind,marker,value,world,x,z FROM events`
	args := []any{}
	if player != uuid.Nil {
		q += ` WHERE player=?`
		args = append(args, player.String())
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []hud.Event
	for rows.Next() {
		var (
			e                    hud.Event
			tick                 int64
			at, id               string
			marker, value, world sql.NullString
		)
		if err := rows.Scan(&tick, &at, &id, &e.Kind, &marker, &value, &world, &e.X, &e.Z); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		e.Time, _ = time.Parse(time.RFC3339Nano, at)
		e.Player, _ = uuid.Parse(id)
		e.Marker, e.Value, e.World = marker.String, value.String, world.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Reader) TileSnapshots(ctx context.Context) ([]TileSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path,written_at,tiles,worlds,bytes FROM tile_snapshots ORDER BY written_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TileSnapshot
	for rows.Next() {
		var (
			sn TileSnapshot
			at string
		)
		if err := rows.Scan(&sn.Path, &at, &sn.Tiles, &sn.Worlds, &sn.Bytes); err != nil {
			return nil, err
		}
		sn.WrittenAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, sn)
	}
	return out, rows.Err()
}
