// Package snapshot persists the tile cache so a restarted server can skip re-rendering the
// regions players were standing in.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"vanillaminimaps.ai/internal/sim/minimap/tilecache"
)

const (
	Version = 1
	Ext     = ".tiles.zst"
)

type Header struct {
	Version   int       `json:"version"`
	WrittenAt time.Time `json:"written_at"`
	Tiles     int       `json:"tiles"`
	Worlds    int       `json:"worlds"`
}

type TilesV1 struct {
	Header  Header                 `json:"header"`
	Records []tilecache.TileRecord `json:"records"`
}

// FileName is the snapshot name for t; names sort chronologically.
func FileName(t time.Time) string {
	return t.UTC().Format("20060102T150405.000Z") + Ext
}

// WriteTiles stores records at path. The file is written beside path and renamed into place,
// so readers never observe a partial snapshot.
func WriteTiles(path string, records []tilecache.TileRecord) (Header, int64, error) {
	worlds := map[tilecache.WorldID]struct{}{}
	for _, r := range records {
		worlds[r.World] = struct{}{}
	}
	snap := TilesV1{
		Header: Header{
			Version:   Version,
			WrittenAt: time.Now().UTC(),
			Tiles:     len(records),
			Worlds:    len(worlds),
		},
		Records: records,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Header{}, 0, err
	}
	tmp := path + ".tmp"
	if err := write(tmp, &snap); err != nil {
		_ = os.Remove(tmp)
		return Header{}, 0, err
	}
	fi, err := os.Stat(tmp)
	if err != nil {
		return Header{}, 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return Header{}, 0, err
	}
	return snap.Header, fi.Size(), nil
}

func write(path string, snap *TilesV1) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadTiles(path string) (TilesV1, error) {
	var snap TilesV1
	err := open(path, func(br *bufio.Reader) error {
		if _, err := br.ReadBytes('\n'); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if err := gob.NewDecoder(br).Decode(&snap); err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		return nil
	})
	if err != nil {
		return TilesV1{}, err
	}
	if snap.Header.Version != Version {
		return TilesV1{}, fmt.Errorf("unsupported tile snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := open(path, func(br *bufio.Reader) error {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		return json.Unmarshal(line, &h)
	})
	return h, err
}

func open(path string, fn func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return fn(bufio.NewReaderSize(dec, 256*1024))
}

// List returns the snapshot files in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Latest returns the newest snapshot in dir, or "" when there is none.
func Latest(dir string) (string, error) {
	files, err := List(dir)
	if err != nil || len(files) == 0 {
		return "", err
	}
	return files[len(files)-1], nil
}

// Prune deletes all but the newest keep snapshots and returns how many were removed.
func Prune(dir string, keep int) (int, error) {
	files, err := List(dir)
	if err != nil {
		return 0, err
	}
	if keep < 1 {
		keep = 1
	}
	n := 0
	for len(files) > keep {
		if err := os.Remove(files[0]); err != nil {
			return n, err
		}
		files = files[1:]
		n++
	}
	return n, nil
}
