// Package log writes hourly-rotated, zstd-compressed JSONL journals of minimap activity.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"vanillaminimaps.ai/internal/sim/hud"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the journal files written so far, oldest first.
func (w *JSONLZstdWriter) Files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(w.baseDir, w.prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// EventLogger journals hud events. It satisfies hud.EventSink.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *EventLogger) WriteEvent(e hud.Event) error { return l.w.Write(e) }
func (l *EventLogger) Close() error                 { return l.w.Close() }

// StatusLogger journals periodic service status snapshots.
type StatusLogger struct{ w *JSONLZstdWriter }

func NewStatusLogger(dataDir string) *StatusLogger {
	return &StatusLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "status"), "status")}
}

func (l *StatusLogger) WriteStatus(st hud.Status) error { return l.w.Write(st) }
func (l *StatusLogger) Close() error                    { return l.w.Close() }

// ReadEvents decodes one event journal file. A truncated trailing frame (e.g. after a crash)
// ends the read without an error once at least one event was decoded.
func ReadEvents(path string, fn func(hud.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return DecodeEvents(f, fn)
}

func DecodeEvents(r io.Reader, fn func(hud.Event) error) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		var e hud.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("event %d: %w", n+1, err)
		}
		if err := fn(e); err != nil {
			return err
		}
		n++
	}
	if err := sc.Err(); err != nil && n == 0 {
		return err
	}
	return nil
}
