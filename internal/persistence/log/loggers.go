package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"citysim/internal/sim/clock"
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
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

// RunLogger writes one frame line per tick and one event line per actor event,
// each into <baseDir>/<run_id>/{frames,events}/. A new run rotates both writers.
// It implements clock.FrameSink, clock.EventSink and clock.RunSink.
type RunLogger struct {
	baseDir string

	mu     sync.Mutex
	runID  string
	frames *JSONLZstdWriter
	events *JSONLZstdWriter
}

func NewRunLogger(baseDir string) *RunLogger {
	return &RunLogger{baseDir: baseDir}
}

func (l *RunLogger) RunDir(runID string) string { return filepath.Join(l.baseDir, runID) }

func (l *RunLogger) RunStarted(info clock.RunInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.closeLocked()
	l.runID = info.RunID
	dir := l.RunDir(info.RunID)
	l.frames = NewJSONLZstdWriter(filepath.Join(dir, "frames"), "frames")
	l.events = NewJSONLZstdWriter(filepath.Join(dir, "events"), "events")
	return err
}

func (l *RunLogger) RunFinished(clock.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *RunLogger) WriteFrame(runID string, f clock.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frames == nil || runID != l.runID {
		return fmt.Errorf("frame for run %q outside an open run", runID)
	}
	return l.frames.Write(f)
}

func (l *RunLogger) WriteEvent(rec clock.EventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.events == nil || rec.RunID != l.runID {
		return fmt.Errorf("event for run %q outside an open run", rec.RunID)
	}
	return l.events.Write(rec)
}

func (l *RunLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *RunLogger) closeLocked() error {
	var err error
	if l.frames != nil {
		err = l.frames.Close()
		l.frames = nil
	}
	if l.events != nil {
		if e := l.events.Close(); err == nil {
			err = e
		}
		l.events = nil
	}
	return err
}

// ListFiles returns the <prefix>-*.jsonl.zst files in dir in chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// Scan decodes every line of the given files in order and hands it to fn.
func Scan(files []string, fn func(line []byte) error) error {
	for _, path := range files {
		if err := scanFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func scanFile(path string, fn func(line []byte) error) error {
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

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadFrames loads the frame log of one run directory.
func ReadFrames(runDir string) ([]clock.Frame, error) {
	files, err := ListFiles(filepath.Join(runDir, "frames"), "frames")
	if err != nil {
		return nil, err
	}
	var out []clock.Frame
	err = Scan(files, func(line []byte) error {
		var f clock.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("unmarshal frame: %w", err)
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// ReadEvents loads the event log of one run directory.
func ReadEvents(runDir string) ([]clock.EventRecord, error) {
	files, err := ListFiles(filepath.Join(runDir, "events"), "events")
	if err != nil {
		return nil, err
	}
	var out []clock.EventRecord
	err = Scan(files, func(line []byte) error {
		var rec clock.EventRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}
