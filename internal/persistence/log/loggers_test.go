package log

import (
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"citysim/internal/city"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/tuning"
)

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "frames")
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"n": 2}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	files, err := ListFiles(dir, "frames")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		filepath.Join(dir, "frames-2026-03-01-10.jsonl.zst"),
		filepath.Join(dir, "frames-2026-03-01-11.jsonl.zst"),
	}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("files=%v", files)
	}
	var lines []string
	if err := Scan(files, func(b []byte) error { lines = append(lines, string(b)); return nil }); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{`{"n":1}`, `{"n":2}`}) {
		t.Fatalf("lines=%v", lines)
	}
}

func TestRunLogger_RoundTrip(t *testing.T) {
	tune := tuning.Defaults()
	tune.Actors.Max = 15
	g := city.Generate(tune.GenConfig(), city.NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(6)))
	d := clock.New(clock.Config{Tuning: tune, Seed: 6}, g)

	rl := NewRunLogger(t.TempDir())
	d.AddFrameSink(rl)
	d.AddEventSink(rl)
	d.AddRunSink(rl)
	if !d.Start() {
		t.Fatalf("start: %s", d.Status())
	}
	for d.State() == clock.Running {
		d.Tick(time.Second)
	}

	frames, err := ReadFrames(rl.RunDir(d.Info().RunID))
	if err != nil {
		t.Fatalf("ReadFrames: %v", err)
	}
	recorded := d.Frames()
	if len(frames) != len(recorded) {
		t.Fatalf("logged %d frames, recorded %d", len(frames), len(recorded))
	}
	for i := range frames {
		if frames[i].Digest != recorded[i].Digest {
			t.Fatalf("frame %d: digest %s want %s", i, frames[i].Digest, recorded[i].Digest)
		}
	}
	if err := clock.VerifyDigests(frames); err != nil {
		t.Fatalf("VerifyDigests: %v", err)
	}

	events, err := ReadEvents(rl.RunDir(d.Info().RunID))
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	total := 0
	for _, a := range d.Registry().All() {
		total += len(a.Log)
	}
	if len(events) != total {
		t.Fatalf("events=%d want %d", len(events), total)
	}

	if err := rl.WriteFrame("other", frames[0]); err == nil {
		t.Fatalf("write after finish must fail")
	}
}
