package snapshot

import (
	"math/rand"
	"os"
	"testing"
	"time"

	"citysim/internal/city"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/tuning"
)

func finishedRun(t *testing.T) (*clock.Driver, *Writer) {
	t.Helper()
	tune := tuning.Defaults()
	tune.Actors.Max = 25
	g := city.Generate(tune.GenConfig(), city.NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(9)))
	d := clock.New(clock.Config{Tuning: tune, Seed: 9}, g)
	w := NewWriter(t.TempDir())
	d.AddRunSink(w)
	if !d.Start() {
		t.Fatalf("start: %s", d.Status())
	}
	for d.State() == clock.Running {
		d.Tick(2 * time.Second)
	}
	return d, w
}

func TestSnapshot_WrittenOnFinish(t *testing.T) {
	d, w := finishedRun(t)
	if w.Last() != w.PathFor(d.Info().RunID) {
		t.Fatalf("last=%q", w.Last())
	}
	if _, err := os.Stat(w.Last()); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}

	h, err := ReadHeader(w.Last())
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.RunID != d.Info().RunID || h.Seed != 9 || h.Frames != d.FrameCount() {
		t.Fatalf("header=%+v", h)
	}

	snap, err := ReadSnapshot(w.Last())
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	last, _ := d.LastFrame()
	if snap.LastDigest != last.Digest {
		t.Fatalf("digest=%s want %s", snap.LastDigest, last.Digest)
	}
	if len(snap.Actors) != d.Registry().Len() || len(snap.Couriers) != len(d.Couriers()) {
		t.Fatalf("actors=%d couriers=%d", len(snap.Actors), len(snap.Couriers))
	}
	for i, a := range d.Registry().All() {
		got := snap.Actors[i]
		if got.Schedule != a.Schedule || len(got.Log) != len(a.Log) || len(got.Paths) != len(a.Paths) {
			t.Fatalf("actor %d does not round-trip", a.ID)
		}
		if got.Phase != a.Phase.String() {
			t.Fatalf("actor %d phase=%s want %s", a.ID, got.Phase, a.Phase)
		}
	}

	g, err := snap.Grid()
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	orig := d.Grid()
	if g.Width() != orig.Width() || g.Height() != orig.Height() || len(g.Names()) != len(orig.Names()) {
		t.Fatalf("grid does not round-trip")
	}
	for i, c := range orig.Tiles() {
		if g.Tiles()[i] != c {
			t.Fatalf("tile %d differs", i)
		}
	}
}

func TestSnapshot_ValidateRejects(t *testing.T) {
	d, w := finishedRun(t)
	snap, err := ReadSnapshot(w.PathFor(d.Info().RunID))
	if err != nil {
		t.Fatal(err)
	}

	bad := snap
	bad.Header.Version = 99
	if bad.Validate() == nil {
		t.Fatalf("version accepted")
	}

	bad = snap
	bad.Actors = append([]ActorV1(nil), snap.Actors...)
	bad.Actors[0].Phase = "dancing"
	if bad.Validate() == nil {
		t.Fatalf("unknown phase accepted")
	}

	bad.Actors[0] = snap.Actors[0]
	bad.Actors[0].Schedule.WorkEnd = bad.Actors[0].Schedule.WorkStart - 1
	if bad.Validate() == nil {
		t.Fatalf("broken schedule accepted")
	}

	if _, err := ReadSnapshot(w.PathFor("missing")); !os.IsNotExist(err) {
		t.Fatalf("missing file: %v", err)
	}
}
