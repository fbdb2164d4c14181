package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	persistlog "citysim/internal/persistence/log"
	"citysim/internal/persistence/snapshot"
	"citysim/internal/report"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/tuning"
)

func main() {
	var (
		runDir     = flag.String("run", "", "run log directory (<data>/runs/<run_id>) holding frames/ and events/")
		snapPath   = flag.String("snapshot", "", "path to <run_id>.snap.zst (optional)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning the run was recorded with (for -resim)")
		resim      = flag.Bool("resim", false, "re-run the day from the snapshot's city and seed and compare every frame digest")
		actorID    = flag.Int("actor", -1, "print only this actor's itinerary (with -snapshot)")
	)
	flag.Parse()

	if *runDir == "" && *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -run or -snapshot")
		os.Exit(2)
	}

	var frames []clock.Frame
	if *runDir != "" {
		var err error
		frames, err = persistlog.ReadFrames(*runDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read frames:", err)
			os.Exit(1)
		}
		if err := verifyFrames(frames); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		events, err := persistlog.ReadEvents(*runDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read events:", err)
			os.Exit(1)
		}
		last := frames[len(frames)-1]
		fmt.Printf("replay ok: frames=%d events=%d last_hour=%.3f digest=%s\n", len(frames), len(events), last.Hour, last.Digest)
	}

	if *snapPath == "" {
		return
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d run=%s seed=%d frames=%d city=%dx%d actors=%d couriers=%d\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Seed, snap.Header.Frames,
		snap.Width, snap.Height, len(snap.Actors), len(snap.Couriers))

	if *resim {
		if len(frames) == 0 {
			fmt.Fprintln(os.Stderr, "-resim needs -run")
			os.Exit(2)
		}
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		if err := resimulate(snap, tune, frames); err != nil {
			fmt.Fprintln(os.Stderr, "resim:", err)
			os.Exit(1)
		}
		fmt.Printf("resim ok: %d frames reproduced\n", len(frames))
	}

	if err := printItineraries(os.Stdout, snap, *actorID); err != nil {
		fmt.Fprintln(os.Stderr, "itinerary:", err)
		os.Exit(1)
	}
}

// verifyFrames checks digests and sequence, then plays the log twice and
// requires identical output.
func verifyFrames(frames []clock.Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames")
	}
	if err := clock.VerifyDigests(frames); err != nil {
		return err
	}
	if frames[0].Seq != 0 {
		return fmt.Errorf("log starts at seq %d", frames[0].Seq)
	}
	p := clock.NewPlayer(frames)
	first := p.PlayAll()
	second := p.PlayAll()
	if len(first) != len(frames) || !reflect.DeepEqual(first, second) {
		return fmt.Errorf("replay is not idempotent")
	}
	return nil
}

// resimulate rebuilds the city from the snapshot, restarts the day with the
// recorded seed and feeds the recorded real-time deltas back into Tick.
func resimulate(snap snapshot.RunV1, tune tuning.Tuning, frames []clock.Frame) error {
	g, err := snap.Grid()
	if err != nil {
		return err
	}
	d := clock.New(clock.Config{Tuning: tune, Seed: snap.Header.Seed}, g)
	if !d.Start() {
		return fmt.Errorf("start: %s", d.Status())
	}
	var prev time.Duration
	for i, want := range frames {
		at := time.Duration(math.Round(want.RealElapsed * float64(time.Second)))
		got, ok := d.Tick(at - prev)
		prev = at
		if !ok {
			return fmt.Errorf("frame %d: driver stopped early (state %s)", i, d.State())
		}
		if got.Digest != want.Digest {
			return fmt.Errorf("frame %d (hour %.4f): digest %s, recorded %s", i, want.Hour, got.Digest, want.Digest)
		}
	}
	return nil
}

func printItineraries(w io.Writer, snap snapshot.RunV1, only int) error {
	names := snap.NameMap()
	found := false
	for _, a := range snap.Actors {
		if only >= 0 && a.ID != only {
			continue
		}
		found = true
		if _, err := w.Write(report.Markdown(report.FromSnapshot(a, names))); err != nil {
			return err
		}
		fmt.Fprintln(w, strings.Repeat("-", 40))
	}
	if only >= 0 && !found {
		return fmt.Errorf("actor %d not in snapshot", only)
	}
	return nil
}
