package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"citysim/internal/sim/schedule"
)

func TestLoad_RepoConfigMatchesDefaults(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Defaults()
	if got.TickRateHz != want.TickRateHz || got.RealDaySeconds != want.RealDaySeconds {
		t.Fatalf("clock mismatch: got %d/%v want %d/%v", got.TickRateHz, got.RealDaySeconds, want.TickRateHz, want.RealDaySeconds)
	}
	if got.ScheduleParams() != schedule.DefaultParams() {
		t.Fatalf("schedule params drifted:\n%+v\n%+v", got.ScheduleParams(), schedule.DefaultParams())
	}
	if got.Actors.Max != 150 || got.Delivery.DistanceThreshold != 20 {
		t.Fatalf("actors/delivery: %+v %+v", got.Actors, got.Delivery)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("real_day_seconds: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.RealDaySeconds != 60 {
		t.Fatalf("real_day_seconds=%v", got.RealDaySeconds)
	}
	if got.TickRateHz != Defaults().TickRateHz {
		t.Fatalf("tick_rate_hz lost default: %d", got.TickRateHz)
	}
	if h := got.HoursPerSecond(); h != 0.4 {
		t.Fatalf("HoursPerSecond=%v", h)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero tick":   "tick_rate_hz: 0\n",
		"speed range": "actors:\n  speed_min: 5\n  speed_max: 2\n",
		"no actors":   "actors:\n  max: 0\n",
		"over cap":    "actors:\n  max: 151\n",
		"wake range":  "schedule:\n  wake: [9, 6]\n",
		"bad yaml":    "tick_rate_hz: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "tuning.yaml")
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(p); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
