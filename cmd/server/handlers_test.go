package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"citysim/internal/city"
	"citysim/internal/persistence/archive"
	"citysim/internal/persistence/indexdb"
	"citysim/internal/persistence/snapshot"
	"citysim/internal/protocol"
	"citysim/internal/report"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/tuning"
	"citysim/internal/transport/observer"
)

func testGrid(tune tuning.Tuning, seed int64) *city.Grid {
	return city.Generate(tune.GenConfig(), city.NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(seed)))
}

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	tune := tuning.Defaults()
	tune.Actors.Max = 15
	d := clock.New(clock.Config{Tuning: tune, Seed: 6}, testGrid(tune, 6))

	quiet := log.New(io.Discard, "", 0)
	obs, err := observer.NewServer(d, quiet, observer.Options{})
	if err != nil {
		t.Fatalf("observer: %v", err)
	}
	d.AddRunSink(obs)
	d.AddFrameSink(obs)
	d.AddEventSink(obs)

	a, err := newAPI(d, obs, nil, quiet)
	if err != nil {
		t.Fatalf("newAPI: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	mux := http.NewServeMux()
	a.routes(mux)
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return hs
}

func get(t *testing.T, hs *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(hs.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func control(t *testing.T, hs *httptest.Server, body string) (int, controlResponse) {
	t.Helper()
	resp, err := http.Post(hs.URL+"/v1/control", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST control: %v", err)
	}
	defer resp.Body.Close()
	var out controlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return resp.StatusCode, out
}

func op(id, name string) string {
	return `{"type":"CONTROL","protocol_version":"1.0","id":"` + id + `","op":"` + name + `"}`
}

func TestServerAPI_ControlAndItinerary(t *testing.T) {
	hs := newTestAPI(t)

	if code, _ := get(t, hs, "/healthz"); code != 200 {
		t.Fatalf("healthz=%d", code)
	}
	if code, _ := get(t, hs, "/v1/actors/0/itinerary"); code != http.StatusNotFound {
		t.Fatalf("itinerary before start=%d", code)
	}

	code, ack := control(t, hs, op("c1", "START"))
	if code != 200 || !ack.Accepted || ack.AckFor != "c1" || ack.State != "running" || ack.RunID == "" {
		t.Fatalf("start: code=%d ack=%+v", code, ack)
	}
	if code, ack := control(t, hs, op("c2", "START")); code != http.StatusConflict || ack.Code != protocol.ErrInvalidState {
		t.Fatalf("second start: code=%d ack=%+v", code, ack)
	}

	code, body := get(t, hs, "/v1/actors/0/itinerary")
	if code != 200 {
		t.Fatalf("itinerary=%d %s", code, body)
	}
	var res report.Resident
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		t.Fatalf("decode resident: %v", err)
	}
	if res.ID != 0 || res.Home == "" || res.Work == "" {
		t.Fatalf("resident=%+v", res)
	}

	code, body = get(t, hs, "/v1/actors/0/itinerary.html")
	if code != 200 || !strings.Contains(body, "<table>") {
		t.Fatalf("itinerary.html=%d %q", code, body)
	}
	if code, _ := get(t, hs, "/v1/actors/0/paths"); code != 200 {
		t.Fatalf("paths=%d", code)
	}
	if code, _ := get(t, hs, "/v1/actors/9999/paths"); code != http.StatusNotFound {
		t.Fatalf("paths of unknown actor=%d", code)
	}
	if code, _ := get(t, hs, "/v1/actors/x/itinerary"); code != http.StatusBadRequest {
		t.Fatalf("bad id=%d", code)
	}

	// wait for at least one frame so REPLAY has something to hand back
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, m := get(t, hs, "/metrics")
		if !strings.Contains(m, "citysim_run_frames{state=\"running\"} 0\n") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no frames recorded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if code, ack := control(t, hs, op("c3", "PAUSE")); code != 200 || ack.State != "paused" {
		t.Fatalf("pause: code=%d ack=%+v", code, ack)
	}
	if code, ack := control(t, hs, op("c4", "REPLAY")); code != 200 || ack.ReplayFrames == 0 {
		t.Fatalf("replay: code=%d ack=%+v", code, ack)
	}
}

func TestServerAPI_RejectsBadControl(t *testing.T) {
	hs := newTestAPI(t)

	cases := []struct {
		body string
		code string
	}{
		{`not json`, protocol.ErrProtoBadRequest},
		{`{"type":"CONTROL","protocol_version":"0.1","id":"x","op":"START"}`, protocol.ErrProtoVersion},
		{`{"type":"CONTROL","protocol_version":"1.0","id":"x","op":"JUMP"}`, protocol.ErrBadRequest},
		{`{"type":"HELLO","protocol_version":"1.0","client_name":"x"}`, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		status, ack := control(t, hs, tc.body)
		if status != http.StatusBadRequest || ack.Accepted || ack.Code != tc.code {
			t.Fatalf("%s: status=%d ack=%+v want code %s", tc.body, status, ack, tc.code)
		}
	}
	if code, _ := get(t, hs, "/v1/runs"); code != http.StatusNotFound {
		t.Fatalf("runs without index=%d", code)
	}
}

func TestServerAPI_Metrics(t *testing.T) {
	hs := newTestAPI(t)
	code, body := get(t, hs, "/metrics")
	if code != 200 {
		t.Fatalf("metrics=%d", code)
	}
	for _, want := range []string{
		"citysim_run_frames{state=\"idle\"} 0",
		"citysim_actors{state=\"asleep\"} 0",
		"citysim_couriers_active 0",
		"citysim_observer_sessions 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestFinisher_SnapshotsArchivesAndIndexes(t *testing.T) {
	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()

	tune := tuning.Defaults()
	tune.Actors.Max = 10
	tune.RealDaySeconds = 12
	d := clock.New(clock.Config{Tuning: tune, Seed: 9}, testGrid(tune, 9))
	fin := newFinisher(dir, idx, log.New(io.Discard, "", 0))
	d.AddRunSink(idx)
	d.AddFrameSink(idx)
	d.AddRunSink(fin)

	if !d.Start() {
		t.Fatalf("start: %s", d.Status())
	}
	runID := d.Info().RunID
	for d.State() == clock.Running {
		d.Tick(100 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fin.run(ctx); err != nil {
		t.Fatalf("finisher: %v", err)
	}

	path := fin.snaps.PathFor(runID)
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Header.RunID != runID || snap.Header.Frames != d.FrameCount() {
		t.Fatalf("header=%+v", snap.Header)
	}

	archives, err := filepath.Glob(filepath.Join(dir, "archives", "*_"+runID))
	if err != nil || len(archives) != 1 {
		t.Fatalf("archives=%v err=%v", archives, err)
	}
	meta, err := archive.ReadMeta(archives[0])
	if err != nil || meta.RunID != runID {
		t.Fatalf("meta=%+v err=%v", meta, err)
	}

	if err := idx.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	runs, err := idx.Runs(context.Background(), 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
	if runs[0].SnapshotPath != path {
		t.Fatalf("snapshot path=%q want %q", runs[0].SnapshotPath, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
