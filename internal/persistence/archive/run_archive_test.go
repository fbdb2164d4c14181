package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"citysim/internal/persistence/snapshot"
)

func TestArchiveRunSnapshot_CopiesFinishedRun(t *testing.T) {
	dir := t.TempDir()

	// Create a dummy snapshot file.
	src := filepath.Join(dir, "snapshots", "r1.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.RunV1{
		Header:  snapshot.Header{Version: snapshot.Version, RunID: "r1", Seed: 42, Frames: 960},
		Started: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
		Width:   64,
		Height:  48,
		Actors: []snapshot.ActorV1{
			{ID: 0, Log: []snapshot.EventV1{{Kind: "wake", Hour: 7}, {Kind: "left_home", Hour: 7.5}}},
			{ID: 1, Log: []snapshot.EventV1{{Kind: "wake", Hour: 6.5}}},
		},
	}

	archivedPath, ok, err := ArchiveRunSnapshot(dir, src, snap)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archived=true")
	}
	if want := filepath.Join(dir, "archives", "20260504_r1", "r1.snap.zst"); archivedPath != want {
		t.Fatalf("archivedPath=%q want %q", archivedPath, want)
	}

	got, err := os.ReadFile(archivedPath)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("archived content mismatch: got=%q want=%q", string(got), string(want))
	}

	meta, err := ReadMeta(filepath.Dir(archivedPath))
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if meta.RunID != "r1" || meta.Seed != 42 || meta.Actors != 2 || meta.Events["wake"] != 2 || meta.Events["left_home"] != 1 {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestArchiveRunSnapshot_SkipsEmptyRun(t *testing.T) {
	_, ok, err := ArchiveRunSnapshot(t.TempDir(), "/nonexistent", snapshot.RunV1{Header: snapshot.Header{RunID: "r2"}})
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}
