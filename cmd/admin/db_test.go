package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"citysim/internal/persistence/indexdb"
	"citysim/internal/sim/clock"
)

func TestLatestRunID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "citysim.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if id, err := latestRunID(db); err != nil || id != "" {
		t.Fatalf("empty index: id=%q err=%v", id, err)
	}

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		if err := idx.RunStarted(clock.RunInfo{RunID: id, Seed: int64(i), Started: base.Add(time.Duration(i) * time.Hour), Width: 4, Height: 4}); err != nil {
			t.Fatalf("RunStarted: %v", err)
		}
	}
	if err := idx.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	id, err := latestRunID(db)
	if err != nil || id != "run-b" {
		t.Fatalf("latest=%q err=%v", id, err)
	}
}
