package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"citysim/internal/persistence/snapshot"
)

type RunArchiveMeta struct {
	RunID      string         `json:"run_id"`
	Seed       int64          `json:"seed"`
	Frames     int            `json:"frames"`
	LastDigest string         `json:"last_digest"`
	Snapshot   string         `json:"snapshot"`
	CreatedAt  string         `json:"created_at"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Actors     int            `json:"actors"`
	Couriers   int            `json:"couriers"`
	Events     map[string]int `json:"events"`
}

// ArchiveRunSnapshot copies a finished run's snapshot into
// `dataDir/archives/<YYYYMMDD>_<run_id>/` next to a meta.json summary.
// Snapshots of runs that recorded no frames are not archived.
func ArchiveRunSnapshot(dataDir, snapshotPath string, snap snapshot.RunV1) (archivedPath string, archived bool, err error) {
	if snap.Header.RunID == "" || snap.Header.Frames == 0 {
		return "", false, nil
	}
	started := snap.Started
	if started.IsZero() {
		started = snap.Header.Created
	}
	archiveDir := filepath.Join(dataDir, "archives", fmt.Sprintf("%s_%s", started.UTC().Format("20060102"), snap.Header.RunID))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := RunArchiveMeta{
		RunID:      snap.Header.RunID,
		Seed:       snap.Header.Seed,
		Frames:     snap.Header.Frames,
		LastDigest: snap.LastDigest,
		Snapshot:   filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Width:      snap.Width,
		Height:     snap.Height,
		Actors:     len(snap.Actors),
		Couriers:   len(snap.Couriers),
		Events:     map[string]int{},
	}
	for _, a := range snap.Actors {
		for _, ev := range a.Log {
			meta.Events[ev.Kind]++
		}
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// ReadMeta loads the meta.json of an archive directory.
func ReadMeta(archiveDir string) (RunArchiveMeta, error) {
	var m RunArchiveMeta
	b, err := os.ReadFile(filepath.Join(archiveDir, "meta.json"))
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
