package indexdb

import (
	"context"
	"database/sql"
)

type Run struct {
	RunID        string `json:"run_id"`
	Seed         int64  `json:"seed"`
	StartedAt    string `json:"started_at"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Actors       int    `json:"actors"`
	Couriers     int    `json:"couriers"`
	FinishedAt   string `json:"finished_at,omitempty"`
	Frames       int    `json:"frames"`
	LastDigest   string `json:"last_digest,omitempty"`
	SnapshotPath string `json:"snapshot_path,omitempty"`
}

type EventRow struct {
	FrameSeq uint64  `json:"frame_seq"`
	Actor    int     `json:"actor"`
	Kind     string  `json:"kind"`
	Hour     float64 `json:"hour"`
	Location string  `json:"location"`
}

// Runs lists runs newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,seed,started_at,width,height,actors,couriers,
		finished_at,frames,last_digest,snapshot_path FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r                 Run
			fin, digest, snap sql.NullString
			frames            sql.NullInt64
		)
		if err := rows.Scan(&r.RunID, &r.Seed, &r.StartedAt, &r.Width, &r.Height, &r.Actors, &r.Couriers,
			&fin, &frames, &digest, &snap); err != nil {
			return nil, err
		}
		r.FinishedAt, r.LastDigest, r.SnapshotPath = fin.String, digest.String, snap.String
		r.Frames = int(frames.Int64)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Itinerary returns one actor's events in log order.
func (s *SQLiteIndex) Itinerary(ctx context.Context, runID string, actorID int) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT frame_seq,actor,kind,hour,location FROM events
		WHERE run_id=? AND actor=? ORDER BY n`, runID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var e EventRow
		var seq int64
		if err := rows.Scan(&seq, &e.Actor, &e.Kind, &e.Hour, &e.Location); err != nil {
			return nil, err
		}
		e.FrameSeq = uint64(seq)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EventCounts tallies events by kind for one run.
func (s *SQLiteIndex) EventCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events WHERE run_id=? GROUP BY kind`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
