package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"citysim/internal/sim/actor"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/courier"
	"citysim/internal/sim/tuning"
)

// SQLiteIndex is a read model of runs, frames and actor events. Writes are queued
// and applied by one goroutine; the JSONL logs remain the source of truth.
// It implements clock.FrameSink, clock.EventSink and clock.RunSink.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropFrame    atomic.Uint64
	dropEvent    atomic.Uint64
	dropRun      atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqRunStart reqKind = iota + 1
	reqFrame
	reqEvent
	reqRunFinish
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	run      runRow
	frame    frameRow
	event    clock.EventRecord
	actors   []actorRow
	snapshot snapshotRow
	done     chan struct{}
}

type runRow struct {
	RunID      string
	Seed       int64
	StartedAt  string
	Width      int
	Height     int
	Actors     int
	Couriers   int
	FinishedAt string
	Frames     int
	LastDigest string
}

type frameRow struct {
	RunID  string
	Seq    uint64
	Hour   float64
	Digest string
	Census map[actor.VisibleState]int
	Active int
}

type actorRow struct {
	ID       int
	Home     string
	Work     string
	Eatery   string
	Schedule string
	Phase    string
	Events   int
}

type snapshotRow struct {
	RunID string
	Path  string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			actors INTEGER NOT NULL,
			couriers INTEGER NOT NULL,
			finished_at TEXT,
			frames INTEGER,
			last_digest TEXT,
			snapshot_path TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS frames (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			hour REAL NOT NULL,
			digest TEXT NOT NULL,
			asleep INTEGER NOT NULL,
			at_home INTEGER NOT NULL,
			traveling INTEGER NOT NULL,
			at_work INTEGER NOT NULL,
			at_leisure INTEGER NOT NULL,
			couriers_active INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			n INTEGER NOT NULL,
			frame_seq INTEGER NOT NULL,
			actor INTEGER NOT NULL,
			kind TEXT NOT NULL,
			hour REAL NOT NULL,
			location TEXT NOT NULL,
			PRIMARY KEY (run_id, n)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor ON events(run_id, actor, n);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(run_id, kind);`,
		`CREATE TABLE IF NOT EXISTS actors (
			run_id TEXT NOT NULL,
			actor INTEGER NOT NULL,
			home TEXT NOT NULL,
			work TEXT NOT NULL,
			eatery TEXT NOT NULL,
			schedule_json TEXT NOT NULL,
			final_phase TEXT NOT NULL,
			events INTEGER NOT NULL,
			PRIMARY KEY (run_id, actor)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) DB() *sql.DB { return s.db }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Sync blocks until every write queued before it has been committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind.
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RunStarted(info clock.RunInfo) error {
	s.enqueue(req{kind: reqRunStart, run: runRow{
		RunID:     info.RunID,
		Seed:      info.Seed,
		StartedAt: info.Started.Format(time.RFC3339Nano),
		Width:     info.Width,
		Height:    info.Height,
		Actors:    info.Actors,
		Couriers:  info.Couriers,
	}}, &s.dropRun)
	return nil
}

func (s *SQLiteIndex) WriteFrame(runID string, f clock.Frame) error {
	row := frameRow{RunID: runID, Seq: f.Seq, Hour: f.Hour, Digest: f.Digest, Census: map[actor.VisibleState]int{}}
	for _, a := range f.Actors {
		row.Census[a.State]++
	}
	for _, c := range f.Couriers {
		if c.Phase != courier.Finished {
			row.Active++
		}
	}
	s.enqueue(req{kind: reqFrame, frame: row}, &s.dropFrame)
	return nil
}

func (s *SQLiteIndex) WriteEvent(rec clock.EventRecord) error {
	s.enqueue(req{kind: reqEvent, event: rec}, &s.dropEvent)
	return nil
}

// RunFinished copies what it needs out of res before queueing.
func (s *SQLiteIndex) RunFinished(res clock.Result) error {
	names := res.Grid.Names()
	rows := make([]actorRow, 0, len(res.Actors))
	for _, a := range res.Actors {
		sched, err := json.Marshal(a.Schedule)
		if err != nil {
			return err
		}
		rows = append(rows, actorRow{
			ID:       int(a.ID),
			Home:     names[a.Home],
			Work:     names[a.Work],
			Eatery:   names[a.Eatery],
			Schedule: string(sched),
			Phase:    a.Phase.String(),
			Events:   len(a.Log),
		})
	}
	s.enqueue(req{kind: reqRunFinish, actors: rows, run: runRow{
		RunID:      res.Info.RunID,
		FinishedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Frames:     res.Frames,
		LastDigest: res.LastDigest,
	}}, &s.dropRun)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(runID, path string) {
	if runID == "" || path == "" {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{RunID: runID, Path: path}}, &s.dropSnapshot)
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropFrameTotal    uint64 `json:"drop_frame_total"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropRunTotal      uint64 `json:"drop_run_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropFrameTotal:    s.dropFrame.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropRunTotal:      s.dropRun.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

// UpsertCatalogs records the name pools and the tuning actually applied.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Names); len(b) > 0 {
		rows = append(rows, kv{name: "names", digest: cats.Names.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		eventN = map[string]int64{}
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(query string, args ...any) bool {
		if _, err := tx.Exec(query, args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRunStart:
			ru := r.run
			eventN[ru.RunID] = 0
			exec(`INSERT OR REPLACE INTO runs(run_id,seed,started_at,width,height,actors,couriers) VALUES(?,?,?,?,?,?,?)`,
				ru.RunID, ru.Seed, ru.StartedAt, ru.Width, ru.Height, ru.Actors, ru.Couriers)

		case reqFrame:
			f := r.frame
			exec(`INSERT OR REPLACE INTO frames(run_id,seq,hour,digest,asleep,at_home,traveling,at_work,at_leisure,couriers_active) VALUES(?,?,?,?,?,?,?,?,?,?)`,
				f.RunID, int64(f.Seq), f.Hour, f.Digest,
				f.Census[actor.VisibleAsleep], f.Census[actor.VisibleAtHome], f.Census[actor.VisibleTraveling],
				f.Census[actor.VisibleAtWork], f.Census[actor.VisibleAtLeisure], f.Active)

		case reqEvent:
			ev := r.event
			n := eventN[ev.RunID]
			if exec(`INSERT OR REPLACE INTO events(run_id,n,frame_seq,actor,kind,hour,location) VALUES(?,?,?,?,?,?,?)`,
				ev.RunID, n, int64(ev.Seq), int(ev.Actor), string(ev.Event.Kind), ev.Event.Hour, ev.Event.Location) {
				eventN[ev.RunID] = n + 1
			}

		case reqRunFinish:
			ru := r.run
			if !exec(`UPDATE runs SET finished_at=?, frames=?, last_digest=? WHERE run_id=?`,
				ru.FinishedAt, ru.Frames, ru.LastDigest, ru.RunID) {
				continue
			}
			for _, a := range r.actors {
				if !exec(`INSERT OR REPLACE INTO actors(run_id,actor,home,work,eatery,schedule_json,final_phase,events) VALUES(?,?,?,?,?,?,?,?)`,
					ru.RunID, a.ID, a.Home, a.Work, a.Eatery, a.Schedule, a.Phase, a.Events) {
					break
				}
			}
			delete(eventN, ru.RunID)
			commit()
			continue

		case reqSnapshot:
			sn := r.snapshot
			exec(`UPDATE runs SET snapshot_path=? WHERE run_id=?`, sn.Path, sn.RunID)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
