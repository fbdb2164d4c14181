package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/citysim.sqlite)")
	runID := fs.String("run", "", "run id (optional; defaults to the latest run)")
	actorID := fs.Int("actor", -1, "actor filter (events)")
	kind := fs.String("kind", "", "event kind filter (events)")
	every := fs.Int("every", 20, "emit every Nth frame (census)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "citysim.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}
	if q != "runs" && q != "catalogs" && *runID == "" {
		id, err := latestRunID(db)
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest run:", err)
			os.Exit(1)
		}
		if id == "" {
			fmt.Fprintln(os.Stderr, "no runs indexed")
			os.Exit(2)
		}
		*runID = id
	}

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,seed,started_at,actors,couriers,COALESCE(finished_at,''),COALESCE(frames,0),COALESCE(snapshot_path,'')
			FROM runs ORDER BY started_at DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Seed       int64  `json:"seed"`
				StartedAt  string `json:"started_at"`
				Actors     int    `json:"actors"`
				Couriers   int    `json:"couriers"`
				FinishedAt string `json:"finished_at,omitempty"`
				Frames     int    `json:"frames"`
				Snapshot   string `json:"snapshot,omitempty"`
			}
			if err := rows.Scan(&r.RunID, &r.Seed, &r.StartedAt, &r.Actors, &r.Couriers, &r.FinishedAt, &r.Frames, &r.Snapshot); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "census":
		if *every <= 0 {
			*every = 1
		}
		rows, err := db.Query(`SELECT seq,hour,asleep,at_home,traveling,at_work,at_leisure,couriers_active
			FROM frames WHERE run_id=? AND seq % ? = 0 ORDER BY seq`, *runID, *every)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq       int64   `json:"seq"`
				Hour      float64 `json:"hour"`
				Asleep    int     `json:"asleep"`
				AtHome    int     `json:"at_home"`
				Traveling int     `json:"traveling"`
				AtWork    int     `json:"at_work"`
				AtLeisure int     `json:"at_leisure"`
				Couriers  int     `json:"couriers_active"`
			}
			if err := rows.Scan(&r.Seq, &r.Hour, &r.Asleep, &r.AtHome, &r.Traveling, &r.AtWork, &r.AtLeisure, &r.Couriers); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "events":
		query := `SELECT frame_seq,actor,kind,hour,location FROM events WHERE run_id=?`
		qargs := []any{*runID}
		if *actorID >= 0 {
			query += ` AND actor=?`
			qargs = append(qargs, *actorID)
		}
		if *kind != "" {
			query += ` AND kind=?`
			qargs = append(qargs, *kind)
		}
		query += ` ORDER BY n LIMIT ?`
		qargs = append(qargs, *limit)
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				FrameSeq int64   `json:"frame_seq"`
				Actor    int     `json:"actor"`
				Kind     string  `json:"kind"`
				Hour     float64 `json:"hour"`
				Location string  `json:"location"`
			}
			if err := rows.Scan(&r.FrameSeq, &r.Actor, &r.Kind, &r.Hour, &r.Location); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "counts":
		rows, err := db.Query(`SELECT kind, COUNT(*) FROM events WHERE run_id=? GROUP BY kind ORDER BY kind`, *runID)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		out := map[string]int{}
		for rows.Next() {
			var (
				k string
				n int
			)
			if err := rows.Scan(&k, &n); err != nil {
				fail("scan", err)
			}
			out[k] = n
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}
		printJSON(map[string]any{"run_id": *runID, "events": out})

	case "actors":
		rows, err := db.Query(`SELECT actor,home,work,eatery,final_phase,events FROM actors WHERE run_id=? ORDER BY actor LIMIT ?`, *runID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Actor      int    `json:"actor"`
				Home       string `json:"home"`
				Work       string `json:"work"`
				Eatery     string `json:"eatery"`
				FinalPhase string `json:"final_phase"`
				Events     int    `json:"events"`
			}
			if err := rows.Scan(&r.Actor, &r.Home, &r.Work, &r.Eatery, &r.FinalPhase, &r.Events); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(runs|census|events|counts|actors|catalogs)")
		os.Exit(2)
	}
}

func latestRunID(db *sql.DB) (string, error) {
	var id sql.NullString
	err := db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id.String, err
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
