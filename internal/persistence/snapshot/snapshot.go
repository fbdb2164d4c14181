// Package snapshot stores a finished run: the city, every actor's schedule,
// event log and path history, and the couriers' final state.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"citysim/internal/city"
	"citysim/internal/sim/actor"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/encoding"
	"citysim/internal/sim/schedule"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	RunID   string    `json:"run_id"`
	Seed    int64     `json:"seed"`
	Frames  int       `json:"frames"`
	Created time.Time `json:"created"`
}

type RunV1 struct {
	Header Header `json:"header"`

	Started    time.Time `json:"started"`
	LastDigest string    `json:"last_digest"`

	Width  int           `json:"width"`
	Height int           `json:"height"`
	Tiles  string        `json:"tiles"` // base64 RLE
	Names  []NamedCellV1 `json:"names"`

	Actors   []ActorV1   `json:"actors"`
	Couriers []CourierV1 `json:"couriers"`
}

type NamedCellV1 struct {
	Cell city.Cell `json:"cell"`
	Name string    `json:"name"`
}

type ActorV1 struct {
	ID         int               `json:"id"`
	Home       city.Cell         `json:"home"`
	Work       city.Cell         `json:"work"`
	Eatery     city.Cell         `json:"eatery"`
	Leisure    city.Cell         `json:"leisure"`
	HasLeisure bool              `json:"has_leisure"`
	Speed      float64           `json:"speed"`
	Schedule   schedule.Schedule `json:"schedule"`
	Phase      string            `json:"phase"`
	Log        []EventV1         `json:"log"`
	Paths      []PathV1          `json:"paths"`
}

type EventV1 struct {
	Kind     string  `json:"kind"`
	Hour     float64 `json:"hour"`
	Location string  `json:"location"`
}

type PathV1 struct {
	Purpose string      `json:"purpose"`
	Origin  string      `json:"origin"`
	Hour    float64     `json:"hour"`
	Cells   []city.Cell `json:"cells"`
}

type CourierV1 struct {
	ID        int       `json:"id"`
	Owner     int       `json:"owner"`
	Spawn     city.Cell `json:"spawn"`
	DropOff   city.Cell `json:"drop_off"`
	Phase     string    `json:"phase"`
	Departure float64   `json:"departure"`
}

// FromResult flattens a finished run into its snapshot form.
func FromResult(res clock.Result) RunV1 {
	snap := RunV1{
		Header: Header{
			Version: Version,
			RunID:   res.Info.RunID,
			Seed:    res.Info.Seed,
			Frames:  res.Frames,
			Created: time.Now().UTC(),
		},
		Started:    res.Info.Started,
		LastDigest: res.LastDigest,
		Width:      res.Grid.Width(),
		Height:     res.Grid.Height(),
		Tiles:      encoding.EncodeTiles(res.Grid.Tiles()),
	}
	for c, n := range res.Grid.Names() {
		snap.Names = append(snap.Names, NamedCellV1{Cell: c, Name: n})
	}
	sort.Slice(snap.Names, func(i, j int) bool {
		a, b := snap.Names[i].Cell, snap.Names[j].Cell
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	for _, a := range res.Actors {
		av := ActorV1{
			ID:         int(a.ID),
			Home:       a.Home,
			Work:       a.Work,
			Eatery:     a.Eatery,
			Leisure:    a.Leisure,
			HasLeisure: a.HasLeisure,
			Speed:      a.Speed,
			Schedule:   a.Schedule,
			Phase:      a.Phase.String(),
		}
		for _, ev := range a.Log {
			av.Log = append(av.Log, EventV1{Kind: string(ev.Kind), Hour: ev.Hour, Location: ev.Location})
		}
		for _, p := range a.Paths {
			av.Paths = append(av.Paths, PathV1{
				Purpose: string(p.Purpose),
				Origin:  p.Origin.String(),
				Hour:    p.Hour,
				Cells:   append([]city.Cell(nil), p.Cells...),
			})
		}
		snap.Actors = append(snap.Actors, av)
	}
	for _, c := range res.Couriers {
		snap.Couriers = append(snap.Couriers, CourierV1{
			ID:        c.ID,
			Owner:     int(c.Owner),
			Spawn:     c.Spawn,
			DropOff:   c.DropOff,
			Phase:     c.Phase.String(),
			Departure: c.Departure,
		})
	}
	return snap
}

// Grid rebuilds the immutable city from the snapshot.
func (s RunV1) Grid() (*city.Grid, error) {
	tiles, err := encoding.DecodeTiles(s.Tiles, s.Width*s.Height)
	if err != nil {
		return nil, fmt.Errorf("tiles: %w", err)
	}
	return city.FromTiles(s.Width, s.Height, tiles, s.NameMap())
}

func (s RunV1) NameMap() map[city.Cell]string {
	names := make(map[city.Cell]string, len(s.Names))
	for _, n := range s.Names {
		names[n.Cell] = n.Name
	}
	return names
}

// Validate checks what a decoded snapshot must satisfy before it is trusted:
// schedule invariants, known phases and chronological logs.
func (s RunV1) Validate() error {
	if s.Header.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", s.Header.Version)
	}
	for _, a := range s.Actors {
		if err := a.Schedule.Validate(); err != nil {
			return fmt.Errorf("actor %d: %w", a.ID, err)
		}
		if _, ok := actor.ParsePhase(a.Phase); !ok {
			return fmt.Errorf("actor %d: unknown phase %q", a.ID, a.Phase)
		}
		for i := 1; i < len(a.Log); i++ {
			if a.Log[i].Hour < a.Log[i-1].Hour {
				return fmt.Errorf("actor %d: log out of order at %d", a.ID, i)
			}
		}
	}
	return nil
}

func WriteSnapshot(path string, snap RunV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (RunV1, error) {
	var snap RunV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line duplicates snap.Header; ReadHeader serves callers that only need it.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// Writer is a clock.RunSink that writes <dir>/<run_id>.snap.zst when a run finishes.
type Writer struct {
	dir  string
	last string
}

func NewWriter(dir string) *Writer { return &Writer{dir: dir} }

func (w *Writer) PathFor(runID string) string {
	return filepath.Join(w.dir, runID+".snap.zst")
}

// Last is the path of the most recent snapshot written, if any.
func (w *Writer) Last() string { return w.last }

func (w *Writer) RunStarted(clock.RunInfo) error { return nil }

func (w *Writer) RunFinished(res clock.Result) error {
	p := w.PathFor(res.Info.RunID)
	if err := WriteSnapshot(p, FromResult(res)); err != nil {
		return err
	}
	w.last = p
	return nil
}
