package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"citysim/internal/city"
	"citysim/internal/persistence/indexdb"
	"citysim/internal/protocol"
	"citysim/internal/report"
	"citysim/internal/sim/actor"
	"citysim/internal/sim/clock"
	"citysim/internal/transport/observer"
)

// api serves the HTTP surface that sits next to the observer websocket.
type api struct {
	drv       *clock.Driver
	obs       *observer.Server
	idx       *indexdb.SQLiteIndex // nil when -disable_db
	validator *protocol.Validator
	logger    *log.Logger
}

func newAPI(drv *clock.Driver, obs *observer.Server, idx *indexdb.SQLiteIndex, logger *log.Logger) (*api, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	return &api{drv: drv, obs: obs, idx: idx, validator: v, logger: logger}, nil
}

func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("POST /v1/control", a.handleControl)
	mux.HandleFunc("GET /v1/runs", a.handleRuns)
	mux.HandleFunc("GET /v1/actors/{id}/itinerary", a.handleItinerary)
	mux.HandleFunc("GET /v1/actors/{id}/itinerary.html", a.handleItineraryHTML)
	mux.HandleFunc("GET /v1/actors/{id}/paths", a.handlePaths)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, map[string]any{"ok": false, "code": code, "error": msg})
}

func (a *api) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	m := a.drv.Metrics()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP citysim_run_frames Frames recorded in the current run.\n")
	fmt.Fprintf(rw, "# TYPE citysim_run_frames gauge\n")
	fmt.Fprintf(rw, "citysim_run_frames{state=%q} %d\n", m.State, m.Frames)

	fmt.Fprintf(rw, "# HELP citysim_run_hour Simulated hour of the last frame.\n")
	fmt.Fprintf(rw, "# TYPE citysim_run_hour gauge\n")
	fmt.Fprintf(rw, "citysim_run_hour %.4f\n", m.Hour)

	fmt.Fprintf(rw, "# HELP citysim_run_real_elapsed_seconds Real time counted toward the day.\n")
	fmt.Fprintf(rw, "# TYPE citysim_run_real_elapsed_seconds gauge\n")
	fmt.Fprintf(rw, "citysim_run_real_elapsed_seconds %.3f\n", m.RealElapsed)

	fmt.Fprintf(rw, "# HELP citysim_actors Actors per visible state.\n")
	fmt.Fprintf(rw, "# TYPE citysim_actors gauge\n")
	for _, st := range actor.VisibleStates {
		fmt.Fprintf(rw, "citysim_actors{state=%q} %d\n", st, m.Actors[st])
	}

	fmt.Fprintf(rw, "# HELP citysim_couriers_active Couriers dispatched and not yet finished.\n")
	fmt.Fprintf(rw, "# TYPE citysim_couriers_active gauge\n")
	fmt.Fprintf(rw, "citysim_couriers_active %d\n", m.CouriersActive)

	fmt.Fprintf(rw, "# HELP citysim_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE citysim_step_ms gauge\n")
	fmt.Fprintf(rw, "citysim_step_ms %.3f\n", m.StepMS)

	if a.obs != nil {
		fmt.Fprintf(rw, "# HELP citysim_observer_sessions Connected observer sessions.\n")
		fmt.Fprintf(rw, "# TYPE citysim_observer_sessions gauge\n")
		fmt.Fprintf(rw, "citysim_observer_sessions %d\n", a.obs.Sessions())
	}

	if a.idx != nil {
		s := a.idx.Stats()
		fmt.Fprintf(rw, "# HELP citysim_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE citysim_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "citysim_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP citysim_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE citysim_index_dropped_total counter\n")
		fmt.Fprintf(rw, "citysim_index_dropped_total{kind=%q} %d\n", "frame", s.DropFrameTotal)
		fmt.Fprintf(rw, "citysim_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
		fmt.Fprintf(rw, "citysim_index_dropped_total{kind=%q} %d\n", "run", s.DropRunTotal)
		fmt.Fprintf(rw, "citysim_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
	}
}

type controlResponse struct {
	protocol.AckMsg
	ReplayFrames int `json:"replay_frames,omitempty"`
}

// handleControl is the plain-HTTP twin of the websocket CONTROL message.
func (a *api) handleControl(rw http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	base, err := a.validator.Validate(raw)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewAck("", false, protocol.CodeOf(err), err.Error()))
		return
	}
	if base.Type != protocol.TypeControl {
		writeJSON(rw, http.StatusBadRequest, protocol.NewAck("", false, protocol.ErrBadRequest, "expected CONTROL"))
		return
	}
	var m protocol.ControlMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		writeJSON(rw, http.StatusBadRequest, protocol.NewAck("", false, protocol.ErrProtoBadRequest, err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	ack, player := a.obs.Control(ctx, m)
	resp := controlResponse{AckMsg: ack}
	if player != nil {
		resp.ReplayFrames = player.Len()
	}
	status := http.StatusOK
	switch {
	case ack.Accepted:
	case ack.Code == protocol.ErrBusy:
		status = http.StatusServiceUnavailable
	case ack.Code == protocol.ErrInvalidState:
		status = http.StatusConflict
	default:
		status = http.StatusBadRequest
	}
	a.logger.Printf("control %s accepted=%v state=%s", m.Op, ack.Accepted, ack.State)
	writeJSON(rw, status, resp)
}

func (a *api) handleRuns(rw http.ResponseWriter, r *http.Request) {
	if a.idx == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "index disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := a.idx.Runs(r.Context(), limit)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"runs": runs})
}

var errNoActor = errors.New("no such actor in the current run")

func actorID(r *http.Request) (actor.ID, error) {
	n, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("bad actor id %q", r.PathValue("id"))
	}
	return actor.ID(n), nil
}

// withActor runs fn on the driver loop against the live actor.
func (a *api) withActor(ctx context.Context, id actor.ID, fn func(a *actor.Actor, names map[city.Cell]string)) error {
	found := false
	err := a.drv.Do(ctx, func(d *clock.Driver) {
		reg := d.Registry()
		if reg == nil {
			return
		}
		act, ok := reg.Get(id)
		if !ok {
			return
		}
		found = true
		fn(act, d.Grid().Names())
	})
	if err != nil {
		return err
	}
	if !found {
		return errNoActor
	}
	return nil
}

func (a *api) liveResident(r *http.Request) (report.Resident, int, error) {
	id, err := actorID(r)
	if err != nil {
		return report.Resident{}, http.StatusBadRequest, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var res report.Resident
	err = a.withActor(ctx, id, func(act *actor.Actor, names map[city.Cell]string) {
		res = report.FromActor(act, names)
	})
	switch {
	case errors.Is(err, errNoActor):
		return res, http.StatusNotFound, err
	case err != nil:
		return res, http.StatusServiceUnavailable, err
	}
	return res, http.StatusOK, nil
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return protocol.ErrBadRequest
	case http.StatusNotFound:
		return protocol.ErrNotFound
	case http.StatusServiceUnavailable:
		return protocol.ErrBusy
	}
	return protocol.ErrInternal
}

// handleItinerary serves the live actor's day. With ?run=<id> it reads a past
// run's events from the index instead.
func (a *api) handleItinerary(rw http.ResponseWriter, r *http.Request) {
	if runID := r.URL.Query().Get("run"); runID != "" {
		a.indexedItinerary(rw, r, runID)
		return
	}
	res, status, err := a.liveResident(r)
	if err != nil {
		writeError(rw, status, statusCode(status), err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

func (a *api) indexedItinerary(rw http.ResponseWriter, r *http.Request, runID string) {
	if a.idx == nil {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "index disabled")
		return
	}
	id, err := actorID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	rows, err := a.idx.Itinerary(r.Context(), runID, int(id))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if len(rows) == 0 {
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "no events indexed for actor")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"run_id": runID, "actor": int(id), "events": rows})
}

func (a *api) handleItineraryHTML(rw http.ResponseWriter, r *http.Request) {
	res, status, err := a.liveResident(r)
	if err != nil {
		http.Error(rw, err.Error(), status)
		return
	}
	page, err := report.HTML(res)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write(page)
}

// handlePaths returns every path segment the actor has been routed along.
func (a *api) handlePaths(rw http.ResponseWriter, r *http.Request) {
	id, err := actorID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	var paths []actor.PathSegment
	err = a.withActor(ctx, id, func(act *actor.Actor, _ map[city.Cell]string) {
		paths = make([]actor.PathSegment, len(act.Paths))
		for i, p := range act.Paths {
			p.Cells = append([]city.Cell(nil), p.Cells...)
			paths[i] = p
		}
	})
	switch {
	case errors.Is(err, errNoActor):
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, err.Error())
		return
	case err != nil:
		writeError(rw, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"actor": int(id), "paths": paths})
}
