// Package clock maps real time onto the simulated day and steps every actor and courier once per tick.
package clock

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"citysim/internal/city"
	"citysim/internal/sim/actor"
	"citysim/internal/sim/courier"
	"citysim/internal/sim/tuning"
)

type State uint8

const (
	Idle State = iota
	Running
	Paused
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	}
	return "unknown"
}

type Config struct {
	Tuning tuning.Tuning
	Seed   int64
	Logger *log.Logger
}

// RealDay is the real-time budget of one simulated day.
func (c Config) RealDay() time.Duration {
	return time.Duration(c.Tuning.RealDaySeconds * float64(time.Second))
}

// HourAt maps elapsed real time to the simulated hour, clamped to 24.
func (c Config) HourAt(elapsed time.Duration) float64 {
	day := c.RealDay()
	if day <= 0 || elapsed >= day {
		return 24
	}
	if elapsed <= 0 {
		return 0
	}
	return elapsed.Seconds() * 24 / day.Seconds()
}

type EventRecord struct {
	RunID string      `json:"run_id"`
	Seq   uint64      `json:"seq"`
	Actor actor.ID    `json:"actor"`
	Event actor.Event `json:"event"`
}

type RunInfo struct {
	RunID    string    `json:"run_id"`
	Seed     int64     `json:"seed"`
	Started  time.Time `json:"started"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Actors   int       `json:"actors"`
	Couriers int       `json:"couriers"`
}

// Result is handed to run sinks when a day completes.
type Result struct {
	Info       RunInfo
	Grid       *city.Grid
	Actors     []*actor.Actor
	Couriers   []*courier.Courier
	Frames     int
	LastDigest string
}

type FrameSink interface {
	WriteFrame(runID string, f Frame) error
}

type EventSink interface {
	WriteEvent(ev EventRecord) error
}

type RunSink interface {
	RunStarted(info RunInfo) error
	RunFinished(res Result) error
}

// Driver owns one run. Its methods are not safe for concurrent use; when Run is
// active, other goroutines go through Do.
type Driver struct {
	cfg    Config
	grid   *city.Grid
	logger *log.Logger

	state   State
	status  string
	info    RunInfo
	env     *actor.Env
	reg     *actor.Registry
	cours   []*courier.Courier
	frames  []Frame
	elapsed time.Duration
	logLens []int
	lastDur time.Duration

	frameSinks []FrameSink
	eventSinks []EventSink
	runSinks   []RunSink

	metrics  atomic.Value
	requests chan request
	stop     chan struct{}
}

type request struct {
	fn   func(d *Driver)
	done chan struct{}
}

func New(cfg Config, g *city.Grid) *Driver {
	l := cfg.Logger
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}
	d := &Driver{
		cfg:      cfg,
		grid:     g,
		logger:   l,
		requests: make(chan request, 16),
		stop:     make(chan struct{}),
	}
	d.publishMetrics()
	return d
}

func (d *Driver) AddFrameSink(s FrameSink) { d.frameSinks = append(d.frameSinks, s) }
func (d *Driver) AddEventSink(s EventSink) { d.eventSinks = append(d.eventSinks, s) }
func (d *Driver) AddRunSink(s RunSink)     { d.runSinks = append(d.runSinks, s) }

func (d *Driver) State() State                 { return d.state }
func (d *Driver) Status() string               { return d.status }
func (d *Driver) Info() RunInfo                { return d.info }
func (d *Driver) Grid() *city.Grid             { return d.grid }
func (d *Driver) Seed() int64                  { return d.cfg.Seed }
func (d *Driver) Registry() *actor.Registry    { return d.reg }
func (d *Driver) Couriers() []*courier.Courier { return d.cours }
func (d *Driver) Config() Config               { return d.cfg }
func (d *Driver) FrameCount() int              { return len(d.frames) }

// Frames returns a copy of the recorded frame log.
func (d *Driver) Frames() []Frame {
	out := make([]Frame, len(d.frames))
	for i, f := range d.frames {
		out[i] = f.clone()
	}
	return out
}

func (d *Driver) LastFrame() (Frame, bool) {
	if len(d.frames) == 0 {
		return Frame{}, false
	}
	return d.frames[len(d.frames)-1].clone(), true
}

// Start populates the city and begins the day. It fails (and stays Idle) when
// not Idle or when the city cannot support a population; Status explains why.
func (d *Driver) Start() bool {
	if d.state != Idle {
		return false
	}
	reg, err := actor.Populate(d.grid, d.cfg.Tuning, d.cfg.Seed)
	if err != nil {
		d.status = err.Error()
		d.logger.Printf("start refused: %v", err)
		d.publishMetrics()
		return false
	}
	d.env = actor.NewEnv(d.grid, d.cfg.Tuning)
	d.reg = reg
	d.cours = courier.SpawnAll(reg, d.env)
	d.logLens = make([]int, reg.Len())
	d.frames = d.frames[:0]
	d.elapsed = 0
	d.info = RunInfo{
		RunID:    uuid.NewString(),
		Seed:     d.cfg.Seed,
		Started:  time.Now().UTC(),
		Width:    d.grid.Width(),
		Height:   d.grid.Height(),
		Actors:   reg.Len(),
		Couriers: len(d.cours),
	}
	d.status = ""
	d.state = Running
	for _, s := range d.runSinks {
		if err := s.RunStarted(d.info); err != nil {
			d.logger.Printf("run sink: start: %v", err)
		}
	}
	d.logger.Printf("run %s started seed=%d actors=%d couriers=%d", d.info.RunID, d.cfg.Seed, reg.Len(), len(d.cours))
	d.publishMetrics()
	return true
}

func (d *Driver) Pause() bool {
	if d.state != Running {
		return false
	}
	d.state = Paused
	d.publishMetrics()
	return true
}

func (d *Driver) Resume() bool {
	if d.state != Paused {
		return false
	}
	d.state = Running
	d.publishMetrics()
	return true
}

// Reset discards the current run from any state and returns to Idle with a new seed.
func (d *Driver) Reset(seed int64) bool {
	d.cfg.Seed = seed
	d.state = Idle
	d.status = ""
	d.info = RunInfo{}
	d.env = nil
	d.reg = nil
	d.cours = nil
	d.frames = nil
	d.logLens = nil
	d.elapsed = 0
	d.publishMetrics()
	return true
}

// Replay hands out a player over a copy of the frames recorded so far.
func (d *Driver) Replay() (*Player, bool) {
	if len(d.frames) == 0 {
		return nil, false
	}
	return NewPlayer(d.frames), true
}

// Tick advances the run by realDelta. It is a no-op unless Running. Actors are
// advanced in creation order, then couriers, then one frame is recorded. The
// tick that exhausts the real-time budget records the final frame at hour 24
// and finishes the run.
func (d *Driver) Tick(realDelta time.Duration) (Frame, bool) {
	if d.state != Running {
		return Frame{}, false
	}
	start := time.Now()
	if realDelta < 0 {
		realDelta = 0
	}
	day := d.cfg.RealDay()
	if d.elapsed+realDelta > day {
		realDelta = day - d.elapsed
	}
	d.elapsed += realDelta
	hour := d.cfg.HourAt(d.elapsed)
	dt := realDelta.Seconds()

	d.reg.Advance(d.env, hour, dt)
	if err := courier.AdvanceAll(d.cours, d.env, d.reg, hour, dt); err != nil {
		d.logger.Printf("courier: %v", err)
	}

	f := capture(uint64(len(d.frames)), d.elapsed.Seconds(), hour, d.reg, d.cours)
	d.frames = append(d.frames, f)
	d.lastDur = time.Since(start)
	d.emit(f)

	if hour >= 24 {
		d.finish()
	}
	d.publishMetrics()
	return f.clone(), true
}

func (d *Driver) emit(f Frame) {
	for _, s := range d.frameSinks {
		if err := s.WriteFrame(d.info.RunID, f); err != nil {
			d.logger.Printf("frame sink: %v", err)
		}
	}
	for i, a := range d.reg.All() {
		for _, ev := range a.Log[d.logLens[i]:] {
			rec := EventRecord{RunID: d.info.RunID, Seq: f.Seq, Actor: a.ID, Event: ev}
			for _, s := range d.eventSinks {
				if err := s.WriteEvent(rec); err != nil {
					d.logger.Printf("event sink: %v", err)
				}
			}
		}
		d.logLens[i] = len(a.Log)
	}
}

func (d *Driver) finish() {
	d.state = Finished
	res := Result{
		Info:     d.info,
		Grid:     d.grid,
		Actors:   d.reg.All(),
		Couriers: d.cours,
		Frames:   len(d.frames),
	}
	if n := len(d.frames); n > 0 {
		res.LastDigest = d.frames[n-1].Digest
	}
	for _, s := range d.runSinks {
		if err := s.RunFinished(res); err != nil {
			d.logger.Printf("run sink: finish: %v", err)
		}
	}
	d.logger.Printf("run %s finished frames=%d digest=%s", d.info.RunID, res.Frames, res.LastDigest)
}

// Run drives Tick from a wall-clock ticker at the configured rate until ctx is
// done or Stop is called. Ticks that arrive while not Running still advance the
// reference time, so paused time never counts toward the day.
func (d *Driver) Run(ctx context.Context) error {
	hz := d.cfg.Tuning.TickRateHz
	if hz <= 0 {
		return errors.New("tick rate must be > 0")
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return nil
		case req := <-d.requests:
			req.fn(d)
			close(req.done)
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			d.Tick(delta)
		}
	}
}

func (d *Driver) Stop() { close(d.stop) }

// Do runs fn on the loop goroutine and waits for it to return.
func (d *Driver) Do(ctx context.Context, fn func(d *Driver)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stop:
		return errors.New("driver stopped")
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Metrics struct {
	RunID          string                     `json:"run_id"`
	State          string                     `json:"state"`
	Status         string                     `json:"status,omitempty"`
	Seed           int64                      `json:"seed"`
	Frames         int                        `json:"frames"`
	Hour           float64                    `json:"hour"`
	RealElapsed    float64                    `json:"real_elapsed"`
	Actors         map[actor.VisibleState]int `json:"actors"`
	CouriersActive int                        `json:"couriers_active"`
	StepMS         float64                    `json:"step_ms"`
}

// Metrics is safe to call from any goroutine.
func (d *Driver) Metrics() Metrics {
	v, _ := d.metrics.Load().(Metrics)
	return v
}

func (d *Driver) publishMetrics() {
	m := Metrics{
		RunID:       d.info.RunID,
		State:       d.state.String(),
		Status:      d.status,
		Seed:        d.cfg.Seed,
		Frames:      len(d.frames),
		RealElapsed: d.elapsed.Seconds(),
		StepMS:      float64(d.lastDur.Microseconds()) / 1000,
	}
	if n := len(d.frames); n > 0 {
		m.Hour = d.frames[n-1].Hour
	}
	if d.reg != nil {
		m.Actors = d.reg.Census()
	}
	for _, c := range d.cours {
		if c.Active() {
			m.CouriersActive++
		}
	}
	d.metrics.Store(m)
}
