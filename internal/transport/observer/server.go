package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"citysim/internal/protocol"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/encoding"
)

// Host is the run the server observes and controls. *clock.Driver satisfies it;
// every call that touches run state goes through Do.
type Host interface {
	Do(ctx context.Context, fn func(d *clock.Driver)) error
}

type Options struct {
	// AllowRemote lifts the loopback-only restriction on the bootstrap and ws endpoints.
	AllowRemote  bool
	NamesDigest  string
	TuningDigest string
}

// Server streams frames to websocket observers and accepts control messages.
// It is also a clock.FrameSink, clock.EventSink and clock.RunSink.
type Server struct {
	host      Host
	log       *log.Logger
	opts      Options
	validator *protocol.Validator

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*session
	runID    string
	events   []clock.EventRecord
}

type session struct {
	id       string
	frameOut chan []byte // latest-wins
	dataOut  chan []byte
}

func NewServer(h Host, logger *log.Logger, opts Options) (*Server, error) {
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Server{
		host:      h,
		log:       logger,
		opts:      opts,
		validator: v,
		sessions:  map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}, nil
}

func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) WriteFrame(runID string, f clock.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	b, err := json.Marshal(protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		RunID:           runID,
		Frame:           f,
	})
	if err != nil {
		return err
	}
	for _, sess := range s.sessions {
		sendLatest(sess.frameOut, b)
	}
	return nil
}

func (s *Server) WriteEvent(rec clock.EventRecord) error {
	s.mu.Lock()
	s.events = append(s.events, rec)
	s.mu.Unlock()
	return nil
}

func (s *Server) RunStarted(info clock.RunInfo) error {
	s.mu.Lock()
	s.runID = info.RunID
	s.events = nil
	s.mu.Unlock()
	return nil
}

func (s *Server) RunFinished(res clock.Result) error {
	s.log.Printf("run %s finished; %d observers attached", res.Info.RunID, s.Sessions())
	return nil
}

// Events returns up to limit records starting at cursor since, and the cursor to
// resume from.
func (s *Server) Events(since uint64, limit int) ([]protocol.EventBatchItem, uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(len(s.events))
	if since > n {
		since = n
	}
	end := n
	if limit > 0 && since+uint64(limit) < end {
		end = since + uint64(limit)
	}
	out := make([]protocol.EventBatchItem, 0, end-since)
	for c := since; c < end; c++ {
		out = append(out, protocol.EventBatchItem{Cursor: c, Record: s.events[c]})
	}
	return out, end, s.runID
}

// Welcome describes the current run and city. sessionID is echoed back.
func (s *Server) Welcome(ctx context.Context, sessionID string) (protocol.WelcomeMsg, error) {
	msg := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Catalogs:        protocol.Catalogs{NamesDigest: s.opts.NamesDigest, TuningDigest: s.opts.TuningDigest},
	}
	err := s.host.Do(ctx, func(d *clock.Driver) {
		g := d.Grid()
		info := d.Info()
		msg.Run = protocol.RunState{
			RunID:    info.RunID,
			State:    d.State().String(),
			Status:   d.Status(),
			Seed:     d.Seed(),
			Frames:   d.FrameCount(),
			Actors:   info.Actors,
			Couriers: info.Couriers,
		}
		msg.WorldParams = protocol.WorldParams{
			Width:          g.Width(),
			Height:         g.Height(),
			TickRateHz:     d.Config().Tuning.TickRateHz,
			RealDaySeconds: d.Config().Tuning.RealDaySeconds,
			Tiles:          encoding.EncodeTiles(g.Tiles()),
		}
		names := make([]protocol.NamedCell, 0, len(g.Names()))
		for c, name := range g.Names() {
			names = append(names, protocol.NamedCell{X: c.X, Y: c.Y, Class: g.TileAt(c).String(), Name: name})
		}
		sort.Slice(names, func(i, j int) bool {
			if names[i].Y != names[j].Y {
				return names[i].Y < names[j].Y
			}
			return names[i].X < names[j].X
		})
		msg.WorldParams.Names = names
	})
	return msg, err
}

// Control applies one control message to the run. REPLAY additionally returns
// a player over the frames recorded so far.
func (s *Server) Control(ctx context.Context, m protocol.ControlMsg) (protocol.AckMsg, *clock.Player) {
	var (
		ack    protocol.AckMsg
		player *clock.Player
	)
	err := s.host.Do(ctx, func(d *clock.Driver) {
		var ok bool
		reason := ""
		switch m.Op {
		case protocol.OpStart:
			ok = d.Start()
			reason = d.Status()
		case protocol.OpPause:
			ok = d.Pause()
		case protocol.OpResume:
			ok = d.Resume()
		case protocol.OpReset:
			seed := d.Seed()
			if m.Seed != nil {
				seed = *m.Seed
			}
			ok = d.Reset(seed)
		case protocol.OpReplay:
			player, ok = d.Replay()
			if !ok {
				reason = "no frames recorded"
			}
		default:
			ack = protocol.NewAck(m.ID, false, protocol.ErrBadRequest, fmt.Sprintf("unknown op %q", m.Op))
			return
		}
		if ok {
			ack = protocol.NewAck(m.ID, true, "", "")
		} else {
			if reason == "" {
				reason = fmt.Sprintf("%s not allowed while %s", m.Op, d.State())
			}
			ack = protocol.NewAck(m.ID, false, protocol.ErrInvalidState, reason)
		}
		ack.State = d.State().String()
		ack.RunID = d.Info().RunID
	})
	if err != nil {
		return protocol.NewAck(m.ID, false, protocol.ErrBusy, err.Error()), nil
	}
	return ack, player
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp, err := s.Welcome(r.Context(), "bootstrap")
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send HELLO first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if _, err := s.validator.Validate(msg); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad hello: "+protocol.CodeOf(err))
			return
		}
		var hello protocol.HelloMsg
		if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
			closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := &session{
			id:       fmt.Sprintf("O%d", s.nextID.Add(1)),
			frameOut: make(chan []byte, 8),
			dataOut:  make(chan []byte, 4096),
		}
		welcome, err := s.Welcome(ctx, sess.id)
		if err != nil {
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(welcome); err != nil {
			return
		}
		s.log.Printf("observer %s joined (%s)", sess.id, hello.ClientName)

		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
			s.log.Printf("observer %s left", sess.id)
		}()

		if hello.Replay {
			if ack, p := s.Control(ctx, protocol.ControlMsg{ID: "hello", Op: protocol.OpReplay}); ack.Accepted {
				go streamReplay(ctx, sess, ack.RunID, p)
			}
		}

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-sess.dataOut:
				case b = <-sess.frameOut:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}()

		// Reader loop: CONTROL and EVENT_BATCH_REQ.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(ctx, sess, msg)
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handle(ctx context.Context, sess *session, msg []byte) {
	base, err := s.validator.Validate(msg)
	if err != nil {
		var id struct {
			ID    string `json:"id"`
			ReqID string `json:"req_id"`
		}
		_ = json.Unmarshal(msg, &id)
		s.reply(ctx, sess, protocol.NewAck(id.ID+id.ReqID, false, protocol.CodeOf(err), err.Error()))
		return
	}
	switch base.Type {
	case protocol.TypeControl:
		var m protocol.ControlMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.reply(ctx, sess, protocol.NewAck("", false, protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		ack, p := s.Control(ctx, m)
		s.log.Printf("observer %s: %s accepted=%v %s", sess.id, m.Op, ack.Accepted, ack.Message)
		s.reply(ctx, sess, ack)
		if p != nil {
			go streamReplay(ctx, sess, ack.RunID, p)
		}
	case protocol.TypeEventBatchReq:
		var m protocol.EventBatchReqMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.reply(ctx, sess, protocol.NewAck("", false, protocol.ErrProtoBadRequest, err.Error()))
			return
		}
		items, next, runID := s.Events(m.SinceCursor, m.Limit)
		s.reply(ctx, sess, protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           m.ReqID,
			Events:          items,
			NextCursor:      next,
			RunID:           runID,
		})
	default:
		s.reply(ctx, sess, protocol.NewAck("", false, protocol.ErrBadRequest, "unexpected "+base.Type))
	}
}

func (s *Server) reply(ctx context.Context, sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("observer %s: marshal reply: %v", sess.id, err)
		return
	}
	select {
	case sess.dataOut <- b:
	case <-ctx.Done():
	}
}

func streamReplay(ctx context.Context, sess *session, runID string, p *clock.Player) {
	p.Rewind()
	for {
		f, ok := p.Next()
		if !ok {
			return
		}
		b, err := json.Marshal(protocol.FrameMsg{
			Type:            protocol.TypeFrame,
			ProtocolVersion: protocol.Version,
			RunID:           runID,
			Replay:          true,
			Frame:           f,
		})
		if err != nil {
			return
		}
		select {
		case sess.dataOut <- b:
		case <-ctx.Done():
			return
		}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (s *Server) allowed(r *http.Request) bool {
	return s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
