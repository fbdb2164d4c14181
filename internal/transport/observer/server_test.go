package observer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"citysim/internal/city"
	"citysim/internal/protocol"
	"citysim/internal/sim/catalogs"
	"citysim/internal/sim/clock"
	"citysim/internal/sim/encoding"
	"citysim/internal/sim/tuning"
)

func startServer(t *testing.T) (*Server, *clock.Driver, *httptest.Server) {
	t.Helper()
	tune := tuning.Defaults()
	tune.Actors.Max = 20
	g := city.Generate(tune.GenConfig(), city.NewNameGenerator(catalogs.Defaults().Names), rand.New(rand.NewSource(4)))
	d := clock.New(clock.Config{Tuning: tune, Seed: 4}, g)

	srv, err := NewServer(d, log.New(io.Discard, "", 0), Options{NamesDigest: catalogs.Defaults().Names.Digest})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	d.AddFrameSink(srv)
	d.AddEventSink(srv)
	d.AddRunSink(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/ws", srv.WSHandler())
	hs := httptest.NewServer(mux)
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return srv, d, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return b
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeWelcome), &w); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return w
}

func control(t *testing.T, conn *websocket.Conn, id, op string) protocol.AckMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.ControlMsg{Type: protocol.TypeControl, ProtocolVersion: protocol.Version, ID: id, Op: op}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	for {
		var ack protocol.AckMsg
		if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack); err != nil {
			t.Fatalf("ack: %v", err)
		}
		if ack.AckFor == id {
			return ack
		}
	}
}

func TestObserver_WelcomeDescribesCity(t *testing.T) {
	srv, d, hs := startServer(t)
	conn := dial(t, hs)
	w := hello(t, conn)

	if w.Run.State != "idle" || w.SessionID == "" {
		t.Fatalf("welcome run=%+v session=%q", w.Run, w.SessionID)
	}
	g := d.Grid()
	tiles, err := encoding.DecodeTiles(w.WorldParams.Tiles, w.WorldParams.Width*w.WorldParams.Height)
	if err != nil {
		t.Fatalf("DecodeTiles: %v", err)
	}
	for i, c := range g.Tiles() {
		if tiles[i] != c {
			t.Fatalf("tile %d: got %s want %s", i, tiles[i], c)
		}
	}
	if len(w.WorldParams.Names) != len(g.Names()) {
		t.Fatalf("names=%d want %d", len(w.WorldParams.Names), len(g.Names()))
	}
	v, _ := protocol.NewValidator()
	if err := v.ValidateValue(w); err != nil {
		t.Fatalf("welcome fails its own schema: %v", err)
	}
	for i := 0; srv.Sessions() != 1; i++ {
		if i > 100 {
			t.Fatalf("session not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestObserver_ControlAndStream(t *testing.T) {
	srv, _, hs := startServer(t)
	conn := dial(t, hs)
	hello(t, conn)

	if ack := control(t, conn, "p0", protocol.OpPause); ack.Accepted || ack.Code != protocol.ErrInvalidState {
		t.Fatalf("pause while idle: %+v", ack)
	}
	ack := control(t, conn, "s1", protocol.OpStart)
	if !ack.Accepted || ack.State != "running" || ack.RunID == "" {
		t.Fatalf("start: %+v", ack)
	}

	var fm protocol.FrameMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeFrame), &fm); err != nil {
		t.Fatalf("frame: %v", err)
	}
	if fm.RunID != ack.RunID || fm.Frame.Digest != fm.Frame.ComputeDigest() {
		t.Fatalf("frame run=%s digest ok=%v", fm.RunID, fm.Frame.Digest == fm.Frame.ComputeDigest())
	}

	if ack := control(t, conn, "p1", protocol.OpPause); !ack.Accepted || ack.State != "paused" {
		t.Fatalf("pause: %+v", ack)
	}
	if ack := control(t, conn, "r1", protocol.OpReplay); !ack.Accepted {
		t.Fatalf("replay: %+v", ack)
	}
	var replayed protocol.FrameMsg
	for !replayed.Replay {
		if err := json.Unmarshal(readUntil(t, conn, protocol.TypeFrame), &replayed); err != nil {
			t.Fatalf("replay frame: %v", err)
		}
	}
	if replayed.Frame.Seq != 0 {
		t.Fatalf("replay starts at seq %d", replayed.Frame.Seq)
	}

	// the wake events of the first tick are buffered for EVENT_BATCH_REQ
	if err := conn.WriteJSON(protocol.EventBatchReqMsg{Type: protocol.TypeEventBatchReq, ProtocolVersion: protocol.Version, ReqID: "b1", Limit: 5}); err != nil {
		t.Fatal(err)
	}
	var batch protocol.EventBatchMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeEventBatch), &batch); err != nil {
		t.Fatalf("batch: %v", err)
	}
	items, next, _ := srv.Events(0, 0)
	if batch.ReqID != "b1" || len(batch.Events) > 5 || batch.RunID != ack.RunID {
		t.Fatalf("batch=%+v", batch)
	}
	if len(items) > 0 && (len(batch.Events) == 0 || batch.Events[0].Cursor != 0) {
		t.Fatalf("batch missed buffered events (have %d, next=%d)", len(items), next)
	}
}

func TestObserver_RejectsBadMessages(t *testing.T) {
	_, _, hs := startServer(t)
	conn := dial(t, hs)
	hello(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CONTROL","protocol_version":"1.0","id":"x1","op":"REWIND"}`)); err != nil {
		t.Fatal(err)
	}
	var ack protocol.AckMsg
	if err := json.Unmarshal(readUntil(t, conn, protocol.TypeAck), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.Accepted || ack.Code != protocol.ErrBadRequest || ack.AckFor != "x1" {
		t.Fatalf("ack=%+v", ack)
	}
}

func TestObserver_HandshakeRequiresHello(t *testing.T) {
	_, _, hs := startServer(t)
	conn := dial(t, hs)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CONTROL","protocol_version":"1.0","id":"c","op":"START"}`)); err != nil {
		t.Fatal(err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestBootstrapHandler(t *testing.T) {
	_, d, hs := startServer(t)
	resp, err := http.Get(hs.URL + "/v1/bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var w protocol.WelcomeMsg
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		t.Fatal(err)
	}
	if w.WorldParams.Width != d.Grid().Width() || w.Run.State != "idle" {
		t.Fatalf("bootstrap=%+v", w.Run)
	}
	if isLoopbackRemote("10.0.0.1:5000") || !isLoopbackRemote("[::1]:80") {
		t.Fatalf("loopback detection")
	}
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	for _, s := range []string{"a", "b", "c"} {
		sendLatest(ch, []byte(s))
	}
	if got := string(<-ch) + string(<-ch); got != "bc" {
		t.Fatalf("got %q", got)
	}
}
