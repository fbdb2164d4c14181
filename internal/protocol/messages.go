package protocol

import "citysim/internal/sim/clock"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	// Replay asks the server to stream the frames recorded so far before live ones.
	Replay bool `json:"replay,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Run             RunState    `json:"run"`
	WorldParams     WorldParams `json:"world_params"`
	Catalogs        Catalogs    `json:"catalogs"`
}

type RunState struct {
	RunID    string `json:"run_id,omitempty"`
	State    string `json:"state"`
	Status   string `json:"status,omitempty"`
	Seed     int64  `json:"seed"`
	Frames   int    `json:"frames"`
	Actors   int    `json:"actors"`
	Couriers int    `json:"couriers"`
}

type WorldParams struct {
	Width          int         `json:"width"`
	Height         int         `json:"height"`
	TickRateHz     int         `json:"tick_rate_hz"`
	RealDaySeconds float64     `json:"real_day_seconds"`
	Tiles          string      `json:"tiles"` // base64 RLE, row-major
	Names          []NamedCell `json:"names"`
}

type NamedCell struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Class string `json:"class"`
	Name  string `json:"name"`
}

type Catalogs struct {
	NamesDigest  string `json:"names_digest"`
	TuningDigest string `json:"tuning_digest,omitempty"`
}

// FRAME (server -> client)
type FrameMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Replay          bool        `json:"replay,omitempty"`
	Frame           clock.Frame `json:"frame"`
}

// Control operations.
const (
	OpStart  = "START"
	OpPause  = "PAUSE"
	OpResume = "RESUME"
	OpReset  = "RESET"
	OpReplay = "REPLAY"
)

// CONTROL (client -> server)
type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`
	Seed            *int64 `json:"seed,omitempty"` // RESET only
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	State           string `json:"state,omitempty"`
	RunID           string `json:"run_id,omitempty"`
}

func NewAck(forID string, accepted bool, code, message string) AckMsg {
	return AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          forID,
		Accepted:        accepted,
		Code:            code,
		Message:         message,
	}
}
