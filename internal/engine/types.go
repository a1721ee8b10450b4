package engine

import (
	"fmt"
	"time"
)

// Direction describes which side generates the payload stream.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionHostToRemote
	DirectionRemoteToHost
)

func (d Direction) String() string {
	switch d {
	case DirectionHostToRemote:
		return "host_to_remote"
	case DirectionRemoteToHost:
		return "remote_to_host"
	default:
		return "none"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "host_to_remote":
		*d = DirectionHostToRemote
	case "remote_to_host":
		*d = DirectionRemoteToHost
	case "none", "":
		*d = DirectionNone
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// State is the coarse test state.
type State int

const (
	StateIdle State = iota
	StateHostToRemote
	StateRemoteToHost
)

func (s State) String() string {
	switch s {
	case StateHostToRemote:
		return "host_to_remote"
	case StateRemoteToHost:
		return "remote_to_host"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle", "":
		*s = StateIdle
	case "host_to_remote":
		*s = StateHostToRemote
	case "remote_to_host":
		*s = StateRemoteToHost
	default:
		return fmt.Errorf("unknown state %q", text)
	}
	return nil
}

// Phase refines StateHostToRemote.
type Phase int

const (
	PhaseNone Phase = iota
	PhasePumping
	PhaseAwaitingReport
)

func (p Phase) String() string {
	switch p {
	case PhasePumping:
		return "pumping"
	case PhaseAwaitingReport:
		return "awaiting_report"
	default:
		return ""
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*p = PhaseNone
	case "pumping":
		*p = PhasePumping
	case "awaiting_report":
		*p = PhaseAwaitingReport
	default:
		return fmt.Errorf("unknown phase %q", text)
	}
	return nil
}

// Result is the metrics record of one completed test.
type Result struct {
	SessionID       string        `json:"session_id"`
	Direction       Direction     `json:"direction"`
	Target          string        `json:"target"`
	ThroughputMBps  float64       `json:"throughput_mbps"`
	LossPercent     float64       `json:"loss_percent"`
	PacketTarget    int64         `json:"packet_target"`
	SentCount       int64         `json:"sent_count"`
	ReceivedCount   int64         `json:"received_count"`
	CorrectCount    uint64        `json:"correct_count"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	MalformedReport bool          `json:"malformed_report,omitempty"`
}

// Status is a point-in-time snapshot of the live session.
type Status struct {
	SessionID     string        `json:"session_id,omitempty"`
	State         State         `json:"state"`
	Phase         Phase         `json:"phase,omitempty"`
	Target        string        `json:"target,omitempty"`
	PacketTarget  int64         `json:"packet_target"`
	SentCount     int64         `json:"sent_count"`
	ReceivedCount int64         `json:"received_count"`
	StartedAt     time.Time     `json:"started_at"`
	Elapsed       time.Duration `json:"elapsed_ns"`
	LastResult    *Result       `json:"last_result,omitempty"`
}

type EventKind string

const (
	EventStatus     EventKind = "status"
	EventThroughput EventKind = "throughput"
	EventLoss       EventKind = "loss"
	EventResult     EventKind = "result"
	EventSuperseded EventKind = "superseded"
)

// Event is delivered to subscribers for every observable step of a test.
// Value carries MB/s for throughput events and percent for loss events;
// Text is the same value formatted for display.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Direction Direction `json:"direction"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message,omitempty"`
	Value     float64   `json:"value,omitempty"`
	Text      string    `json:"text,omitempty"`
	Result    *Result   `json:"result,omitempty"`
}

// EventFunc receives engine events on the engine goroutine. It must not
// block and must not call back into the engine synchronously.
type EventFunc func(Event)
