package engine

import (
	"context"
	"net/netip"
	"time"
)

// session is the live TestSession. It is only touched by the engine loop.
type session struct {
	id        string
	gen       uint64
	direction Direction
	phase     Phase
	target    netip.AddrPort

	packetTarget  int64
	sentCount     int64
	receivedCount int64
	sendErrors    int64

	startedAt time.Time
	// pumpElapsed and throughput are frozen when the pump reaches its target.
	pumpElapsed time.Duration
	throughput  float64

	cancel context.CancelFunc
}

func (s *session) state() State {
	switch s.direction {
	case DirectionHostToRemote:
		return StateHostToRemote
	case DirectionRemoteToHost:
		return StateRemoteToHost
	default:
		return StateIdle
	}
}

func (s *session) stopPump() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *session) status(now time.Time) Status {
	st := Status{
		SessionID:     s.id,
		State:         s.state(),
		Phase:         s.phase,
		Target:        s.target.String(),
		PacketTarget:  s.packetTarget,
		SentCount:     s.sentCount,
		ReceivedCount: s.receivedCount,
		StartedAt:     s.startedAt,
		Elapsed:       now.Sub(s.startedAt),
	}
	if s.phase == PhaseAwaitingReport {
		st.Elapsed = s.pumpElapsed
	}
	return st
}
