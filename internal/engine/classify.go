package engine

import (
	"net/netip"

	"github.com/simgunz/udp-ip-stack/internal/protocol"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

// classify folds one inbound datagram into the live session.
func (e *Engine) classify(data []byte, from netip.AddrPort) {
	s := e.session
	switch {
	case s == nil:
		e.spurious(data, from, "idle")
	case s.direction == DirectionHostToRemote && s.phase == PhasePumping:
		e.spurious(data, from, "report not requested")
	case s.direction == DirectionHostToRemote:
		e.stats.received.Add(1)
		e.handleReport(s, data)
	case s.direction == DirectionRemoteToHost:
		e.stats.received.Add(1)
		e.handleStream(s, data)
	default:
		e.spurious(data, from, "unknown state")
	}
}

func (e *Engine) spurious(data []byte, from netip.AddrPort, reason string) {
	e.stats.spurious.Add(1)
	e.logger.Debug("spurious datagram discarded", "from", from.String(), "bytes", len(data), "reason", reason)
}

// handleReport reads the remote's received-payload count. A malformed
// report counts as zero delivered payloads.
func (e *Engine) handleReport(s *session, data []byte) {
	correct, err := protocol.ParseReport(data)
	malformed := err != nil
	if malformed {
		correct = 0
		e.stats.malformed.Add(1)
		e.logger.Warn("malformed report", "session", s.id, "bytes", len(data), "error", err)
	}
	loss := lossPercent(s.packetTarget, float64(correct))

	res := Result{
		SessionID:       s.id,
		Direction:       s.direction,
		Target:          s.target.String(),
		ThroughputMBps:  s.throughput,
		LossPercent:     loss,
		PacketTarget:    s.packetTarget,
		SentCount:       s.sentCount,
		CorrectCount:    correct,
		Elapsed:         s.pumpElapsed,
		StartedAt:       s.startedAt,
		FinishedAt:      e.now(),
		MalformedReport: malformed,
	}
	e.emit(Event{
		Kind:      EventLoss,
		SessionID: s.id,
		Direction: s.direction,
		Value:     loss,
		Text:      util.FormatLossPercent(loss),
	})
	e.finish(res)
}

func (e *Engine) handleStream(s *session, data []byte) {
	if !protocol.IsEndMarker(data) {
		s.receivedCount++
		return
	}
	if e.countEndMarker {
		s.receivedCount++
	}

	elapsed := e.now().Sub(s.startedAt)
	throughput := throughputMBps(s.packetTarget, protocol.PayloadSize, elapsed)
	loss := lossPercent(s.packetTarget, float64(s.receivedCount))
	res := Result{
		SessionID:      s.id,
		Direction:      s.direction,
		Target:         s.target.String(),
		ThroughputMBps: throughput,
		LossPercent:    loss,
		PacketTarget:   s.packetTarget,
		ReceivedCount:  s.receivedCount,
		CorrectCount:   uint64(s.receivedCount),
		Elapsed:        elapsed,
		StartedAt:      s.startedAt,
		FinishedAt:     s.startedAt.Add(elapsed),
	}
	e.emit(Event{
		Kind:      EventThroughput,
		SessionID: s.id,
		Direction: s.direction,
		Value:     throughput,
		Text:      util.FormatMBps(throughput),
	})
	e.emit(Event{
		Kind:      EventLoss,
		SessionID: s.id,
		Direction: s.direction,
		Value:     loss,
		Text:      util.FormatLossPercent(loss),
	})
	e.finish(res)
}

// finish returns the engine to Idle and publishes the result.
func (e *Engine) finish(res Result) {
	e.session = nil
	e.stats.completed[res.Direction].Add(1)
	e.stats.setLast(res)
	e.stats.state.Store(int32(StateIdle))

	e.logger.Info("test completed",
		"session", res.SessionID,
		"direction", res.Direction.String(),
		"packets", res.PacketTarget,
		"throughput_mbps", res.ThroughputMBps,
		"loss_percent", res.LossPercent,
	)
	r := res
	e.emit(Event{Kind: EventResult, SessionID: res.SessionID, Direction: res.Direction, Result: &r})
}
