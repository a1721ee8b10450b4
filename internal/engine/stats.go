package engine

import (
	"sync"
	"sync/atomic"
)

// Stats are cumulative engine counters, safe to read from any goroutine.
type Stats struct {
	StartedHostToRemote   uint64
	StartedRemoteToHost   uint64
	CompletedHostToRemote uint64
	CompletedRemoteToHost uint64
	Superseded            uint64
	DatagramsSent         uint64
	SendErrors            uint64
	DatagramsReceived     uint64
	DatagramsSpurious     uint64
	ReportsMalformed      uint64

	State            State
	LastHostToRemote *Result
	LastRemoteToHost *Result
}

type counters struct {
	started    [3]atomic.Uint64
	completed  [3]atomic.Uint64
	superseded atomic.Uint64
	sent       atomic.Uint64
	sendErrors atomic.Uint64
	received   atomic.Uint64
	spurious   atomic.Uint64
	malformed  atomic.Uint64
	state      atomic.Int32

	mu   sync.Mutex
	last [3]*Result
}

func (c *counters) setLast(res Result) {
	c.mu.Lock()
	c.last[res.Direction] = &res
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	s := Stats{
		StartedHostToRemote:   c.started[DirectionHostToRemote].Load(),
		StartedRemoteToHost:   c.started[DirectionRemoteToHost].Load(),
		CompletedHostToRemote: c.completed[DirectionHostToRemote].Load(),
		CompletedRemoteToHost: c.completed[DirectionRemoteToHost].Load(),
		Superseded:            c.superseded.Load(),
		DatagramsSent:         c.sent.Load(),
		SendErrors:            c.sendErrors.Load(),
		DatagramsReceived:     c.received.Load(),
		DatagramsSpurious:     c.spurious.Load(),
		ReportsMalformed:      c.malformed.Load(),
		State:                 State(c.state.Load()),
	}
	c.mu.Lock()
	s.LastHostToRemote = copyResult(c.last[DirectionHostToRemote])
	s.LastRemoteToHost = copyResult(c.last[DirectionRemoteToHost])
	c.mu.Unlock()
	return s
}

func copyResult(r *Result) *Result {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
