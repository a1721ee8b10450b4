// Package engine implements the benchmark protocol: the test controller
// state machine, the packet pump and the datagram classifier.
//
// A single goroutine (Run) owns the live session. Start requests, pump ticks
// and inbound datagrams are posted to it as events, so the pump and the
// receive path never touch session state directly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/simgunz/udp-ip-stack/internal/pacing"
	"github.com/simgunz/udp-ip-stack/internal/protocol"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

// Sender transmits control commands to the remote.
type Sender interface {
	WriteTo(b []byte, to netip.AddrPort) error
}

type Options struct {
	Sender Sender
	Pacer  pacing.Source
	// CountEndMarker counts the end-of-stream datagram as a received payload.
	CountEndMarker bool
	Logger         util.Logger
	Now            func() time.Time
}

type Engine struct {
	sender         Sender
	pacer          pacing.Source
	countEndMarker bool
	logger         util.Logger
	now            func() time.Time
	payload        []byte

	starts   chan startRequest
	ticks    chan pumpTick
	inbox    chan inbound
	statusCh chan chan Status
	done     chan struct{}
	running  atomic.Bool

	subMu sync.RWMutex
	subs  []EventFunc

	stats counters
	pumps sync.WaitGroup

	// loop-owned
	session *session
	gen     uint64
}

type startRequest struct {
	direction   Direction
	target      netip.AddrPort
	packetCount int64
	delay       int64
	reply       chan string
}

type inbound struct {
	data []byte
	from netip.AddrPort
}

func New(opts Options) (*Engine, error) {
	if opts.Sender == nil {
		return nil, errors.New("engine: nil sender")
	}
	if opts.Pacer == nil {
		return nil, errors.New("engine: nil pacer")
	}
	logger := opts.Logger
	if logger == nil {
		logger = util.DiscardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sender:         opts.Sender,
		pacer:          opts.Pacer,
		countEndMarker: opts.CountEndMarker,
		logger:         logger,
		now:            now,
		payload:        protocol.Payload(),
		starts:         make(chan startRequest),
		ticks:          make(chan pumpTick),
		inbox:          make(chan inbound),
		statusCh:       make(chan chan Status),
		done:           make(chan struct{}),
	}, nil
}

// Subscribe registers fn for all subsequent events.
func (e *Engine) Subscribe(fn EventFunc) {
	if fn == nil {
		return
	}
	e.subMu.Lock()
	e.subs = append(e.subs, fn)
	e.subMu.Unlock()
}

func (e *Engine) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.subMu.RLock()
	subs := e.subs
	e.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Run processes events until ctx is cancelled. It may be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer func() {
		if e.session != nil {
			e.session.stopPump()
			e.session = nil
		}
		e.stats.state.Store(int32(StateIdle))
		close(e.done)
		e.pumps.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.starts:
			req.reply <- e.start(ctx, req)
		case tick := <-e.ticks:
			tick.reply <- e.handleTick(tick)
		case in := <-e.inbox:
			e.classify(in.data, in.from)
		case reply := <-e.statusCh:
			reply <- e.snapshot()
		}
	}
}

// StartHostToRemoteTest arms the pump towards target. It returns the new
// session id once the engine has accepted the request; the result arrives
// asynchronously as events.
func (e *Engine) StartHostToRemoteTest(target netip.AddrPort, packetCount int64) (string, error) {
	if err := validateCount(packetCount); err != nil {
		return "", err
	}
	return e.submit(startRequest{
		direction:   DirectionHostToRemote,
		target:      target,
		packetCount: packetCount,
	})
}

// StartRemoteToHostTest asks the remote to stream packetCount payloads with
// interPacketDelay clock cycles between them.
func (e *Engine) StartRemoteToHostTest(target netip.AddrPort, packetCount int64, interPacketDelay int64) (string, error) {
	if err := validateCount(packetCount); err != nil {
		return "", err
	}
	if interPacketDelay < 0 || interPacketDelay > math.MaxUint32 {
		return "", fmt.Errorf("%w: inter-packet delay %d out of range", ErrInvalidParameter, interPacketDelay)
	}
	return e.submit(startRequest{
		direction:   DirectionRemoteToHost,
		target:      target,
		packetCount: packetCount,
		delay:       interPacketDelay,
	})
}

func validateCount(packetCount int64) error {
	if packetCount <= 0 || packetCount > math.MaxUint32 {
		return fmt.Errorf("%w: packet count %d out of range", ErrInvalidParameter, packetCount)
	}
	return nil
}

func (e *Engine) submit(req startRequest) (string, error) {
	req.reply = make(chan string, 1)
	select {
	case e.starts <- req:
	case <-e.done:
		return "", ErrEngineStopped
	}
	select {
	case id := <-req.reply:
		return id, nil
	case <-e.done:
		return "", ErrEngineStopped
	}
}

// OnDatagramReceived hands an inbound datagram to the classifier. The engine
// keeps data; callers must not reuse the slice.
func (e *Engine) OnDatagramReceived(data []byte, from netip.AddrPort) {
	select {
	case e.inbox <- inbound{data: data, from: from}:
	case <-e.done:
	}
}

// Status returns a snapshot of the live session, or an idle status once the
// engine has stopped.
func (e *Engine) Status() Status {
	reply := make(chan Status, 1)
	select {
	case e.statusCh <- reply:
	case <-e.done:
		return e.idleStatus()
	}
	select {
	case st := <-reply:
		return st
	case <-e.done:
		return e.idleStatus()
	}
}

func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

func (e *Engine) idleStatus() Status {
	st := e.stats.snapshot()
	last := st.LastHostToRemote
	if st.LastRemoteToHost != nil && (last == nil || st.LastRemoteToHost.FinishedAt.After(last.FinishedAt)) {
		last = st.LastRemoteToHost
	}
	return Status{State: StateIdle, LastResult: last}
}

func (e *Engine) snapshot() Status {
	if e.session == nil {
		return e.idleStatus()
	}
	st := e.session.status(e.now())
	st.LastResult = e.idleStatus().LastResult
	return st
}

func (e *Engine) start(ctx context.Context, req startRequest) string {
	if old := e.session; old != nil {
		old.stopPump()
		e.session = nil
		e.stats.superseded.Add(1)
		e.logger.Info("test superseded", "session", old.id, "direction", old.direction.String())
		e.emit(Event{
			Kind:      EventSuperseded,
			SessionID: old.id,
			Direction: old.direction,
			Message:   "test superseded by a new start request",
		})
	}

	e.gen++
	s := &session{
		id:           uuid.NewString(),
		gen:          e.gen,
		direction:    req.direction,
		target:       req.target,
		packetTarget: req.packetCount,
	}
	e.session = s
	e.stats.started[s.direction].Add(1)
	e.stats.state.Store(int32(s.state()))

	e.sendCommand(s, "reset counter", protocol.EncodeResetCounter())
	s.startedAt = e.now()

	var msg string
	switch s.direction {
	case DirectionHostToRemote:
		s.phase = PhasePumping
		pumpCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		e.pumps.Add(1)
		go e.pump(pumpCtx, s.gen, s.target)
		msg = "host to remote test started"
	case DirectionRemoteToHost:
		cmd, err := protocol.EncodeStartRemoteSend(req.packetCount, req.delay)
		if err != nil {
			// validated by the caller
			e.logger.Error("encode start command failed", "session", s.id, "error", err)
		} else {
			e.sendCommand(s, "start remote send", cmd)
		}
		msg = "remote to host test started"
	}

	e.logger.Info("test started",
		"session", s.id,
		"direction", s.direction.String(),
		"target", s.target.String(),
		"packets", s.packetTarget,
	)
	e.emit(Event{Kind: EventStatus, SessionID: s.id, Direction: s.direction, Message: msg})
	return s.id
}

// sendCommand is fire-and-forget: failures are logged, never raised.
func (e *Engine) sendCommand(s *session, name string, cmd []byte) {
	if err := e.sender.WriteTo(cmd, s.target); err != nil {
		e.logger.Warn("send command failed",
			"session", s.id,
			"command", name,
			"target", s.target.String(),
			"error", err,
		)
	}
}

func (e *Engine) handleTick(tick pumpTick) bool {
	s := e.session
	if s == nil || s.gen != tick.gen || s.phase != PhasePumping {
		return false
	}
	s.sentCount++
	e.stats.sent.Add(1)
	if tick.err != nil {
		s.sendErrors++
		e.stats.sendErrors.Add(1)
		if s.sendErrors == 1 {
			e.logger.Warn("payload send failed", "session", s.id, "target", s.target.String(), "error", tick.err)
		}
	}
	if s.sentCount < s.packetTarget {
		return true
	}
	e.finishPumping(s)
	return false
}

func (e *Engine) finishPumping(s *session) {
	s.stopPump()
	s.pumpElapsed = e.now().Sub(s.startedAt)
	s.phase = PhaseAwaitingReport
	s.throughput = throughputMBps(s.packetTarget, protocol.PayloadSize, s.pumpElapsed)

	e.sendCommand(s, "request report", protocol.EncodeRequestReport())

	if s.sendErrors > 1 {
		e.logger.Warn("payload sends failed", "session", s.id, "failures", s.sendErrors)
	}
	e.logger.Info("pump finished",
		"session", s.id,
		"packets", s.sentCount,
		"elapsed", s.pumpElapsed,
		"throughput_mbps", s.throughput,
	)
	e.emit(Event{
		Kind:      EventStatus,
		SessionID: s.id,
		Direction: s.direction,
		Message:   fmt.Sprintf("%d packets sent to the remote", s.sentCount),
	})
	e.emit(Event{
		Kind:      EventThroughput,
		SessionID: s.id,
		Direction: s.direction,
		Value:     s.throughput,
		Text:      util.FormatMBps(s.throughput),
	})
}
