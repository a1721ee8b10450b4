// Package emulator answers the benchmark protocol the way the remote FPGA
// endpoint does, so the tool can be exercised without hardware.
package emulator

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/protocol"
	"github.com/simgunz/udp-ip-stack/internal/transport"
	"github.com/simgunz/udp-ip-stack/internal/util"
	"go.uber.org/ratelimit"
)

type Config struct {
	BindAddr string
	Port     int
	// ReplyPort overrides the destination port of reports and streams;
	// 0 replies to the sender's port.
	ReplyPort int
	// ClockHz converts inter-packet delays from cycles to time.
	ClockHz uint64
	// DropEvery discards every Nth payload in both directions; 0 drops none.
	DropEvery int
}

type Emulator struct {
	cfg    Config
	socket *transport.Socket
	logger util.Logger

	received atomic.Uint64
	seen     atomic.Uint64

	mu         sync.Mutex
	stopStream context.CancelFunc
	streams    sync.WaitGroup
}

func New(cfg Config, logger util.Logger) (*Emulator, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	if cfg.ClockHz == 0 {
		return nil, errors.New("emulator clock rate must be > 0")
	}
	socket, err := transport.Open(transport.Options{
		BindAddr:    cfg.BindAddr,
		Port:        cfg.Port,
		ReadBuffer:  4 << 20,
		WriteBuffer: 4 << 20,
		Strict:      true,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Emulator{cfg: cfg, socket: socket, logger: logger}, nil
}

func (e *Emulator) Addr() netip.AddrPort {
	return e.socket.LocalAddr()
}

// Received is the current payload counter, as a report would return it.
func (e *Emulator) Received() uint64 {
	return e.received.Load()
}

// Serve answers commands until ctx is cancelled. The socket is closed on
// return.
func (e *Emulator) Serve(ctx context.Context) error {
	e.logger.Info("emulator listening", "addr", e.Addr().String(), "clock_hz", e.cfg.ClockHz)
	err := e.socket.Serve(ctx, func(data []byte, from netip.AddrPort) {
		e.handle(ctx, data, from)
	})
	e.cancelStream()
	e.streams.Wait()
	_ = e.socket.Close()
	return err
}

func (e *Emulator) handle(ctx context.Context, data []byte, from netip.AddrPort) {
	switch {
	case len(data) == 1 && data[0] == protocol.CmdResetCounter:
		e.received.Store(0)
		e.seen.Store(0)
		e.logger.Debug("counter reset", "from", from.String())
	case len(data) == 1 && data[0] == protocol.CmdRequestReport:
		count := e.received.Load()
		report := make([]byte, 4)
		binary.BigEndian.PutUint32(report, uint32(count))
		e.reply(report, from)
		e.logger.Debug("report sent", "count", count, "to", from.String())
	case len(data) == protocol.StartRemoteSendSize && data[0] == protocol.CmdStartRemoteSend:
		count, delay, err := protocol.DecodeStartRemoteSend(data)
		if err != nil {
			e.logger.Warn("bad start command", "error", err)
			return
		}
		e.startStream(ctx, e.replyAddr(from), count, delay)
	default:
		if n := e.seen.Add(1); e.dropped(n) {
			return
		}
		e.received.Add(1)
	}
}

func (e *Emulator) dropped(n uint64) bool {
	return e.cfg.DropEvery > 0 && n%uint64(e.cfg.DropEvery) == 0
}

func (e *Emulator) replyAddr(from netip.AddrPort) netip.AddrPort {
	if e.cfg.ReplyPort > 0 {
		return netip.AddrPortFrom(from.Addr(), uint16(e.cfg.ReplyPort))
	}
	return from
}

func (e *Emulator) reply(b []byte, from netip.AddrPort) {
	if err := e.socket.WriteTo(b, e.replyAddr(from)); err != nil {
		e.logger.Warn("reply failed", "to", from.String(), "error", err)
	}
}

func (e *Emulator) cancelStream() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopStream != nil {
		e.stopStream()
		e.stopStream = nil
	}
}

// delayFor converts remote clock cycles into wall time.
func (e *Emulator) delayFor(cycles uint32) time.Duration {
	return time.Duration(uint64(cycles) * uint64(time.Second) / e.cfg.ClockHz)
}

func (e *Emulator) startStream(ctx context.Context, to netip.AddrPort, count, cycles uint32) {
	e.cancelStream()
	streamCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.stopStream = cancel
	e.mu.Unlock()

	gap := e.delayFor(cycles)
	e.logger.Info("stream started", "to", to.String(), "packets", count, "gap", gap)
	e.streams.Add(1)
	go func() {
		defer e.streams.Done()
		e.stream(streamCtx, to, count, gap)
	}()
}

func (e *Emulator) stream(ctx context.Context, to netip.AddrPort, count uint32, gap time.Duration) {
	var limiter ratelimit.Limiter = ratelimit.NewUnlimited()
	if gap > 0 {
		limiter = ratelimit.New(1, ratelimit.Per(gap), ratelimit.WithoutSlack)
	}
	payload := protocol.Payload()
	sent := uint64(0)
	for i := uint32(1); i <= count; i++ {
		if ctx.Err() != nil {
			return
		}
		limiter.Take()
		if e.dropped(uint64(i)) {
			continue
		}
		if err := e.socket.WriteTo(payload, to); err != nil {
			e.logger.Debug("stream send failed", "error", err)
			continue
		}
		sent++
	}
	limiter.Take()
	if err := e.socket.WriteTo([]byte{protocol.EndMarker}, to); err != nil {
		e.logger.Warn("end marker send failed", "error", err)
	}
	e.logger.Info("stream finished", "to", to.String(), "sent", sent)
}
