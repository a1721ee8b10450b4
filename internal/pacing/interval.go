package pacing

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"go.uber.org/ratelimit"
)

// Interval is a bounded-rate send loop: at most one datagram per period.
// Pacing is coarser than Readiness and does not track the socket buffer.
type Interval struct {
	writer  DatagramWriter
	limiter ratelimit.Limiter
	period  time.Duration
}

func NewInterval(writer DatagramWriter, period time.Duration) *Interval {
	if period <= 0 {
		period = time.Microsecond
	}
	return &Interval{
		writer:  writer,
		limiter: ratelimit.New(1, ratelimit.Per(period), ratelimit.WithoutSlack),
		period:  period,
	}
}

func (s *Interval) Send(ctx context.Context, b []byte, to netip.AddrPort) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.limiter.Take()
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.writer.WriteToUDPAddrPort(b, to)
	if err != nil {
		return err
	}
	if n < len(b) {
		return errors.New("partial udp write")
	}
	return nil
}

func (s *Interval) Name() string {
	return ModeInterval
}

func (s *Interval) Period() time.Duration {
	return s.period
}
