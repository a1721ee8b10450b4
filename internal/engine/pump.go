package engine

import (
	"context"
	"net/netip"
)

// pumpTick reports one transmission attempt to the engine loop. The pump
// waits on reply before the next attempt; false stops it.
type pumpTick struct {
	gen   uint64
	err   error
	reply chan bool
}

// pump hands payloads to the pacer, which blocks until the transport can
// take another datagram. It owns no session state.
func (e *Engine) pump(ctx context.Context, gen uint64, target netip.AddrPort) {
	defer e.pumps.Done()
	reply := make(chan bool, 1)
	for {
		err := e.pacer.Send(ctx, e.payload, target)
		if ctx.Err() != nil {
			return
		}
		select {
		case e.ticks <- pumpTick{gen: gen, err: err, reply: reply}:
		case <-ctx.Done():
			return
		}
		select {
		case more := <-reply:
			if !more {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
