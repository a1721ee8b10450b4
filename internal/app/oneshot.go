package app

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

type TestRequest struct {
	Direction        engine.Direction
	Target           netip.AddrPort
	PacketCount      int64
	InterPacketDelay int64
}

// RunTest brings up a runtime without the control server, runs a single
// test and returns its result. ctx bounds the wait for the result.
func RunTest(ctx context.Context, cfg config.Config, req TestRequest, logger util.Logger, onEvent engine.EventFunc) (engine.Result, error) {
	disabled := false
	cfg.Control.Enabled = &disabled

	rt, err := NewRuntime(cfg, logger, nil)
	if err != nil {
		return engine.Result{}, err
	}
	results := make(chan engine.Result, 1)
	rt.Engine().Subscribe(func(ev engine.Event) {
		if onEvent != nil {
			onEvent(ev)
		}
		if ev.Kind == engine.EventResult && ev.Result != nil {
			select {
			case results <- *ev.Result:
			default:
			}
		}
	})
	if err := rt.Start(); err != nil {
		return engine.Result{}, err
	}
	defer rt.Stop()

	switch req.Direction {
	case engine.DirectionHostToRemote:
		_, err = rt.Engine().StartHostToRemoteTest(req.Target, req.PacketCount)
	case engine.DirectionRemoteToHost:
		_, err = rt.Engine().StartRemoteToHostTest(req.Target, req.PacketCount, req.InterPacketDelay)
	default:
		err = fmt.Errorf("%w: direction %s", engine.ErrInvalidParameter, req.Direction)
	}
	if err != nil {
		return engine.Result{}, err
	}

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		return engine.Result{}, fmt.Errorf("waiting for result: %w", ctx.Err())
	}
}
