package app

import (
	"context"
	"errors"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/control"
	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/history"
	"github.com/simgunz/udp-ip-stack/internal/metrics"
	"github.com/simgunz/udp-ip-stack/internal/pacing"
	"github.com/simgunz/udp-ip-stack/internal/transport"
	"github.com/simgunz/udp-ip-stack/internal/util"
	"golang.org/x/sync/errgroup"
)

// Runtime owns one benchmark socket, the engine driving it and the
// surfaces built on top: metrics, history and the control server.
type Runtime struct {
	cfg      config.Config
	ctx      context.Context
	cancel   context.CancelFunc
	logger   util.Logger
	socket   *transport.Socket
	engine   *engine.Engine
	metrics  *metrics.Metrics
	hub      *control.EventHub
	history  *history.Store
	recorder *history.Recorder
	control  *control.ControlServer
	group    *errgroup.Group
}

func NewRuntime(cfg config.Config, logger util.Logger, restartFn func() error) (*Runtime, error) {
	ctx, cancel := context.WithCancel(context.Background())
	socket, err := transport.Open(transport.Options{
		BindAddr:    cfg.Local.BindAddr,
		Port:        cfg.Local.Port,
		TOS:         cfg.Local.TOS,
		ReadBuffer:  int(cfg.Local.ReadBufferBytes),
		WriteBuffer: int(cfg.Local.WriteBufferBytes),
	}, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	if socket.SendOnly() {
		logger.Warn("replies from the remote will not be received", "local", socket.LocalAddr().String())
	}

	pacer, err := pacing.New(cfg.Test.Pacing, socket.Conn(), cfg.Test.Interval.Duration())
	if err != nil {
		cancel()
		_ = socket.Close()
		return nil, err
	}
	eng, err := engine.New(engine.Options{
		Sender:         socket,
		Pacer:          pacer,
		CountEndMarker: cfg.Test.CountEndMarker,
		Logger:         logger,
	})
	if err != nil {
		cancel()
		_ = socket.Close()
		return nil, err
	}

	rt := &Runtime{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		socket:  socket,
		engine:  eng,
		metrics: metrics.NewMetrics(eng),
		hub:     control.NewEventHub(ctx.Done()),
	}
	eng.Subscribe(rt.hub.Observe)

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			rt.Stop()
			return nil, err
		}
		rt.history = store
		rt.recorder = history.NewRecorder(store, cfg.History.Keep, logger)
		eng.Subscribe(rt.recorder.Observe)
	}

	if cfg.Control.IsEnabled() {
		var lister control.ResultLister
		if rt.history != nil {
			lister = rt.history
		}
		rt.control = control.NewControlServer(cfg, eng, rt.metrics.Handler(), lister, rt.hub, restartFn, logger)
	}

	logger.Info("runtime configured",
		"local", socket.LocalAddr().String(),
		"remote", util.NetJoin(cfg.Remote.Addr, cfg.Remote.Port),
		"pacing", pacer.Name(),
		"history", cfg.History.Enabled,
		"control", cfg.Control.IsEnabled(),
	)
	rt.checkPathMTU()
	return rt, nil
}

func (r *Runtime) checkPathMTU() {
	target := transport.ParseTarget(r.cfg.Remote.Addr, r.cfg.Remote.Port)
	if !target.Addr().IsValid() {
		return
	}
	path, err := transport.CheckPathMTU(target.Addr())
	if err != nil {
		r.logger.Debug("path mtu check skipped", "error", err)
		return
	}
	if !path.Fits() {
		r.logger.Warn("egress link mtu too small for unfragmented payloads",
			"link", path.Link,
			"mtu", path.MTU,
			"required", path.Required,
		)
	}
}

func (r *Runtime) Start() error {
	group, gctx := errgroup.WithContext(r.ctx)
	r.group = group

	group.Go(func() error {
		return r.engine.Run(gctx)
	})
	group.Go(func() error {
		return r.socket.Serve(gctx, r.engine.OnDatagramReceived)
	})
	if r.recorder != nil {
		group.Go(func() error {
			return r.recorder.Run(gctx)
		})
	}
	r.metrics.Start(gctx.Done())

	if r.control != nil {
		if err := r.control.Start(gctx); err != nil {
			r.Stop()
			return err
		}
	}
	return nil
}

func (r *Runtime) Stop() {
	r.cancel()
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.control.Shutdown(ctx)
		cancel()
	}
	if r.group != nil {
		if err := r.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("runtime stopped with error", "error", err)
		}
	}
	_ = r.socket.Close()
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Error("history close failed", "error", err)
		}
	}
}

func (r *Runtime) Engine() *engine.Engine {
	return r.engine
}

func (r *Runtime) Config() config.Config {
	return r.cfg
}
