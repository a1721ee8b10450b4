package app

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/emulator"
	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/history"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

func startEmulator(t *testing.T) *emulator.Emulator {
	t.Helper()
	emu, err := emulator.New(emulator.Config{BindAddr: "127.0.0.1", ClockHz: 1_000_000}, nil)
	if err != nil {
		t.Fatalf("emulator: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = emu.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return emu
}

func loopbackConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Local.BindAddr = "127.0.0.1"
	cfg.Test.Pacing = config.PacingInterval
	cfg.Test.Interval = config.Duration(50 * time.Microsecond)
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return cfg
}

func TestRunTestAgainstEmulator(t *testing.T) {
	emu := startEmulator(t)
	cfg := loopbackConfig(t)
	logger := util.DiscardLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var kinds []engine.EventKind
	res, err := RunTest(ctx, cfg, TestRequest{
		Direction:   engine.DirectionHostToRemote,
		Target:      emu.Addr(),
		PacketCount: 40,
	}, logger, func(ev engine.Event) { kinds = append(kinds, ev.Kind) })
	if err != nil {
		t.Fatalf("host to remote: %v", err)
	}
	if res.CorrectCount != 40 || res.LossPercent != 0 {
		t.Fatalf("unexpected host to remote result %+v", res)
	}
	if len(kinds) == 0 || kinds[len(kinds)-1] != engine.EventResult {
		t.Fatalf("result event not last: %v", kinds)
	}

	res, err = RunTest(ctx, cfg, TestRequest{
		Direction:        engine.DirectionRemoteToHost,
		Target:           emu.Addr(),
		PacketCount:      40,
		InterPacketDelay: 10,
	}, logger, nil)
	if err != nil {
		t.Fatalf("remote to host: %v", err)
	}
	if res.ReceivedCount != 40 || res.LossPercent != 0 {
		t.Fatalf("unexpected remote to host result %+v", res)
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	rows, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(rows) != 2 || rows[0].Direction != engine.DirectionRemoteToHost {
		t.Fatalf("unexpected history rows %+v", rows)
	}
}

func TestRunTestTimesOut(t *testing.T) {
	cfg := loopbackConfig(t)
	cfg.History.Enabled = false
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// Nothing listens on the discard port, so no end marker ever arrives.
	_, err := RunTest(ctx, cfg, TestRequest{
		Direction:   engine.DirectionRemoteToHost,
		Target:      netipLoopback(9),
		PacketCount: 10,
	}, util.DiscardLogger(), nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestSupervisorLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udpbench.yaml")
	raw := []byte(`
local:
  bind_addr: 127.0.0.1
test:
  pacing: interval
control:
  enabled: false
`)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	sup := NewSupervisor(path, util.DiscardLogger())
	if err := sup.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	rt, err := sup.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if st := rt.Engine().Status(); st.State != engine.StateIdle {
		t.Fatalf("unexpected status %+v", st)
	}
	if err := sup.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	next, err := sup.Runtime()
	if err != nil || next == rt {
		t.Fatalf("restart did not replace the runtime: %v", err)
	}
	sup.Stop()
	if _, err := sup.Runtime(); err == nil {
		t.Fatalf("expected no runtime after stop")
	}
}

func netipLoopback(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port)
}
