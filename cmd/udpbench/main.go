package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/simgunz/udp-ip-stack/internal/app"
	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/emulator"
	"github.com/simgunz/udp-ip-stack/internal/engine"
	"github.com/simgunz/udp-ip-stack/internal/transport"
	"github.com/simgunz/udp-ip-stack/internal/util"
	"github.com/simgunz/udp-ip-stack/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", "config.yaml", "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runDaemon(*configPath)
			return
		case "send":
			os.Exit(runOneShot(engine.DirectionHostToRemote, os.Args[2:]))
		case "recv":
			os.Exit(runOneShot(engine.DirectionRemoteToHost, os.Args[2:]))
		case "emulate":
			os.Exit(runEmulator(os.Args[2:]))
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", "config.yaml", "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			checkConfig(*configPath)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			info := version.Get()
			fmt.Printf("%s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			return
		}
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()
	if *configPath == "config.yaml" && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runDaemon(*configPath)
}

func runDaemon(configPath string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLoggerWithLevel(cfg.Log.Level)
	supervisor := app.NewSupervisor(configPath, logger)
	if err := supervisor.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")
	supervisor.Stop()
}

type oneShotFlags struct {
	configPath string
	target     string
	port       int
	count      int64
	delay      int64
	pacing     string
	timeout    time.Duration
	jsonOut    bool
	logLevel   string
}

func runOneShot(direction engine.Direction, args []string) int {
	fs := flag.NewFlagSet(direction.String(), flag.ExitOnError)
	var f oneShotFlags
	fs.StringVar(&f.configPath, "config", "", "Optional config file; flags override it")
	fs.StringVar(&f.target, "target", "", "Remote IP address")
	fs.IntVar(&f.port, "port", 0, "Remote UDP port")
	fs.Int64Var(&f.count, "count", 0, "Number of payload datagrams")
	if direction == engine.DirectionRemoteToHost {
		fs.Int64Var(&f.delay, "delay", -1, "Inter-packet delay in remote clock cycles")
	}
	if direction == engine.DirectionHostToRemote {
		fs.StringVar(&f.pacing, "pacing", "", "Pacing mode: auto, readiness or interval")
	}
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "Give up waiting for the result after this long")
	fs.BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level override")
	_ = fs.Parse(args)
	if f.target == "" && fs.NArg() > 0 {
		f.target = fs.Arg(0)
	}

	cfg, err := oneShotConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 2
	}
	logger := util.NewLoggerWithLevel(cfg.Log.Level)

	req := app.TestRequest{
		Direction:        direction,
		Target:           transport.ParseTarget(cfg.Remote.Addr, cfg.Remote.Port),
		PacketCount:      int64(cfg.Test.PacketCount),
		InterPacketDelay: cfg.Test.InterPacketDelay,
	}
	if !req.Target.Addr().IsValid() {
		fmt.Fprintf(os.Stderr, "invalid target %q\n", cfg.Remote.Addr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := app.RunTest(ctx, cfg, req, logger, func(ev engine.Event) {
		if f.jsonOut {
			return
		}
		switch ev.Kind {
		case engine.EventStatus:
			fmt.Println(ev.Message)
		case engine.EventThroughput:
			fmt.Printf("throughput: %s\n", ev.Text)
		case engine.EventLoss:
			fmt.Printf("loss: %s\n", ev.Text)
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "test failed: %v\n", err)
		if errors.Is(err, engine.ErrInvalidParameter) {
			return 2
		}
		return 1
	}
	if f.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return 0
	}
	if res.MalformedReport {
		fmt.Println("warning: malformed report from remote")
	}
	fmt.Printf("session %s: %d packets in %s\n", res.SessionID, res.PacketTarget, res.Elapsed)
	return 0
}

func oneShotConfig(f oneShotFlags) (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if f.target != "" {
		cfg.Remote.Addr = f.target
	}
	if f.port > 0 {
		cfg.Remote.Port = f.port
	}
	if f.count != 0 {
		cfg.Test.PacketCount = int(f.count)
	}
	if f.delay >= 0 {
		cfg.Test.InterPacketDelay = f.delay
	}
	if f.pacing != "" {
		cfg.Test.Pacing = f.pacing
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	disabled := false
	cfg.Control.Enabled = &disabled
	return cfg, cfg.Normalize()
}

func runEmulator(args []string) int {
	fs := flag.NewFlagSet("emulate", flag.ExitOnError)
	configPath := fs.String("config", "", "Optional config file")
	bindAddr := fs.String("bind", "", "Bind address")
	port := fs.Int("port", 0, "Listen port")
	replyPort := fs.Int("reply-port", -1, "Destination port for reports and streams (0 = sender's port)")
	clock := fs.String("clock", "", "Remote clock rate, e.g. 125m")
	dropEvery := fs.Int("drop-every", 0, "Discard every Nth payload")
	_ = fs.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	if *bindAddr != "" {
		cfg.Emulator.BindAddr = *bindAddr
	}
	if *port > 0 {
		cfg.Emulator.Port = *port
	}
	if *replyPort >= 0 {
		cfg.Emulator.ReplyPort = *replyPort
	}
	if *clock != "" {
		cfg.Emulator.ClockRate = *clock
	}
	if err := cfg.Normalize(); err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 2
	}

	logger := util.NewLoggerWithLevel(cfg.Log.Level)
	emu, err := emulator.New(emulator.Config{
		BindAddr:  cfg.Emulator.BindAddr,
		Port:      cfg.Emulator.Port,
		ReplyPort: cfg.Emulator.ReplyPort,
		ClockHz:   cfg.Emulator.ClockHz,
		DropEvery: *dropEvery,
	}, logger)
	if err != nil {
		logger.Error("emulator startup failed", "error", err)
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := emu.Serve(ctx); err != nil {
		logger.Error("emulator stopped", "error", err)
		return 1
	}
	return 0
}

func checkConfig(path string) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config valid: local %s, remote %s, pacing %s, control %t\n",
		util.NetJoin(cfg.Local.BindAddr, cfg.Local.Port),
		util.NetJoin(cfg.Remote.Addr, cfg.Remote.Port),
		cfg.Test.Pacing,
		cfg.Control.IsEnabled(),
	)
	fmt.Printf("socket buffers: read %s, write %s\n",
		util.FormatBytes(float64(cfg.Local.ReadBufferBytes)),
		util.FormatBytes(float64(cfg.Local.WriteBufferBytes)),
	)
	os.Exit(0)
}

func printHelp() {
	fmt.Print(`udpbench - UDP throughput and loss benchmark for a fixed remote endpoint

Usage:
  udpbench run --config <path>          Start the daemon (engine + control API)
  udpbench send --target <ip> [flags]   One-shot host to remote test
  udpbench recv --target <ip> [flags]   One-shot remote to host test
  udpbench emulate [flags]              Emulate the remote endpoint
  udpbench check --config <path>        Validate config file
  udpbench help                         Show this help
  udpbench version                      Print version

One-shot flags:
  --config <path>   Base config (optional)
  --port <n>        Remote port (default 33982)
  --count <n>       Payload datagrams (default 1000)
  --delay <cycles>  Inter-packet delay, recv only
  --pacing <mode>   auto, readiness or interval, send only
  --timeout <dur>   Result wait limit (default 30s)
  --json            Print the result as JSON
`)
}
