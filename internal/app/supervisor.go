package app

import (
	"errors"
	"sync"

	"github.com/simgunz/udp-ip-stack/internal/config"
	"github.com/simgunz/udp-ip-stack/internal/util"
)

// Supervisor owns the daemon runtime and rebuilds it from the config file
// on Restart.
type Supervisor struct {
	configPath string
	logger     util.Logger
	mu         sync.Mutex
	runtime    *Runtime
	restarts   int
}

func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logger:     logger,
	}
}

func (s *Supervisor) Start() error {
	cfg, err := config.LoadConfig(s.configPath)
	if err != nil {
		return err
	}
	runtime, err := NewRuntime(cfg, s.logger, s.Restart)
	if err != nil {
		return err
	}
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Restart stops the current runtime before loading the config again, so the
// benchmark port is free for the new socket.
func (s *Supervisor) Restart() error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.restarts++
	n := s.restarts
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	if err := s.Start(); err != nil {
		return err
	}
	s.logger.Info("runtime restarted", "restarts", n)
	return nil
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Runtime returns the live runtime, or an error while none is running.
func (s *Supervisor) Runtime() (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil, errors.New("runtime not running")
	}
	return s.runtime, nil
}
