package engine

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrEngineStopped    = errors.New("engine stopped")
	ErrEngineRunning    = errors.New("engine already running")
)
