package state

import (
	"context"
	"log/slog"
	"sync/atomic"
)

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on the dispatch goroutine
type State struct {
	*Env
	Modules map[string]NyModule
	// ModuleOrder is the order modules were initialized in, cleanup runs in reverse.
	ModuleOrder []string
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	LocalCfg
	Identity   *Identity
	Context    context.Context
	Cancel     context.CancelCauseFunc
	Log        *slog.Logger
	ConfigPath string
	Started    atomic.Bool
	Stopping   atomic.Bool
}
