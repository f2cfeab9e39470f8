package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/encodeous/dvpn/perf"
	"github.com/encodeous/dvpn/state"
	"github.com/encodeous/dvpn/tun"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"
)

var ErrShutdown = errors.New("received shutdown signal")

type Options struct {
	// Context stops the daemon when cancelled.
	Context    context.Context
	LogLevel   slog.Level
	ConfigPath string
	// Tunnels replaces the system tunnel devices when set.
	Tunnels tun.Tunnels
	// InitState receives the state before the main loop starts.
	InitState **state.State
}

func newLogger(cfg state.LocalCfg, level slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: cfg.Name,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Start runs the daemon until it is interrupted or a module fails.
func Start(cfg state.LocalCfg, opts Options) error {
	cfg.ApplyDefaults()
	if err := state.ValidateConfig(&cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.LogLevel)
	if err != nil {
		return err
	}
	id, err := state.LoadIdentity(cfg.Key)
	if err != nil {
		return fmt.Errorf("loading key: %w", err)
	}

	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	dispatch := make(chan func(s *state.State) error, 128)

	s := &state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        cfg,
			Identity:        id,
			Log:             logger,
			ConfigPath:      opts.ConfigPath,
		},
	}
	if opts.InitState != nil {
		*opts.InitState = s
	}

	s.Log.Info("node identity", "id", id.ID, "fingerprint", state.FingerprintOf(id.ID))
	s.Log.Info("init modules")
	if err := initModules(s, opts); err != nil {
		Stop(s)
		return err
	}
	s.Log.Info("init modules complete")
	s.Log.Info("dvpn has been initialized. To gracefully exit, send SIGINT or Ctrl+C.")

	g := new(errgroup.Group)
	g.Go(func() error {
		return MainLoop(s, dispatch)
	})
	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		select {
		case <-c:
			s.Cancel(ErrShutdown)
		case <-ctx.Done():
		}
		return nil
	})
	if cfg.Metrics != "" {
		srv := &http.Server{Addr: cfg.Metrics, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			s.Log.Info("serving metrics", "addr", cfg.Metrics)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Cancel(fmt.Errorf("metrics server: %w", err))
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	err = g.Wait()
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrShutdown) || errors.Is(cause, context.Canceled) {
		return err
	}
	return errors.Join(cause, err)
}

func newModules(opts Options) []state.NyModule {
	return []state.NyModule{
		&Routing{},
		&Sessions{Tunnels: opts.Tunnels},
		&Adjacency{},
		&Query{},
		&Inspect{},
	}
}

func initModules(s *state.State, opts Options) error {
	for _, module := range newModules(opts) {
		name := reflect.TypeOf(module).String()
		s.Modules[name] = module
		s.ModuleOrder = append(s.ModuleOrder, name)
		if err := module.Init(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > state.SlowDispatchThreshold {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

// Stop cancels the context and cleans modules up in reverse init order.
func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	if s.DispatchChannel != nil {
		close(s.DispatchChannel)
		s.DispatchChannel = nil
	}
	s.Log.Info("cleaning up modules")
	for _, name := range slices.Backward(s.ModuleOrder) {
		err := s.Modules[name].Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
		}
	}
	s.Log.Info("stopped")
}
