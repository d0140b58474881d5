// Package runtime starts and supervises the observatory background tasks
// according to the configured mode: the bus tailer and session bridge feed
// the store from the shared event bus, while the control-plane poller
// synthesizes state passively from the platform CLI.
package runtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/bridge"
	"github.com/virgolamobile/observatory/internal/bus"
	"github.com/virgolamobile/observatory/internal/coreplane"
	"github.com/virgolamobile/observatory/internal/state"
)

// Supervisor owns the background tasks. Start is idempotent: the tasks
// launch once per process regardless of how many callers race into it.
type Supervisor struct {
	mode   string
	tailer *bus.Tailer
	bridge *bridge.Bridge
	poller *coreplane.Poller
	log    *zap.Logger

	once sync.Once
	wg   sync.WaitGroup
}

// New wires a supervisor. Components not applicable to the mode may be nil.
func New(mode string, tailer *bus.Tailer, br *bridge.Bridge, poller *coreplane.Poller, log *zap.Logger) *Supervisor {
	return &Supervisor{
		mode:   mode,
		tailer: tailer,
		bridge: br,
		poller: poller,
		log:    log.Named("runtime"),
	}
}

// Start launches the background tasks for the configured mode and returns
// immediately. Tasks stop when ctx is cancelled; Wait blocks until then.
func (s *Supervisor) Start(ctx context.Context) {
	s.once.Do(func() {
		s.log.Info("starting background tasks", zap.String("mode", s.mode))

		if s.mode == state.ModeAuto || s.mode == state.ModeCoreOnly {
			s.launch(ctx, "core poller", func(ctx context.Context) error {
				return s.poller.Run(ctx)
			})
		}
		if s.mode == state.ModeCoreOnly {
			// Control plane is authoritative; the bus stays untouched.
			return
		}

		s.launch(ctx, "bus tailer", func(ctx context.Context) error {
			return s.tailer.Run(ctx)
		})
		s.launch(ctx, "session bridge", func(ctx context.Context) error {
			return s.bridge.Run(ctx)
		})
	})
}

func (s *Supervisor) launch(ctx context.Context, name string, run func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("background task exited", zap.String("task", name), zap.Error(err))
			return
		}
		s.log.Info("background task stopped", zap.String("task", name))
	}()
}

// Wait blocks until every launched task has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
