package coreplane

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/metrics"
	"github.com/virgolamobile/observatory/internal/state"
)

// MinPollInterval is the floor on the cycle period regardless of config.
const MinPollInterval = time.Second

// Poller drives the passive control-plane monitor: one cycle fetches every
// channel, refreshes capabilities, rebuilds cron telemetry, synthesizes
// agent snapshots, and pushes whatever changed.
type Poller struct {
	runner   Runner
	store    *state.Store
	notifier state.Notifier
	runLog   *RunLog
	metrics  *metrics.Set
	log      *zap.Logger

	interval       time.Duration
	maxActivations int

	mu   sync.Mutex
	caps Capabilities
}

// NewPoller wires a poller. The interval is clamped to MinPollInterval.
func NewPoller(runner Runner, store *state.Store, notifier state.Notifier, runLog *RunLog, m *metrics.Set, log *zap.Logger, interval time.Duration, maxActivations int) *Poller {
	if interval < MinPollInterval {
		interval = MinPollInterval
	}
	p := &Poller{
		runner:         runner,
		store:          store,
		notifier:       notifier,
		runLog:         runLog,
		metrics:        m,
		log:            log.Named("coreplane"),
		interval:       interval,
		maxActivations: maxActivations,
	}
	p.caps = ComputeCapabilities(runner, Payloads{}, store.Mode(), maxActivations)
	return p
}

// Capabilities returns the most recently computed capability record.
func (p *Poller) Capabilities() Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

// Run polls until the context is cancelled. A failed cycle is logged and
// counted; the next cycle starts from scratch.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("control-plane monitor started",
		zap.Duration("interval", p.interval), zap.String("mode", p.store.Mode()))
	for {
		p.Cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Cycle performs one full poll pass.
func (p *Poller) Cycle(ctx context.Context) {
	payloads := FetchPayloads(ctx, p.runner)

	caps := ComputeCapabilities(p.runner, payloads, p.store.Mode(), p.maxActivations)
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()

	details, summary := BuildCronDetails(payloads, p.runLog)
	p.store.SetCron(details, summary)

	states := BuildCoreAgentStates(payloads, details, p.store.Mode(), time.Now())
	if len(states) == 0 {
		p.metrics.PollCycles.WithLabelValues("empty").Inc()
		return
	}

	changed, initNeeded := p.store.ApplyCoreStates(states)
	if initNeeded {
		p.notifier.Init(p.store.ListFiltered())
	} else {
		for _, snap := range changed {
			p.notifier.Update(snap)
		}
	}
	p.metrics.TrackedAgents.Set(float64(p.store.Count()))
	p.metrics.PollCycles.WithLabelValues("ok").Inc()
}
