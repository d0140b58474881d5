// Package coreplane passively polls the agent platform's control-plane CLI
// and synthesizes agent snapshots, cron telemetry, and capability flags from
// its JSON output. The poller never mutates the platform: every channel is a
// read-only list or status query.
package coreplane

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/metrics"
)

// queryTimeout bounds one CLI invocation. The control plane answers list
// queries well under a second when healthy; a hung binary must not stall
// the whole poll cycle.
const queryTimeout = 8 * time.Second

var errEmptyOutput = errors.New("empty CLI output")

// Runner issues one read-only control-plane query and returns its raw JSON
// output, or nil when the channel is unavailable. Implementations must never
// retry; the poll loop provides the cadence.
type Runner interface {
	Query(ctx context.Context, channel string, args ...string) json.RawMessage
	// Available reports whether the control plane can be reached at all,
	// e.g. the CLI binary resolves on PATH.
	Available() bool
}

// CLIRunner shells out to the platform CLI with a per-channel circuit
// breaker. A missing binary, a breaker in the open state, non-zero exit,
// or empty output all degrade to nil so one dead channel reads as "absent"
// instead of failing the cycle.
type CLIRunner struct {
	binary   string
	breakers map[string]*gobreaker.CircuitBreaker
	metrics  *metrics.Set
	log      *zap.Logger
}

// NewCLIRunner builds a runner for the named binary over a fixed channel set.
func NewCLIRunner(binary string, channels []string, m *metrics.Set, log *zap.Logger) *CLIRunner {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(channels))
	for _, channel := range channels {
		breakers[channel] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "coreplane-" + channel,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &CLIRunner{
		binary:   binary,
		breakers: breakers,
		metrics:  m,
		log:      log.Named("coreplane"),
	}
}

// Query runs "<binary> <args...> --json" and returns its stdout. Nil means
// the channel produced nothing usable this cycle.
func (r *CLIRunner) Query(ctx context.Context, channel string, args ...string) json.RawMessage {
	if _, err := exec.LookPath(r.binary); err != nil {
		r.markChannel(channel, false)
		return nil
	}

	breaker, ok := r.breakers[channel]
	if !ok {
		r.log.Warn("query on unregistered channel", zap.String("channel", channel))
		return nil
	}

	out, err := breaker.Execute(func() (any, error) {
		return r.invoke(ctx, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			r.log.Debug("channel breaker open", zap.String("channel", channel))
		} else {
			r.log.Warn("control-plane query failed",
				zap.String("channel", channel), zap.Error(err))
		}
		r.markChannel(channel, false)
		return nil
	}

	r.markChannel(channel, true)
	return out.(json.RawMessage)
}

func (r *CLIRunner) invoke(ctx context.Context, args []string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binary, append(append([]string{}, args...), "--json")...)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	payload := strings.TrimSpace(string(out))
	if payload == "" {
		return nil, errEmptyOutput
	}
	if !json.Valid([]byte(payload)) {
		return nil, errors.New("invalid JSON from CLI")
	}
	return json.RawMessage(payload), nil
}

func (r *CLIRunner) markChannel(channel string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	r.metrics.ChannelUp.WithLabelValues(channel).Set(v)
}

// Available reports whether the CLI binary can be resolved on PATH.
func (r *CLIRunner) Available() bool {
	_, err := exec.LookPath(r.binary)
	return err == nil
}
