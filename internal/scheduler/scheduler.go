// Package scheduler repeats the fleet cycle until shutdown.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/italolelis/qbit_mover/internal/config"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/reconcile"
)

// State of the loop.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
)

func (s State) String() string {
	if s == StateShuttingDown {
		return "shutting_down"
	}

	return "running"
}

// CycleRunner runs one pass over the given servers.
type CycleRunner interface {
	RunCycle(ctx context.Context, servers []config.Server) reconcile.CycleResult
}

// ServerSource supplies a fresh server list and delay before every cycle.
type ServerSource interface {
	Servers() []config.Server
	Delay() time.Duration
}

// CycleHook is called after every cycle with its result.
type CycleHook func(ctx context.Context, result reconcile.CycleResult)

type Loop struct {
	runner CycleRunner
	source ServerSource
	hooks  []CycleHook
	state  atomic.Int32
}

func NewLoop(runner CycleRunner, source ServerSource, hooks ...CycleHook) *Loop {
	return &Loop{runner: runner, source: source, hooks: hooks}
}

// State reports whether the loop is still accepting new cycles.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run executes cycles until ctx is cancelled. Cancellation never interrupts
// a cycle: the in-flight cycle runs to completion and no new one starts.
func (l *Loop) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "scheduler started")

	// Cycles and hooks keep running after shutdown is requested.
	cycleCtx := context.WithoutCancel(ctx)

	for {
		result := l.runner.RunCycle(cycleCtx, l.source.Servers())

		for _, hook := range l.hooks {
			hook(cycleCtx, result)
		}

		if ctx.Err() != nil {
			l.shutdown(ctx)

			return nil
		}

		delay := l.source.Delay()

		logger.DebugContext(ctx, "waiting for next cycle", "delay", delay)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			l.shutdown(ctx)

			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	l.state.Store(int32(StateShuttingDown))

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "shutdown signal received, scheduler stopped")
}
