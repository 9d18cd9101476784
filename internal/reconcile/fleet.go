package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/italolelis/qbit_mover/internal/config"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// ServerReconciler reconciles one server.
type ServerReconciler interface {
	Reconcile(ctx context.Context, server config.Server) (ServerSummary, error)
}

// CycleResult is the outcome of one pass over every server. It is for
// reporting only; a cycle never fails as a whole.
type CycleResult struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Servers     int             `json:"servers"`
	Online      int             `json:"online"`
	Offline     int             `json:"offline"`
	Unreachable int             `json:"unreachable"`
	Relocated   int             `json:"relocated"`
	Planned     int             `json:"planned"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	Summaries   []ServerSummary `json:"summaries"`
	Errors      []error         `json:"-"`
}

// ErrorCount returns the number of individual failures, counting each
// torrent inside a server's AggregateError separately.
func (c CycleResult) ErrorCount() int {
	n := 0

	for _, err := range c.Errors {
		var agg *AggregateError
		if errors.As(err, &agg) {
			n += agg.Len()

			continue
		}

		n++
	}

	return n
}

// Fleet runs a reconciliation for every configured server concurrently.
type Fleet struct {
	reconciler ServerReconciler
	telemetry  *telemetry.Telemetry
}

func NewFleet(r ServerReconciler, tel *telemetry.Telemetry) *Fleet {
	return &Fleet{reconciler: r, telemetry: tel}
}

// RunCycle reconciles all servers and waits for every one of them. One
// server failing, or even panicking, never affects the others.
func (f *Fleet) RunCycle(ctx context.Context, servers []config.Server) CycleResult {
	result := CycleResult{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Servers:   len(servers),
		Summaries: make([]ServerSummary, len(servers)),
	}

	ctx = logctx.WithCycleID(ctx, result.ID)
	logger := logctx.LoggerFromContext(ctx)

	logger.InfoContext(ctx, "starting cycle", "servers", len(servers))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)

	for i, server := range servers {
		// Each task owns its own copy of the profile.
		server := server.Clone()

		g.Go(func() error {
			summary, err := f.reconcileServer(ctx, server)

			result.Summaries[i] = summary

			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, err)
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	for _, s := range result.Summaries {
		switch s.Status {
		case ServerOnline:
			result.Online++
		case ServerOffline:
			result.Offline++
		default:
			result.Unreachable++
		}

		result.Relocated += s.Relocated
		result.Planned += s.Planned
		result.Skipped += s.Skipped
		result.Failed += s.Failed

		f.telemetry.RecordServer(ctx, string(s.Status))
	}

	result.Duration = time.Since(result.StartedAt)
	errCount := result.ErrorCount()

	f.telemetry.RecordCycle(ctx, result.Duration, errCount)

	logger.InfoContext(ctx, "cycle finished",
		"servers", result.Servers,
		"online", result.Online,
		"offline", result.Offline,
		"unreachable", result.Unreachable,
		"relocated", result.Relocated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"errors", errCount,
		"duration", result.Duration)

	return result
}

func (f *Fleet) reconcileServer(ctx context.Context, server config.Server) (summary ServerSummary, err error) {
	defer func() {
		if p := recover(); p != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "panic while reconciling server",
				"server", server.URL, "panic", p, "stack", string(debug.Stack()))

			summary = ServerSummary{Server: server.URL, Status: ServerError}
			err = &AggregateError{Server: server.URL, Errs: []error{fmt.Errorf("panic: %v", p)}}
		}
	}()

	return f.reconciler.Reconcile(ctx, server)
}

// ErrorMessages renders the collected errors for reporting.
func (c CycleResult) ErrorMessages() []string {
	msgs := make([]string, 0, len(c.Errors))
	for _, err := range c.Errors {
		msgs = append(msgs, err.Error())
	}

	return msgs
}
