// Package reconcile moves completed torrents off qBittorrent servers and into
// their category directories.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/qbit_mover/internal/config"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/notifier"
	"github.com/italolelis/qbit_mover/internal/pathmap"
	"github.com/italolelis/qbit_mover/internal/relocate"
	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/telemetry"
	"github.com/italolelis/qbit_mover/internal/torrent"
	"golang.org/x/sync/errgroup"
)

const defaultMaxParallel = 4

// ServerStatus is how a server looked at the start of its reconciliation.
type ServerStatus string

const (
	ServerOnline  ServerStatus = "online"
	ServerOffline ServerStatus = "offline"
	ServerError   ServerStatus = "error"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePlanned
	outcomeRelocated
	outcomeFailed
)

// ServerSummary counts what happened to one server's torrents in a cycle.
type ServerSummary struct {
	Server    string       `json:"server"`
	Status    ServerStatus `json:"status"`
	Completed int          `json:"completed"`
	Relocated int          `json:"relocated"`
	Planned   int          `json:"planned"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
}

// ClientFactory builds the client for one server. It is called once per
// reconciliation so no client is shared between servers.
type ClientFactory func(server config.Server) torrent.Client

// Relocator moves torrent data on the local filesystem.
type Relocator interface {
	Relocate(ctx context.Context, source, destination string) (relocate.Stats, error)
}

// Reconciler drives one server through a cycle.
type Reconciler struct {
	newClient   ClientFactory
	relocator   Relocator
	ledger      storage.RelocationRepository
	notifier    notifier.Notifier
	telemetry   *telemetry.Telemetry
	maxParallel int
	dryRun      bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithRelocator(rel Relocator) Option {
	return func(r *Reconciler) { r.relocator = rel }
}

// WithLedger records every relocation outcome in repo.
func WithLedger(repo storage.RelocationRepository) Option {
	return func(r *Reconciler) { r.ledger = repo }
}

func WithNotifier(n notifier.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Reconciler) { r.telemetry = tel }
}

// WithMaxParallel bounds how many torrents of one server are relocated at once.
func WithMaxParallel(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxParallel = n
		}
	}
}

// WithDryRun only logs the plans. No files are touched and no server is asked
// to delete anything.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) { r.dryRun = dryRun }
}

func NewReconciler(newClient ClientFactory, opts ...Option) *Reconciler {
	r := &Reconciler{
		newClient:   newClient,
		relocator:   relocate.NewRelocator(),
		notifier:    notifier.Nop{},
		maxParallel: defaultMaxParallel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reconcile checks the server, lists its completed torrents and relocates
// each mapped one. An offline server is skipped without error. Failures of
// individual torrents are collected into an *AggregateError and never stop
// the remaining torrents.
func (r *Reconciler) Reconcile(ctx context.Context, server config.Server) (ServerSummary, error) {
	logger := logctx.LoggerFromContext(ctx).With("server", server.URL)
	ctx = logctx.WithLogger(ctx, logger)

	summary := ServerSummary{Server: server.URL}
	client := torrent.NewInstrumentedClient(r.newClient(server), r.telemetry)

	online, err := client.IsOnline(ctx)
	if err != nil {
		logger.WarnContext(ctx, "server unreachable, skipping", "err", err)

		summary.Status = ServerError

		return summary, &AggregateError{Server: server.URL, Errs: []error{fmt.Errorf("online check: %w", err)}}
	}

	if !online {
		logger.InfoContext(ctx, "server offline, skipping")

		summary.Status = ServerOffline

		return summary, nil
	}

	summary.Status = ServerOnline

	logger.InfoContext(ctx, "server online")

	torrents, err := client.ListCompleted(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list completed torrents", "err", err)

		summary.Status = ServerError

		return summary, &AggregateError{Server: server.URL, Errs: []error{fmt.Errorf("list completed: %w", err)}}
	}

	summary.Completed = len(torrents)

	logger.DebugContext(ctx, "found completed torrents", "count", len(torrents))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)

	g.SetLimit(r.maxParallel)

	out := &outbox{}

	for _, t := range torrents {
		g.Go(func() error {
			result, err := r.safeProcess(ctx, client, server, t, out)

			mu.Lock()
			defer mu.Unlock()

			switch result {
			case outcomeRelocated:
				summary.Relocated++
			case outcomePlanned:
				summary.Planned++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeFailed:
				summary.Failed++
			}

			if err != nil {
				errs = append(errs, err)
			}

			// Failures are collected, never returned, so siblings keep running.
			return nil
		})
	}

	_ = g.Wait()

	// Notifications go out only once every worker has finished.
	out.flush(ctx, r.notifier)

	if len(errs) > 0 {
		return summary, &AggregateError{Server: server.URL, Errs: errs}
	}

	return summary, nil
}

func (r *Reconciler) safeProcess(ctx context.Context, client torrent.Client, server config.Server, t torrent.Torrent, out *outbox) (result outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "panic while processing torrent",
				"hash", t.Hash, "name", t.Name, "panic", p, "stack", string(debug.Stack()))

			result = outcomeFailed
			err = &TorrentError{Hash: t.Hash, Name: t.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	return r.processTorrent(ctx, client, server, t, out)
}

func (r *Reconciler) processTorrent(ctx context.Context, client torrent.Client, server config.Server, t torrent.Torrent, out *outbox) (outcome, error) {
	logger := logctx.LoggerFromContext(ctx).With("hash", t.Hash, "name", t.Name, "category", t.Category)

	plan, err := pathmap.Compute(t.SavePath, t.Name, t.Category, server.RootPath, server.PathPrefix, server.Categories)
	if err != nil {
		logger.ErrorContext(ctx, "failed to map torrent path", "save_path", t.SavePath, "err", err)

		return outcomeFailed, &TorrentError{Hash: t.Hash, Name: t.Name, Err: err}
	}

	if plan == nil {
		logger.DebugContext(ctx, "category not mapped, leaving torrent in place")

		return outcomeSkipped, nil
	}

	logger = logger.With("source", plan.Source, "destination", plan.Destination)

	if r.dryRun {
		logger.InfoContext(ctx, "planned relocation")

		return outcomePlanned, nil
	}

	start := time.Now()

	var stats relocate.Stats

	err = r.telemetry.InstrumentOperation(ctx, "relocate", "relocator", func(ctx context.Context) error {
		var err error

		stats, err = r.relocator.Relocate(ctx, plan.Source, plan.Destination)

		return err
	})

	rec := storage.RelocationRecord{
		Server:      server.URL,
		Hash:        t.Hash,
		Name:        t.Name,
		Category:    t.Category,
		Source:      plan.Source,
		Destination: plan.Destination,
		Bytes:       stats.Bytes,
	}

	if err != nil {
		r.relocationFailed(ctx, logger, rec, err, time.Since(start), out)

		return outcomeFailed, &TorrentError{Hash: t.Hash, Name: t.Name, Err: err}
	}

	r.telemetry.RecordRelocation(ctx, "success", stats.Bytes, time.Since(start))

	logger.InfoContext(ctx, "relocated torrent",
		"size", humanize.Bytes(uint64(stats.Bytes)),
		"files", stats.Files,
		"renamed", stats.Renamed,
		"duration", time.Since(start))

	rec.Status = storage.StatusRelocated
	r.record(ctx, logger, rec)

	if err := client.DeleteTorrent(ctx, t.Hash); err != nil {
		logger.ErrorContext(ctx, "relocated torrent but failed to remove it from the server, it stays listed until deleted", "err", err)

		r.updateStatus(ctx, logger, rec, storage.StatusDeleteFailed, err)
		out.add(logger, fmt.Sprintf("⚠️ Relocated **%s** but could not remove it from %s: %v", t.Name, server.URL, err))

		return outcomeRelocated, &TorrentError{Hash: t.Hash, Name: t.Name, Err: fmt.Errorf("delete from server: %w", err)}
	}

	logger.DebugContext(ctx, "removed torrent from server")

	r.updateStatus(ctx, logger, rec, storage.StatusCompleted, nil)
	out.add(logger, fmt.Sprintf("✅ Relocated **%s** to %s", t.Name, plan.Destination))

	return outcomeRelocated, nil
}

func (r *Reconciler) relocationFailed(ctx context.Context, logger *slog.Logger, rec storage.RelocationRecord, err error, d time.Duration, out *outbox) {
	var partial *relocate.PartialMoveError

	switch {
	case errors.As(err, &partial):
		r.telemetry.RecordRelocation(ctx, "partial", rec.Bytes, d)

		logger.WarnContext(ctx, "relocation incomplete, manual cleanup required", "remaining_source", partial.Source, "err", err)

		rec.Status = storage.StatusPartial
		rec.Error = err.Error()
		r.record(ctx, logger, rec)
		out.add(logger, fmt.Sprintf("❌ Copied **%s** to %s but could not remove %s, manual cleanup required", rec.Name, rec.Destination, partial.Source))
	case errors.Is(err, relocate.ErrSourceNotFound):
		r.telemetry.RecordRelocation(ctx, "error", 0, d)

		if prev := r.previous(ctx, rec); prev != nil {
			logger.WarnContext(ctx, "source missing, torrent was already relocated and the server entry is an orphan",
				"ledger_status", prev.Status, "relocated_at", prev.UpdatedAt)

			return
		}

		logger.ErrorContext(ctx, "relocation failed", "err", err)
	default:
		r.telemetry.RecordRelocation(ctx, "error", 0, d)

		logger.ErrorContext(ctx, "relocation failed", "err", err)
	}
}

func (r *Reconciler) previous(ctx context.Context, rec storage.RelocationRecord) *storage.RelocationRecord {
	if r.ledger == nil {
		return nil
	}

	prev, err := r.ledger.FindRelocation(ctx, rec.Server, rec.Hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to read relocation ledger", "err", err)
		}

		return nil
	}

	return prev
}

func (r *Reconciler) record(ctx context.Context, logger *slog.Logger, rec storage.RelocationRecord) {
	if r.ledger == nil {
		return
	}

	if err := r.ledger.RecordRelocation(ctx, rec); err != nil {
		logger.WarnContext(ctx, "failed to record relocation", "err", err)
	}
}

func (r *Reconciler) updateStatus(ctx context.Context, logger *slog.Logger, rec storage.RelocationRecord, status storage.Status, cause error) {
	if r.ledger == nil {
		return
	}

	var msg string
	if cause != nil {
		msg = cause.Error()
	}

	if err := r.ledger.UpdateStatus(ctx, rec.Server, rec.Hash, status, msg); err != nil {
		logger.WarnContext(ctx, "failed to update relocation status", "status", status, "err", err)
	}
}

type notice struct {
	logger  *slog.Logger
	content string
}

// outbox queues notifications raised by workers during one Reconcile call.
type outbox struct {
	mu      sync.Mutex
	notices []notice
}

func (o *outbox) add(logger *slog.Logger, content string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.notices = append(o.notices, notice{logger: logger, content: content})
}

func (o *outbox) flush(ctx context.Context, n notifier.Notifier) {
	o.mu.Lock()
	notices := o.notices
	o.notices = nil
	o.mu.Unlock()

	for _, msg := range notices {
		if err := n.Notify(ctx, msg.content); err != nil {
			msg.logger.WarnContext(ctx, "failed to send notification", "err", err)
		}
	}
}
