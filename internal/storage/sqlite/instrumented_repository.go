package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/telemetry"
)

// Ensure InstrumentedRelocationRepository implements storage.RelocationRepository
var _ storage.RelocationRepository = (*InstrumentedRelocationRepository)(nil)

// InstrumentedRelocationRepository wraps RelocationRepository with telemetry.
type InstrumentedRelocationRepository struct {
	repo      *RelocationRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRelocationRepository creates a new instrumented relocation repository.
func NewInstrumentedRelocationRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRelocationRepository {
	return &InstrumentedRelocationRepository{
		repo:      NewRelocationRepository(dbConn),
		telemetry: tel,
	}
}

// RecordRelocation records a relocation with telemetry.
func (r *InstrumentedRelocationRepository) RecordRelocation(ctx context.Context, rec storage.RelocationRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_relocation", func(ctx context.Context) error {
		return r.repo.RecordRelocation(ctx, rec)
	})
}

// UpdateStatus updates a relocation status with telemetry.
func (r *InstrumentedRelocationRepository) UpdateStatus(ctx context.Context, server, hash string, status storage.Status, errMsg string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_status", func(ctx context.Context) error {
		return r.repo.UpdateStatus(ctx, server, hash, status, errMsg)
	})
}

// FindRelocation looks up a relocation with telemetry.
func (r *InstrumentedRelocationRepository) FindRelocation(ctx context.Context, server, hash string) (*storage.RelocationRecord, error) {
	var result *storage.RelocationRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "find_relocation", func(ctx context.Context) error {
		var err error

		result, err = r.repo.FindRelocation(ctx, server, hash)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListRelocations lists recent relocations with telemetry.
func (r *InstrumentedRelocationRepository) ListRelocations(ctx context.Context, limit int) ([]storage.RelocationRecord, error) {
	var result []storage.RelocationRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_relocations", func(ctx context.Context) error {
		var err error

		result, err = r.repo.ListRelocations(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Prune deletes old relocations with telemetry.
func (r *InstrumentedRelocationRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	var deleted int64

	err := r.telemetry.InstrumentDBOperation(ctx, "prune", func(ctx context.Context) error {
		var err error

		deleted, err = r.repo.Prune(ctx, olderThan)

		return err
	})

	return deleted, err
}
