package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/qbit_mover/internal/storage"
)

// Timestamps are stored as UTC RFC3339 text so they sort lexically.
const timeLayout = time.RFC3339

// Ensure RelocationRepository implements storage.RelocationRepository
var _ storage.RelocationRepository = (*RelocationRepository)(nil)

type RelocationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRelocationRepository(dbConn *sql.DB) *RelocationRepository {
	return &RelocationRepository{db: dbConn, now: time.Now}
}

// RecordRelocation inserts a record, replacing any earlier one for the same server and hash.
func (r *RelocationRepository) RecordRelocation(ctx context.Context, rec storage.RelocationRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relocations (server, hash, name, category, source, destination, status, bytes, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server, hash) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			source = excluded.source,
			destination = excluded.destination,
			status = excluded.status,
			bytes = excluded.bytes,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, rec.Server, rec.Hash, rec.Name, rec.Category, rec.Source, rec.Destination,
		string(rec.Status), rec.Bytes, rec.Error, r.timestamp())

	return err
}

// UpdateStatus sets the status for a relocation.
func (r *RelocationRepository) UpdateStatus(ctx context.Context, server, hash string, status storage.Status, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE relocations SET status = ?, error = ?, updated_at = ? WHERE server = ? AND hash = ?`,
		string(status), errMsg, r.timestamp(), server, hash,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

func (r *RelocationRepository) FindRelocation(ctx context.Context, server, hash string) (*storage.RelocationRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT server, hash, name, category, source, destination, status, bytes, error, updated_at
		FROM relocations
		WHERE server = ? AND hash = ?`, server, hash)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

// ListRelocations returns the most recently updated records first.
func (r *RelocationRepository) ListRelocations(ctx context.Context, limit int) ([]storage.RelocationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT server, hash, name, category, source, destination, status, bytes, error, updated_at
		FROM relocations
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.RelocationRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	return records, rows.Err()
}

// Prune deletes records last updated before olderThan.
func (r *RelocationRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM relocations WHERE updated_at < ?`,
		olderThan.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *RelocationRepository) timestamp() string {
	return r.now().UTC().Format(timeLayout)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*storage.RelocationRecord, error) {
	var (
		rec                                    storage.RelocationRecord
		category, source, destination, errText sql.NullString
		status, updatedAt                      string
	)

	err := s.Scan(&rec.Server, &rec.Hash, &rec.Name, &category, &source, &destination,
		&status, &rec.Bytes, &errText, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Category = category.String
	rec.Source = source.String
	rec.Destination = destination.String
	rec.Error = errText.String
	rec.Status = storage.Status(status)

	rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}
