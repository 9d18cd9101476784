package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a server and hash.
var ErrNotFound = errors.New("relocation record not found")

// Status is the lifecycle state of a relocation record.
type Status string

const (
	// StatusRelocated means the data was moved and the remote delete is pending.
	StatusRelocated Status = "relocated"
	// StatusCompleted means the data was moved and the server forgot the torrent.
	StatusCompleted Status = "completed"
	// StatusDeleteFailed means the data was moved but the server still lists it.
	StatusDeleteFailed Status = "delete_failed"
	// StatusPartial means the data was copied but the source could not be removed.
	StatusPartial Status = "partial"
)

// RelocationRecord represents one torrent relocated from a server.
type RelocationRecord struct {
	Server      string    `json:"server"`
	Hash        string    `json:"hash"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Status      Status    `json:"status"`
	Bytes       int64     `json:"bytes"`
	Error       string    `json:"error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RelocationReadRepository interface {
	FindRelocation(ctx context.Context, server, hash string) (*RelocationRecord, error)
	ListRelocations(ctx context.Context, limit int) ([]RelocationRecord, error)
}

type RelocationWriteRepository interface {
	RecordRelocation(ctx context.Context, rec RelocationRecord) error
	UpdateStatus(ctx context.Context, server, hash string, status Status, errMsg string) error
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// RelocationRepository is the full ledger.
type RelocationRepository interface {
	RelocationReadRepository
	RelocationWriteRepository
}
