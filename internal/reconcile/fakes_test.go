package reconcile_test

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/qbit_mover/internal/storage"
	"github.com/italolelis/qbit_mover/internal/torrent"
)

type fakeClient struct {
	online    bool
	onlineErr error
	torrents  []torrent.Torrent
	listErr   error
	deleteErr error

	mu        sync.Mutex
	listCalls int
	deleted   []string
}

func (c *fakeClient) IsOnline(context.Context) (bool, error) {
	return c.online, c.onlineErr
}

func (c *fakeClient) ListCompleted(context.Context) ([]torrent.Torrent, error) {
	c.mu.Lock()
	c.listCalls++
	c.mu.Unlock()

	return c.torrents, c.listErr
}

func (c *fakeClient) DeleteTorrent(_ context.Context, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deleted = append(c.deleted, hash)

	return c.deleteErr
}

func (c *fakeClient) deletedHashes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.deleted...)
}

type fakeLedger struct {
	mu      sync.Mutex
	records map[string]storage.RelocationRecord
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: map[string]storage.RelocationRecord{}}
}

func (l *fakeLedger) key(server, hash string) string { return server + "|" + hash }

func (l *fakeLedger) RecordRelocation(_ context.Context, rec storage.RelocationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.UpdatedAt = time.Now()
	l.records[l.key(rec.Server, rec.Hash)] = rec

	return nil
}

func (l *fakeLedger) UpdateStatus(_ context.Context, server, hash string, status storage.Status, errMsg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[l.key(server, hash)]
	if !ok {
		return storage.ErrNotFound
	}

	rec.Status = status
	rec.Error = errMsg
	l.records[l.key(server, hash)] = rec

	return nil
}

func (l *fakeLedger) FindRelocation(_ context.Context, server, hash string) (*storage.RelocationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[l.key(server, hash)]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &rec, nil
}

func (l *fakeLedger) ListRelocations(context.Context, int) ([]storage.RelocationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []storage.RelocationRecord
	for _, rec := range l.records {
		out = append(out, rec)
	}

	return out, nil
}

func (l *fakeLedger) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (l *fakeLedger) status(server, hash string) storage.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.records[l.key(server, hash)].Status
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, content)

	return nil
}
