package torrent

import (
	"context"

	"github.com/italolelis/qbit_mover/internal/telemetry"
)

// InstrumentedClient wraps Client with telemetry.
type InstrumentedClient struct {
	client    Client
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented torrent client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

// IsOnline checks the server with telemetry.
func (c *InstrumentedClient) IsOnline(ctx context.Context) (bool, error) {
	var online bool

	err := c.telemetry.InstrumentClientOperation(ctx, "is_online", func(ctx context.Context) error {
		var err error

		online, err = c.client.IsOnline(ctx)

		return err
	})

	return online, err
}

// ListCompleted lists completed torrents with telemetry.
func (c *InstrumentedClient) ListCompleted(ctx context.Context) ([]Torrent, error) {
	var result []Torrent

	err := c.telemetry.InstrumentClientOperation(ctx, "list_completed", func(ctx context.Context) error {
		var err error

		result, err = c.client.ListCompleted(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteTorrent removes a torrent with telemetry.
func (c *InstrumentedClient) DeleteTorrent(ctx context.Context, hash string) error {
	return c.telemetry.InstrumentClientOperation(ctx, "delete_torrent", func(ctx context.Context) error {
		return c.client.DeleteTorrent(ctx, hash)
	})
}
