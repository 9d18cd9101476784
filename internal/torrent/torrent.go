// Package torrent defines what this service needs from a remote torrent client.
package torrent

import "context"

// Torrent is a completed torrent as reported by a server. Field names follow
// the qBittorrent Web API; every other field in the response is ignored.
type Torrent struct {
	SavePath string `json:"save_path"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Hash     string `json:"hash"`
}

// Client talks to one remote torrent client instance. Implementations issue a
// single request per call and never retry; the next cycle is the retry.
type Client interface {
	// IsOnline reports whether the server answered its version endpoint with
	// a success status.
	IsOnline(ctx context.Context) (bool, error)

	// ListCompleted returns every torrent the server considers completed.
	ListCompleted(ctx context.Context) ([]Torrent, error)

	// DeleteTorrent removes the torrent's entry from the server. Data on disk
	// is never deleted through this call.
	DeleteTorrent(ctx context.Context, hash string) error
}
