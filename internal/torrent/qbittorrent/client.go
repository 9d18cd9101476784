// Package qbittorrent implements torrent.Client against the qBittorrent Web API v2.
package qbittorrent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/italolelis/qbit_mover/internal/logctx"
	"github.com/italolelis/qbit_mover/internal/torrent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	versionPath = "/api/v2/app/version"
	infoPath    = "/api/v2/torrents/info"
	deletePath  = "/api/v2/torrents/delete"

	defaultTimeout = 30 * time.Second
	userAgent      = "qbit_mover"
)

// Config holds what is needed to reach one server.
type Config struct {
	URL       string
	Username  string
	Password  string
	Timeout   time.Duration     // per request, defaults to 30s
	Transport http.RoundTripper // defaults to an otelhttp wrapped http.DefaultTransport
}

// Client is safe for concurrent use. Credentials are sent with every request
// using basic auth.
type Client struct {
	baseURL string
	http    *resty.Client
}

// Ensure Client implements torrent.Client
var _ torrent.Client = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	baseURL := strings.TrimRight(cfg.URL, "/")

	r := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(cfg.Username, cfg.Password).
		SetTimeout(timeout).
		SetTransport(transport).
		SetHeader("User-Agent", userAgent)

	return &Client{baseURL: baseURL, http: r}
}

// BaseURL returns the server URL this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) IsOnline(ctx context.Context) (bool, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "app.version")

	resp, err := c.http.R().SetContext(ctx).Get(versionPath)
	if err != nil {
		return false, &torrent.TransportError{Operation: "is_online", Err: err}
	}

	logger.DebugContext(ctx, "version check", "status", resp.StatusCode(), "version", strings.TrimSpace(resp.String()))

	return resp.IsSuccess(), nil
}

func (c *Client) ListCompleted(ctx context.Context) ([]torrent.Torrent, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "torrents.info")

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("filter", "completed").
		Get(infoPath)
	if err != nil {
		return nil, &torrent.TransportError{Operation: "list_completed", Err: err}
	}

	if !resp.IsSuccess() {
		logger.ErrorContext(ctx, "non-2xx response", "status", resp.StatusCode(), "body", resp.String())

		return nil, &torrent.TransportError{Operation: "list_completed", StatusCode: resp.StatusCode()}
	}

	var torrents []torrent.Torrent
	if err := json.Unmarshal(resp.Body(), &torrents); err != nil {
		return nil, &torrent.DecodeError{Operation: "list_completed", Err: err}
	}

	// A JSON null decodes without error but is not a listing.
	if torrents == nil {
		return nil, &torrent.DecodeError{Operation: "list_completed", Err: errors.New("response body is null")}
	}

	logger.DebugContext(ctx, "found completed torrents", "count", len(torrents))

	return torrents, nil
}

func (c *Client) DeleteTorrent(ctx context.Context, hash string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"hashes":      hash,
			"deleteFiles": "false",
		}).
		Delete(deletePath)
	if err != nil {
		return &torrent.TransportError{Operation: "delete_torrent", Err: err}
	}

	if !resp.IsSuccess() {
		return &torrent.TransportError{Operation: "delete_torrent", StatusCode: resp.StatusCode()}
	}

	return nil
}
