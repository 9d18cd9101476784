package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/italolelis/qbit_mover/internal/logctx"
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
	requestTimeout  = 10 * time.Second
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string

	client   *resty.Client
	attempts uint
	delay    time.Duration
}

// Option configures a DiscordNotifier.
type Option func(*DiscordNotifier)

// WithRetry sets how many times a webhook call is attempted and the base delay between attempts.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(d *DiscordNotifier) {
		d.attempts = attempts
		d.delay = delay
	}
}

func NewDiscordNotifier(webhookURL string, opts ...Option) *DiscordNotifier {
	d := &DiscordNotifier{
		WebhookURL: webhookURL,
		client:     resty.New().SetTimeout(requestTimeout),
		attempts:   defaultAttempts,
		delay:      defaultDelay,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	logger := logctx.LoggerFromContext(ctx)

	return retry.Do(
		func() error {
			return d.send(ctx, content)
		},
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.DebugContext(ctx, "retrying webhook", "attempt", n+1, "err", err)
		}),
	)
}

func (d *DiscordNotifier) send(ctx context.Context, content string) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"content": content}).
		Post(d.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.IsSuccess() {
		return nil
	}

	err = fmt.Errorf("webhook failed with status %d", resp.StatusCode())

	// Client errors other than rate limiting will not succeed on retry.
	if resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests {
		return retry.Unrecoverable(err)
	}

	return err
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }
