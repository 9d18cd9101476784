package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/italolelis/qbit_mover/internal/logctx"
)

const reloadDebounce = 200 * time.Millisecond

// Provider holds the current settings and swaps them when the file changes.
// Readers always get copies.
type Provider struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// NewProvider loads the settings file, creating it with defaults if missing.
func NewProvider(ctx context.Context, path string) (*Provider, error) {
	logger := logctx.LoggerFromContext(ctx)

	s, created, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}

	if created {
		logger.InfoContext(ctx, "settings file not found, wrote defaults", "path", path)
	}

	return &Provider{path: path, settings: s}, nil
}

// Path returns the settings file location.
func (p *Provider) Path() string {
	return p.path
}

func (p *Provider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.settings.Clone()
}

// Servers returns a deep copy of the configured servers.
func (p *Provider) Servers() []Server {
	return p.Settings().Servers
}

func (p *Provider) Delay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.settings.Delay()
}

// Reload re-reads the settings file. Invalid content leaves the current
// settings in place.
func (p *Provider) Reload(ctx context.Context) error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	s, err := ParseSettings(data)
	if err != nil {
		return fmt.Errorf("%s: %w", p.path, err)
	}

	p.mu.Lock()
	p.settings = s
	p.mu.Unlock()

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "settings reloaded", "path", p.path, "servers", len(s.Servers), "rate_limit_delay", s.RateLimitDelay)

	return nil
}

// Watch reloads the settings whenever the file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (p *Provider) Watch(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("path", p.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return fmt.Errorf("failed to watch settings directory: %w", err)
	}

	target := filepath.Clean(p.path)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if timer != nil {
				timer.Stop()
			}

			timer = time.NewTimer(reloadDebounce)
			reload = timer.C
		case <-reload:
			reload = nil

			if err := p.Reload(ctx); err != nil {
				logger.ErrorContext(ctx, "ignoring invalid settings change", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.WarnContext(ctx, "settings watcher error", "err", err)
		}
	}
}
