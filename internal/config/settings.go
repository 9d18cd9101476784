package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "http://localhost:8080"
	DefaultServerUsername = "admin"
	DefaultServerPassword = "adminadmin"

	DefaultRateLimitDelay = 5
	DefaultLogFile        = "qbittorrent-mover.log"
	DefaultMaxLogFileSize = "10M"
)

// Server is the profile of one qBittorrent instance.
type Server struct {
	URL        string            `yaml:"qbit_url"`
	Username   string            `yaml:"username"`
	Password   string            `yaml:"password"`
	Categories map[string]string `yaml:"categories"`
	RootPath   string            `yaml:"root_path,omitempty"`
	PathPrefix string            `yaml:"path_prefix,omitempty"`
}

// UnmarshalYAML fills in the default connection values for omitted keys.
func (s *Server) UnmarshalYAML(value *yaml.Node) error {
	type plain Server

	p := plain(DefaultServer())
	if err := value.Decode(&p); err != nil {
		return err
	}

	*s = Server(p)

	return nil
}

// DefaultServer returns a profile pointing at a local qBittorrent with its
// stock credentials.
func DefaultServer() Server {
	return Server{
		URL:        DefaultServerURL,
		Username:   DefaultServerUsername,
		Password:   DefaultServerPassword,
		Categories: map[string]string{},
	}
}

// Clone returns a copy that shares no memory with s.
func (s Server) Clone() Server {
	c := s
	c.Categories = maps.Clone(s.Categories)

	return c
}

// Settings is the content of the settings file.
type Settings struct {
	Servers        []Server `yaml:"servers"`
	RateLimitDelay int      `yaml:"rate_limit_delay"`
	LogFile        string   `yaml:"log_file"`
	MaxLogFileSize string   `yaml:"max_log_file_size"`
}

func DefaultSettings() Settings {
	return Settings{
		Servers:        []Server{},
		RateLimitDelay: DefaultRateLimitDelay,
		LogFile:        DefaultLogFile,
		MaxLogFileSize: DefaultMaxLogFileSize,
	}
}

// Delay is the pause between two cycles.
func (s Settings) Delay() time.Duration {
	return time.Duration(s.RateLimitDelay) * time.Second
}

// Clone returns a deep copy of s.
func (s Settings) Clone() Settings {
	c := s
	c.Servers = make([]Server, len(s.Servers))

	for i, srv := range s.Servers {
		c.Servers[i] = srv.Clone()
	}

	return c
}

func (s Settings) Validate() error {
	if s.RateLimitDelay < 1 {
		return fmt.Errorf("rate_limit_delay must be at least 1 second, got %d", s.RateLimitDelay)
	}

	for i, srv := range s.Servers {
		if srv.URL == "" {
			return fmt.Errorf("servers[%d]: qbit_url is required", i)
		}

		u, err := url.Parse(srv.URL)
		if err != nil {
			return fmt.Errorf("servers[%d]: invalid qbit_url: %w", i, err)
		}

		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("servers[%d]: qbit_url must be http or https, got %q", i, srv.URL)
		}
	}

	return nil
}

// ParseSettings decodes and validates a settings document. Keys left out
// keep their default values.
func ParseSettings(data []byte) (Settings, error) {
	s := DefaultSettings()

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}

	if s.Servers == nil {
		s.Servers = []Server{}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// LoadSettings reads the settings file at path. When the file does not exist
// the defaults are written there and returned.
func LoadSettings(path string) (Settings, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s := DefaultSettings()

		if err := WriteSettings(path, s); err != nil {
			return Settings{}, false, err
		}

		return s, true, nil
	}

	if err != nil {
		return Settings{}, false, fmt.Errorf("failed to read settings file: %w", err)
	}

	s, err := ParseSettings(data)
	if err != nil {
		return Settings{}, false, fmt.Errorf("%s: %w", path, err)
	}

	return s, false, nil
}

func WriteSettings(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}
