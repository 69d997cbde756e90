// Package config loads the taskfleet configuration and resolves task settings.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"taskfleet/internal/domain"
	httptask "taskfleet/internal/handlers/http"
	"taskfleet/internal/handlers/shell"
	"taskfleet/internal/lease"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid config")

func invalid(path, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, path, msg)
}

// Environment overrides applied after the file is decoded.
const (
	EnvNodeID      = "TASKFLEET_NODE_ID"
	EnvStoreDriver = "TASKFLEET_STORE_DRIVER"
	EnvStoreDSN    = "TASKFLEET_STORE_DSN"
	EnvLogLevel    = "TASKFLEET_LOG_LEVEL"
)

type Config struct {
	// NodeID overrides the hostname written into leases.
	NodeID  string        `json:"node_id,omitempty"`
	Logging LoggingConfig `json:"logging"`
	Store   StoreConfig   `json:"store"`
	HTTP    HTTPConfig    `json:"http"`

	Executor Executor `json:"background_task_executor"`

	// ShutdownTimeout bounds the drain on stop (Go duration, default 30s).
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`

	Tasks []TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // console|json
}

type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite|postgres
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type HTTPConfig struct {
	// Addr of the status server; empty disables it.
	Addr string `json:"addr,omitempty"`
}

// TaskConfig declares a task from config. Exactly one of Shell or HTTP is set.
type TaskConfig struct {
	Name    string            `json:"name"`
	Profile string            `json:"profile,omitempty"`
	Shell   *shell.Cmd        `json:"shell,omitempty"`
	HTTP    *httptask.Request `json:"http,omitempty"`
}

// Default is used when no file is given.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Store:   StoreConfig{Driver: "sqlite", DSN: "taskfleet.db"},
	}
}

// Load reads path (YAML or JSON), applies env overrides and validates.
// An empty path yields Default with env overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(path, raw); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes raw strictly; the extension of path selects YAML or JSON.
func Parse(path string, raw []byte) (Config, error) {
	data, err := toJSON(path, raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode %s: %v", ErrInvalid, path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvNodeID)); v != "" {
		c.NodeID = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreDriver)); v != "" {
		c.Store.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreDSN)); v != "" {
		c.Store.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks every section; the first error wins.
func (c Config) Validate() error {
	if _, err := NewResolver(c.Executor); err != nil {
		return err
	}
	if _, err := parseDuration("store.busy_timeout", c.Store.BusyTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return invalid("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}

	seen := map[string]bool{}
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			return invalid(path+".name", "is required")
		}
		if (t.Shell == nil) == (t.HTTP == nil) {
			return invalid(path, "exactly one of shell or http must be set")
		}
		if t.Shell != nil && strings.TrimSpace(t.Shell.Command) == "" {
			return invalid(path+".shell.command", "is required")
		}
		if t.HTTP != nil && strings.TrimSpace(t.HTTP.URL) == "" {
			return invalid(path+".http.url", "is required")
		}
		key := t.Name + "/" + t.ProfileName()
		if seen[key] {
			return invalid(path, fmt.Sprintf("duplicate task %q in profile %q", t.Name, t.ProfileName()))
		}
		seen[key] = true
	}
	return nil
}

// ProfileName is the declared profile or the default one.
func (t TaskConfig) ProfileName() string {
	if strings.TrimSpace(t.Profile) == "" {
		return domain.DefaultProfile
	}
	return t.Profile
}

// Resolver builds the settings resolver for the executor section.
func (c Config) Resolver() (*Resolver, error) {
	return NewResolver(c.Executor)
}

// LeaseStrategy is the parsed executor.lease_strategy.
func (c Config) LeaseStrategy() lease.Strategy {
	s, err := lease.ParseStrategy(c.Executor.LeaseStrategy)
	if err != nil {
		return lease.CheckThenWrite
	}
	return s
}

// Node returns the configured node id or the hostname.
func (c Config) Node() (string, error) {
	if c.NodeID != "" {
		return c.NodeID, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolve hostname: %w", err)
	}
	return host, nil
}

// LeaseConfig converts the store section.
func (c Config) LeaseConfig() lease.Config {
	busy, _ := parseDuration("store.busy_timeout", c.Store.BusyTimeout)
	return lease.Config{
		Driver:      c.Store.Driver,
		DSN:         c.Store.DSN,
		BusyTimeout: busy,
		MaxConns:    c.Store.MaxConns,
	}
}

// Shutdown is the drain bound, 30s when unset.
func (c Config) Shutdown() time.Duration {
	d, err := parseDuration("shutdown_timeout", c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, invalid(path, fmt.Sprintf("invalid duration %q", raw))
	}
	if d < 0 {
		return 0, invalid(path, "duration must be >= 0")
	}
	return d, nil
}
