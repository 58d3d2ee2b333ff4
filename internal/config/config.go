// Package config holds the daemon configuration, persisted as JSON and
// loaded through viper with flag and environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/snapboxhq/snapbox/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".snapbox", "config.json")
	DefaultDataDir     = filepath.Join(home, "Snapbox")
	DefaultLogFilePath = filepath.Join(home, ".snapbox", "logs", "snapbox.log")
)

const (
	// DefaultPollInterval is how often the remote archive namespace is
	// checked for new snapshots.
	DefaultPollInterval = 20 * time.Second

	// DefaultQuiescence is the minimum period with no further local writes
	// before a debounced backup fires.
	DefaultQuiescence = time.Second

	// DefaultDirtyCheckInterval is how often the local dirty flag is
	// inspected.
	DefaultDirtyCheckInterval = time.Second
)

type Config struct {
	DataDir            string        `json:"data_dir"`
	ServerURL          string        `json:"server_url"`
	RemoteDir          string        `json:"remote_dir"`
	PollInterval       time.Duration `json:"poll_interval"`
	Quiescence         time.Duration `json:"quiescence"`
	DirtyCheckInterval time.Duration `json:"dirty_check_interval"`
	Path               string        `json:"-"`
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server_url %q is not a valid url", c.ServerURL)
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Quiescence <= 0 {
		c.Quiescence = DefaultQuiescence
	}
	if c.DirtyCheckInterval <= 0 {
		c.DirtyCheckInterval = DefaultDirtyCheckInterval
	}

	resolved, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data_dir: %w", err)
	}
	c.DataDir = resolved

	// the remote namespace defaults to the directory's own name
	if c.RemoteDir == "" {
		c.RemoteDir = filepath.Base(c.DataDir)
	}

	return nil
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Path = path

	return &cfg, nil
}
