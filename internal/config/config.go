// Package config loads runtime configuration for assetsync.
//
// Sources, later ones win:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional TOML or YAML file chosen by extension (see Load).
//  3. Command-line flags and ASSETSYNC_* environment variables, applied by the CLI.
//
// Durations are written as Go duration strings ("60s", "5m").
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Backends.
const (
	BackendFrameio = "frameio"
	BackendS3      = "s3"
)

var (
	ErrInvalidPath = errors.New("invalid local path")
	ErrUnknownExt  = errors.New("unsupported config file extension")
)

type Config struct {
	DBPath  string `toml:"db_path" yaml:"db_path"`
	Backend string `toml:"backend" yaml:"backend"`

	API  APIConfig  `toml:"api" yaml:"api"`
	S3   S3Config   `toml:"s3" yaml:"s3"`
	Log  LogConfig  `toml:"log" yaml:"log"`
	Sync SyncConfig `toml:"sync" yaml:"sync"`
}

// APIConfig describes the HTTP asset service and its OAuth endpoints.
type APIConfig struct {
	Host       string        `toml:"host" yaml:"host"`
	ClientID   string        `toml:"client_id" yaml:"client_id"`
	TokenURL   string        `toml:"token_url" yaml:"token_url"`
	Scopes     []string      `toml:"scopes" yaml:"scopes"`
	MaxRetries int           `toml:"max_retries" yaml:"max_retries"`
	Backoff    time.Duration `toml:"backoff" yaml:"backoff"`
	Timeout    time.Duration `toml:"timeout" yaml:"timeout"`
}

// S3Config is used when Backend is "s3".
type S3Config struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Secure    bool   `toml:"secure" yaml:"secure"`
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Console    bool   `toml:"console" yaml:"console"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// SyncConfig holds the reconciliation timings and bounds.
type SyncConfig struct {
	Interval        time.Duration `toml:"interval" yaml:"interval"`
	StabilityWindow time.Duration `toml:"stability_window" yaml:"stability_window"`
	VerifyGrace     time.Duration `toml:"verify_grace" yaml:"verify_grace"`
	ChecksumWait    time.Duration `toml:"checksum_wait" yaml:"checksum_wait"`
	VerifyGiveUp    time.Duration `toml:"verify_give_up" yaml:"verify_give_up"`
	RemoteOverscan  time.Duration `toml:"remote_overscan" yaml:"remote_overscan"`
	LocalOverscan   time.Duration `toml:"local_overscan" yaml:"local_overscan"`
	MaxRetries      int           `toml:"max_retries" yaml:"max_retries"`

	ChunkWorkers    int    `toml:"chunk_workers" yaml:"chunk_workers"`
	MemoryThreshold uint64 `toml:"memory_threshold" yaml:"memory_threshold"`

	Upload   bool `toml:"upload" yaml:"upload"`
	Download bool `toml:"download" yaml:"download"`
	Watch    bool `toml:"watch" yaml:"watch"`
}

// LoadDefaults populates c with the stock timings.
func (c *Config) LoadDefaults() {
	c.DBPath = filepath.Join("db", "sync.db")
	c.Backend = BackendFrameio

	c.API = APIConfig{
		Host:       "https://api.frame.io",
		TokenURL:   "https://applications.frame.io/oauth2/token",
		Scopes:     []string{"project.read", "asset.create", "offline", "asset.read", "team.read", "account.read", "asset.delete"},
		MaxRetries: 3,
		Backoff:    time.Second,
		Timeout:    5 * time.Minute,
	}

	c.Log = LogConfig{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 3,
	}

	c.Sync = SyncConfig{
		Interval:        60 * time.Second,
		StabilityWindow: 60 * time.Second,
		VerifyGrace:     100 * time.Second,
		ChecksumWait:    5 * time.Minute,
		VerifyGiveUp:    30 * time.Minute,
		RemoteOverscan:  10 * time.Minute,
		LocalOverscan:   500 * time.Second,
		MaxRetries:      2,
		ChunkWorkers:    5,
		MemoryThreshold: 3_000_000_000,
		Upload:          true,
		Download:        true,
	}
}

// Default returns a Config with defaults applied.
func Default() *Config {
	c := &Config{}
	c.LoadDefaults()
	return c
}

// Load applies defaults and overlays the file at path, if any.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode toml %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode yaml %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExt, path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the sync loop cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFrameio:
	case BackendS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return errors.New("s3 backend requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync interval must be positive")
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.Sync.ChunkWorkers < 1 {
		return errors.New("chunk workers must be at least 1")
	}
	return nil
}

// ResolveLocalPath turns a user supplied directory (plus optional sub-folder)
// into the absolute path stored on a project. The directory must exist and be
// writable; the sub-folder is created.
func ResolveLocalPath(dir, subFolder string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, abs)
	}

	probe, err := os.CreateTemp(abs, ".assetsync-probe-*")
	if err != nil {
		return "", fmt.Errorf("%w: %s is not writable", ErrInvalidPath, abs)
	}
	probe.Close()
	os.Remove(probe.Name())

	if subFolder == "" {
		return abs, nil
	}
	if filepath.IsAbs(subFolder) || strings.Contains(subFolder, "..") {
		return "", fmt.Errorf("%w: bad sub-folder %q", ErrInvalidPath, subFolder)
	}
	full := filepath.Join(abs, subFolder)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return full, nil
}
