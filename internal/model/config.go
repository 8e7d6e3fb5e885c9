// Package model defines teammate's configuration.
package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DirName is the per-user state directory holding config, inbox and logs.
const DirName = ".teammate"

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Inbox    InboxConfig    `yaml:"inbox"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Executor ExecutorConfig `yaml:"executor"`
	Retry    RetryConfig    `yaml:"retry"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	Logging  LoggingConfig  `yaml:"logging"`
	History  HistoryConfig  `yaml:"history"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
}

type InboxConfig struct {
	Dir              string `yaml:"dir"`
	Pattern          string `yaml:"pattern"`
	MaxParallel      int    `yaml:"max_parallel"`
	MaxDocumentBytes int64  `yaml:"max_document_bytes"`
}

type WatcherConfig struct {
	DebounceSec     float64 `yaml:"debounce_sec"`
	ScanIntervalSec int     `yaml:"scan_interval_sec"`
}

type ExecutorConfig struct {
	Kind       string   `yaml:"kind"` // log | command
	Command    []string `yaml:"command,omitempty"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

type RetryConfig struct {
	MaxAttempts        int   `yaml:"max_attempts"`
	RetryableExitCodes []int `yaml:"retryable_exit_codes"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration written by setup.
func Default() Config {
	return Config{
		Inbox: InboxConfig{
			Dir:              "inbox",
			Pattern:          "*.xml",
			MaxParallel:      4,
			MaxDocumentBytes: 1 << 20,
		},
		Watcher: WatcherConfig{
			DebounceSec:     0.5,
			ScanIntervalSec: 10,
		},
		Executor: ExecutorConfig{
			Kind:       "log",
			TimeoutSec: 60,
		},
		Retry: RetryConfig{
			MaxAttempts:        3,
			RetryableExitCodes: []int{75},
		},
		Daemon:  DaemonConfig{ShutdownTimeoutSec: 30},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		History: HistoryConfig{Enabled: true, File: "state/history.db"},
	}
}

// Load reads <root>/config.yaml on top of Default, then applies TEAMMATE_*
// environment overrides (including <root>/.env).
func Load(root string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Join(root, "config.yaml"))
	if err != nil {
		return Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	if err := applyEnv(root, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Executor.Kind {
	case "log":
	case "command":
		if len(c.Executor.Command) == 0 {
			return fmt.Errorf("executor.command is required when executor.kind is %q", c.Executor.Kind)
		}
	default:
		return fmt.Errorf("executor.kind must be one of log, command, got %q", c.Executor.Kind)
	}
	if c.Inbox.MaxParallel < 0 {
		return fmt.Errorf("inbox.max_parallel must be >= 0, got %d", c.Inbox.MaxParallel)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0, got %d", c.Retry.MaxAttempts)
	}
	return nil
}

// InboxDir resolves the inbox directory against root.
func (c Config) InboxDir(root string) string {
	return resolve(root, c.Inbox.Dir, "inbox")
}

func (c Config) HistoryPath(root string) string {
	return resolve(root, c.History.File, "state/history.db")
}

func (c Config) ScanInterval() time.Duration {
	if c.Watcher.ScanIntervalSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Watcher.ScanIntervalSec) * time.Second
}

func (c Config) Debounce() time.Duration {
	if c.Watcher.DebounceSec <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Watcher.DebounceSec * float64(time.Second))
}

func (c Config) ExecutorTimeout() time.Duration {
	if c.Executor.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Executor.TimeoutSec) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Daemon.ShutdownTimeoutSec) * time.Second
}

func resolve(root, p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// FindRoot walks up from dir looking for a .teammate directory.
func FindRoot(dir string) string {
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
