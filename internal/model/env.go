package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "TEAMMATE_"

// applyEnv loads <root>/.env (existing variables win) and overrides cfg from
// TEAMMATE_* variables. All parse errors are reported together.
func applyEnv(root string, cfg *Config) error {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var ge getenv
	cfg.Inbox.Dir = ge.String("INBOX_DIR", cfg.Inbox.Dir)
	cfg.Inbox.Pattern = ge.String("INBOX_PATTERN", cfg.Inbox.Pattern)
	cfg.Inbox.MaxParallel = ge.Int("INBOX_MAX_PARALLEL", cfg.Inbox.MaxParallel)
	cfg.Watcher.ScanIntervalSec = ge.Int("SCAN_INTERVAL_SEC", cfg.Watcher.ScanIntervalSec)
	cfg.Executor.Kind = ge.String("EXECUTOR_KIND", cfg.Executor.Kind)
	cfg.Executor.Command = ge.Strings("EXECUTOR_COMMAND", cfg.Executor.Command)
	cfg.Executor.TimeoutSec = ge.Int("EXECUTOR_TIMEOUT_SEC", cfg.Executor.TimeoutSec)
	cfg.Retry.MaxAttempts = ge.Int("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Logging.Level = ge.String("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = ge.String("LOG_FORMAT", cfg.Logging.Format)
	cfg.History.Enabled = ge.Bool("HISTORY_ENABLED", cfg.History.Enabled)
	cfg.Notify.Enabled = ge.Bool("NOTIFY_ENABLED", cfg.Notify.Enabled)
	return ge.Err()
}

type getenv struct {
	errs []error
}

func (ge *getenv) Err() error {
	return errors.Join(ge.errs...)
}

func lookup[T any](ge *getenv, key string, def T, parse func(string) (T, error)) T {
	s, ok := os.LookupEnv(envPrefix + key)
	if !ok || s == "" {
		return def
	}
	v, err := parse(s)
	if err != nil {
		ge.errs = append(ge.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return def
	}
	return v
}

func (ge *getenv) String(key, def string) string {
	return lookup(ge, key, def, func(s string) (string, error) { return s, nil })
}

func (ge *getenv) Strings(key string, def []string) []string {
	return lookup(ge, key, def, func(s string) ([]string, error) { return strings.Fields(s), nil })
}

func (ge *getenv) Int(key string, def int) int {
	return lookup(ge, key, def, strconv.Atoi)
}

func (ge *getenv) Bool(key string, def bool) bool {
	return lookup(ge, key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean %q, want true/false, yes/no, on/off, 1/0", s)
		}
	})
}
