package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, root, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config.yaml"), []byte(content), 0644))
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "project:\n  name: demo\nretry:\n  max_attempts: 5\n")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "*.xml", cfg.Inbox.Pattern)
	assert.Equal(t, "log", cfg.Executor.Kind)
	assert.Equal(t, filepath.Join(root, "inbox"), cfg.InboxDir(root))
	assert.Equal(t, filepath.Join(root, "state", "history.db"), cfg.HistoryPath(root))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config.yaml")
}

func TestLoad_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "inbox: [\n")
	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config.yaml")
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "executor:\n  kind: log\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"),
		[]byte("TEAMMATE_INBOX_MAX_PARALLEL=2\nTEAMMATE_LOG_LEVEL=debug\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TEAMMATE_INBOX_MAX_PARALLEL") })

	t.Setenv("TEAMMATE_EXECUTOR_KIND", "command")
	t.Setenv("TEAMMATE_EXECUTOR_COMMAND", "wit-bridge --stdin")
	t.Setenv("TEAMMATE_NOTIFY_ENABLED", "yes")
	// .env must not override an already-set variable
	t.Setenv("TEAMMATE_LOG_LEVEL", "warn")

	cfg, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "command", cfg.Executor.Kind)
	assert.Equal(t, []string{"wit-bridge", "--stdin"}, cfg.Executor.Command)
	assert.True(t, cfg.Notify.Enabled)
	assert.Equal(t, 2, cfg.Inbox.MaxParallel)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_EnvErrorsJoined(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "")
	t.Setenv("TEAMMATE_INBOX_MAX_PARALLEL", "many")
	t.Setenv("TEAMMATE_HISTORY_ENABLED", "perhaps")

	_, err := Load(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEAMMATE_INBOX_MAX_PARALLEL")
	assert.Contains(t, err.Error(), "TEAMMATE_HISTORY_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default ok", mutate: func(*Config) {}},
		{
			name:    "command without argv",
			mutate:  func(c *Config) { c.Executor.Kind = "command" },
			wantErr: "executor.command is required",
		},
		{
			name:    "unknown executor",
			mutate:  func(c *Config) { c.Executor.Kind = "http" },
			wantErr: "executor.kind must be one of",
		},
		{
			name:    "negative parallelism",
			mutate:  func(c *Config) { c.Inbox.MaxParallel = -1 },
			wantErr: "inbox.max_parallel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurations(t *testing.T) {
	var cfg Config
	assert.Equal(t, 10*time.Second, cfg.ScanInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 60*time.Second, cfg.ExecutorTimeout())
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout())

	cfg.Watcher.DebounceSec = 0.25
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce())
}

func TestFindRoot(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, DirName)
	nested := filepath.Join(base, "a", "b")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, root, FindRoot(nested))
	assert.Equal(t, "", FindRoot(t.TempDir()))
}
