package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/msageha/teammate/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "myproject")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	base, err := Run(projectDir, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if base != filepath.Join(projectDir, model.DirName) {
		t.Errorf("unexpected base %s", base)
	}

	for _, d := range Dirs {
		info, err := os.Stat(filepath.Join(base, d))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_WritesLoadableConfig(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "bugtracker")
	os.Mkdir(projectDir, 0755)

	base, err := Run(projectDir, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg, err := model.Load(base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project.Name != "bugtracker" {
		t.Errorf("project name: got %q, want %q", cfg.Project.Name, "bugtracker")
	}
	if cfg.Executor.Kind != "log" {
		t.Errorf("executor kind: got %q, want log", cfg.Executor.Kind)
	}
	if cfg.Inbox.Pattern != "*.xml" || cfg.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.History.Enabled {
		t.Error("history should be enabled by default")
	}
}

func TestRun_ProjectNameOverride(t *testing.T) {
	projectDir := t.TempDir()

	base, err := Run(projectDir, "custom")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	cfg, err := model.Load(base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Project.Name != "custom" {
		t.Errorf("project name: got %q, want custom", cfg.Project.Name)
	}
}

func TestRun_AlreadyExists(t *testing.T) {
	projectDir := t.TempDir()
	if _, err := Run(projectDir, ""); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := Run(projectDir, ""); err == nil {
		t.Fatal("expected error on second Run")
	}
}
