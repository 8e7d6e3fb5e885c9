package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestAtomicWriteYAML_Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := map[string]any{"key": "value", "count": 42}
	if err := AtomicWriteYAML(path, data); err != nil {
		t.Fatalf("AtomicWriteYAML failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var result map[string]any
	if err := yamlv3.Unmarshal(content, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("key: got %v, want %q", result["key"], "value")
	}
}

func TestAtomicWrite_OverwritesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "action.xml")

	if err := AtomicWrite(path, []byte("<a/>")); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWrite(path, []byte("<b/>")); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "<b/>" {
		t.Errorf("content: got %q, want %q", content, "<b/>")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 file, got %d", len(entries))
	}
}

func TestAtomicWrite_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "a.xml")
	if err := AtomicWrite(path, []byte("x")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestQuarantine(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "broken.xml")
	os.WriteFile(filePath, []byte("<TeamMate>"), 0644)

	dst, err := Quarantine(root, filePath, errors.New("malformed action document: invalid XML"))
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}

	base := filepath.Base(dst)
	if !strings.HasPrefix(base, "broken.xml.") || !strings.HasSuffix(base, ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", base)
	}
	if filepath.Dir(dst) != filepath.Join(root, QuarantineDir) {
		t.Errorf("unexpected quarantine dir: %s", filepath.Dir(dst))
	}

	reason, err := os.ReadFile(dst + ".reason")
	if err != nil {
		t.Fatalf("read reason: %v", err)
	}
	if !strings.Contains(string(reason), "invalid XML") {
		t.Errorf("reason: got %q", reason)
	}

	if n := CountEntries(root, QuarantineDir); n != 1 {
		t.Errorf("CountEntries: got %d, want 1", n)
	}
}

func TestQuarantine_SameNameTwice(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "again.xml")

	var dsts []string
	for i := 0; i < 2; i++ {
		os.WriteFile(filePath, []byte("x"), 0644)
		dst, err := Quarantine(root, filePath, nil)
		if err != nil {
			t.Fatalf("Quarantine %d failed: %v", i, err)
		}
		dsts = append(dsts, dst)
	}
	if dsts[0] == dsts[1] {
		t.Errorf("second quarantine overwrote the first: %s", dsts[0])
	}
	if n := CountEntries(root, QuarantineDir); n != 2 {
		t.Errorf("CountEntries: got %d, want 2", n)
	}
}

func TestDeadLetter(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "job.xml")
	os.WriteFile(filePath, []byte("x"), 0644)

	dst, err := DeadLetter(root, filePath, errors.New("executor exited 1"))
	if err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}
	if !strings.HasSuffix(dst, ".dead") {
		t.Errorf("unexpected dead letter name: %s", dst)
	}
	if n := CountEntries(root, DeadLetterDir); n != 1 {
		t.Errorf("CountEntries: got %d, want 1", n)
	}
}

func TestQuarantine_MissingSource(t *testing.T) {
	root := t.TempDir()
	if _, err := Quarantine(root, filepath.Join(root, "gone.xml"), nil); err == nil {
		t.Error("expected error for missing source")
	}
}

func TestCountEntries_MissingDir(t *testing.T) {
	if n := CountEntries(t.TempDir(), "nothing"); n != 0 {
		t.Errorf("got %d, want 0", n)
	}
}
