package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	QuarantineDir  = "quarantine"
	DeadLetterDir  = "dead_letters"
	reasonFileExt  = ".reason"
	timestampStyle = "20060102T150405"
)

// Quarantine moves a document the parser rejected to
// <root>/quarantine/<name>.<ts>.corrupt and writes the reason next to it.
// It returns the new path.
func Quarantine(root, filePath string, reason error) (string, error) {
	return moveAside(filepath.Join(root, QuarantineDir), filePath, "corrupt", reason)
}

// DeadLetter moves a document whose execution kept failing to
// <root>/dead_letters/<name>.<ts>.dead and writes the reason next to it.
func DeadLetter(root, filePath string, reason error) (string, error) {
	return moveAside(filepath.Join(root, DeadLetterDir), filePath, "dead", reason)
}

func moveAside(dir, filePath, suffix string, reason error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", filepath.Base(dir), err)
	}

	name := fmt.Sprintf("%s.%s.%s", filepath.Base(filePath), time.Now().Format(timestampStyle), suffix)
	dst := uniquePath(filepath.Join(dir, name))

	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to %s: %w", filepath.Base(dir), err)
	}
	if reason != nil {
		// The move already succeeded; a missing reason file only loses context.
		_ = os.WriteFile(dst+reasonFileExt, []byte(reason.Error()+"\n"), 0644)
	}
	return dst, nil
}

// uniquePath appends -N when p already exists (two rejects within a second).
func uniquePath(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", p, i)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// CountEntries returns the number of moved documents in <root>/<sub>,
// ignoring reason files.
func CountEntries(root, sub string) int {
	entries, err := os.ReadDir(filepath.Join(root, sub))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == reasonFileExt {
			continue
		}
		n++
	}
	return n
}
