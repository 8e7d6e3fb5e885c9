// Package producer places action documents into an inbox. It is what
// `teammate submit` uses and is the reference for external producers: a
// document only becomes visible under its final name once it is complete.
package producer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/teammate/internal/action"
	"github.com/msageha/teammate/internal/fileutil"
)

const fileExt = ".xml"

// Write renders a and writes it into dir under a generated unique name.
// It returns the path of the new document.
func Write(dir string, a action.Action) (string, error) {
	return WriteNamed(dir, NewName(a.Type()), a)
}

// WriteNamed is Write with a caller-chosen file name. An existing document
// with the same name is replaced.
func WriteNamed(dir, name string, a action.Action) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	data, err := action.Render(a)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create inbox dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := fileutil.AtomicWrite(path, data); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// NewName returns <utc timestamp>-<type>-<short uuid>.xml. Names sort by
// creation time.
func NewName(t action.Type) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%s%s", time.Now().UTC().Format("20060102T150405.000"), t, id, fileExt)
}
