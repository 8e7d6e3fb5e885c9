// Package cleanup removes an action's transient files after it was executed.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/msageha/teammate/internal/action"
)

// Target says why a file was scheduled for deletion.
type Target string

const (
	TargetSource     Target = "source"
	TargetAttachment Target = "attachment"
)

// Failure is a soft cleanup failure. It is reported and logged but never
// turns a successfully executed action into a failed one.
type Failure struct {
	Target Target
	Path   string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("cleanup %s %s: %v", f.Target, f.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report lists what Cleanup did.
type Report struct {
	Removed  []string
	Missing  []string
	Failures []Failure
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// Coordinator deletes the source document when DeleteOnLoad is set and each
// attachment flagged DeleteOnSave. A file that is already gone counts as
// deleted, so running Cleanup twice is harmless.
type Coordinator struct {
	logger *slog.Logger
	remove func(string) error
}

func New(logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger: logger.With("component", "cleanup"),
		remove: os.Remove,
	}
}

// SetRemoveFunc overrides os.Remove for testing.
func (c *Coordinator) SetRemoveFunc(f func(string) error) {
	c.remove = f
}

// Cleanup must only be called after the executor reported success.
func (c *Coordinator) Cleanup(a action.Action) Report {
	var r Report
	if a.DeleteOnLoad() && a.Source() != "" {
		c.delete(&r, TargetSource, a.Source())
	}
	for _, att := range action.Attachments(a) {
		if att.DeleteOnSave {
			c.delete(&r, TargetAttachment, att.Path)
		}
	}
	return r
}

func (c *Coordinator) delete(r *Report, target Target, path string) {
	err := c.remove(path)
	switch {
	case err == nil:
		r.Removed = append(r.Removed, path)
		c.logger.Debug("removed", "target", target, "path", path)
	case errors.Is(err, fs.ErrNotExist):
		r.Missing = append(r.Missing, path)
		c.logger.Debug("already removed", "target", target, "path", path)
	default:
		f := Failure{Target: target, Path: path, Err: err}
		r.Failures = append(r.Failures, f)
		c.logger.Warn("cleanup failed", "target", target, "path", path, "error", err)
	}
}
