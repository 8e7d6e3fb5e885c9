// Package executor performs the side effect an action describes. The inbox
// only depends on the Executor interface; the adapters here make the daemon
// usable without a built-in work item backend.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/msageha/teammate/internal/action"
	"github.com/msageha/teammate/internal/model"
)

// Executor applies an action. A nil error means success; the caller then
// runs cleanup. Errors are retriable unless they wrap ErrPermanent.
// Executors must tolerate the same action being applied more than once.
type Executor interface {
	Execute(ctx context.Context, a action.Action) error
}

// ErrPermanent marks failures that retrying will not fix.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent wraps err so that IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// New builds the executor selected by cfg.
func New(cfg model.ExecutorConfig, retry model.RetryConfig, logger *slog.Logger) (Executor, error) {
	switch cfg.Kind {
	case "", "log":
		return NewLogExecutor(logger), nil
	case "command":
		return NewCommandExecutor(cfg.Command, retry.RetryableExitCodes, logger)
	default:
		return nil, fmt.Errorf("unknown executor kind %q", cfg.Kind)
	}
}

// LogExecutor records the action and reports success. It is the dry-run
// default until a real backend is configured.
type LogExecutor struct {
	logger *slog.Logger
}

func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger.With("component", "executor")}
}

func (e *LogExecutor) Execute(ctx context.Context, a action.Action) error {
	switch v := a.(type) {
	case *action.CreateWorkItem:
		wi := v.WorkItem()
		attrs := []any{
			"source", v.Source(),
			"fields", wi.Fields.Len(),
			"attachments", len(wi.Attachments),
		}
		if title, ok := wi.Fields.Get("Title"); ok {
			attrs = append(attrs, "title", title)
		}
		e.logger.InfoContext(ctx, "create work item (dry run)", attrs...)
		return nil
	default:
		return Permanent(fmt.Errorf("log executor: unsupported action type %q", a.Type()))
	}
}
