package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/msageha/teammate/internal/action"
)

const maxOutputInError = 512

// CommandExecutor runs an external program per action. The action is
// written to stdin as JSON. Exit 0 is success, an exit code listed as
// retryable is a retriable failure, anything else is permanent.
type CommandExecutor struct {
	argv      []string
	retryable map[int]bool
	logger    *slog.Logger
}

func NewCommandExecutor(argv []string, retryableExitCodes []int, logger *slog.Logger) (*CommandExecutor, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("command executor: empty command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	retryable := make(map[int]bool, len(retryableExitCodes))
	for _, c := range retryableExitCodes {
		retryable[c] = true
	}
	return &CommandExecutor{
		argv:      append([]string(nil), argv...),
		retryable: retryable,
		logger:    logger.With("component", "executor"),
	}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, a action.Action) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return Permanent(fmt.Errorf("encode action: %w", err))
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(),
		"TEAMMATE_ACTION_TYPE="+string(a.Type()),
		"TEAMMATE_ACTION_SOURCE="+a.Source(),
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.logger.DebugContext(ctx, "exec", "argv", e.argv, "source", a.Source())
	runErr := cmd.Run()
	if runErr == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", e.argv[0], ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		code := exitErr.ExitCode()
		failure := fmt.Errorf("%s exited %d: %s", e.argv[0], code, trimOutput(out.String()))
		if e.retryable[code] {
			return failure
		}
		return Permanent(failure)
	}
	// Not started at all (missing binary, permission): retrying will not help.
	return Permanent(fmt.Errorf("run %s: %w", e.argv[0], runErr))
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputInError {
		s = s[:maxOutputInError] + "..."
	}
	return s
}
