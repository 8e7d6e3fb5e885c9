// Package notify raises desktop notifications for actions that need a human.
package notify

import (
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/msageha/teammate/internal/events"
)

// Sender delivers one notification.
type Sender func(title, message string) error

// Send uses osascript on macOS and notify-send elsewhere.
func Send(title, message string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(
			`display notification %q with title %q sound name "default"`,
			escapeAppleScript(message), escapeAppleScript(title),
		)
		cmd = exec.Command("osascript", "-e", script)
	} else {
		cmd = exec.Command("notify-send", "--app-name=teammate", title, message)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", cmd.Args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// Format returns the title and message for e. ok is false for events that
// do not warrant a notification.
func Format(e events.Event) (title, message string, ok bool) {
	name := filepath.Base(e.Source)
	switch e.Type {
	case events.EventActionRejected:
		title = "TeamMate: action rejected"
		message = fmt.Sprintf("%s was quarantined: %s", name, e.Error)
	case events.EventActionDeadLettered:
		title = "TeamMate: action dead-lettered"
		message = fmt.Sprintf("%s failed after %d attempt(s): %s", name, e.Attempt, e.Error)
	default:
		return "", "", false
	}
	return title, message, true
}

// Attach subscribes send to rejected and dead-lettered events. A nil send
// means Send.
func Attach(bus *events.Bus, send Sender, logger *slog.Logger) func() {
	if send == nil {
		send = Send
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify")
	return bus.Subscribe(func(e events.Event) {
		title, message, ok := Format(e)
		if !ok {
			return
		}
		if err := send(title, message); err != nil {
			logger.Warn("notification failed", "error", err)
		}
	}, events.EventActionRejected, events.EventActionDeadLettered)
}
