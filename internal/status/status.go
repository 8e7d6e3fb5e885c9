// Package status implements `teammate status`: the daemon's view of the
// inbox when it runs, otherwise what can be read from disk.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/msageha/teammate/internal/fileutil"
	"github.com/msageha/teammate/internal/history"
	"github.com/msageha/teammate/internal/inbox"
	"github.com/msageha/teammate/internal/model"
	"github.com/msageha/teammate/internal/uds"
)

type Report struct {
	Running bool `json:"running"`
	model.DaemonStatus
}

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Width(16)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#D29922"))
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Run collects the report for root and writes it to w.
func Run(root string, cfg model.Config, jsonOutput bool, w io.Writer) error {
	report, err := Collect(context.Background(), root, cfg)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	_, err = fmt.Fprintln(w, Render(report))
	return err
}

// Collect asks the daemon first and falls back to reading the state
// directory directly.
func Collect(ctx context.Context, root string, cfg model.Config) (Report, error) {
	client := uds.NewClient(filepath.Join(root, uds.DefaultSocketName))
	client.SetTimeout(3 * time.Second)

	var st model.DaemonStatus
	if err := client.Call("status", nil, &st); err == nil {
		return Report{Running: true, DaemonStatus: st}, nil
	}
	return offline(ctx, root, cfg)
}

func offline(ctx context.Context, root string, cfg model.Config) (Report, error) {
	r := Report{DaemonStatus: model.DaemonStatus{
		InboxDir:     cfg.InboxDir(root),
		Executor:     cfg.Executor.Kind,
		Quarantined:  fileutil.CountEntries(root, fileutil.QuarantineDir),
		DeadLettered: fileutil.CountEntries(root, fileutil.DeadLetterDir),
	}}

	pending, err := inbox.ListPending(r.InboxDir, cfg.Inbox.Pattern)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return r, err
	}
	r.Pending = len(pending)

	dbPath := cfg.HistoryPath(root)
	if !cfg.History.Enabled {
		return r, nil
	}
	if _, err := os.Stat(dbPath); err != nil {
		return r, nil
	}
	store, err := history.Open(dbPath)
	if err != nil {
		return r, err
	}
	defer store.Close()
	counts, err := store.Counts(ctx)
	if err != nil {
		return r, err
	}
	r.History = make(map[string]int, len(counts))
	for o, n := range counts {
		r.History[string(o)] = n
	}
	return r, nil
}

// Render formats r for a terminal.
func Render(r Report) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + value + "\n")
	}

	if r.Running {
		row("Daemon", okStyle.Render(fmt.Sprintf("running (pid %d)", r.PID)))
		if !r.StartedAt.IsZero() {
			row("Up since", r.StartedAt.Local().Format(time.DateTime))
		}
	} else {
		row("Daemon", warnStyle.Render("stopped"))
	}
	row("Inbox", r.InboxDir)
	row("Executor", r.Executor)
	row("Pending", fmt.Sprint(r.Pending))
	row("Quarantined", countStyle(r.Quarantined))
	row("Dead letters", countStyle(r.DeadLettered))

	if s := r.LastScan; s != nil {
		row("Last scan", fmt.Sprintf("%s (%s): %d executed, %d rejected, %d retrying, %d dead-lettered",
			s.At.Local().Format(time.TimeOnly), s.Duration, s.Executed, s.Rejected, s.Retrying, s.DeadLettered))
	}

	if len(r.History) > 0 {
		outcomes := make([]string, 0, len(r.History))
		for o := range r.History {
			outcomes = append(outcomes, o)
		}
		sort.Strings(outcomes)
		parts := make([]string, 0, len(outcomes))
		for _, o := range outcomes {
			parts = append(parts, fmt.Sprintf("%s=%d", o, r.History[o]))
		}
		row("History", strings.Join(parts, " "))
	}

	body := strings.TrimRight(b.String(), "\n")
	return headingStyle.Render("TeamMate") + "\n" + boxStyle.Render(body)
}

func countStyle(n int) string {
	if n > 0 {
		return warnStyle.Render(fmt.Sprint(n))
	}
	return fmt.Sprint(n)
}
