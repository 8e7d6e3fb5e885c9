package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/msageha/teammate/internal/action"
	"github.com/msageha/teammate/internal/daemon"
	"github.com/msageha/teammate/internal/history"
	"github.com/msageha/teammate/internal/logging"
	"github.com/msageha/teammate/internal/model"
	"github.com/msageha/teammate/internal/producer"
	"github.com/msageha/teammate/internal/setup"
	"github.com/msageha/teammate/internal/status"
	"github.com/msageha/teammate/internal/uds"
)

const version = "1.0.0"

// exitParseError is returned by "parse" when the document is rejected.
const exitParseError = 2

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "scan":
		runScan(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "parse":
		runParse(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("teammate %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	var dir, name string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			if strings.HasPrefix(args[i], "-") || dir != "" {
				fmt.Fprintf(os.Stderr, "unexpected argument: %s\nusage: teammate setup [dir] [--name <project>]\n", args[i])
				os.Exit(1)
			}
			dir = args[i]
		}
	}
	if dir == "" {
		dir = "."
	}

	root, err := setup.Run(dir, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialized %s\n", root)
}

func runDaemon(_ []string) {
	root, cfg := mustLoad()

	d, err := daemon.New(root, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runScan(args []string) {
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\nusage: teammate scan\n", args[0])
		os.Exit(1)
	}
	root, _ := mustLoad()

	client := uds.NewClient(filepath.Join(root, uds.DefaultSocketName))
	var stats model.ScanStats
	if err := client.Call("scan", nil, &stats); err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("executed=%d skipped=%d rejected=%d retrying=%d dead_lettered=%d errors=%d (%s)\n",
		stats.Executed, stats.Skipped, stats.Rejected, stats.Retrying, stats.DeadLettered, stats.Errors, stats.Duration)
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: teammate status [--json]\n", a)
			os.Exit(1)
		}
	}

	root, cfg := mustLoad()
	if err := status.Run(root, cfg, jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runSubmit(args []string) {
	var info action.WorkItemUpdateInfo
	var deleteOnLoad, deleteAttachments bool
	var name string
	var attachments []action.AttachmentInfo

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--field":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--field requires Name=Value")
				os.Exit(1)
			}
			i++
			k, v, ok := strings.Cut(args[i], "=")
			if !ok || strings.TrimSpace(k) == "" {
				fmt.Fprintf(os.Stderr, "invalid --field value: %s (want Name=Value)\n", args[i])
				os.Exit(1)
			}
			info.Fields.Set(strings.TrimSpace(k), v)
		case "--attach":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--attach requires a path")
				os.Exit(1)
			}
			i++
			p, comment, _ := strings.Cut(args[i], ":")
			if p == "" {
				fmt.Fprintf(os.Stderr, "invalid --attach value: %s\n", args[i])
				os.Exit(1)
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				fmt.Fprintf(os.Stderr, "resolve %s: %v\n", p, err)
				os.Exit(1)
			}
			attachments = append(attachments, action.AttachmentInfo{Path: abs, Comment: comment})
		case "--delete-on-load":
			deleteOnLoad = true
		case "--delete-attachments":
			deleteAttachments = true
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			fmt.Fprintln(os.Stderr, "usage: teammate submit --field Name=Value [--attach path[:comment]] [--delete-on-load] [--delete-attachments] [--name file.xml]")
			os.Exit(1)
		}
	}
	if info.Fields.Len() == 0 {
		fmt.Fprintln(os.Stderr, "submit: at least one --field is required")
		os.Exit(1)
	}
	for _, att := range attachments {
		att.DeleteOnSave = deleteAttachments
		info.Attachments = append(info.Attachments, att)
	}

	root, cfg := mustLoad()
	doc := action.NewCreateWorkItem("", deleteOnLoad, info)

	var path string
	var err error
	if name != "" {
		path, err = producer.WriteNamed(cfg.InboxDir(root), name, doc)
	} else {
		path, err = producer.Write(cfg.InboxDir(root), doc)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(path)
}

func runParse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: teammate parse <file>")
		os.Exit(1)
	}

	a, err := action.ParseFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse: %v\n", err)
		var pe *action.ParseError
		if errors.As(err, &pe) {
			os.Exit(exitParseError)
		}
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

func runHistory(args []string) {
	limit := 20
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "-n requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "invalid -n value: %s\n", args[i])
				os.Exit(1)
			}
			limit = n
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: teammate history [-n N]\n", args[i])
			os.Exit(1)
		}
	}

	root, cfg := mustLoad()
	if !cfg.History.Enabled {
		fmt.Fprintln(os.Stderr, "history: disabled in config.yaml")
		os.Exit(1)
	}
	path := cfg.HistoryPath(root)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "history: no actions processed yet")
		os.Exit(1)
	}

	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := store.Recent(ctx, limit)
	if err != nil {
		store.Close()
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROCESSED\tOUTCOME\tATTEMPTS\tTYPE\tSOURCE\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ProcessedAt.Local().Format(time.DateTime), e.Outcome, e.Attempts,
			e.ActionType, filepath.Base(e.SourcePath), e.Error)
	}
	tw.Flush()
}

// findRoot resolves the .teammate directory from TEAMMATE_DIR or by walking up
// from the working directory.
func findRoot() string {
	if dir := os.Getenv("TEAMMATE_DIR"); dir != "" {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return model.FindRoot(cwd)
}

func mustLoad() (string, model.Config) {
	root := findRoot()
	if root == "" {
		fmt.Fprintln(os.Stderr, "error: .teammate/ directory not found. Run 'teammate setup <dir>' first.")
		os.Exit(1)
	}
	cfg, err := model.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.SetupDefault(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	return root, cfg
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `teammate %s: deferred action inbox

Usage: teammate <command> [options]

Setup:
  setup [dir] [--name <project>]   Initialize .teammate/ directory

Daemon:
  daemon            Run the inbox daemon (foreground)
  scan              Ask the running daemon to scan the inbox now
  status [--json]   Show daemon and inbox status

Documents:
  submit [flags]    Write an action document into the inbox
                      --field Name=Value (repeatable)
                      --attach path[:comment] (repeatable)
                      --delete-on-load, --delete-attachments, --name file.xml
  parse <file>      Validate a document and print it as JSON
  history [-n N]    Show recently processed actions

Utilities:
  version           Show version
  help              Show this help

`, version)
}
