// Package inbox consumes action documents dropped into the inbox directory:
// parse, execute, clean up, and move aside what cannot be processed.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/msageha/teammate/internal/action"
	"github.com/msageha/teammate/internal/cleanup"
	"github.com/msageha/teammate/internal/events"
	"github.com/msageha/teammate/internal/executor"
	"github.com/msageha/teammate/internal/fileutil"
	"github.com/msageha/teammate/internal/history"
	"github.com/msageha/teammate/internal/lock"
	"github.com/msageha/teammate/internal/model"
)

// Outcome is what ProcessFile did with one document.
type Outcome string

const (
	OutcomeExecuted     Outcome = "executed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeRejected     Outcome = "rejected"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeError        Outcome = "error"
)

type Result struct {
	Path    string
	Outcome Outcome
	Attempt int
	// Target is where a rejected or dead-lettered document was moved.
	Target  string
	Err     error
	Cleanup cleanup.Report
}

// Summary is the result of one scan, in inbox listing order.
type Summary struct {
	Results []Result
}

func (s Summary) Count(o Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

type Processor struct {
	root    string
	dir     string
	cfg     model.Config
	exec    executor.Executor
	ledger  Ledger
	cleaner *cleanup.Coordinator
	bus     *events.Bus
	logger  *slog.Logger

	files *lock.MutexMap
	scans singleflight.Group

	skipMu   sync.Mutex
	reported map[ledgerKey]bool
}

// New returns a processor for the inbox configured under root. A nil
// ledger means an in-memory one.
func New(root string, cfg model.Config, exec executor.Executor, ledger Ledger, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	logger = logger.With("component", "inbox")
	return &Processor{
		root:     root,
		dir:      cfg.InboxDir(root),
		cfg:      cfg,
		exec:     exec,
		ledger:   ledger,
		cleaner:  cleanup.New(logger),
		logger:   logger,
		files:    lock.NewMutexMap(),
		reported: make(map[ledgerKey]bool),
	}
}

// SetBus enables event publishing. Must be called before the first scan.
func (p *Processor) SetBus(bus *events.Bus) {
	p.bus = bus
}

// SetCleanup replaces the cleanup coordinator.
func (p *Processor) SetCleanup(c *cleanup.Coordinator) {
	p.cleaner = c
}

func (p *Processor) Dir() string { return p.dir }

// Scan processes every pending document. Concurrent calls share one scan.
func (p *Processor) Scan(ctx context.Context) (Summary, error) {
	v, err, _ := p.scans.Do("scan", func() (any, error) {
		return p.scan(ctx)
	})
	s, _ := v.(Summary)
	return s, err
}

func (p *Processor) scan(ctx context.Context) (Summary, error) {
	paths, err := p.pending()
	if err != nil {
		return Summary{}, err
	}
	if len(paths) == 0 {
		return Summary{}, nil
	}
	p.logger.Debug("scan", "pending", len(paths))

	results := make([]Result, len(paths))
	var g errgroup.Group
	g.SetLimit(max(p.cfg.Inbox.MaxParallel, 1))
	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = p.ProcessFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var done []Result
	for _, r := range results {
		if r.Path != "" {
			done = append(done, r)
		}
	}
	return Summary{Results: done}, ctx.Err()
}

// Pending returns the number of documents waiting in the inbox.
func (p *Processor) Pending() (int, error) {
	paths, err := p.pending()
	return len(paths), err
}

func (p *Processor) pending() ([]string, error) {
	return ListPending(p.dir, p.cfg.Inbox.Pattern)
}

// ListPending lists the documents in dir matching pattern, skipping hidden
// files (including in-progress producer writes) and directories.
func ListPending(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("inbox pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

// ProcessFile handles a single document. It never returns a partially
// processed state: the document is executed, left for a retry, or moved out
// of the inbox.
func (p *Processor) ProcessFile(ctx context.Context, path string) Result {
	p.files.Lock(path)
	defer p.files.Unlock(path)

	res := Result{Path: path}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		res.Outcome = OutcomeSkipped
		return res
	}
	if err != nil {
		return p.fail(res, err)
	}

	if limit := p.cfg.Inbox.MaxDocumentBytes; limit > 0 && info.Size() > limit {
		err := fmt.Errorf("%w: %s is %d bytes, limit is %d", action.ErrMalformedDocument, filepath.Base(path), info.Size(), limit)
		return p.reject(res, "", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return p.fail(res, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	a, err := action.ParseBytes(data, path)
	if err != nil {
		return p.reject(res, digest, err)
	}

	// A document deleted on load that shows up again is a new delivery. Only
	// documents the producer leaves in place are deduplicated.
	if !a.DeleteOnLoad() {
		done, err := p.ledger.Succeeded(ctx, path, digest)
		if err != nil {
			return p.fail(res, err)
		}
		if done {
			p.reportSkip(path, digest)
			res.Outcome = OutcomeSkipped
			return res
		}
	}
	p.bus.Publish(events.Event{Type: events.EventActionParsed, Source: path, ActionType: string(a.Type())})

	prev, err := p.ledger.Attempts(ctx, path, digest)
	if err != nil {
		return p.fail(res, err)
	}
	res.Attempt = prev + 1
	return p.execute(ctx, res, digest, a)
}

func (p *Processor) execute(ctx context.Context, res Result, digest string, a action.Action) Result {
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutorTimeout())
	err := p.exec.Execute(execCtx, a)
	cancel()

	entry := history.Entry{
		SourcePath: res.Path,
		Digest:     digest,
		ActionType: string(a.Type()),
		Attempts:   res.Attempt,
	}
	event := events.Event{Source: res.Path, ActionType: string(a.Type()), Attempt: res.Attempt}

	if err == nil {
		entry.Outcome = history.OutcomeSucceeded
		p.record(entry)
		res.Outcome = OutcomeExecuted
		res.Cleanup = p.cleaner.Cleanup(a)
		p.logger.Info("action executed", "source", res.Path, "type", a.Type(), "attempt", res.Attempt)
		event.Type = events.EventActionExecuted
		p.bus.Publish(event)
		for _, f := range res.Cleanup.Failures {
			p.bus.Publish(events.Event{
				Type: events.EventCleanupFailed, Source: res.Path, ActionType: string(a.Type()),
				Target: f.Path, Error: f.Err.Error(),
			})
		}
		return res
	}

	res.Err = err
	event.Error = err.Error()
	entry.Error = err.Error()

	// Interrupted by shutdown; the attempt is not counted.
	if ctx.Err() != nil {
		res.Outcome = OutcomeRetry
		return res
	}

	if executor.IsPermanent(err) || res.Attempt >= p.maxAttempts() {
		target, moveErr := fileutil.DeadLetter(p.root, res.Path, err)
		if moveErr != nil {
			p.logger.Error("dead letter failed", "source", res.Path, "error", moveErr)
			res.Outcome = OutcomeError
			res.Err = errors.Join(err, moveErr)
			return res
		}
		entry.Outcome = history.OutcomeDeadLettered
		p.record(entry)
		res.Outcome = OutcomeDeadLettered
		res.Target = target
		p.logger.Warn("action dead-lettered", "source", res.Path, "target", target, "attempt", res.Attempt, "error", err)
		event.Type = events.EventActionDeadLettered
		event.Target = target
		p.bus.Publish(event)
		return res
	}

	entry.Outcome = history.OutcomeFailed
	p.record(entry)
	res.Outcome = OutcomeRetry
	p.logger.Warn("action failed, will retry", "source", res.Path, "attempt", res.Attempt, "max_attempts", p.maxAttempts(), "error", err)
	event.Type = events.EventActionFailed
	p.bus.Publish(event)
	return res
}

// reject quarantines a document that cannot be turned into an action.
func (p *Processor) reject(res Result, digest string, cause error) Result {
	res.Err = cause
	target, err := fileutil.Quarantine(p.root, res.Path, cause)
	if err != nil {
		p.logger.Error("quarantine failed", "source", res.Path, "error", err)
		res.Outcome = OutcomeError
		res.Err = errors.Join(cause, err)
		return res
	}
	res.Outcome = OutcomeRejected
	res.Target = target

	kind := "unknown"
	if k, ok := action.KindOf(cause); ok {
		kind = k.String()
	}
	p.logger.Warn("action rejected", "source", res.Path, "kind", kind, "target", target, "error", cause)
	p.record(history.Entry{SourcePath: res.Path, Digest: digest, Outcome: history.OutcomeRejected, Error: cause.Error()})
	p.bus.Publish(events.Event{Type: events.EventActionRejected, Source: res.Path, Target: target, Error: cause.Error()})
	return res
}

func (p *Processor) fail(res Result, err error) Result {
	p.logger.Error("process failed", "source", res.Path, "error", err)
	res.Outcome = OutcomeError
	res.Err = err
	return res
}

func (p *Processor) record(e history.Entry) {
	// Not tied to the scan context so outcomes are kept during shutdown.
	if _, err := p.ledger.Record(context.Background(), e); err != nil {
		p.logger.Error("history record failed", "source", e.SourcePath, "outcome", e.Outcome, "error", err)
	}
}

// reportSkip publishes action_skipped once per document version, not once
// per scan.
func (p *Processor) reportSkip(path, digest string) {
	p.skipMu.Lock()
	key := ledgerKey{path, digest}
	first := !p.reported[key]
	p.reported[key] = true
	p.skipMu.Unlock()

	if first {
		p.logger.Debug("already executed, skipping", "source", path)
		p.bus.Publish(events.Event{Type: events.EventActionSkipped, Source: path})
	}
}

func (p *Processor) maxAttempts() int {
	if p.cfg.Retry.MaxAttempts <= 0 {
		return 1
	}
	return p.cfg.Retry.MaxAttempts
}
