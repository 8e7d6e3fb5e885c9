// Package daemon runs the long-lived inbox consumer: it holds the daemon
// lock, watches the inbox, scans on change and on a timer, and answers
// control requests on the UDS socket.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/teammate/internal/events"
	"github.com/msageha/teammate/internal/executor"
	"github.com/msageha/teammate/internal/fileutil"
	"github.com/msageha/teammate/internal/history"
	"github.com/msageha/teammate/internal/inbox"
	"github.com/msageha/teammate/internal/lock"
	"github.com/msageha/teammate/internal/logging"
	"github.com/msageha/teammate/internal/model"
	"github.com/msageha/teammate/internal/notify"
	"github.com/msageha/teammate/internal/uds"
)

const (
	LockFile  = "locks/daemon.lock"
	AuditFile = "audit.jsonl"
)

// Daemon is the teammate daemon process.
type Daemon struct {
	root    string
	config  model.Config
	logger  *slog.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	exec      executor.Executor
	processor *inbox.Processor
	ledger    *history.Store
	bus       *events.Bus
	audit     *events.AuditLogger
	notifier  notify.Sender

	scanReq       chan struct{}
	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	startedAt time.Time
	lastScan  atomic.Pointer[model.ScanStats]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
}

// New creates a daemon logging to <root>/logs/daemon.log and stderr.
func New(root string, cfg model.Config) (*Daemon, error) {
	logFile, err := logging.OpenFile(root, "daemon.log")
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}
	d, err := newDaemon(root, cfg, io.MultiWriter(logFile, os.Stderr), logFile)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	return d, nil
}

// newDaemon is the internal constructor for testing.
func newDaemon(root string, cfg model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	logger := logging.New(w, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format).With("component", "daemon")

	exec, err := executor.New(cfg.Executor, cfg.Retry, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		root:     root,
		config:   cfg,
		logger:   logger,
		logFile:  closer,
		fileLock: lock.NewFileLock(filepath.Join(root, LockFile)),
		server:   uds.NewServer(filepath.Join(root, uds.DefaultSocketName), logger),
		exec:     exec,
		bus:      events.NewBus(256),
		notifier: notify.Send,
		scanReq:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// SetExecutor replaces the configured executor. Must be called before Start.
func (d *Daemon) SetExecutor(e executor.Executor) {
	d.exec = e
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}
	d.waitSignals()
	return nil
}

// Start acquires the lock, wires the pipeline and starts the background
// loops. On error everything acquired so far is released.
func (d *Daemon) Start() error {
	if err := os.MkdirAll(filepath.Dir(d.fileLock.Path()), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.logger.Info("daemon starting", "pid", os.Getpid(), "root", d.root)

	if err := d.startPipeline(); err != nil {
		d.cleanup()
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	inboxDir := d.processor.Dir()
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure inbox %s: %w", inboxDir, err)
	}
	if err := watcher.Add(inboxDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", inboxDir, err)
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.logger.Info("control socket listening", "path", filepath.Join(d.root, uds.DefaultSocketName))

	d.startedAt = time.Now().UTC()
	d.ticker = time.NewTicker(d.config.ScanInterval())
	d.wg.Add(3)
	go d.fsnotifyLoop()
	go d.tickerLoop()
	go d.scanLoop()

	d.requestScan()
	d.logger.Info("daemon ready", "inbox", inboxDir, "executor", d.config.Executor.Kind)
	return nil
}

// startPipeline opens the history ledger and audit log and builds the
// inbox processor.
func (d *Daemon) startPipeline() error {
	var ledger inbox.Ledger
	if d.config.History.Enabled {
		store, err := history.Open(d.config.HistoryPath(d.root))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		d.ledger = store
		ledger = store
	}

	audit, err := events.NewAuditLogger(filepath.Join(d.root, "logs", AuditFile), events.DefaultMaxLogSize)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	audit.EnableChecksum(true)
	d.audit = audit
	audit.Attach(d.bus, d.logger)

	if d.config.Notify.Enabled {
		notify.Attach(d.bus, d.notifier, d.logger)
	}

	d.processor = inbox.New(d.root, d.config, d.exec, ledger, d.logger)
	d.processor.SetBus(d.bus)
	return nil
}

func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(context.Context, *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]any{"status": "ok", "pid": os.Getpid()})
	})

	d.server.Handle("scan", func(context.Context, *uds.Request) *uds.Response {
		if d.ctx.Err() != nil {
			return uds.ErrorResponse(uds.ErrCodeShuttingDown, "daemon is shutting down")
		}
		return uds.SuccessResponse(d.scanNow())
	})

	d.server.Handle("status", func(ctx context.Context, _ *uds.Request) *uds.Response {
		st, err := d.Status(ctx)
		if err != nil {
			return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
		}
		return uds.SuccessResponse(st)
	})

	d.server.Handle("shutdown", func(context.Context, *uds.Request) *uds.Response {
		d.logger.Info("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

// Status reports the daemon's view of the inbox.
func (d *Daemon) Status(ctx context.Context) (model.DaemonStatus, error) {
	st := model.DaemonStatus{
		PID:          os.Getpid(),
		StartedAt:    d.startedAt,
		InboxDir:     d.processor.Dir(),
		Executor:     d.config.Executor.Kind,
		Quarantined:  fileutil.CountEntries(d.root, fileutil.QuarantineDir),
		DeadLettered: fileutil.CountEntries(d.root, fileutil.DeadLetterDir),
		LastScan:     d.lastScan.Load(),
	}
	pending, err := d.processor.Pending()
	if err != nil {
		return st, err
	}
	st.Pending = pending

	if d.ledger != nil {
		counts, err := d.ledger.Counts(ctx)
		if err != nil {
			return st, err
		}
		st.History = make(map[string]int, len(counts))
		for o, n := range counts {
			st.History[string(o)] = n
		}
	}
	return st, nil
}

// requestScan asks the scan loop for a scan; requests made while one is
// queued are merged.
func (d *Daemon) requestScan() {
	select {
	case d.scanReq <- struct{}{}:
	default:
	}
}

func (d *Daemon) scanNow() model.ScanStats {
	start := time.Now()
	sum, err := d.processor.Scan(d.ctx)
	if err != nil && d.ctx.Err() == nil {
		d.logger.Error("scan failed", "error", err)
	}

	stats := &model.ScanStats{
		At:           start.UTC(),
		Duration:     time.Since(start).Round(time.Millisecond).String(),
		Executed:     sum.Count(inbox.OutcomeExecuted),
		Skipped:      sum.Count(inbox.OutcomeSkipped),
		Rejected:     sum.Count(inbox.OutcomeRejected),
		Retrying:     sum.Count(inbox.OutcomeRetry),
		DeadLettered: sum.Count(inbox.OutcomeDeadLettered),
		Errors:       sum.Count(inbox.OutcomeError),
	}
	if stats.Executed+stats.Rejected+stats.Retrying+stats.DeadLettered+stats.Errors > 0 {
		d.logger.Info("scan complete",
			"executed", stats.Executed, "rejected", stats.Rejected,
			"retrying", stats.Retrying, "dead_lettered", stats.DeadLettered,
			"errors", stats.Errors, "duration", stats.Duration)
	}
	d.lastScan.Store(stats)
	return *stats
}

func (d *Daemon) scanLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.scanReq:
			d.scanNow()
		}
	}
}

func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				d.logger.Debug("fsnotify", "op", event.Op.String(), "file", event.Name)
				d.debounceScan()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Error("fsnotify error", "error", err)
		}
	}
}

// debounceScan coalesces bursts of file events into one scan.
func (d *Daemon) debounceScan() {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if d.debounceTimer != nil {
		d.debounceTimer.Stop()
	}
	d.debounceTimer = time.AfterFunc(d.config.Debounce(), d.requestScan)
}

func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.requestScan()
		}
	}
}

// waitSignals blocks until a shutdown signal arrives or Shutdown is called
// from elsewhere. A second signal forces exit.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("received signal, shutting down", "signal", sig.String())
		go func() {
			<-sigCh
			d.logger.Warn("received second signal, forcing exit")
			os.Exit(1)
		}()
	case <-d.ctx.Done():
	}

	d.Shutdown()
}

// Shutdown stops accepting work, waits for in-flight scans up to the
// configured timeout and releases resources. It is idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.logger.Info("shutdown started")

		d.cancel()
		if d.ticker != nil {
			d.ticker.Stop()
		}
		d.debounceMu.Lock()
		if d.debounceTimer != nil {
			d.debounceTimer.Stop()
		}
		d.debounceMu.Unlock()
		if d.watcher != nil {
			d.watcher.Close()
		}
		timeout := d.config.ShutdownTimeout()
		drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if d.server != nil {
			if err := d.server.Stop(drainCtx); err != nil {
				d.logger.Warn("control socket did not drain", "error", err)
			}
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			d.logger.Info("all goroutines drained")
		case <-drainCtx.Done():
			d.logger.Warn("shutdown timeout, some actions may be incomplete", "timeout", timeout)
		}

		d.logger.Info("daemon stopped")
		d.cleanup()
	})
}

// cleanup releases resources acquired by Start.
func (d *Daemon) cleanup() {
	d.bus.Close()
	if d.audit != nil {
		d.audit.Close()
	}
	if d.ledger != nil {
		d.ledger.Close()
	}
	os.Remove(filepath.Join(d.root, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.logFile != nil {
		d.logFile.Close()
	}
}
