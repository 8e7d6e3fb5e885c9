package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

var ErrClosed = errors.New("audit log closed")

// LogEntry is one line of the audit log.
type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  EventType `json:"event_type"`
	EventID    string    `json:"event_id"`
	Source     string    `json:"source,omitempty"`
	ActionType string    `json:"action_type,omitempty"`
	Target     string    `json:"target,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Error      string    `json:"error,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
}

// AuditLogger appends JSONL entries and rotates the file into archive/
// once it would exceed maxSize.
type AuditLogger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	enableChecksum  bool
	rotationCounter int
	now             func() time.Time
	closed          bool
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	l := &AuditLogger{
		logPath: logPath,
		maxSize: maxSize,
		now:     time.Now,
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Attach subscribes the logger to every event type on bus. Write failures
// are reported to logger; a nil logger uses slog.Default.
func (l *AuditLogger) Attach(bus *Bus, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}
	return bus.Subscribe(func(e Event) {
		if err := l.Log(e); err != nil {
			logger.Error("audit log write failed", "event", e.Type, "source", e.Source, "error", err)
		}
	}, AllEventTypes...)
}

// Log converts an event to an entry with a fresh event ID and writes it.
func (l *AuditLogger) Log(e Event) error {
	return l.WriteEntry(&LogEntry{
		Timestamp:  e.Timestamp,
		EventType:  e.Type,
		EventID:    uuid.NewString(),
		Source:     e.Source,
		ActionType: e.ActionType,
		Target:     e.Target,
		Attempt:    e.Attempt,
		Error:      e.Error,
	})
}

func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.file == nil {
		if err := l.openLogFile(); err != nil {
			return err
		}
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	if l.enableChecksum {
		sum, err := checksum(entry)
		if err != nil {
			return err
		}
		entry.Checksum = sum
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	// A failed rotation keeps appending to the live file; the entry is
	// still written and the rotation error is returned.
	var rotateErr error
	if l.currentSize+int64(len(data)) > l.maxSize && l.currentSize > 0 {
		if err := l.rotate(); err != nil {
			rotateErr = fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return errors.Join(rotateErr, fmt.Errorf("write audit entry: %w", err))
	}
	if err := l.file.Sync(); err != nil {
		return errors.Join(rotateErr, fmt.Errorf("sync audit log: %w", err))
	}

	l.currentSize += int64(n)
	return rotateErr
}

// rotate moves the live file into archive/ and opens a fresh one. On any
// failure l.file is left open on the live path.
func (l *AuditLogger) rotate() error {
	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	l.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, l.now().Format("20060102_150405"), l.rotationCounter, LogFileExtension)

	if err := l.file.Close(); err != nil {
		return errors.Join(fmt.Errorf("close audit log: %w", err), l.reopen())
	}
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return errors.Join(fmt.Errorf("archive audit log: %w", err), l.reopen())
	}
	return l.reopen()
}

// reopen opens the live path again; l.file is nil only if that fails too.
func (l *AuditLogger) reopen() error {
	l.file = nil
	return l.openLogFile()
}

// checksum hashes the entry without its checksum field.
func checksum(entry *LogEntry) (string, error) {
	c := *entry
	c.Checksum = ""
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

func (l *AuditLogger) EnableChecksum(enable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enableChecksum = enable
}

// VerifyLogIntegrity returns the number of entries and how many of them
// are valid. Entries without a checksum count as valid.
func VerifyLogIntegrity(logPath string) (int, int, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	total, valid := 0, 0
	for decoder.More() {
		var entry LogEntry
		if err := decoder.Decode(&entry); err != nil {
			break
		}
		total++

		if entry.Checksum == "" {
			valid++
			continue
		}
		want, err := checksum(&entry)
		if err == nil && want == entry.Checksum {
			valid++
		}
	}
	return total, valid, nil
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}
