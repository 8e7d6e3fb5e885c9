package inbox

import (
	"context"
	"sync"

	"github.com/msageha/teammate/internal/history"
)

// Ledger remembers what happened to each document version. *history.Store
// implements it; MemoryLedger is used when history is disabled.
type Ledger interface {
	Succeeded(ctx context.Context, sourcePath, digest string) (bool, error)
	Attempts(ctx context.Context, sourcePath, digest string) (int, error)
	Record(ctx context.Context, e history.Entry) (int64, error)
}

var _ Ledger = (*history.Store)(nil)

// MemoryLedger is a process-local Ledger. Documents that are not deleted on
// load are executed again after a restart.
type MemoryLedger struct {
	mu      sync.Mutex
	nextID  int64
	entries map[ledgerKey]*ledgerState
}

type ledgerKey struct{ path, digest string }

type ledgerState struct {
	succeeded bool
	failures  int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[ledgerKey]*ledgerState)}
}

func (m *MemoryLedger) Succeeded(_ context.Context, sourcePath, digest string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entries[ledgerKey{sourcePath, digest}]
	return ok && s.succeeded, nil
}

func (m *MemoryLedger) Attempts(_ context.Context, sourcePath, digest string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.entries[ledgerKey{sourcePath, digest}]; ok {
		return s.failures, nil
	}
	return 0, nil
}

func (m *MemoryLedger) Record(_ context.Context, e history.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey{e.SourcePath, e.Digest}
	s, ok := m.entries[key]
	if !ok {
		s = &ledgerState{}
		m.entries[key] = s
	}
	switch e.Outcome {
	case history.OutcomeSucceeded:
		s.succeeded = true
		s.failures = 0
	case history.OutcomeDeadLettered:
		s.failures = 0
	case history.OutcomeFailed:
		s.failures++
	}
	m.nextID++
	return m.nextID, nil
}
