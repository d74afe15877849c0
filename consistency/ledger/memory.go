package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/crossflow/crossflow/model"
)

// MemoryLedger is an in-process ledger shared between nodes of a test
// topology. Tamper lets integrity tests overwrite an anchored hash.
type MemoryLedger struct {
	mu   sync.RWMutex
	logs map[string][]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{logs: make(map[string][]string)}
}

func (l *MemoryLedger) StoreHash(ctx context.Context, hash string) (*model.Commitment, error) {
	reference := "0x" + uuid.NewString()
	l.mu.Lock()
	l.logs[reference] = []string{hash}
	l.mu.Unlock()
	return newCommitment(reference), nil
}

func (l *MemoryLedger) TransactionLogs(ctx context.Context, reference string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hashes := l.logs[reference]
	out := make([]string, len(hashes))
	copy(out, hashes)
	return out, nil
}

// Tamper replaces every hash stored under the reference.
func (l *MemoryLedger) Tamper(reference string, hash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.logs[reference]; ok {
		l.logs[reference] = []string{hash}
	}
}

// Drop removes the reference entirely.
func (l *MemoryLedger) Drop(reference string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, reference)
}

func (l *MemoryLedger) Close() error {
	return nil
}
