package ledger

import (
	"context"
	"sync"
)

// MemoryLedger is a single-partition in-process log.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append stores entry and returns its 1-based height.
func (l *MemoryLedger) Append(ctx context.Context, entry Entry) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return Receipt{BlockHeight: uint64(len(l.entries)), RecordedAt: entry.RecordedAt}, nil
}

// Entries returns a copy of the log in append order.
func (l *MemoryLedger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
