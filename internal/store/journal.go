package store

import (
	"context"
	"sync"
)

// txGate admits one transaction at a time across the whole store.
type txGate struct {
	ch chan struct{}
}

func newTxGate() *txGate {
	return &txGate{ch: make(chan struct{}, 1)}
}

// acquire blocks until no other transaction is active or ctx is done.
func (g *txGate) acquire(ctx context.Context) error {
	select {
	case g.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *txGate) release() {
	select {
	case <-g.ch:
	default:
	}
}

// undoEntry is the state of a record before one mutation.
type undoEntry struct {
	key     string
	value   []byte
	existed bool
}

// undoLog journals record images while a transaction is active. Entries are
// replayed newest first on abort, which restores the state at begin.
type undoLog struct {
	mu      sync.Mutex
	entries []undoEntry
}

// record journals the image of key before a mutation. value must not be
// modified by the caller afterwards.
func (l *undoLog) record(key string, value []byte, existed bool) {
	l.mu.Lock()
	l.entries = append(l.entries, undoEntry{key: key, value: value, existed: existed})
	l.mu.Unlock()
}

// rollback applies the journal in reverse order and clears it. It stops at
// the first error.
func (l *undoLog) rollback(apply func(undoEntry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if err := apply(l.entries[i]); err != nil {
			l.entries = l.entries[:i]
			return err
		}
	}
	l.entries = l.entries[:0]
	return nil
}

func (l *undoLog) reset() {
	l.mu.Lock()
	l.entries = l.entries[:0]
	l.mu.Unlock()
}

func (l *undoLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
