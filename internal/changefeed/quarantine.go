package changefeed

import (
	"context"
	"sync"
	"time"
)

// Quarantine holds document ids that are being processed or were processed
// moments ago. It only saves duplicate work; losing an entry early is safe.
type Quarantine interface {
	// Acquire reports whether id was free and is now held by the caller.
	Acquire(ctx context.Context, id string) (bool, error)
	// Release ends processing of id. The id stays held for the cooldown window.
	Release(ctx context.Context, id string)
}

const defaultMaxEntries = 10000

type heldEntry struct {
	acquiredAt time.Time
	released   bool
	timer      *time.Timer
}

// MemoryQuarantine is a process-local quarantine set. Released ids are
// evicted after the window; ids never released are reaped after maxHold.
type MemoryQuarantine struct {
	mu         sync.Mutex
	entries    map[string]*heldEntry
	window     time.Duration
	maxHold    time.Duration
	maxEntries int
	now        func() time.Time
}

var _ Quarantine = (*MemoryQuarantine)(nil)

// NewMemoryQuarantine creates a quarantine with the given cooldown window and
// maximum hold time.
func NewMemoryQuarantine(window, maxHold time.Duration) *MemoryQuarantine {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	if maxHold <= window {
		maxHold = 2 * time.Minute
	}
	return &MemoryQuarantine{
		entries:    make(map[string]*heldEntry),
		window:     window,
		maxHold:    maxHold,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

func (q *MemoryQuarantine) Acquire(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, held := q.entries[id]; held {
		return false, nil
	}
	if len(q.entries) >= q.maxEntries {
		q.shedLocked()
	}
	q.entries[id] = &heldEntry{acquiredAt: q.now()}
	return true, nil
}

func (q *MemoryQuarantine) Release(_ context.Context, id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[id]
	if !ok || entry.released {
		return
	}
	entry.released = true
	entry.timer = time.AfterFunc(q.window, func() {
		q.mu.Lock()
		if q.entries[id] == entry {
			delete(q.entries, id)
		}
		q.mu.Unlock()
	})
}

// Len returns the number of held ids.
func (q *MemoryQuarantine) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run reaps entries held longer than maxHold until ctx is done.
func (q *MemoryQuarantine) Run(ctx context.Context) {
	ticker := time.NewTicker(q.maxHold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Reap()
		}
	}
}

// Reap drops entries older than maxHold and returns how many were dropped.
func (q *MemoryQuarantine) Reap() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.maxHold)
	reaped := 0
	for id, entry := range q.entries {
		if entry.acquiredAt.Before(cutoff) {
			q.dropLocked(id, entry)
			reaped++
		}
	}
	return reaped
}

// shedLocked makes room by dropping ids that are only cooling down.
func (q *MemoryQuarantine) shedLocked() {
	for id, entry := range q.entries {
		if entry.released {
			q.dropLocked(id, entry)
		}
	}
}

func (q *MemoryQuarantine) dropLocked(id string, entry *heldEntry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(q.entries, id)
}
