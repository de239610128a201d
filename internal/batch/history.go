// ABOUTME: TTL- and size-bounded history of batch reports keyed by batch name
// ABOUTME: Makes named batches idempotent and rejects concurrent runs of the same name

package batch

import (
	"container/list"
	"sync"
	"time"
)

// historyEntry tracks one named batch
type historyEntry struct {
	report   *Report // nil while running
	finished time.Time
	element  *list.Element
}

// History remembers finished batch reports for a TTL. Uses a doubly-linked
// list in insertion order so eviction of the oldest finished entry is O(1)
// in the common case.
type History struct {
	mu      sync.Mutex
	entries map[string]*historyEntry
	order   *list.List // names, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewHistory creates a history. A zero ttl disables replay; running batches
// are still tracked.
func NewHistory(ttl time.Duration, maxSize int) *History {
	return &History{
		entries: make(map[string]*historyEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Begin claims name for a new run. It returns the earlier report when one is
// still fresh, ErrBatchInProgress when a run holds the name, and (nil, nil)
// when the caller now owns the name.
func (h *History) Begin(name string) (*Report, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.entries[name]; ok {
		if entry.report == nil {
			return nil, ErrBatchInProgress
		}
		if h.now().Sub(entry.finished) < h.ttl {
			return entry.report, nil
		}
		h.removeLocked(name, entry)
	}

	h.expireLocked()
	if len(h.entries) >= h.maxSize {
		h.evictOldestFinishedLocked()
	}

	h.entries[name] = &historyEntry{element: h.order.PushBack(name)}
	return nil, nil
}

// Finish records the report for a name claimed with Begin
func (h *History) Finish(name string, report *Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.entries[name]
	if !ok {
		entry = &historyEntry{element: h.order.PushBack(name)}
		h.entries[name] = entry
	}
	entry.report = report
	entry.finished = h.now()
}

// Len returns the number of tracked names
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *History) removeLocked(name string, entry *historyEntry) {
	h.order.Remove(entry.element)
	delete(h.entries, name)
}

// expireLocked drops finished entries older than the TTL. Must be called with mu held.
func (h *History) expireLocked() {
	now := h.now()
	for name, entry := range h.entries {
		if entry.report != nil && now.Sub(entry.finished) >= h.ttl {
			h.removeLocked(name, entry)
		}
	}
}

// evictOldestFinishedLocked removes the oldest finished entry. Running
// entries are never evicted. Must be called with mu held.
func (h *History) evictOldestFinishedLocked() {
	for e := h.order.Front(); e != nil; e = e.Next() {
		name, _ := e.Value.(string)
		if entry := h.entries[name]; entry != nil && entry.report != nil {
			h.removeLocked(name, entry)
			return
		}
	}
}
