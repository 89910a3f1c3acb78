package journal

import (
	"fmt"
	"sync"
)

// MemoryJournal is an in-memory Journal for testing.
type MemoryJournal struct {
	mu      sync.RWMutex
	records []*Record
	closed  bool
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append stores r and assigns its sequence number.
func (m *MemoryJournal) Append(r *Record) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	rec := *r
	rec.Seq = uint64(len(m.records)) + 1
	rec.Output = append([]byte(nil), r.Output...)
	m.records = append(m.records, &rec)
	r.Seq = rec.Seq
	return rec.Seq, nil
}

// Get returns the record with sequence number seq.
func (m *MemoryJournal) Get(seq uint64) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if seq == 0 || seq > uint64(len(m.records)) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, seq)
	}
	rec := *m.records[seq-1]
	return &rec, nil
}

// List returns records newest first.
func (m *MemoryJournal) List(opts ListOptions) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	limit := opts.limit()
	var out []*Record
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.records[i]
		if opts.Before > 0 && r.Seq >= opts.Before {
			continue
		}
		if opts.Program != nil && r.ProgramID != *opts.Program {
			continue
		}
		rec := *r
		out = append(out, &rec)
	}
	return out, nil
}

// Count returns the number of stored records.
func (m *MemoryJournal) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.records)), nil
}

// Close closes the journal.
func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

var _ Journal = (*MemoryJournal)(nil)
