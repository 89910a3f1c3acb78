package programstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/program"
)

// MemoryStore is an in-memory Store for tests and ephemeral servers.
type MemoryStore struct {
	mu       sync.RWMutex
	programs map[types.ProgramID][]byte
	names    map[string]Entry
	puts     uint64
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		programs: make(map[types.ProgramID][]byte),
		names:    make(map[string]Entry),
	}
}

// Put stores p under name.
func (s *MemoryStore) Put(name string, p *program.Program) (*Entry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := p.RequireNonEmpty(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := time.Now().UTC()
	e := Entry{Name: name, ID: p.ID(), Size: p.Size(), Created: now, Updated: now}
	old, replaced := s.names[name]
	if replaced {
		e.Created = old.Created
	}

	if _, ok := s.programs[e.ID]; !ok {
		s.programs[e.ID] = append([]byte(nil), p.Code...)
	}
	s.names[name] = e
	if replaced && old.ID != e.ID {
		s.dropIfOrphaned(old.ID)
	}
	s.puts++
	return &e, nil
}

// Get returns the program bound to name.
func (s *MemoryStore) Get(name string) (*program.Program, *Entry, error) {
	if err := ValidateName(name); err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, nil, ErrClosed
	}

	e, ok := s.names[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	p, err := program.New(s.programs[e.ID])
	if err != nil {
		return nil, nil, err
	}
	return p, &e, nil
}

// GetByID returns the program with the given content ID.
func (s *MemoryStore) GetByID(id types.ProgramID) (*program.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	code, ok := s.programs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, id)
	}
	return program.New(code)
}

// Resolve looks up ref as a name, then as a program ID.
func (s *MemoryStore) Resolve(ref string) (*program.Program, error) {
	return resolve(s, ref)
}

// List returns all entries sorted by name.
func (s *MemoryStore) List() ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries := make([]Entry, 0, len(s.names))
	for _, e := range s.names {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the binding for name.
func (s *MemoryStore) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	e, ok := s.names[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	delete(s.names, name)
	s.dropIfOrphaned(e.ID)
	return nil
}

func (s *MemoryStore) dropIfOrphaned(id types.ProgramID) {
	for _, e := range s.names {
		if e.ID == id {
			return
		}
	}
	delete(s.programs, id)
}

// Stats returns store statistics.
func (s *MemoryStore) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		Names:    uint64(len(s.names)),
		Programs: uint64(len(s.programs)),
		Puts:     s.puts,
	}
	for _, code := range s.programs {
		stats.CodeBytes += uint64(len(code))
	}
	return stats, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
