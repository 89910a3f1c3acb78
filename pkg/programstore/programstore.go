// Package programstore provides a named library of bytevm programs.
//
// Programs are stored once per content ID; any number of names may point
// at the same code. References accepted by Resolve are either a stored name
// or the base58 program ID.
package programstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fortiblox/bytevm/pkg/program"
)

var (
	// ErrProgramNotFound is returned when a name or ID is not stored.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")

	// ErrInvalidName is returned for names that cannot be stored.
	ErrInvalidName = errors.New("invalid program name")
)

// MaxNameLength bounds program names.
const MaxNameLength = 64

// Entry describes a named program.
type Entry struct {
	Name    string
	ID      types.ProgramID
	Size    int
	Created time.Time
	Updated time.Time
}

// Stats contains store statistics.
type Stats struct {
	// Names is the number of named entries.
	Names uint64

	// Programs is the number of distinct code blobs.
	Programs uint64

	// CodeBytes is the total size of distinct code blobs.
	CodeBytes uint64

	// Puts counts successful Put calls over the store's lifetime.
	Puts uint64

	// DatabaseSize is the size of the database file in bytes.
	DatabaseSize int64
}

// Store is the program library interface.
type Store interface {
	// Put stores p under name, replacing any previous binding.
	Put(name string, p *program.Program) (*Entry, error)

	// Get returns the program bound to name.
	Get(name string) (*program.Program, *Entry, error)

	// GetByID returns the program with the given content ID.
	GetByID(id types.ProgramID) (*program.Program, error)

	// Resolve looks up ref as a name, then as a base58 program ID.
	Resolve(ref string) (*program.Program, error)

	// List returns all entries sorted by name.
	List() ([]Entry, error)

	// Delete removes the binding for name. Code no longer referenced by
	// any name is removed too.
	Delete(name string) error

	Stats() (*Stats, error)
	Close() error
}

// ValidateName checks that name is usable as a program name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, c)
		}
	}
	return nil
}

// resolve implements Resolve on top of a store's Get and GetByID.
func resolve(s Store, ref string) (*program.Program, error) {
	p, _, err := s.Get(ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrProgramNotFound) && !errors.Is(err, ErrInvalidName) {
		return nil, err
	}
	id, idErr := types.ProgramIDFromBase58(ref)
	if idErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrProgramNotFound, ref)
	}
	return s.GetByID(id)
}
