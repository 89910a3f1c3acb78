// Package program holds bytevm bytecode together with its identity and
// on-disk forms.
//
// A program is identified by the BLAKE3-256 hash of its code. Programs are
// stored on disk either as raw bytes, as assembler source, or in the
// compressed .bvmz container (see container.go).
package program

import (
	"errors"
	"fmt"

	"github.com/fortiblox/bytevm/internal/types"
)

// MaxCodeSize is the largest program accepted anywhere in bytevm.
const MaxCodeSize = 64 * 1024

var (
	// ErrTooLarge is returned for code over MaxCodeSize.
	ErrTooLarge = errors.New("program too large")

	// ErrEmpty is returned where a non-empty program is required.
	ErrEmpty = errors.New("program is empty")
)

// Program is an immutable bytecode image.
type Program struct {
	Code []byte
	id   types.ProgramID
}

// New copies code into a Program.
func New(code []byte) (*Program, error) {
	if len(code) > MaxCodeSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(code), MaxCodeSize)
	}
	c := make([]byte, len(code))
	copy(c, code)
	return &Program{Code: c, id: types.ComputeProgramID(c)}, nil
}

// ID returns the content identifier of the program.
func (p *Program) ID() types.ProgramID {
	return p.id
}

// Size returns the code length in bytes.
func (p *Program) Size() int {
	return len(p.Code)
}

// RequireNonEmpty returns ErrEmpty for an empty program.
func (p *Program) RequireNonEmpty() error {
	if len(p.Code) == 0 {
		return ErrEmpty
	}
	return nil
}
