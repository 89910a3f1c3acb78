// Package types defines identifiers shared across bytevm packages.
//
// Program identifiers are content hashes of the bytecode. They render as
// base58 text so they can be typed on a command line and passed in JSON.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// ProgramIDSize is the length of a program identifier in bytes.
const ProgramIDSize = 32

var (
	// ErrInvalidProgramID is returned when an identifier has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")
)

// ProgramID is the BLAKE3-256 digest of a program's bytecode.
type ProgramID [ProgramIDSize]byte

// ComputeProgramID hashes code into its identifier.
func ComputeProgramID(code []byte) ProgramID {
	return blake3.Sum256(code)
}

// ProgramIDFromBase58 parses a base58-encoded identifier.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromHex parses a hex-encoded identifier.
func ProgramIDFromHex(s string) (ProgramID, error) {
	var id ProgramID
	data, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("hex decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// Short returns a prefix of the base58 form for display.
func (id ProgramID) Short() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex returns the hex-encoded representation.
func (id ProgramID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero returns true if the identifier is all zeros.
func (id ProgramID) IsZero() bool {
	return id == ProgramID{}
}

// Bytes returns the identifier as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
