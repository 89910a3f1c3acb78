// Package journal records the outcome of program runs.
//
// Every run executed through the executor with recording enabled becomes a
// Record with a monotonically increasing sequence number. Records are
// immutable once appended.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/fortiblox/bytevm/internal/types"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrRecordNotFound is returned when a sequence number is not stored.
	ErrRecordNotFound = errors.New("run record not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Status is the terminal state of a run.
type Status string

// Run statuses.
const (
	StatusHalted  Status = "halted"
	StatusFaulted Status = "faulted"
	StatusError   Status = "error"
)

// Record is one journaled run.
type Record struct {
	Seq       uint64
	ProgramID types.ProgramID
	Status    Status

	// Fault is the fault kind name for faulted runs.
	Fault   string
	FaultIP int

	// Message is the fault or error text.
	Message string

	Output     []byte
	Steps      uint64
	StackDepth int
	Started    time.Time
	Duration   time.Duration
}

// ListOptions filters and pages List results.
type ListOptions struct {
	// Limit caps the number of records returned. Zero selects DefaultListLimit.
	Limit int

	// Program restricts results to runs of one program.
	Program *types.ProgramID

	// Before returns only records with Seq < Before. Zero means newest.
	Before uint64
}

// List limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

func (o ListOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// Journal stores run records.
type Journal interface {
	// Append stores r, assigning and returning its sequence number.
	Append(r *Record) (uint64, error)

	// Get returns the record with sequence number seq.
	Get(seq uint64) (*Record, error)

	// List returns records newest first.
	List(opts ListOptions) ([]*Record, error)

	// Count returns the number of stored records.
	Count() (uint64, error)

	Close() error
}

// wireRecord is the CBOR form of a Record.
type wireRecord struct {
	Seq        uint64   `cbor:"1,keyasint"`
	ProgramID  [32]byte `cbor:"2,keyasint"`
	Status     string   `cbor:"3,keyasint"`
	Fault      string   `cbor:"4,keyasint,omitempty"`
	FaultIP    int      `cbor:"5,keyasint,omitempty"`
	Message    string   `cbor:"6,keyasint,omitempty"`
	Output     []byte   `cbor:"7,keyasint,omitempty"`
	Steps      uint64   `cbor:"8,keyasint"`
	StackDepth int      `cbor:"9,keyasint"`
	Started    int64    `cbor:"10,keyasint"`
	Duration   int64    `cbor:"11,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalRecord serializes a Record to canonical CBOR.
func MarshalRecord(r *Record) ([]byte, error) {
	return cborEncMode.Marshal(&wireRecord{
		Seq:        r.Seq,
		ProgramID:  r.ProgramID,
		Status:     string(r.Status),
		Fault:      r.Fault,
		FaultIP:    r.FaultIP,
		Message:    r.Message,
		Output:     r.Output,
		Steps:      r.Steps,
		StackDepth: r.StackDepth,
		Started:    r.Started.UnixNano(),
		Duration:   int64(r.Duration),
	})
}

// UnmarshalRecord deserializes a Record from CBOR.
func UnmarshalRecord(data []byte) (*Record, error) {
	var w wireRecord
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("journal: unmarshal record: %w", err)
	}
	return &Record{
		Seq:        w.Seq,
		ProgramID:  w.ProgramID,
		Status:     Status(w.Status),
		Fault:      w.Fault,
		FaultIP:    w.FaultIP,
		Message:    w.Message,
		Output:     w.Output,
		Steps:      w.Steps,
		StackDepth: w.StackDepth,
		Started:    time.Unix(0, w.Started).UTC(),
		Duration:   time.Duration(w.Duration),
	}, nil
}
