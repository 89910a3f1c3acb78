package vm

import (
	"errors"
	"fmt"
)

// Errors.
var (
	ErrStackUnderflow        = errors.New("stack underflow")
	ErrStackOverflow         = errors.New("stack overflow")
	ErrInvalidOpcode         = errors.New("invalid opcode")
	ErrDivisionByZero        = errors.New("division by zero")
	ErrInvalidJumpTarget     = errors.New("invalid jump target")
	ErrProgramBoundsExceeded = errors.New("program bounds exceeded")
	ErrStepLimitExceeded     = errors.New("step limit exceeded")
	ErrOutputFailed          = errors.New("output failed")

	// ErrHalted is returned when stepping a machine that already halted.
	ErrHalted = errors.New("machine halted")
)

// FaultKind classifies a fault.
type FaultKind uint8

// Fault kinds.
const (
	StackUnderflow FaultKind = iota + 1
	StackOverflow
	InvalidOpcode
	DivisionByZero
	InvalidJumpTarget
	ProgramBoundsExceeded
	StepLimitExceeded
	OutputFailed
)

var faultSentinels = map[FaultKind]error{
	StackUnderflow:        ErrStackUnderflow,
	StackOverflow:         ErrStackOverflow,
	InvalidOpcode:         ErrInvalidOpcode,
	DivisionByZero:        ErrDivisionByZero,
	InvalidJumpTarget:     ErrInvalidJumpTarget,
	ProgramBoundsExceeded: ErrProgramBoundsExceeded,
	StepLimitExceeded:     ErrStepLimitExceeded,
	OutputFailed:          ErrOutputFailed,
}

var faultNames = map[FaultKind]string{
	StackUnderflow:        "StackUnderflow",
	StackOverflow:         "StackOverflow",
	InvalidOpcode:         "InvalidOpcode",
	DivisionByZero:        "DivisionByZero",
	InvalidJumpTarget:     "InvalidJumpTarget",
	ProgramBoundsExceeded: "ProgramBoundsExceeded",
	StepLimitExceeded:     "StepLimitExceeded",
	OutputFailed:          "OutputFailed",
}

// String returns the name of the fault kind.
func (k FaultKind) String() string {
	if name, ok := faultNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FaultKind(%d)", uint8(k))
}

// Sentinel returns the package error matching k.
func (k FaultKind) Sentinel() error {
	return faultSentinels[k]
}

// ParseFaultKind is the inverse of FaultKind.String.
func ParseFaultKind(s string) (FaultKind, bool) {
	for k, name := range faultNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Fault is a terminal execution error. It records where the machine was and
// what it was looking at when it stopped.
type Fault struct {
	Kind FaultKind

	// IP is the address of the instruction that faulted.
	IP int

	// Op is the decoded opcode, zero if decoding itself failed.
	Op Opcode

	// Byte is the offending byte for InvalidOpcode.
	Byte byte

	// Target is the rejected address for InvalidJumpTarget.
	Target int32

	// Err is the underlying cause for OutputFailed.
	Err error
}

// Error implements error.
func (f *Fault) Error() string {
	switch f.Kind {
	case InvalidOpcode:
		return fmt.Sprintf("%v: 0x%02x at ip %d", f.Kind.Sentinel(), f.Byte, f.IP)
	case InvalidJumpTarget:
		return fmt.Sprintf("%v: %d at ip %d (%s)", f.Kind.Sentinel(), f.Target, f.IP, f.Op)
	case OutputFailed:
		return fmt.Sprintf("%v at ip %d: %v", f.Kind.Sentinel(), f.IP, f.Err)
	case ProgramBoundsExceeded:
		if f.Op.Valid() {
			return fmt.Sprintf("%v: missing operand for %s at ip %d", f.Kind.Sentinel(), f.Op, f.IP)
		}
		return fmt.Sprintf("%v: fetch at ip %d", f.Kind.Sentinel(), f.IP)
	}
	if f.Op.Valid() {
		return fmt.Sprintf("%v at ip %d (%s)", f.Kind.Sentinel(), f.IP, f.Op)
	}
	return fmt.Sprintf("%v at ip %d", f.Kind.Sentinel(), f.IP)
}

// Unwrap exposes the kind sentinel and, when set, the underlying cause.
func (f *Fault) Unwrap() []error {
	errs := []error{f.Kind.Sentinel()}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// AsFault extracts a *Fault from err.
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
