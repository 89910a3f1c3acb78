// Package vm defines the bytevm opcodes and instruction encoding.
package vm

import (
	"fmt"
	"strings"
)

// Opcode identifies a single VM operation. The numbering is part of the
// bytecode wire format and must not change.
type Opcode byte

// Opcodes.
const (
	OpPush      Opcode = 1  // push immediate byte
	OpPop       Opcode = 2  // discard top
	OpDup       Opcode = 3  // duplicate top
	OpSwap      Opcode = 4  // exchange top two
	OpAdd       Opcode = 5  // b + a
	OpSub       Opcode = 6  // b - a
	OpMul       Opcode = 7  // b * a
	OpDiv       Opcode = 8  // b / a (truncating)
	OpMod       Opcode = 9  // b % a (sign of dividend)
	OpJmp       Opcode = 10 // ip = target
	OpJz        Opcode = 11 // ip = target if value == 0
	OpJnz       Opcode = 12 // ip = target if value != 0
	OpNop       Opcode = 13
	OpPrint     Opcode = 14 // emit decimal + newline
	OpPrintChar Opcode = 15 // emit low byte
	OpHalt      Opcode = 16
)

// opcodeInfo describes the static shape of an opcode.
type opcodeInfo struct {
	name     string
	operands int // immediate bytes following the opcode
	pops     int // values that must be on the stack before execution
}

var opcodeTable = [...]opcodeInfo{
	OpPush:      {"PUSH", 1, 0},
	OpPop:       {"POP", 0, 1},
	OpDup:       {"DUP", 0, 1},
	OpSwap:      {"SWAP", 0, 2},
	OpAdd:       {"ADD", 0, 2},
	OpSub:       {"SUB", 0, 2},
	OpMul:       {"MUL", 0, 2},
	OpDiv:       {"DIV", 0, 2},
	OpMod:       {"MOD", 0, 2},
	OpJmp:       {"JMP", 0, 1},
	OpJz:        {"JZ", 0, 2},
	OpJnz:       {"JNZ", 0, 2},
	OpNop:       {"NOP", 0, 0},
	OpPrint:     {"PRINT", 0, 1},
	OpPrintChar: {"PRINT_CHAR", 0, 1},
	OpHalt:      {"HALT", 0, 0},
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return int(op) < len(opcodeTable) && opcodeTable[op].name != ""
}

// String returns the mnemonic for op.
func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("Opcode(0x%02x)", byte(op))
	}
	return opcodeTable[op].name
}

// Operands returns the number of immediate operand bytes that follow op.
func (op Opcode) Operands() int {
	if !op.Valid() {
		return 0
	}
	return opcodeTable[op].operands
}

// Pops returns the minimum stack depth op requires.
func (op Opcode) Pops() int {
	if !op.Valid() {
		return 0
	}
	return opcodeTable[op].pops
}

// Width returns the encoded size of an instruction with this opcode.
func (op Opcode) Width() int {
	return 1 + op.Operands()
}

// IsJump reports whether op transfers control.
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJz || op == OpJnz
}

// Decode maps a raw byte to its opcode. It has no side effects and does not
// advance any stream position.
func Decode(b byte) (Opcode, error) {
	op := Opcode(b)
	if !op.Valid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, b)
	}
	return op, nil
}

// aliases are accepted by Lookup in addition to the canonical mnemonics.
var aliases = map[string]Opcode{
	"PRINTC":    OpPrintChar,
	"PRINTCHAR": OpPrintChar,
}

// Lookup finds an opcode by mnemonic, ignoring case.
func Lookup(name string) (Opcode, bool) {
	name = strings.ToUpper(name)
	for i, info := range opcodeTable {
		if info.name != "" && info.name == name {
			return Opcode(i), true
		}
	}
	op, ok := aliases[name]
	return op, ok
}

// Opcodes returns every defined opcode in numeric order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeTable))
	for i, info := range opcodeTable {
		if info.name != "" {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}
