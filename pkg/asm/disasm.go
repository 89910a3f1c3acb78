package asm

import (
	"fmt"
	"io"
	"strings"

	"github.com/fortiblox/bytevm/pkg/vm"
)

// Line is one decoded instruction, or one undecodable byte.
type Line struct {
	Addr    int
	Op      vm.Opcode
	Operand byte

	// Valid is false when the byte at Addr is not an opcode.
	Valid bool

	// Truncated is set for a PUSH at the end of the stream with no operand.
	Truncated bool

	Raw []byte
}

// Text renders the line in assembler syntax.
func (l Line) Text() string {
	switch {
	case !l.Valid || l.Truncated:
		return fmt.Sprintf(".byte 0x%02x", l.Raw[0])
	case l.Op.Operands() > 0:
		return fmt.Sprintf("%s %d", l.Op, l.Operand)
	default:
		return l.Op.String()
	}
}

// Disassemble decodes code linearly from address zero. It never fails:
// bytes that are not opcodes are reported as raw data.
func Disassemble(code []byte) []Line {
	var lines []Line
	for pc := 0; pc < len(code); {
		op, err := vm.Decode(code[pc])
		if err != nil {
			lines = append(lines, Line{Addr: pc, Raw: code[pc : pc+1]})
			pc++
			continue
		}
		l := Line{Addr: pc, Op: op, Valid: true}
		if op.Operands() > 0 {
			if pc+1 >= len(code) {
				l.Truncated = true
				l.Raw = code[pc : pc+1]
				lines = append(lines, l)
				break
			}
			l.Operand = code[pc+1]
		}
		l.Raw = code[pc : pc+op.Width()]
		lines = append(lines, l)
		pc += op.Width()
	}
	return lines
}

// jumpTargets finds PUSH operands that feed directly into a jump and land on
// an instruction boundary.
func jumpTargets(lines []Line) map[int]bool {
	starts := make(map[int]bool, len(lines))
	for _, l := range lines {
		starts[l.Addr] = true
	}
	targets := make(map[int]bool)
	for i := 0; i+1 < len(lines); i++ {
		l, next := lines[i], lines[i+1]
		if l.Valid && !l.Truncated && l.Op == vm.OpPush && next.Valid && next.Op.IsJump() {
			if starts[int(l.Operand)] {
				targets[int(l.Operand)] = true
			}
		}
	}
	return targets
}

func labelName(addr int) string {
	return fmt.Sprintf("L%04d", addr)
}

// Format writes an address-annotated listing of code.
func Format(w io.Writer, code []byte) error {
	lines := Disassemble(code)
	targets := jumpTargets(lines)

	for i, l := range lines {
		if targets[l.Addr] {
			if _, err := fmt.Fprintf(w, "%s:\n", labelName(l.Addr)); err != nil {
				return err
			}
		}

		var comment string
		switch {
		case !l.Valid:
			comment = "invalid opcode"
		case l.Truncated:
			comment = "truncated " + l.Op.String()
		case l.Op == vm.OpPush && i+1 < len(lines) && lines[i+1].Op.IsJump():
			if targets[int(l.Operand)] {
				comment = "-> " + labelName(int(l.Operand))
			} else {
				comment = "-> ?"
			}
		case l.Op == vm.OpPush && l.Operand >= 0x20 && l.Operand < 0x7f:
			comment = fmt.Sprintf("%q", rune(l.Operand))
		}

		text := fmt.Sprintf("%04d  %-18s", l.Addr, l.Text())
		if comment != "" {
			text += "; " + comment
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(text, " ")); err != nil {
			return err
		}
	}
	return nil
}

// Source renders code as assembler input. Assembling the result reproduces
// code byte for byte.
func Source(code []byte) string {
	lines := Disassemble(code)
	targets := jumpTargets(lines)

	var b strings.Builder
	for i, l := range lines {
		if targets[l.Addr] {
			fmt.Fprintf(&b, "%s:\n", labelName(l.Addr))
		}
		b.WriteString("    ")
		if l.Valid && !l.Truncated && l.Op == vm.OpPush && i+1 < len(lines) &&
			lines[i+1].Op.IsJump() && targets[int(l.Operand)] {
			fmt.Fprintf(&b, "PUSH @%s\n", labelName(int(l.Operand)))
			continue
		}
		b.WriteString(l.Text())
		b.WriteByte('\n')
	}
	return b.String()
}
