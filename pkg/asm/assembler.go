// Package asm converts between bytevm bytecode and its text form.
//
// Source format, one statement per line:
//
//	loop:            ; a label names the address of the next instruction
//	    PUSH 10      ; decimal, 0x hex or 'c' character operand
//	    PUSH @loop   ; address of a label
//	    JNZ
//	    .byte 0xff   ; raw bytes
//
// Mnemonics are case-insensitive. Comments start with ';' or '#'.
package asm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fortiblox/bytevm/pkg/vm"
)

// Assembler errors.
var (
	ErrUnknownMnemonic   = errors.New("unknown mnemonic")
	ErrMissingOperand    = errors.New("missing operand")
	ErrUnexpectedOperand = errors.New("unexpected operand")
	ErrBadOperand        = errors.New("bad operand")
	ErrOperandRange      = errors.New("operand out of range")
	ErrUndefinedLabel    = errors.New("undefined label")
	ErrDuplicateLabel    = errors.New("duplicate label")
	ErrBadLabel          = errors.New("bad label name")
)

// Error is an assembly error tied to a source line.
type Error struct {
	Line int
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Result is assembled bytecode plus its symbol table.
type Result struct {
	Code   []byte
	Labels map[string]int
}

// statement is one parsed source line.
type statement struct {
	line    int
	op      vm.Opcode
	raw     []byte // .byte directive payload
	operand string
	size    int
}

// Assemble translates source text into bytecode.
func Assemble(src string) (*Result, error) {
	labels := make(map[string]int)
	var stmts []statement

	// Pass 1: parse and lay out addresses
	addr := 0
	for i, text := range strings.Split(src, "\n") {
		lineNo := i + 1
		text = strings.TrimSpace(stripComment(text))

		for {
			name, rest, ok := splitLabel(text)
			if !ok {
				break
			}
			if !validLabel(name) {
				return nil, &Error{lineNo, fmt.Errorf("%w: %q", ErrBadLabel, name)}
			}
			if _, dup := labels[name]; dup {
				return nil, &Error{lineNo, fmt.Errorf("%w: %s", ErrDuplicateLabel, name)}
			}
			labels[name] = addr
			text = rest
		}
		if text == "" {
			continue
		}

		st, err := parseStatement(text)
		if err != nil {
			return nil, &Error{lineNo, err}
		}
		st.line = lineNo
		addr += st.size
		stmts = append(stmts, st)
	}

	// Pass 2: resolve operands and emit
	code := make([]byte, 0, addr)
	for _, st := range stmts {
		if st.raw != nil {
			code = append(code, st.raw...)
			continue
		}
		code = append(code, byte(st.op))
		if st.op.Operands() == 0 {
			continue
		}
		v, err := resolveOperand(st.operand, labels)
		if err != nil {
			return nil, &Error{st.line, err}
		}
		code = append(code, v)
	}

	return &Result{Code: code, Labels: labels}, nil
}

// AssembleCode is Assemble without the symbol table.
func AssembleCode(src string) ([]byte, error) {
	res, err := Assemble(src)
	if err != nil {
		return nil, err
	}
	return res.Code, nil
}

func parseStatement(text string) (statement, error) {
	fields := strings.Fields(text)
	mnemonic := fields[0]
	operands := fields[1:]

	if strings.EqualFold(mnemonic, ".byte") {
		args := strings.Split(strings.Join(operands, ""), ",")
		if len(operands) == 0 {
			return statement{}, fmt.Errorf("%w: .byte", ErrMissingOperand)
		}
		raw := make([]byte, 0, len(args))
		for _, a := range args {
			v, err := parseByte(a)
			if err != nil {
				return statement{}, err
			}
			raw = append(raw, v)
		}
		return statement{raw: raw, size: len(raw)}, nil
	}

	op, ok := vm.Lookup(mnemonic)
	if !ok {
		return statement{}, fmt.Errorf("%w: %s", ErrUnknownMnemonic, mnemonic)
	}

	st := statement{op: op, size: op.Width()}
	switch {
	case op.Operands() == 0 && len(operands) > 0:
		return statement{}, fmt.Errorf("%w: %s takes no operand", ErrUnexpectedOperand, op)
	case op.Operands() > 0 && len(operands) == 0:
		return statement{}, fmt.Errorf("%w: %s", ErrMissingOperand, op)
	case op.Operands() > 0:
		// Character operands may contain spaces, e.g. ' '.
		st.operand = strings.TrimSpace(text[len(mnemonic):])
	}
	return st, nil
}

func resolveOperand(s string, labels map[string]int) (byte, error) {
	if strings.HasPrefix(s, "@") {
		name := s[1:]
		addr, ok := labels[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUndefinedLabel, name)
		}
		if addr > 0xFF {
			return 0, fmt.Errorf("%w: label %s at %d does not fit in a byte", ErrOperandRange, name, addr)
		}
		return byte(addr), nil
	}
	return parseByte(s)
}

// parseByte parses a numeric or character literal into an unsigned byte.
func parseByte(s string) (byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrBadOperand)
	}

	if strings.HasPrefix(s, "'") {
		r, err := strconv.Unquote(s)
		if err != nil || len(r) != 1 {
			return 0, fmt.Errorf("%w: %s", ErrBadOperand, s)
		}
		return r[0], nil
	}

	digits, base := s, 10
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		digits, base = s[2:], 16
	}
	v, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrBadOperand, s)
	}
	if v < 0 || v > 0xFF {
		return 0, fmt.Errorf("%w: %d (want 0..255)", ErrOperandRange, v)
	}
	return byte(v), nil
}

// stripComment removes a trailing comment, ignoring comment characters inside
// a character literal.
func stripComment(s string) string {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && inQuote:
			i++
		case c == '\'':
			inQuote = !inQuote
		case (c == ';' || c == '#') && !inQuote:
			return s[:i]
		}
	}
	return s
}

// splitLabel splits "name: rest" into its parts.
func splitLabel(s string) (name, rest string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || strings.ContainsAny(s[:i], " \t'") {
		return "", s, false
	}
	return s[:i], strings.TrimSpace(s[i+1:]), true
}

func validLabel(name string) bool {
	for i, c := range name {
		switch {
		case c == '_' || c == '.':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return name != ""
}
