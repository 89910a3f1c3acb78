package asm

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/fortiblox/bytevm/pkg/vm"
)

const countdownSource = `
; print 3, 2, 1
        PUSH 3
loop:   DUP
        PRINT
        PUSH 1
        SUB
        DUP
        PUSH @loop
        JNZ
        POP
        HALT
`

func TestAssemble(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected []byte
	}{
		{
			name:     "add",
			src:      "PUSH 10\nPUSH 20\nADD\nPRINT\nHALT",
			expected: []byte{1, 10, 1, 20, 5, 14, 16},
		},
		{
			name:     "countdown with label",
			src:      countdownSource,
			expected: []byte{1, 3, 3, 14, 1, 1, 6, 3, 1, 2, 12, 2, 16},
		},
		{
			name:     "lowercase and alias",
			src:      "push 'H'\nprintc\nhalt",
			expected: []byte{1, 72, 15, 16},
		},
		{
			name:     "hex and char with comment chars",
			src:      "PUSH 0xff\nPUSH ';' # trailing\nPUSH ' '",
			expected: []byte{1, 0xff, 1, ';', 1, ' '},
		},
		{
			name:     "leading zero is decimal",
			src:      "PUSH 010",
			expected: []byte{1, 10},
		},
		{
			name:     "raw bytes",
			src:      ".byte 0x00, 255,7\nNOP",
			expected: []byte{0, 255, 7, 13},
		},
		{
			name:     "forward label",
			src:      "PUSH @end\nJMP\nPUSH 1\nend: HALT",
			expected: []byte{1, 5, 10, 1, 1, 16},
		},
		{
			name:     "stacked labels",
			src:      "a: b:\nHALT\nPUSH @b",
			expected: []byte{16, 1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := AssembleCode(tt.src)
			if err != nil {
				t.Fatalf("Assemble() failed: %v", err)
			}
			if !bytes.Equal(code, tt.expected) {
				t.Errorf("Assemble() = %v, want %v", code, tt.expected)
			}
		})
	}
}

func TestAssembleLabels(t *testing.T) {
	res, err := Assemble(countdownSource)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	if res.Labels["loop"] != 2 {
		t.Errorf("Labels[loop] = %d, want 2", res.Labels["loop"])
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		err  error
		line int
	}{
		{"unknown mnemonic", "NOP\nFROB", ErrUnknownMnemonic, 2},
		{"missing operand", "PUSH", ErrMissingOperand, 1},
		{"unexpected operand", "ADD 1", ErrUnexpectedOperand, 1},
		{"negative", "PUSH -1", ErrOperandRange, 1},
		{"too big", "\n\nPUSH 256", ErrOperandRange, 3},
		{"garbage", "PUSH ten", ErrBadOperand, 1},
		{"undefined label", "PUSH @nowhere", ErrUndefinedLabel, 1},
		{"duplicate label", "x: NOP\nx: NOP", ErrDuplicateLabel, 2},
		{"bad label", "9lives: NOP", ErrBadLabel, 1},
		{"far label", ".byte " + strings.Repeat("0,", 299) + "0\nfar: PUSH @far", ErrOperandRange, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Assemble() = %v, want %v", err, tt.err)
			}
			var asmErr *Error
			if !errors.As(err, &asmErr) {
				t.Fatalf("Assemble() = %T, want *Error", err)
			}
			if asmErr.Line != tt.line {
				t.Errorf("Line = %d, want %d", asmErr.Line, tt.line)
			}
		})
	}
}

func TestAssembledProgramRuns(t *testing.T) {
	code, err := AssembleCode(countdownSource)
	if err != nil {
		t.Fatalf("Assemble() failed: %v", err)
	}
	rec := vm.NewRecorder()
	if err := vm.Run(code, rec, vm.Options{}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if rec.String() != "3\n2\n1\n" {
		t.Errorf("output = %q", rec.String())
	}
}

func TestDisassemble(t *testing.T) {
	lines := Disassemble([]byte{1, 7, 0xEE, 14, 1})

	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}

	want := []struct {
		addr int
		text string
	}{
		{0, "PUSH 7"},
		{2, ".byte 0xee"},
		{3, "PRINT"},
		{4, ".byte 0x01"},
	}
	for i, w := range want {
		if lines[i].Addr != w.addr || lines[i].Text() != w.text {
			t.Errorf("line %d = %d %q, want %d %q", i, lines[i].Addr, lines[i].Text(), w.addr, w.text)
		}
	}
	if lines[1].Valid {
		t.Error("invalid byte reported as valid")
	}
	if !lines[3].Truncated {
		t.Error("trailing PUSH not marked truncated")
	}
}

func TestSourceRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{1, 3, 3, 14, 1, 1, 6, 3, 1, 2, 12, 2, 16},
		{1, 5, 10, 1, 1, 16},
		{0, 0xff, 1, 200, 11, 1},
		{1, 1, 10}, // jump into an operand byte gets no label
		{},
	}

	for _, code := range inputs {
		src := Source(code)
		got, err := AssembleCode(src)
		if err != nil {
			t.Fatalf("Assemble(Source(%v)) failed: %v\n%s", code, err, src)
		}
		if !bytes.Equal(got, code) && !(len(got) == 0 && len(code) == 0) {
			t.Errorf("round trip of %v = %v\n%s", code, got, src)
		}
	}

	if !strings.Contains(Source([]byte{1, 3, 3, 14, 1, 1, 6, 3, 1, 2, 12, 2, 16}), "PUSH @L0002") {
		t.Error("Source() did not label the loop target")
	}
}

func TestFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Format(&buf, []byte{1, 72, 15, 1, 0, 10, 0x99}); err != nil {
		t.Fatalf("Format() failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"L0000:",
		"0000  PUSH 72",
		`; 'H'`,
		"0003  PUSH 0",
		"; -> L0000",
		"0005  JMP",
		"0006  .byte 0x99",
		"; invalid opcode",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() output missing %q:\n%s", want, out)
		}
	}
}
