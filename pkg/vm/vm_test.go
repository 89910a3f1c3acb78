package vm

import (
	"errors"
	"math"
	"testing"
)

// program assembles a byte stream from opcodes and raw operand bytes.
func program(parts ...interface{}) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case Opcode:
			out = append(out, byte(v))
		case int:
			out = append(out, byte(v))
		case byte:
			out = append(out, v)
		}
	}
	return out
}

// run executes code and returns the recorder and the run error.
func run(t *testing.T, code []byte, opts Options) (*Recorder, *Machine, error) {
	t.Helper()
	rec := NewRecorder()
	m := New(code, rec, opts)
	err := m.Run()
	return rec, m, err
}

// TestStackPushPop tests the bounded operand stack.
func TestStackPushPop(t *testing.T) {
	s := NewStack(4)

	if s.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", s.Cap())
	}

	values := []int32{0, -1, math.MaxInt32, math.MinInt32}
	for _, v := range values {
		if err := s.Push(v); err != nil {
			t.Fatalf("Push(%d) failed: %v", v, err)
		}
		got, err := s.Pop()
		if err != nil {
			t.Fatalf("Pop() failed: %v", err)
		}
		if got != v {
			t.Errorf("Pop() = %d, want %d", got, v)
		}
	}

	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

// TestStackLimits tests overflow and underflow.
func TestStackLimits(t *testing.T) {
	s := NewStack(2)

	if _, err := s.Pop(); err != ErrStackUnderflow {
		t.Errorf("Pop() on empty = %v, want ErrStackUnderflow", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.Push(int32(i)); err != nil {
			t.Fatalf("Push() failed at %d: %v", i, err)
		}
	}

	if err := s.Push(99); err != ErrStackOverflow {
		t.Errorf("Push() on full = %v, want ErrStackOverflow", err)
	}

	// A failed push leaves the stack untouched
	if got := s.Values(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Values() = %v, want [0 1]", got)
	}
}

// TestNewStackDefaultCapacity tests the fallback capacity.
func TestNewStackDefaultCapacity(t *testing.T) {
	if got := NewStack(0).Cap(); got != DefaultStackCapacity {
		t.Errorf("Cap() = %d, want %d", got, DefaultStackCapacity)
	}
}

// TestDecode tests the opcode decoder.
func TestDecode(t *testing.T) {
	for b := 0; b < 256; b++ {
		op, err := Decode(byte(b))
		if b >= 1 && b <= 16 {
			if err != nil {
				t.Errorf("Decode(%d) failed: %v", b, err)
			}
			if byte(op) != byte(b) {
				t.Errorf("Decode(%d) = %d", b, op)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidOpcode) {
			t.Errorf("Decode(%d) = %v, want ErrInvalidOpcode", b, err)
		}
	}
}

// TestOpcodeNumbering pins the wire encoding.
func TestOpcodeNumbering(t *testing.T) {
	want := map[string]byte{
		"PUSH": 1, "POP": 2, "DUP": 3, "SWAP": 4,
		"ADD": 5, "SUB": 6, "MUL": 7, "DIV": 8, "MOD": 9,
		"JMP": 10, "JZ": 11, "JNZ": 12, "NOP": 13,
		"PRINT": 14, "PRINT_CHAR": 15, "HALT": 16,
	}
	for name, b := range want {
		op, ok := Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) not found", name)
			continue
		}
		if byte(op) != b {
			t.Errorf("Lookup(%q) = %d, want %d", name, op, b)
		}
		if op.String() != name {
			t.Errorf("String() = %q, want %q", op.String(), name)
		}
	}

	if len(Opcodes()) != len(want) {
		t.Errorf("Opcodes() has %d entries, want %d", len(Opcodes()), len(want))
	}
	if OpPush.Operands() != 1 || OpAdd.Operands() != 0 {
		t.Error("unexpected operand counts")
	}
	if op, ok := Lookup("printc"); !ok || op != OpPrintChar {
		t.Errorf("Lookup(printc) = %v, %v", op, ok)
	}
}

// TestInterpreterOutput tests programs by what they print.
func TestInterpreterOutput(t *testing.T) {
	tests := []struct {
		name     string
		program  []byte
		expected string
	}{
		{
			name:     "add",
			program:  program(OpPush, 10, OpPush, 20, OpAdd, OpPrint, OpHalt),
			expected: "30\n",
		},
		{
			name:     "sub respects push order",
			program:  program(OpPush, 10, OpPush, 3, OpSub, OpPrint, OpHalt),
			expected: "7\n",
		},
		{
			name:     "sub negative",
			program:  program(OpPush, 3, OpPush, 10, OpSub, OpPrint, OpHalt),
			expected: "-7\n",
		},
		{
			name:     "mul",
			program:  program(OpPush, 6, OpPush, 7, OpMul, OpPrint, OpHalt),
			expected: "42\n",
		},
		{
			name:     "div",
			program:  program(OpPush, 100, OpPush, 7, OpDiv, OpPrint, OpHalt),
			expected: "14\n",
		},
		{
			name:     "div truncates toward zero",
			program:  program(OpPush, 0, OpPush, 7, OpSub, OpPush, 2, OpDiv, OpPrint, OpHalt),
			expected: "-3\n",
		},
		{
			name:     "mod",
			program:  program(OpPush, 100, OpPush, 7, OpMod, OpPrint, OpHalt),
			expected: "2\n",
		},
		{
			name:     "mod sign follows dividend",
			program:  program(OpPush, 0, OpPush, 7, OpSub, OpPush, 3, OpMod, OpPrint, OpHalt),
			expected: "-1\n",
		},
		{
			name:     "dup print print",
			program:  program(OpPush, 42, OpDup, OpPrint, OpPrint, OpHalt),
			expected: "42\n42\n",
		},
		{
			name:     "swap",
			program:  program(OpPush, 1, OpPush, 2, OpSwap, OpPrint, OpPrint, OpHalt),
			expected: "1\n2\n",
		},
		{
			name:     "print char",
			program:  program(OpPush, 72, OpPrintChar, OpHalt),
			expected: "H",
		},
		{
			name:     "print char low byte",
			program:  program(OpPush, 255, OpPush, 2, OpMul, OpPrintChar, OpHalt),
			expected: "\xfe",
		},
		{
			name:     "push is unsigned",
			program:  program(OpPush, 200, OpPrint, OpHalt),
			expected: "200\n",
		},
		{
			name:     "nop",
			program:  program(OpNop, OpPush, 1, OpNop, OpPrint, OpHalt),
			expected: "1\n",
		},
		{
			name: "countdown loop",
			program: program(
				OpPush, 3, // 0
				OpDup,     // 2: loop
				OpPrint,   // 3
				OpPush, 1, // 4
				OpSub,     // 6
				OpDup,     // 7
				OpPush, 2, // 8
				OpJnz,     // 10
				OpPop,     // 11
				OpHalt,    // 12
			),
			expected: "3\n2\n1\n",
		},
		{
			name: "jmp skips",
			program: program(
				OpPush, 6, // 0
				OpJmp,     // 2
				OpPush, 1, // 3
				OpPrint,   // 5
				OpPush, 9, // 6
				OpPrint,   // 8
				OpHalt,    // 9
			),
			expected: "9\n",
		},
		{
			name: "jz taken",
			program: program(
				OpPush, 0, // 0
				OpPush, 8, // 2
				OpJz,      // 4
				OpPush, 1, // 5
				OpHalt,    // 7
				OpPush, 5, // 8
				OpPrint,   // 10
				OpHalt,    // 11
			),
			expected: "5\n",
		},
		{
			name: "jz not taken",
			program: program(
				OpPush, 1, // 0
				OpPush, 9, // 2
				OpJz,      // 4
				OpPush, 4, // 5
				OpPrint,   // 7
				OpHalt,    // 8
				OpHalt,    // 9
			),
			expected: "4\n",
		},
		{
			name: "jnz not taken ignores target",
			program: program(
				OpPush, 0,
				OpPush, 200, // out of range, never validated
				OpJnz,
				OpPush, 8,
				OpPrint,
				OpHalt,
			),
			expected: "8\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, m, err := run(t, tt.program, Options{})
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if m.State() != Halted {
				t.Errorf("State() = %v, want halted", m.State())
			}
			if got := rec.String(); got != tt.expected {
				t.Errorf("output = %q, want %q", got, tt.expected)
			}
		})
	}
}

// TestCountdownLeavesEmptyStack tests the loop halts cleanly.
func TestCountdownLeavesEmptyStack(t *testing.T) {
	code := program(OpPush, 3, OpDup, OpPrint, OpPush, 1, OpSub, OpDup, OpPush, 2, OpJnz, OpPop, OpHalt)
	rec, m, err := run(t, code, Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if len(m.Stack()) != 0 {
		t.Errorf("Stack() = %v, want empty", m.Stack())
	}
	if len(rec.Emissions) != 3 {
		t.Fatalf("got %d emissions, want 3", len(rec.Emissions))
	}
	for i, want := range []int32{3, 2, 1} {
		e := rec.Emissions[i]
		if e.Kind != NumberEmission || e.Value != want {
			t.Errorf("emission %d = %+v, want number %d", i, e, want)
		}
	}
}

// TestStackEffects tests DUP and SWAP on the raw stack.
func TestStackEffects(t *testing.T) {
	tests := []struct {
		name     string
		program  []byte
		expected []int32
	}{
		{"dup", program(OpPush, 1, OpPush, 5, OpDup, OpHalt), []int32{1, 5, 5}},
		{"swap", program(OpPush, 1, OpPush, 2, OpPush, 3, OpSwap, OpHalt), []int32{1, 3, 2}},
		{"pop", program(OpPush, 1, OpPush, 2, OpPop, OpHalt), []int32{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m, err := run(t, tt.program, Options{})
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			got := m.Stack()
			if len(got) != len(tt.expected) {
				t.Fatalf("Stack() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Stack() = %v, want %v", got, tt.expected)
					break
				}
			}
		})
	}
}

// TestInterpreterFaults tests every fault kind.
func TestInterpreterFaults(t *testing.T) {
	tests := []struct {
		name   string
		code   []byte
		opts   Options
		kind   FaultKind
		ip     int
		output string
	}{
		{
			name: "pop empty",
			code: program(OpPop, OpHalt),
			kind: StackUnderflow,
			ip:   0,
		},
		{
			name: "add with one value",
			code: program(OpPush, 1, OpAdd, OpHalt),
			kind: StackUnderflow,
			ip:   2,
		},
		{
			name:   "print empty after output",
			code:   program(OpPush, 1, OpPrint, OpPrint, OpPush, 2, OpPrint, OpHalt),
			kind:   StackUnderflow,
			ip:     3,
			output: "1\n",
		},
		{
			name: "overflow",
			code: program(OpPush, 1, OpPush, 2, OpPush, 3, OpHalt),
			opts: Options{StackCapacity: 2},
			kind: StackOverflow,
			ip:   4,
		},
		{
			name: "dup overflow",
			code: program(OpPush, 1, OpDup, OpHalt),
			opts: Options{StackCapacity: 1},
			kind: StackOverflow,
			ip:   2,
		},
		{
			name: "div by zero",
			code: program(OpPush, 1, OpPush, 0, OpDiv, OpPrint, OpHalt),
			kind: DivisionByZero,
			ip:   4,
		},
		{
			name: "mod by zero",
			code: program(OpPush, 1, OpPush, 0, OpMod, OpPrint, OpHalt),
			kind: DivisionByZero,
			ip:   4,
		},
		{
			name: "invalid opcode",
			code: program(OpPush, 1, 0xFF, OpPrint, OpHalt),
			kind: InvalidOpcode,
			ip:   2,
		},
		{
			name: "zero byte",
			code: program(0x00),
			kind: InvalidOpcode,
			ip:   0,
		},
		{
			name: "jmp out of range",
			code: program(OpPush, 50, OpJmp, OpHalt),
			kind: InvalidJumpTarget,
			ip:   2,
		},
		{
			name: "jmp negative",
			code: program(OpPush, 0, OpPush, 1, OpSub, OpJmp, OpHalt),
			kind: InvalidJumpTarget,
			ip:   5,
		},
		{
			name: "jz taken out of range",
			code: program(OpPush, 0, OpPush, 99, OpJz, OpHalt),
			kind: InvalidJumpTarget,
			ip:   4,
		},
		{
			name: "jmp to program length",
			code: program(OpPush, 3, OpJmp),
			kind: InvalidJumpTarget,
			ip:   2,
		},
		{
			name: "run off end",
			code: program(OpPush, 1, OpPop),
			kind: ProgramBoundsExceeded,
			ip:   3,
		},
		{
			name: "empty program",
			code: nil,
			kind: ProgramBoundsExceeded,
			ip:   0,
		},
		{
			name: "push missing operand",
			code: program(OpNop, OpPush),
			kind: ProgramBoundsExceeded,
			ip:   1,
		},
		{
			name: "step limit",
			code: program(OpPush, 0, OpJmp),
			opts: Options{MaxSteps: 10},
			kind: StepLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, m, err := run(t, tt.code, tt.opts)
			if err == nil {
				t.Fatal("Run() succeeded, want fault")
			}
			f, ok := AsFault(err)
			if !ok {
				t.Fatalf("Run() = %T %v, want *Fault", err, err)
			}
			if f.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.kind)
			}
			if !errors.Is(err, tt.kind.Sentinel()) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.kind.Sentinel())
			}
			if tt.kind != StepLimitExceeded && f.IP != tt.ip {
				t.Errorf("IP = %d, want %d", f.IP, tt.ip)
			}
			if m.State() != Faulted {
				t.Errorf("State() = %v, want faulted", m.State())
			}
			if got := rec.String(); got != tt.output {
				t.Errorf("output = %q, want %q", got, tt.output)
			}
		})
	}
}

// TestFaultDetails tests the diagnostic context on faults.
func TestFaultDetails(t *testing.T) {
	_, _, err := run(t, program(OpNop, 0xAB), Options{})
	f, ok := AsFault(err)
	if !ok || f.Byte != 0xAB {
		t.Errorf("fault = %+v, want Byte 0xab", f)
	}

	_, _, err = run(t, program(OpPush, 77, OpJmp), Options{})
	f, ok = AsFault(err)
	if !ok || f.Target != 77 || f.Op != OpJmp {
		t.Errorf("fault = %+v, want Target 77 Op JMP", f)
	}
}

// TestUnderflowPreservesStack tests a failed instruction leaves the stack alone.
// TestFullStackReuse runs stack-neutral instructions with the stack at
// capacity. Each refills the slots its pops freed.
func TestFullStackReuse(t *testing.T) {
	tests := []struct {
		name     string
		code     []byte
		expected string
	}{
		{"swap", program(OpPush, 1, OpPush, 2, OpSwap, OpPrint, OpPrint, OpHalt), "1\n2\n"},
		{"add", program(OpPush, 1, OpPush, 2, OpAdd, OpPush, 4, OpMul, OpPrint, OpHalt), "12\n"},
		{"sub", program(OpPush, 9, OpPush, 2, OpSub, OpPush, 3, OpMod, OpPrint, OpHalt), "1\n"},
		{"div", program(OpPush, 9, OpPush, 2, OpDiv, OpPrint, OpHalt), "4\n"},
		{"dup after pop", program(OpPush, 7, OpPush, 1, OpPop, OpDup, OpPrint, OpPrint, OpHalt), "7\n7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, m, err := run(t, tt.code, Options{StackCapacity: 2})
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if m.State() != Halted {
				t.Errorf("State() = %v, want halted", m.State())
			}
			if got := rec.String(); got != tt.expected {
				t.Errorf("output = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUnderflowPreservesStack(t *testing.T) {
	_, m, err := run(t, program(OpPush, 9, OpSwap), Options{})
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("Run() = %v, want ErrStackUnderflow", err)
	}
	if got := m.Stack(); len(got) != 1 || got[0] != 9 {
		t.Errorf("Stack() = %v, want [9]", got)
	}
}

// TestFaultIsTerminal tests that a faulted machine does not resume.
func TestFaultIsTerminal(t *testing.T) {
	rec := NewRecorder()
	m := New(program(OpPop, OpPush, 1, OpPrint, OpHalt), rec, Options{})

	first := m.Step()
	if !errors.Is(first, ErrStackUnderflow) {
		t.Fatalf("Step() = %v, want ErrStackUnderflow", first)
	}
	if err := m.Step(); err != first {
		t.Errorf("Step() after fault = %v, want same fault", err)
	}
	if err := m.Run(); err != first {
		t.Errorf("Run() after fault = %v, want same fault", err)
	}
	if rec.String() != "" {
		t.Errorf("output after fault = %q", rec.String())
	}
	if m.IP() != 0 {
		t.Errorf("IP() = %d, want 0", m.IP())
	}
}

// TestHaltIsTerminal tests stepping after HALT.
func TestHaltIsTerminal(t *testing.T) {
	m := New(program(OpHalt, OpPush, 1), nil, Options{})
	if err := m.Run(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if err := m.Step(); err != ErrHalted {
		t.Errorf("Step() = %v, want ErrHalted", err)
	}
	if m.Steps() != 1 {
		t.Errorf("Steps() = %d, want 1", m.Steps())
	}
	if m.IP() != 0 {
		t.Errorf("IP() = %d, want 0", m.IP())
	}
}

// TestStepAdvance tests ip arithmetic one instruction at a time.
func TestStepAdvance(t *testing.T) {
	m := New(program(OpPush, 4, OpNop, OpPush, 6, OpJmp, OpHalt), nil, Options{})

	// The jump lands exactly on its target with no extra increment.
	want := []int{2, 3, 5, 6}
	for i, ip := range want {
		if err := m.Step(); err != nil {
			t.Fatalf("Step() %d failed: %v", i, err)
		}
		if m.IP() != ip {
			t.Errorf("after step %d IP() = %d, want %d", i, m.IP(), ip)
		}
	}
}

// TestArithmeticWraps tests int32 overflow behavior.
func TestArithmeticWraps(t *testing.T) {
	// Build MinInt32 as 0 - 128^4/2 using byte-sized pushes.
	minInt := program(
		OpPush, 128, OpPush, 128, OpMul, // 2^14
		OpPush, 128, OpMul, // 2^21
		OpPush, 128, OpMul, // 2^28
		OpPush, 8, OpMul, // 2^31 wraps to MinInt32
	)

	code := append(append([]byte{}, minInt...), program(OpDup, OpPrint, OpPush, 0, OpPush, 1, OpSub, OpDiv, OpPrint, OpHalt)...)
	rec, _, err := run(t, code, Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	want := "-2147483648\n-2147483648\n"
	if got := rec.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	code = append(append([]byte{}, minInt...), program(OpPush, 0, OpPush, 1, OpSub, OpMod, OpPrint, OpHalt)...)
	rec, _, err = run(t, code, Options{})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if got := rec.String(); got != "0\n" {
		t.Errorf("output = %q, want %q", got, "0\n")
	}
}

// TestStepMeter tests the step budget.
func TestStepMeter(t *testing.T) {
	sm := NewStepMeter(3)

	if err := sm.Consume(2); err != nil {
		t.Errorf("Consume(2) failed: %v", err)
	}
	if sm.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", sm.Remaining())
	}
	if err := sm.Consume(2); err != ErrStepLimitExceeded {
		t.Errorf("Consume(2) = %v, want ErrStepLimitExceeded", err)
	}
	if sm.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", sm.Remaining())
	}

	// Exactly enough steps succeeds
	_, m, err := run(t, program(OpPush, 1, OpPop, OpHalt), Options{MaxSteps: 3})
	if err != nil {
		t.Errorf("Run() failed: %v", err)
	}
	if m.Steps() != 3 {
		t.Errorf("Steps() = %d, want 3", m.Steps())
	}
}

// TestTracer tests the step tracer hook.
func TestTracer(t *testing.T) {
	var events []TraceEvent
	opts := Options{Tracer: func(ev TraceEvent) { events = append(events, ev) }}

	_, _, err := run(t, program(OpPush, 7, OpDup, OpAdd, OpHalt), opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []TraceEvent{
		{Step: 0, IP: 0, Op: OpPush, Operand: 7, Depth: 0},
		{Step: 1, IP: 2, Op: OpDup, Depth: 1},
		{Step: 2, IP: 3, Op: OpAdd, Depth: 2},
		{Step: 3, IP: 4, Op: OpHalt, Depth: 1},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

// failingSink rejects all output.
type failingSink struct{ err error }

func (s failingSink) EmitNumber(int32) error { return s.err }
func (s failingSink) EmitByte(byte) error    { return s.err }

// TestOutputFailure tests sink errors become faults.
func TestOutputFailure(t *testing.T) {
	cause := errors.New("pipe closed")
	m := New(program(OpPush, 1, OpPrint, OpHalt), failingSink{cause}, Options{})
	err := m.Run()
	if !errors.Is(err, ErrOutputFailed) {
		t.Errorf("Run() = %v, want ErrOutputFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Run() = %v, want wrapped cause", err)
	}
}
