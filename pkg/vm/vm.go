// Package vm implements the bytevm stack machine.
//
// bytevm executes a flat byte stream. Every instruction is a single opcode
// byte, optionally followed by one immediate byte (PUSH only). All values
// are signed 32-bit integers held on a bounded operand stack.
//
// Control transfer is absolute: JMP, JZ and JNZ pop their target address
// from the stack and install it directly as the next fetch address. Targets
// are validated when the jump is taken: a JZ or JNZ that falls through
// pops its target without checking it.
//
// Any error during execution is a Fault. Faults are terminal; a faulted
// machine refuses to step again.
package vm

// State is the execution state of a Machine.
type State uint8

// Machine states.
const (
	Running State = iota
	Halted
	Faulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// TraceEvent describes an instruction about to execute.
type TraceEvent struct {
	Step    uint64
	IP      int
	Op      Opcode
	Operand byte
	Depth   int
}

// Tracer observes execution one instruction at a time.
type Tracer func(TraceEvent)

// Options configures a Machine.
type Options struct {
	// StackCapacity is the fixed operand stack size. Zero selects
	// DefaultStackCapacity.
	StackCapacity int

	// MaxSteps bounds executed instructions. Zero means unlimited.
	MaxSteps uint64

	// Tracer, if set, is called before each instruction executes.
	Tracer Tracer
}

// Machine executes a program. A Machine is single use: create one per run.
type Machine struct {
	// Program
	code []byte // borrowed, never written

	// Runtime state
	stack *Stack
	ip    int
	steps uint64

	// Configuration
	sink   Sink
	meter  *StepMeter
	tracer Tracer

	// Execution state
	state State
	fault *Fault
}

// New creates a machine for code writing output to sink. A nil sink
// discards output.
func New(code []byte, sink Sink, opts Options) *Machine {
	if sink == nil {
		sink = Discard
	}
	m := &Machine{
		code:   code,
		stack:  NewStack(opts.StackCapacity),
		sink:   sink,
		tracer: opts.Tracer,
	}
	if opts.MaxSteps > 0 {
		m.meter = NewStepMeter(opts.MaxSteps)
	}
	return m
}

// Run executes until HALT or a fault. It returns nil on a clean halt and the
// *Fault otherwise.
func (m *Machine) Run() error {
	for m.state == Running {
		if err := m.Step(); err != nil {
			return err
		}
	}
	if m.state == Faulted {
		return m.fault
	}
	return nil
}

// Step executes one instruction. Stepping a halted machine returns
// ErrHalted; stepping a faulted one returns its fault again.
func (m *Machine) Step() error {
	switch m.state {
	case Halted:
		return ErrHalted
	case Faulted:
		return m.fault
	}

	pc := m.ip
	if pc < 0 || pc >= len(m.code) {
		return m.fail(&Fault{Kind: ProgramBoundsExceeded, IP: pc})
	}

	raw := m.code[pc]
	op, err := Decode(raw)
	if err != nil {
		return m.fail(&Fault{Kind: InvalidOpcode, IP: pc, Byte: raw})
	}

	var operand byte
	if op.Operands() > 0 {
		if pc+1 >= len(m.code) {
			return m.fail(&Fault{Kind: ProgramBoundsExceeded, IP: pc, Op: op})
		}
		operand = m.code[pc+1]
	}

	if m.meter != nil {
		if err := m.meter.Consume(1); err != nil {
			return m.fail(&Fault{Kind: StepLimitExceeded, IP: pc, Op: op})
		}
	}

	// Underflow is checked up front so a faulting instruction leaves the
	// stack as it found it.
	if m.stack.Len() < op.Pops() {
		return m.fail(&Fault{Kind: StackUnderflow, IP: pc, Op: op})
	}

	if m.tracer != nil {
		m.tracer(TraceEvent{
			Step:    m.steps,
			IP:      pc,
			Op:      op,
			Operand: operand,
			Depth:   m.stack.Len(),
		})
	}
	m.steps++

	next := pc + op.Width()

	switch op {
	case OpPush:
		err = m.push(int32(operand))

	case OpPop:
		m.pop()

	case OpDup:
		x := m.pop()
		if err = m.push(x); err == nil {
			err = m.push(x)
		}

	case OpSwap:
		a := m.pop()
		b := m.pop()
		if err = m.push(a); err == nil {
			err = m.push(b)
		}

	case OpAdd:
		a, b := m.pop(), m.pop()
		err = m.push(a + b)
	case OpSub:
		a, b := m.pop(), m.pop()
		err = m.push(b - a)
	case OpMul:
		a, b := m.pop(), m.pop()
		err = m.push(a * b)
	case OpDiv:
		a, b := m.pop(), m.pop()
		if a == 0 {
			return m.fail(&Fault{Kind: DivisionByZero, IP: pc, Op: op})
		}
		err = m.push(b / a)
	case OpMod:
		a, b := m.pop(), m.pop()
		if a == 0 {
			return m.fail(&Fault{Kind: DivisionByZero, IP: pc, Op: op})
		}
		err = m.push(b % a)

	case OpJmp:
		target := m.pop()
		if !m.validTarget(target) {
			return m.fail(&Fault{Kind: InvalidJumpTarget, IP: pc, Op: op, Target: target})
		}
		next = int(target)
	case OpJz, OpJnz:
		target := m.pop()
		value := m.pop()
		if (op == OpJz) == (value == 0) {
			if !m.validTarget(target) {
				return m.fail(&Fault{Kind: InvalidJumpTarget, IP: pc, Op: op, Target: target})
			}
			next = int(target)
		}

	case OpNop:

	case OpPrint:
		if err := m.sink.EmitNumber(m.pop()); err != nil {
			return m.fail(&Fault{Kind: OutputFailed, IP: pc, Op: op, Err: err})
		}
	case OpPrintChar:
		if err := m.sink.EmitByte(byte(m.pop())); err != nil {
			return m.fail(&Fault{Kind: OutputFailed, IP: pc, Op: op, Err: err})
		}

	case OpHalt:
		m.state = Halted
		return nil
	}
	if err != nil {
		return m.stackFault(err, pc, op)
	}

	m.ip = next
	return nil
}

// push and pop are used after the depth check in Step. Every push result
// reaches stackFault, including pushes into a slot a pop just freed.
func (m *Machine) push(v int32) error {
	return m.stack.Push(v)
}

func (m *Machine) pop() int32 {
	v, _ := m.stack.Pop()
	return v
}

// validTarget reports whether addr is an address inside the program.
func (m *Machine) validTarget(addr int32) bool {
	return addr >= 0 && int64(addr) < int64(len(m.code))
}

func (m *Machine) stackFault(err error, pc int, op Opcode) error {
	kind := StackOverflow
	if err == ErrStackUnderflow {
		kind = StackUnderflow
	}
	return m.fail(&Fault{Kind: kind, IP: pc, Op: op})
}

func (m *Machine) fail(f *Fault) error {
	m.state = Faulted
	m.fault = f
	return f
}

// State returns the current execution state.
func (m *Machine) State() State {
	return m.state
}

// Fault returns the fault that stopped the machine, or nil.
func (m *Machine) Fault() *Fault {
	return m.fault
}

// IP returns the address of the next instruction to fetch.
func (m *Machine) IP() int {
	return m.ip
}

// Steps returns the number of instructions executed.
func (m *Machine) Steps() uint64 {
	return m.steps
}

// Stack returns a copy of the operand stack, bottom first.
func (m *Machine) Stack() []int32 {
	return m.stack.Values()
}

// StackCapacity returns the fixed operand stack size.
func (m *Machine) StackCapacity() int {
	return m.stack.Cap()
}

// Run is a convenience wrapper that executes code to completion.
func Run(code []byte, sink Sink, opts Options) error {
	return New(code, sink, opts).Run()
}
