package vm

// DefaultStackCapacity is the operand stack size used when none is given.
const DefaultStackCapacity = 1024

// Stack is a fixed-capacity LIFO of int32 values. It never grows: pushing
// onto a full stack is an error, not a reallocation.
type Stack struct {
	data []int32 // backing array, len == capacity
	top  int     // live elements
}

// NewStack creates a stack holding at most capacity values.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultStackCapacity
	}
	return &Stack{
		data: make([]int32, capacity),
	}
}

// Push appends v.
func (s *Stack) Push(v int32) error {
	if s.top == len(s.data) {
		return ErrStackOverflow
	}
	s.data[s.top] = v
	s.top++
	return nil
}

// Pop removes and returns the most recently pushed value.
func (s *Stack) Pop() (int32, error) {
	if s.top == 0 {
		return 0, ErrStackUnderflow
	}
	s.top--
	return s.data[s.top], nil
}

// Len returns the number of live values.
func (s *Stack) Len() int {
	return s.top
}

// Cap returns the fixed capacity.
func (s *Stack) Cap() int {
	return len(s.data)
}

// Values returns a copy of the live values, bottom first.
func (s *Stack) Values() []int32 {
	out := make([]int32, s.top)
	copy(out, s.data[:s.top])
	return out
}
