package vm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

var (
	ErrStackUnderflow = errors.New("value stack underflow")
	ErrStackOverflow  = errors.New("value stack overflow")
	ErrLocalRange     = errors.New("local slot out of range")
)

// Frame is the interpreter frame a trace runs against. Compiled code reads
// the Locals and Stack base pointers and writes SP back on exit.
type Frame struct {
	Locals []int64
	Stack  []int64
	SP     int // number of live values on Stack
}

// Field offsets within Frame; a slice field's data pointer sits at the
// field offset.
const (
	FrameLocalsOffset = int32(unsafe.Offsetof(Frame{}.Locals))
	FrameStackOffset  = int32(unsafe.Offsetof(Frame{}.Stack))
	FrameSPOffset     = int32(unsafe.Offsetof(Frame{}.SP))
)

// NewFrame allocates a frame with the given number of locals and stack
// capacity.
func NewFrame(locals, stackSize int) *Frame {
	return &Frame{
		Locals: make([]int64, locals),
		Stack:  make([]int64, stackSize),
	}
}

// NewFrameFrom builds a frame holding the given locals and initial stack
// values, with room for stackSize values in total.
func NewFrameFrom(locals, stack []int64, stackSize int) *Frame {
	f := NewFrame(len(locals), max(stackSize, len(stack)))
	copy(f.Locals, locals)
	f.SP = copy(f.Stack, stack)
	return f
}

// Push appends v to the value stack.
func (f *Frame) Push(v int64) error {
	if f.SP >= len(f.Stack) {
		return ErrStackOverflow
	}
	f.Stack[f.SP] = v
	f.SP++
	return nil
}

// Pop removes and returns the top of the value stack.
func (f *Frame) Pop() (int64, error) {
	if f.SP <= 0 {
		return 0, ErrStackUnderflow
	}
	f.SP--
	return f.Stack[f.SP], nil
}

// Peek returns the value n slots below the top; Peek(0) is the top.
func (f *Frame) Peek(n int) (int64, error) {
	if n < 0 || f.SP-1-n < 0 {
		return 0, ErrStackUnderflow
	}
	return f.Stack[f.SP-1-n], nil
}

// Values returns the live part of the value stack.
func (f *Frame) Values() []int64 {
	return f.Stack[:f.SP]
}

// Clone copies the frame so a trace can be run twice from the same inputs.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Locals: make([]int64, len(f.Locals)),
		Stack:  make([]int64, len(f.Stack)),
		SP:     f.SP,
	}
	copy(c.Locals, f.Locals)
	copy(c.Stack, f.Stack)
	return c
}

// StackTop is the address one past the top of the value stack, the second
// argument of a compiled trace.
func (f *Frame) StackTop() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(f.Stack))) + uintptr(f.SP)*8
}

// Fits reports whether a trace needing the given relative depth range and
// locals can run against f without bounds checks.
func (f *Frame) Fits(minDepth, maxDepth, maxLocal int) bool {
	return f.SP+minDepth >= 0 &&
		f.SP+maxDepth <= len(f.Stack) &&
		maxLocal < len(f.Locals)
}
