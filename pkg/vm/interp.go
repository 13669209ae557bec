package vm

import (
	"github.com/cockroachdb/errors"

	"tracejit/pkg/uop"
)

// machine is one interpretation of a trace.
type machine struct {
	trace    uop.Trace
	analysis *uop.Analysis
	frame    *Frame
	state    *State
	pc       int
}

// handler executes the record at m.pc, advances m.pc and reports whether
// control left the trace.
type handler func(m *machine, rec uop.Record) (bool, error)

var dispatchTable [256]handler

func init() {
	dispatchTable[uop.Nop] = func(m *machine, _ uop.Record) (bool, error) { return m.next() }
	dispatchTable[uop.LoadConst] = handleLoadConst
	dispatchTable[uop.LoadSmallInt] = handleLoadConst
	dispatchTable[uop.LoadFast] = handleLoadFast
	dispatchTable[uop.StoreFast] = handleStoreFast
	dispatchTable[uop.PopTop] = handlePopTop
	dispatchTable[uop.DupTop] = handleDupTop
	dispatchTable[uop.Swap] = handleSwap

	for op, fn := range map[uop.Op]func(a, b int64) int64{
		uop.BinaryAdd:      func(a, b int64) int64 { return a + b },
		uop.BinarySubtract: func(a, b int64) int64 { return a - b },
		uop.BinaryMultiply: func(a, b int64) int64 { return a * b },
		uop.BinaryAnd:      func(a, b int64) int64 { return a & b },
		uop.BinaryOr:       func(a, b int64) int64 { return a | b },
		uop.BinaryXor:      func(a, b int64) int64 { return a ^ b },
		uop.CompareLt:      func(a, b int64) int64 { return boolToInt(a < b) },
		uop.CompareLe:      func(a, b int64) int64 { return boolToInt(a <= b) },
		uop.CompareEq:      func(a, b int64) int64 { return boolToInt(a == b) },
		uop.CompareNe:      func(a, b int64) int64 { return boolToInt(a != b) },
		uop.CompareGt:      func(a, b int64) int64 { return boolToInt(a > b) },
		uop.CompareGe:      func(a, b int64) int64 { return boolToInt(a >= b) },
	} {
		dispatchTable[op] = binaryHandler(fn)
	}

	dispatchTable[uop.UnaryNegative] = unaryHandler(func(v int64) int64 { return -v })
	dispatchTable[uop.UnaryInvert] = unaryHandler(func(v int64) int64 { return ^v })
	dispatchTable[uop.UnaryNot] = unaryHandler(func(v int64) int64 { return boolToInt(v == 0) })

	dispatchTable[uop.GuardIsTrue] = guardHandler(true)
	dispatchTable[uop.GuardIsFalse] = guardHandler(false)
	dispatchTable[uop.CheckEvalBreaker] = handleCheckEvalBreaker
	dispatchTable[uop.PopJumpIfFalse] = popJumpHandler(false)
	dispatchTable[uop.PopJumpIfTrue] = popJumpHandler(true)
	dispatchTable[uop.Jump] = handleJump
	dispatchTable[uop.JumpToTop] = handleJumpToTop
	dispatchTable[uop.ExitTrace] = handleExitTrace
	dispatchTable[uop.ReturnValue] = handleReturnValue
	dispatchTable[uop.Deopt] = handleDeopt
}

// Interpret runs trace against frame and state until control leaves the
// trace, and returns the interpreter resume target.
func Interpret(trace uop.Trace, frame *Frame, state *State) (uint32, error) {
	a, err := uop.Analyze(trace)
	if err != nil {
		return 0, err
	}
	return InterpretAnalyzed(trace, a, frame, state)
}

// InterpretAnalyzed is Interpret for a trace whose analysis is already known.
func InterpretAnalyzed(trace uop.Trace, a *uop.Analysis, frame *Frame, state *State) (uint32, error) {
	state.Reset()
	m := &machine{trace: trace, analysis: a, frame: frame, state: state}
	for {
		rec := m.trace[m.pc]
		h := dispatchTable[rec.Op]
		if h == nil {
			return 0, errors.Newf("trace[%d]: no handler for %s", m.pc, rec.Op)
		}
		exited, err := h(m, rec)
		if err != nil {
			return 0, errors.Wrapf(err, "trace[%d] %s %s", m.pc, rec.Op, rec.Pos)
		}
		if exited {
			return m.state.Target, nil
		}
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (m *machine) next() (bool, error) {
	m.pc++
	return false, nil
}

func (m *machine) leave(reason ExitReason, target uint32) (bool, error) {
	m.state.Reason = reason
	m.state.Target = target
	return true, nil
}

func (m *machine) sideExit(rec uop.Record) (bool, error) {
	m.state.ExitIndex = uint32(m.analysis.ExitIndex(m.pc))
	return m.leave(ExitSide, rec.Target)
}

func handleLoadConst(m *machine, rec uop.Record) (bool, error) {
	if err := m.frame.Push(rec.Oparg); err != nil {
		return false, err
	}
	return m.next()
}

func handleLoadFast(m *machine, rec uop.Record) (bool, error) {
	if rec.Oparg >= int64(len(m.frame.Locals)) {
		return false, ErrLocalRange
	}
	if err := m.frame.Push(m.frame.Locals[rec.Oparg]); err != nil {
		return false, err
	}
	return m.next()
}

func handleStoreFast(m *machine, rec uop.Record) (bool, error) {
	if rec.Oparg >= int64(len(m.frame.Locals)) {
		return false, ErrLocalRange
	}
	v, err := m.frame.Pop()
	if err != nil {
		return false, err
	}
	m.frame.Locals[rec.Oparg] = v
	return m.next()
}

func handlePopTop(m *machine, _ uop.Record) (bool, error) {
	if _, err := m.frame.Pop(); err != nil {
		return false, err
	}
	return m.next()
}

func handleDupTop(m *machine, _ uop.Record) (bool, error) {
	v, err := m.frame.Peek(0)
	if err != nil {
		return false, err
	}
	if err := m.frame.Push(v); err != nil {
		return false, err
	}
	return m.next()
}

func handleSwap(m *machine, _ uop.Record) (bool, error) {
	if m.frame.SP < 2 {
		return false, ErrStackUnderflow
	}
	s := m.frame.Stack
	s[m.frame.SP-1], s[m.frame.SP-2] = s[m.frame.SP-2], s[m.frame.SP-1]
	return m.next()
}

func binaryHandler(fn func(a, b int64) int64) handler {
	return func(m *machine, _ uop.Record) (bool, error) {
		right, err := m.frame.Pop()
		if err != nil {
			return false, err
		}
		left, err := m.frame.Pop()
		if err != nil {
			return false, err
		}
		if err := m.frame.Push(fn(left, right)); err != nil {
			return false, err
		}
		return m.next()
	}
}

func unaryHandler(fn func(v int64) int64) handler {
	return func(m *machine, _ uop.Record) (bool, error) {
		v, err := m.frame.Pop()
		if err != nil {
			return false, err
		}
		if err := m.frame.Push(fn(v)); err != nil {
			return false, err
		}
		return m.next()
	}
}

func guardHandler(want bool) handler {
	return func(m *machine, rec uop.Record) (bool, error) {
		v, err := m.frame.Pop()
		if err != nil {
			return false, err
		}
		if (v != 0) != want {
			return m.sideExit(rec)
		}
		return m.next()
	}
}

func handleCheckEvalBreaker(m *machine, rec uop.Record) (bool, error) {
	if m.state.EvalBreaker != 0 {
		return m.sideExit(rec)
	}
	return m.next()
}

func popJumpHandler(when bool) handler {
	return func(m *machine, rec uop.Record) (bool, error) {
		v, err := m.frame.Pop()
		if err != nil {
			return false, err
		}
		if (v != 0) == when {
			m.pc = int(rec.Oparg)
			return false, nil
		}
		return m.next()
	}
}

func handleJump(m *machine, rec uop.Record) (bool, error) {
	m.pc = int(rec.Oparg)
	return false, nil
}

func handleJumpToTop(m *machine, _ uop.Record) (bool, error) {
	m.pc = 0
	return false, nil
}

func handleExitTrace(m *machine, rec uop.Record) (bool, error) {
	return m.leave(ExitTrace, rec.Target)
}

func handleReturnValue(m *machine, rec uop.Record) (bool, error) {
	v, err := m.frame.Pop()
	if err != nil {
		return false, err
	}
	m.state.Result = v
	return m.leave(ExitReturn, rec.Target)
}

func handleDeopt(m *machine, rec uop.Record) (bool, error) {
	return m.sideExit(rec)
}
