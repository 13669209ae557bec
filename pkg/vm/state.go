// Package vm holds the frame and execution-state layout shared by the trace
// interpreter and compiled traces, and the trace interpreter itself.
package vm

import "unsafe"

// ExitReason says how control left a trace.
type ExitReason uint32

const (
	ExitNone   ExitReason = iota
	ExitTrace             // EXIT_TRACE, resume the interpreter at Target
	ExitReturn            // RETURN_VALUE, Result holds the value
	ExitSide              // a guard failed, ExitIndex names the side exit
)

func (r ExitReason) String() string {
	switch r {
	case ExitNone:
		return "none"
	case ExitTrace:
		return "exit"
	case ExitReturn:
		return "return"
	case ExitSide:
		return "side-exit"
	default:
		return "unknown"
	}
}

// State is the per-thread execution state passed to a trace. Compiled code
// addresses its fields by the offsets below, so the layout is fixed.
type State struct {
	Reason      ExitReason
	ExitIndex   uint32
	Target      uint32
	_           uint32
	Result      int64
	EvalBreaker uint32
	_           uint32
}

// Field offsets within State
const (
	StateReasonOffset      = int32(unsafe.Offsetof(State{}.Reason))
	StateExitIndexOffset   = int32(unsafe.Offsetof(State{}.ExitIndex))
	StateTargetOffset      = int32(unsafe.Offsetof(State{}.Target))
	StateResultOffset      = int32(unsafe.Offsetof(State{}.Result))
	StateEvalBreakerOffset = int32(unsafe.Offsetof(State{}.EvalBreaker))
)

// Reset clears everything a previous trace run wrote, keeping the eval
// breaker which belongs to the caller.
func (s *State) Reset() {
	s.Reason = ExitNone
	s.ExitIndex = 0
	s.Target = 0
	s.Result = 0
}
