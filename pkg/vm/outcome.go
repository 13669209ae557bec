package vm

import (
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"

	"tracejit/pkg/uop"
)

// Outcome is everything observable after a trace run.
type Outcome struct {
	Reason    ExitReason
	Target    uint32
	ExitIndex uint32
	Result    int64
	Stack     []int64
	Locals    []int64
}

// Capture snapshots frame and state after a run.
func Capture(frame *Frame, state *State) Outcome {
	o := Outcome{
		Reason: state.Reason,
		Target: state.Target,
		Stack:  slices.Clone(frame.Values()),
		Locals: slices.Clone(frame.Locals),
	}
	switch state.Reason {
	case ExitSide:
		o.ExitIndex = state.ExitIndex
	case ExitReturn:
		o.Result = state.Result
	}
	return o
}

func (o Outcome) String() string {
	switch o.Reason {
	case ExitReturn:
		return fmt.Sprintf("%s %d ->%d stack=%v locals=%v", o.Reason, o.Result, o.Target, o.Stack, o.Locals)
	case ExitSide:
		return fmt.Sprintf("%s #%d ->%d stack=%v locals=%v", o.Reason, o.ExitIndex, o.Target, o.Stack, o.Locals)
	default:
		return fmt.Sprintf("%s ->%d stack=%v locals=%v", o.Reason, o.Target, o.Stack, o.Locals)
	}
}

// Match checks o against a recorded expectation.
func (o Outcome) Match(e *uop.Expectation) error {
	if e == nil {
		return nil
	}
	if e.Reason != "" && e.Reason != o.Reason.String() {
		return errors.Newf("exit reason %s, want %s", o.Reason, e.Reason)
	}
	if o.Target != e.Target {
		return errors.Newf("resume target %d, want %d", o.Target, e.Target)
	}
	if e.ExitIndex != nil && o.ExitIndex != *e.ExitIndex {
		return errors.Newf("side exit %d, want %d", o.ExitIndex, *e.ExitIndex)
	}
	if e.Result != nil && o.Result != *e.Result {
		return errors.Newf("result %d, want %d", o.Result, *e.Result)
	}
	if e.Stack != nil && !slices.Equal(o.Stack, e.Stack) {
		return errors.Newf("stack %v, want %v", o.Stack, e.Stack)
	}
	if e.Locals != nil && !slices.Equal(o.Locals, e.Locals) {
		return errors.Newf("locals %v, want %v", o.Locals, e.Locals)
	}
	return nil
}
