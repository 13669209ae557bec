package vm

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"tracejit/pkg/uop"
)

func TestInterpretAdd(t *testing.T) {
	trace := uop.Trace{
		{Op: uop.LoadConst, Oparg: 5},
		{Op: uop.LoadConst, Oparg: 7},
		{Op: uop.BinaryAdd},
		{Op: uop.ReturnValue, Target: 4},
	}
	frame := NewFrame(0, 4)
	var state State
	target, err := Interpret(trace, frame, &state)
	require.NoError(t, err)
	require.Equal(t, uint32(4), target)
	require.Equal(t, ExitReturn, state.Reason)
	require.Equal(t, int64(12), state.Result)
	require.Equal(t, 0, frame.SP)
}

func TestInterpretBinaryOperandOrder(t *testing.T) {
	tests := []struct {
		op   uop.Op
		l, r int64
		want int64
	}{
		{uop.BinarySubtract, 10, 3, 7},
		{uop.BinaryMultiply, -4, 6, -24},
		{uop.BinaryAnd, 12, 10, 8},
		{uop.BinaryOr, 12, 10, 14},
		{uop.BinaryXor, 12, 10, 6},
		{uop.CompareLt, 1, 2, 1},
		{uop.CompareLt, 2, 1, 0},
		{uop.CompareLe, 2, 2, 1},
		{uop.CompareGt, -1, -2, 1},
		{uop.CompareGe, -3, -2, 0},
		{uop.CompareEq, 9, 9, 1},
		{uop.CompareNe, 9, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			trace := uop.Trace{
				{Op: uop.LoadConst, Oparg: tt.l},
				{Op: uop.LoadConst, Oparg: tt.r},
				{Op: tt.op},
				{Op: uop.ReturnValue},
			}
			var state State
			_, err := Interpret(trace, NewFrame(0, 2), &state)
			require.NoError(t, err)
			require.Equal(t, tt.want, state.Result)
		})
	}
}

func TestInterpretSideExit(t *testing.T) {
	trace := uop.Trace{
		{Op: uop.CheckEvalBreaker, Target: 1},
		{Op: uop.LoadFast, Oparg: 0},
		{Op: uop.GuardIsTrue, Target: 2},
		{Op: uop.ExitTrace, Target: 3},
	}

	frame := NewFrameFrom([]int64{0}, nil, 4)
	var state State
	target, err := Interpret(trace, frame, &state)
	require.NoError(t, err)
	require.Equal(t, uint32(2), target)
	require.Equal(t, ExitSide, state.Reason)
	require.Equal(t, uint32(1), state.ExitIndex)

	state = State{EvalBreaker: 1}
	target, err = Interpret(trace, NewFrameFrom([]int64{1}, nil, 4), &state)
	require.NoError(t, err)
	require.Equal(t, uint32(1), target)
	require.Equal(t, uint32(0), state.ExitIndex)
	require.Equal(t, uint32(1), state.EvalBreaker)

	state = State{}
	target, err = Interpret(trace, NewFrameFrom([]int64{1}, nil, 4), &state)
	require.NoError(t, err)
	require.Equal(t, uint32(3), target)
	require.Equal(t, ExitTrace, state.Reason)
}

func TestInterpretErrors(t *testing.T) {
	_, err := Interpret(uop.Trace{}, NewFrame(0, 1), &State{})
	require.Error(t, err)

	trace := uop.Trace{{Op: uop.LoadFast, Oparg: 2}, {Op: uop.ReturnValue}}
	_, err = Interpret(trace, NewFrame(1, 1), &State{})
	require.ErrorIs(t, err, ErrLocalRange)

	trace = uop.Trace{{Op: uop.PopTop}, {Op: uop.ExitTrace}}
	_, err = Interpret(trace, NewFrame(0, 1), &State{})
	require.ErrorIs(t, err, ErrStackUnderflow)

	trace = uop.Trace{{Op: uop.LoadConst}, {Op: uop.DupTop}, {Op: uop.PopTop}, {Op: uop.ReturnValue}}
	_, err = Interpret(trace, NewFrame(0, 1), &State{})
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestInterpretTraceFiles(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "traces", "*.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := uop.LoadTraceFile(path)
			require.NoError(t, err)
			trace, err := f.Trace()
			require.NoError(t, err)

			frame := NewFrameFrom(f.Locals, f.Stack, 16)
			var state State
			target, err := Interpret(trace, frame, &state)
			require.NoError(t, err)
			require.Equal(t, state.Target, target)

			got := Capture(frame, &state)
			require.NoError(t, got.Match(f.Expect), got.String())
		})
	}
}

func TestCaptureDropsStaleFields(t *testing.T) {
	frame := NewFrameFrom([]int64{1}, []int64{2, 3}, 4)
	state := State{Reason: ExitTrace, Target: 9, ExitIndex: 4, Result: 5}
	want := Outcome{Reason: ExitTrace, Target: 9, Stack: []int64{2, 3}, Locals: []int64{1}}
	if diff := cmp.Diff(want, Capture(frame, &state)); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
}
