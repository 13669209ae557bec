package uop

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	jiterr "tracejit/pkg/errors"
)

func rec(op Op, oparg int64) Record {
	return Record{Op: op, Oparg: oparg}
}

func TestAnalyzeStraightLine(t *testing.T) {
	trace := Trace{
		rec(LoadConst, 5),
		rec(LoadConst, 7),
		rec(BinaryAdd, 0),
		rec(ReturnValue, 0),
	}
	a, err := Analyze(trace)
	require.NoError(t, err)

	if diff := cmp.Diff([]int{0, 1, 2, 1}, a.Depth); diff != "" {
		t.Errorf("depth mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 0, a.MinDepth)
	require.Equal(t, 2, a.MaxDepth)
	require.Equal(t, -1, a.MaxLocal)
	require.Empty(t, a.SideExits)
}

func TestAnalyzeSideExitOrdinals(t *testing.T) {
	trace := Trace{
		rec(CheckEvalBreaker, 0),
		rec(LoadFast, 3),
		rec(GuardIsTrue, 0),
		rec(LoadFast, 1),
		rec(GuardIsFalse, 0),
		rec(Deopt, 0),
	}
	a, err := Analyze(trace)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 4, 5}, a.SideExits)
	require.Equal(t, 0, a.ExitIndex(0))
	require.Equal(t, -1, a.ExitIndex(1))
	require.Equal(t, 1, a.ExitIndex(2))
	require.Equal(t, 3, a.ExitIndex(5))
	require.Equal(t, -1, a.ExitIndex(99))
	require.Equal(t, 3, a.MaxLocal)
}

func TestAnalyzeNegativeDepth(t *testing.T) {
	a, err := Analyze(Trace{rec(BinaryAdd, 0), rec(ReturnValue, 0)})
	require.NoError(t, err)
	require.Equal(t, -2, a.MinDepth)
	require.Equal(t, 0, a.MaxDepth)
}

func TestAnalyzeLoop(t *testing.T) {
	trace := Trace{
		rec(LoadFast, 0),
		rec(PopJumpIfFalse, 4),
		rec(Nop, 0),
		rec(JumpToTop, 0),
		rec(ExitTrace, 0),
	}
	a, err := Analyze(trace)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, true, true, true}, a.Reached)
}

func TestAnalyzeUnreachable(t *testing.T) {
	trace := Trace{
		rec(Jump, 2),
		rec(LoadConst, 1),
		rec(ExitTrace, 0),
	}
	a, err := Analyze(trace)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true}, a.Reached)
}

func TestAnalyzeRejects(t *testing.T) {
	tests := []struct {
		name  string
		trace Trace
		kind  jiterr.Kind
		index int
	}{
		{"empty", Trace{}, jiterr.MalformedTrace, -1},
		{"unknown op", Trace{{Op: Op(200)}, rec(ExitTrace, 0)}, jiterr.Unsupported, 0},
		{"invalid op", Trace{{Op: Invalid}}, jiterr.Unsupported, 0},
		{"negative slot", Trace{rec(LoadFast, -1), rec(ReturnValue, 0)}, jiterr.MalformedTrace, 0},
		{"jump out of range", Trace{rec(Jump, 7)}, jiterr.DanglingTransfer, 0},
		{"negative jump", Trace{rec(LoadConst, 0), rec(PopJumpIfTrue, -1), rec(ExitTrace, 0)}, jiterr.DanglingTransfer, 1},
		{"falls off the end", Trace{rec(LoadConst, 1), rec(PopTop, 0)}, jiterr.MalformedTrace, 1},
		{"back edge with values", Trace{rec(LoadConst, 1), rec(JumpToTop, 0)}, jiterr.MalformedTrace, 1},
		{"join disagrees", Trace{
			rec(LoadConst, 1),
			rec(PopJumpIfTrue, 3),
			rec(LoadConst, 2),
			rec(ExitTrace, 0),
		}, jiterr.MalformedTrace, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.trace)
			require.Error(t, err)
			var ce *jiterr.CompileError
			require.ErrorAs(t, err, &ce)
			require.Equal(t, tt.kind, ce.Kind, err.Error())
			require.Equal(t, tt.index, ce.Index, err.Error())
		})
	}
}
