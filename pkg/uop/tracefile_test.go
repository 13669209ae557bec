package uop

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseTraceFile(t *testing.T) {
	f, err := ParseTraceFile(`
name = "inc"
locals = [41]

[[record]]
op = "LOAD_FAST"
oparg = 0
offset = 2
line = 7

[[record]]
op = "LOAD_SMALL_INT"
oparg = 1

[[record]]
op = "BINARY_ADD"

[[record]]
op = "RETURN_VALUE"
target = 9

[expect]
reason = "return"
target = 9
result = 42
`)
	require.NoError(t, err)
	require.Equal(t, "inc", f.Name)
	require.Equal(t, []int64{41}, f.Locals)
	require.NotNil(t, f.Expect)
	require.Equal(t, int64(42), *f.Expect.Result)
	require.Nil(t, f.Expect.ExitIndex)

	trace, err := f.Trace()
	require.NoError(t, err)
	want := Trace{
		{Op: LoadFast, Oparg: 0, Pos: Position{Offset: 2, Line: 7}},
		{Op: LoadSmallInt, Oparg: 1},
		{Op: BinaryAdd},
		{Op: ReturnValue, Target: 9},
	}
	if diff := cmp.Diff(want, trace); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestTraceFileUnknownOp(t *testing.T) {
	f, err := ParseTraceFile(`
[[record]]
op = "BINARY_POWER"
`)
	require.NoError(t, err)
	_, err = f.Trace()
	require.ErrorContains(t, err, `unknown op "BINARY_POWER"`)
}

func TestLoadTraceFiles(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "traces", "*.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, path := range paths {
		f, err := LoadTraceFile(path)
		require.NoError(t, err, path)
		trace, err := f.Trace()
		require.NoError(t, err, path)
		_, err = Analyze(trace)
		require.NoError(t, err, path)
	}
}
