package jit

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"tracejit/pkg/abi"
	"tracejit/pkg/uop"
)

var linuxAMD64 = abi.Target{GOOS: "linux", GOARCH: "amd64", PreserveNone: true}

// heapAllocator hands out ordinary heap memory. Code placed in it is
// linked but never run.
type heapAllocator struct {
	mapped    int
	protected int
	unmapped  int
	failMap   bool
}

func (a *heapAllocator) Map(size int) ([]byte, error) {
	if a.failMap {
		return nil, errors.New("cannot allocate memory")
	}
	a.mapped++
	return make([]byte, size), nil
}

func (a *heapAllocator) Protect([]byte) error {
	a.protected++
	return nil
}

func (a *heapAllocator) Unmap([]byte) error {
	a.unmapped++
	return nil
}

func (a *heapAllocator) live() int {
	return a.mapped - a.unmapped
}

func testConfig(conv string, elide bool) Config {
	cfg := DefaultConfig()
	cfg.Convention = conv
	cfg.ElideFallthrough = elide
	cfg.Target = &linuxAMD64
	return cfg
}

type traceCase struct {
	name  string
	file  *uop.TraceFile
	trace uop.Trace
}

func loadTraceFiles(t *testing.T) []traceCase {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join("..", "..", "testdata", "traces", "*.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	var cases []traceCase
	for _, path := range paths {
		f, err := uop.LoadTraceFile(path)
		require.NoError(t, err)
		trace, err := f.Trace()
		require.NoError(t, err)
		cases = append(cases, traceCase{name: filepath.Base(path), file: f, trace: trace})
	}
	return cases
}

var conventions = []string{"zero-live", "standard"}
