package executor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tracejit/pkg/uop"
	"tracejit/pkg/vm"
)

// fakeCode returns a fixed target and records how it was used.
type fakeCode struct {
	target   uint32
	invoked  int
	released int
}

func (c *fakeCode) Entry() uintptr { return 0x1000 }
func (c *fakeCode) Size() int      { return 64 }

func (c *fakeCode) Invoke(_ *vm.Frame, state *vm.State) uint32 {
	c.invoked++
	state.Reason = vm.ExitTrace
	state.Target = c.target
	return c.target
}

func (c *fakeCode) Release() error {
	c.released++
	return nil
}

func addTrace() uop.Trace {
	return uop.Trace{
		{Op: uop.LoadFast, Oparg: 0},
		{Op: uop.LoadSmallInt, Oparg: 1},
		{Op: uop.BinaryAdd},
		{Op: uop.StoreFast, Oparg: 0},
		{Op: uop.ExitTrace, Target: 7},
	}
}

func TestNewRejectsMalformed(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(uop.Trace{{Op: uop.PopTop}})
	require.Error(t, err)
}

func TestAttachDetach(t *testing.T) {
	ex, err := New(addTrace())
	require.NoError(t, err)
	require.False(t, ex.Compiled())
	require.Nil(t, ex.Code())

	code := &fakeCode{target: 99}
	require.NoError(t, ex.Attach(code))
	require.True(t, ex.Compiled())
	require.ErrorIs(t, ex.Attach(&fakeCode{}), ErrAlreadyAttached)

	got, err := ex.Detach()
	require.NoError(t, err)
	require.Same(t, code, got)
	require.Equal(t, 1, code.released)

	got, err = ex.Detach()
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, 1, code.released)
	require.False(t, ex.Compiled())
}

func TestConcurrentDetachReleasesOnce(t *testing.T) {
	ex, err := New(addTrace())
	require.NoError(t, err)
	code := &fakeCode{}
	require.NoError(t, ex.Attach(code))

	var wg sync.WaitGroup
	var mu sync.Mutex
	detached := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c, _ := ex.Detach(); c != nil {
				mu.Lock()
				detached++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, detached)
	require.Equal(t, 1, code.released)
}

func TestRunInterpretsWithoutCode(t *testing.T) {
	ex, err := New(addTrace())
	require.NoError(t, err)

	frame := vm.NewFrameFrom([]int64{41}, nil, 4)
	var state vm.State
	target, err := ex.Run(frame, &state)
	require.NoError(t, err)
	require.Equal(t, uint32(7), target)
	require.Equal(t, []int64{42}, frame.Locals)
}

func TestRunNativeWhenFrameFits(t *testing.T) {
	ex, err := New(addTrace())
	require.NoError(t, err)
	code := &fakeCode{target: 99}
	require.NoError(t, ex.Attach(code))

	frame := vm.NewFrameFrom([]int64{41}, nil, 4)
	require.True(t, ex.Native(frame))
	state := vm.State{Result: 5}
	target, err := ex.Run(frame, &state)
	require.NoError(t, err)
	require.Equal(t, uint32(99), target)
	require.Equal(t, 1, code.invoked)
	require.Zero(t, state.Result)
}

func TestRunFallsBackForSmallFrames(t *testing.T) {
	ex, err := New(addTrace())
	require.NoError(t, err)
	code := &fakeCode{target: 99}
	require.NoError(t, ex.Attach(code))

	// trace needs two stack slots and one local
	for _, frame := range []*vm.Frame{
		vm.NewFrameFrom([]int64{41}, nil, 1),
		vm.NewFrameFrom(nil, nil, 4),
	} {
		require.False(t, ex.Native(frame))
		var state vm.State
		_, err := ex.Run(frame, &state)
		if len(frame.Locals) == 0 {
			require.ErrorIs(t, err, vm.ErrLocalRange)
		} else {
			require.ErrorIs(t, err, vm.ErrStackOverflow)
		}
	}
	require.Zero(t, code.invoked)
}
