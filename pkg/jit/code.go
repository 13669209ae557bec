package jit

import (
	"sync/atomic"

	"tracejit/pkg/vm"
)

// Code is a finalized, immutable block of native code for one trace. It
// may be invoked concurrently; it must be released exactly once.
type Code struct {
	alloc    Allocator
	mem      []byte
	size     int
	entry    uintptr
	released atomic.Bool
}

// Entry is the address of the entry fragment.
func (c *Code) Entry() uintptr {
	return c.entry
}

// Size is the length of the emitted unit, excluding page padding.
func (c *Code) Size() int {
	return c.size
}

// Bytes returns a copy of the code.
func (c *Code) Bytes() []byte {
	if c.released.Load() {
		return nil
	}
	return append([]byte(nil), c.mem[:c.size]...)
}

// Invoke runs the trace natively. frame must satisfy the trace's stack
// and local bounds; nothing is checked here.
func (c *Code) Invoke(frame *vm.Frame, state *vm.State) uint32 {
	if c.released.Load() {
		panic("jit: invoking released code")
	}
	return callTrace(c.entry, frame, state)
}

// Release unmaps the code. Releasing twice panics.
func (c *Code) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		panic("jit: code released twice")
	}
	err := c.alloc.Unmap(c.mem)
	c.mem = nil
	return err
}
