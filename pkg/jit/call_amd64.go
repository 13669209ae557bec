package jit

import (
	"runtime"
	"unsafe"

	"tracejit/pkg/jit/asm"
	"tracejit/pkg/vm"
)

// callTrace enters compiled code through the assembly trampoline.
func callTrace(entry uintptr, frame *vm.Frame, state *vm.State) uint32 {
	target := asm.CallTrace(entry, uintptr(unsafe.Pointer(frame)), frame.StackTop(), uintptr(unsafe.Pointer(state)))
	runtime.KeepAlive(frame)
	runtime.KeepAlive(state)
	return uint32(target)
}
