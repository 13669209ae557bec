//go:build !amd64

package jit

import "tracejit/pkg/vm"

func callTrace(uintptr, *vm.Frame, *vm.State) uint32 {
	panic("jit: native traces are only supported on amd64")
}
