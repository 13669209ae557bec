// Package abi picks the calling convention compiled traces use and the
// register assignment that goes with it.
package abi

import (
	"fmt"
	"runtime"
	"strings"

	"tracejit/pkg/x86"
)

// Convention is how fragments hand control to each other.
type Convention uint8

const (
	// ZeroLive assumes no callee-saved registers (preserve-none). Fragments
	// are glued with direct jmp rel32 tail transfers and need no frame.
	ZeroLive Convention = iota + 1
	// Standard keeps a conventional frame: the entry pushes RBP, the trace
	// registers are the SysV argument registers and transfers go through
	// an absolute address in R11.
	Standard
)

func (c Convention) String() string {
	switch c {
	case ZeroLive:
		return "zero-live"
	case Standard:
		return "standard"
	default:
		return fmt.Sprintf("convention(%d)", uint8(c))
	}
}

// ParseConvention parses a configured convention. "auto" and "" yield 0,
// meaning Select decides.
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return 0, nil
	case "zero-live", "zerolive", "preserve-none":
		return ZeroLive, nil
	case "standard":
		return Standard, nil
	default:
		return 0, fmt.Errorf("unknown calling convention %q", s)
	}
}

// Target describes the platform code is generated for.
type Target struct {
	GOOS   string
	GOARCH string
	// PreserveNone reports whether the toolchain can produce entry points
	// with the preserve-none attribute.
	PreserveNone bool
}

// Host is the target of the running process. The trampoline is hand
// written, so preserve-none entry is available wherever it assembles.
func Host() Target {
	return Target{
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		PreserveNone: runtime.GOARCH == "amd64",
	}
}

func (t Target) String() string {
	return t.GOOS + "/" + t.GOARCH
}

// ABI is the single value the compiler and linker consult for everything
// convention dependent.
type ABI struct {
	Target     Target
	Convention Convention

	// Trace registers live for the whole trace.
	Frame x86.Reg // *vm.Frame
	Stack x86.Reg // one past the top of the value stack
	State x86.Reg // *vm.State

	// Scratch registers, clobbered freely inside a fragment.
	Scratch [3]x86.Reg

	// Transfer holds absolute transfer addresses under Standard.
	Transfer x86.Reg
}

// Select chooses the convention for t. It never fails; whether t has a
// stencil table is checked when the JIT is configured.
func Select(t Target) ABI {
	conv := ZeroLive
	if (t.GOOS == "darwin" && t.GOARCH == "arm64") || !t.PreserveNone {
		conv = Standard
	}
	return For(t, conv)
}

// For builds the ABI for an explicitly chosen convention.
func For(t Target, conv Convention) ABI {
	a := ABI{Target: t, Convention: conv}
	if t.GOARCH != "amd64" {
		return a
	}
	// R14 (g) and RBP are never assigned: Go code expects them intact.
	switch conv {
	case ZeroLive:
		a.Frame, a.Stack, a.State = x86.R12, x86.R13, x86.R15
		a.Scratch = [3]x86.Reg{x86.RAX, x86.RCX, x86.RDX}
	case Standard:
		a.Frame, a.Stack, a.State = x86.RDI, x86.RSI, x86.RDX
		a.Scratch = [3]x86.Reg{x86.RAX, x86.RCX, x86.R8}
	}
	a.Transfer = x86.R11
	return a
}

// Resolve applies a configured convention string: "auto" selects,
// anything else forces that convention.
func Resolve(t Target, convention string) (ABI, error) {
	conv, err := ParseConvention(convention)
	if err != nil {
		return ABI{}, err
	}
	if conv == 0 {
		return Select(t), nil
	}
	return For(t, conv), nil
}

// Arch names the stencil table architecture this ABI needs.
func (a ABI) Arch() string {
	return a.Target.GOARCH
}

func (a ABI) String() string {
	return fmt.Sprintf("%s/%s", a.Target, a.Convention)
}
