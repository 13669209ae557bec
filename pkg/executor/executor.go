// Package executor ties a trace to the native code compiled for it.
package executor

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"tracejit/pkg/uop"
	"tracejit/pkg/vm"
)

var ErrAlreadyAttached = errors.New("executor already has code attached")

// Code is finalized native code for one trace.
type Code interface {
	Entry() uintptr
	Size() int
	// Invoke runs the code against frame and state and returns the
	// interpreter resume target.
	Invoke(frame *vm.Frame, state *vm.State) uint32
	// Release unmaps the code. Releasing twice is a contract violation.
	Release() error
}

// Executor runs one trace, natively when code is attached.
type Executor struct {
	ID       uuid.UUID
	Trace    uop.Trace
	Analysis *uop.Analysis

	code atomic.Pointer[codeRef]
}

type codeRef struct {
	code Code
}

// New analyses trace and wraps it in an executor with no code attached.
func New(trace uop.Trace) (*Executor, error) {
	a, err := uop.Analyze(trace)
	if err != nil {
		return nil, err
	}
	return &Executor{
		ID:       uuid.New(),
		Trace:    trace,
		Analysis: a,
	}, nil
}

// Attach publishes code for the executor. Code must already be finalized.
func (e *Executor) Attach(code Code) error {
	if !e.code.CompareAndSwap(nil, &codeRef{code: code}) {
		return ErrAlreadyAttached
	}
	return nil
}

// Detach releases attached code exactly once and returns it; later calls
// return nil and do nothing.
func (e *Executor) Detach() (Code, error) {
	ref := e.code.Swap(nil)
	if ref == nil {
		return nil, nil
	}
	return ref.code, ref.code.Release()
}

// Compiled reports whether code is attached.
func (e *Executor) Compiled() bool {
	return e.code.Load() != nil
}

// Code returns the attached code or nil.
func (e *Executor) Code() Code {
	if ref := e.code.Load(); ref != nil {
		return ref.code
	}
	return nil
}

// Native reports whether Run would take the native path for frame.
func (e *Executor) Native(frame *vm.Frame) bool {
	a := e.Analysis
	return e.Compiled() && frame.Fits(a.MinDepth, a.MaxDepth, a.MaxLocal)
}

// Run executes the trace and returns the interpreter resume target. Frames
// that could overrun the trace's static stack and local bounds are
// interpreted, which checks every access.
func (e *Executor) Run(frame *vm.Frame, state *vm.State) (uint32, error) {
	if ref := e.code.Load(); ref != nil {
		a := e.Analysis
		if frame.Fits(a.MinDepth, a.MaxDepth, a.MaxLocal) {
			state.Reset()
			return ref.code.Invoke(frame, state), nil
		}
	}
	return vm.InterpretAnalyzed(e.Trace, e.Analysis, frame, state)
}
