//go:build !unix

package jit

import "github.com/cockroachdb/errors"

var errNoExecMem = errors.New("executable memory is not supported on this platform")

type mmapAllocator struct{}

func (mmapAllocator) Map(int) ([]byte, error) { return nil, errNoExecMem }
func (mmapAllocator) Protect([]byte) error    { return errNoExecMem }
func (mmapAllocator) Unmap([]byte) error      { return errNoExecMem }
