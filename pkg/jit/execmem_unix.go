//go:build unix

package jit

import (
	"golang.org/x/sys/unix"
)

type mmapAllocator struct{}

func (mmapAllocator) Map(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

func (mmapAllocator) Protect(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func (mmapAllocator) Unmap(mem []byte) error {
	return unix.Munmap(mem)
}
