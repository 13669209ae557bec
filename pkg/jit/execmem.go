package jit

import (
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"

	jiterr "tracejit/pkg/errors"
)

// Allocator provides page-granular memory that starts writable and can be
// flipped to executable. Memory is never writable and executable at once.
type Allocator interface {
	// Map returns size bytes of read/write memory.
	Map(size int) ([]byte, error)
	// Protect makes mem read/execute. mem is no longer writable afterwards.
	Protect(mem []byte) error
	// Unmap returns mem to the system.
	Unmap(mem []byte) error
}

// DefaultAllocator maps anonymous memory from the operating system.
func DefaultAllocator() Allocator {
	return mmapAllocator{}
}

// Builder is executable memory under construction. Patch through Bytes,
// then Finalize exactly once, or Abort.
type Builder struct {
	alloc Allocator
	mem   []byte
	size  int
}

// NewBuilder maps a writable region of at least size bytes, rounded up to
// the page size.
func NewBuilder(alloc Allocator, size int) (*Builder, error) {
	if size <= 0 {
		return nil, jiterr.Newf(jiterr.ResourceExhausted, "cannot map %d bytes", size)
	}
	page := os.Getpagesize()
	mapped := (size + page - 1) &^ (page - 1)
	mem, err := alloc.Map(mapped)
	if err != nil {
		return nil, jiterr.Wrap(jiterr.ResourceExhausted, err, "map code memory")
	}
	return &Builder{alloc: alloc, mem: mem, size: size}, nil
}

// Bytes is the writable view, exactly the requested size.
func (b *Builder) Bytes() []byte {
	return b.mem[:b.size:b.size]
}

// Base is the address the first byte will execute at.
func (b *Builder) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
}

// Finalize flips the region to read/execute and hands it over as Code.
// The builder is spent either way; on failure the region is unmapped.
func (b *Builder) Finalize() (*Code, error) {
	if b.mem == nil {
		return nil, errors.New("builder already finalized or aborted")
	}
	mem := b.mem
	b.mem = nil
	if err := b.alloc.Protect(mem); err != nil {
		_ = b.alloc.Unmap(mem)
		return nil, jiterr.Wrap(jiterr.ResourceExhausted, err, "make code executable")
	}
	return &Code{
		alloc: b.alloc,
		mem:   mem,
		size:  b.size,
		entry: uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
	}, nil
}

// Abort unmaps the region. It is a no-op after Finalize or a prior Abort.
func (b *Builder) Abort() {
	if b.mem == nil {
		return
	}
	_ = b.alloc.Unmap(b.mem)
	b.mem = nil
}
