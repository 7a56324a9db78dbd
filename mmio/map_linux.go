//go:build linux

package mmio

import (
	"fmt"

	"periph.io/x/host/v3/pmem"
)

// Mapping is a Window onto physical memory.
type Mapping struct {
	*Window
	view *pmem.View
}

// Map maps size bytes of physical memory at base through /dev/mem. It
// normally requires root.
func Map(base uint64, size int) (*Mapping, error) {
	v, err := pmem.Map(base, size)
	if err != nil {
		return nil, fmt.Errorf("mmio: map %#x: %w", base, err)
	}
	return &Mapping{Window: NewWindow(v.Bytes()), view: v}, nil
}

func (m *Mapping) Close() error {
	return m.view.Close()
}

// Buffer is physically contiguous memory usable as a DMA source or
// destination.
type Buffer struct {
	alloc *pmem.MemAlloc
}

// Alloc allocates a DMA buffer. The size is rounded up to whole 4 KiB
// pages.
func Alloc(size int) (*Buffer, error) {
	const page = 4096
	size = (size + page - 1) &^ (page - 1)
	a, err := pmem.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("mmio: alloc %d bytes: %w", size, err)
	}
	return &Buffer{alloc: a}, nil
}

func (b *Buffer) Bytes() []byte {
	return b.alloc.Bytes()
}

// PhysAddr is the bus address of the first byte of the buffer.
func (b *Buffer) PhysAddr() uintptr {
	return uintptr(b.alloc.PhysAddr())
}

// Close frees the physical allocation.
func (b *Buffer) Close() error {
	return b.alloc.Close()
}
