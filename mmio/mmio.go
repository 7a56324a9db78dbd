// Package mmio provides 32-bit register access to memory-mapped
// peripherals.
package mmio

import (
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"
)

// Bus reads and writes 32-bit registers. Every access goes to the
// device; implementations must not cache values.
type Bus interface {
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
}

// Window is a Bus over a byte range that is usually backed by a
// memory mapping. Addresses are offsets from the start of the range.
type Window struct {
	words []uint32
}

// NewWindow returns a Window for mem. The length of mem must be a
// multiple of 4 and its start 4 byte aligned.
func NewWindow(mem []byte) *Window {
	if len(mem)%4 != 0 {
		panic("mmio: window length not a multiple of 4")
	}
	if len(mem) == 0 {
		return &Window{}
	}
	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		panic("mmio: unaligned window")
	}
	return &Window{
		words: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), len(mem)/4),
	}
}

func (w *Window) Size() uintptr {
	return uintptr(len(w.words)) * 4
}

func (w *Window) Read32(off uintptr) uint32 {
	return atomic.LoadUint32(w.word(off))
}

func (w *Window) Write32(off uintptr, v uint32) {
	atomic.StoreUint32(w.word(off), v)
}

func (w *Window) word(off uintptr) *uint32 {
	if off%4 != 0 {
		panic(fmt.Sprintf("mmio: unaligned access at %#x", off))
	}
	idx := off / 4
	if idx >= uintptr(len(w.words)) {
		panic(fmt.Sprintf("mmio: access at %#x outside window", off))
	}
	return &w.words[idx]
}

type region struct {
	base, size uintptr
	dev        Bus
}

// Decoder routes absolute addresses to the devices mapped into its
// address space. Devices see offsets from their base address. A
// Decoder must not be modified after the first access.
type Decoder struct {
	regions []region
}

// Map adds dev at [base, base+size).
func (d *Decoder) Map(base, size uintptr, dev Bus) error {
	if size == 0 {
		return fmt.Errorf("mmio: empty region at %#x", base)
	}
	for _, r := range d.regions {
		if base < r.base+r.size && r.base < base+size {
			return fmt.Errorf("mmio: region [%#x, %#x) overlaps [%#x, %#x)", base, base+size, r.base, r.base+r.size)
		}
	}
	d.regions = append(d.regions, region{base: base, size: size, dev: dev})
	sort.Slice(d.regions, func(i, j int) bool {
		return d.regions[i].base < d.regions[j].base
	})
	return nil
}

func (d *Decoder) Read32(addr uintptr) uint32 {
	r := d.lookup(addr)
	return r.dev.Read32(addr - r.base)
}

func (d *Decoder) Write32(addr uintptr, v uint32) {
	r := d.lookup(addr)
	r.dev.Write32(addr-r.base, v)
}

func (d *Decoder) lookup(addr uintptr) region {
	i := sort.Search(len(d.regions), func(i int) bool {
		return d.regions[i].base+d.regions[i].size > addr
	})
	if i == len(d.regions) || addr < d.regions[i].base {
		panic(fmt.Sprintf("mmio: no device at %#x", addr))
	}
	return d.regions[i]
}
