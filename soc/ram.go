package soc

import (
	"encoding/binary"
	"fmt"
)

// RAM is simulated system memory. As a register device it is addressed
// by offset from its base, as the DMA engine sees it by bus address.
type RAM struct {
	base uint64
	mem  []byte
}

func NewRAM(base uint64, size int) *RAM {
	return &RAM{base: base, mem: make([]byte, size)}
}

func (r *RAM) Base() uint64 {
	return r.base
}

func (r *RAM) Size() int {
	return len(r.mem)
}

// Bytes returns the n bytes of memory at bus address addr.
func (r *RAM) Bytes(addr uint64, n int) ([]byte, error) {
	if addr < r.base || n < 0 || addr-r.base+uint64(n) > uint64(len(r.mem)) {
		return nil, fmt.Errorf("soc: %d bytes at %#x outside memory", n, addr)
	}
	off := addr - r.base
	return r.mem[off : off+uint64(n)], nil
}

func (r *RAM) ReadAt(p []byte, off int64) (int, error) {
	m, err := r.Bytes(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, m), nil
}

func (r *RAM) WriteAt(p []byte, off int64) (int, error) {
	m, err := r.Bytes(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(m, p), nil
}

func (r *RAM) Read32(off uintptr) uint32 {
	return binary.LittleEndian.Uint32(r.word(off))
}

func (r *RAM) Write32(off uintptr, v uint32) {
	binary.LittleEndian.PutUint32(r.word(off), v)
}

func (r *RAM) word(off uintptr) []byte {
	if off%4 != 0 || off+4 > uintptr(len(r.mem)) {
		panic(fmt.Sprintf("soc: invalid memory access at offset %#x", off))
	}
	return r.mem[off : off+4]
}
