//go:build !linux

package mmio

import "errors"

var errNoPhysMem = errors.New("mmio: physical memory access requires linux")

type Mapping struct {
	*Window
}

func Map(base uint64, size int) (*Mapping, error) {
	return nil, errNoPhysMem
}

func (m *Mapping) Close() error {
	return errNoPhysMem
}

type Buffer struct{}

func Alloc(size int) (*Buffer, error) {
	return nil, errNoPhysMem
}

func (b *Buffer) Bytes() []byte { return nil }
func (b *Buffer) PhysAddr() uintptr { return 0 }
func (b *Buffer) Close() error { return errNoPhysMem }
