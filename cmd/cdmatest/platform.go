package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"uninasoc.org/memmap"
	"uninasoc.org/mmio"
	"uninasoc.org/soc"
)

// Addrs are the bus addresses of the devices.
type Addrs struct {
	CDMA uintptr
	PLIC uintptr
}

// buffer is DMA-able memory.
type buffer interface {
	Bytes() []byte
	// Addr is the bus address of the buffer.
	Addr() uintptr
	Close() error
}

type platform interface {
	Bus() mmio.Bus
	Addrs() Addrs
	Alloc(size int) (buffer, error)
	// Interrupts runs vector whenever the external interrupt is
	// asserted, until the platform is closed.
	Interrupts(vector func()) error
	Close() error
}

func openPlatform(ctx context.Context, opts *options) (platform, error) {
	var m *memmap.Map
	if len(opts.busConfig) > 0 {
		var err error
		m, err = memmap.ReadFiles(opts.busConfig...)
		if err != nil {
			return nil, err
		}
	}
	if opts.hw {
		if m == nil {
			return nil, errors.New("--hw requires --bus-config")
		}
		return openHardware(ctx, m, opts.uio)
	}
	cfg := soc.DefaultConfig()
	if m != nil {
		var err error
		cfg, err = soc.ConfigFromMap(m)
		if err != nil {
			return nil, err
		}
	}
	cfg.CDMAIRQ = opts.irq
	return newSimPlatform(cfg)
}

// simPlatform runs on a simulated SoC. Buffers are carved from its
// memory and never reused.
type simPlatform struct {
	sim  *soc.Simulator
	next uint64
}

func newSimPlatform(cfg soc.Config) (*simPlatform, error) {
	s, err := soc.NewSimulator(cfg)
	if err != nil {
		return nil, err
	}
	return &simPlatform{sim: s, next: s.RAM.Base()}, nil
}

func (p *simPlatform) Bus() mmio.Bus {
	return p.sim.Bus
}

func (p *simPlatform) Addrs() Addrs {
	return Addrs{CDMA: p.sim.Config.CDMABase, PLIC: p.sim.Config.PLICBase}
}

type simBuffer struct {
	mem  []byte
	addr uint64
}

func (b *simBuffer) Bytes() []byte { return b.mem }
func (b *simBuffer) Addr() uintptr { return uintptr(b.addr) }
func (b *simBuffer) Close() error { return nil }

// bufferAlign keeps buffers on separate cache lines.
const bufferAlign = 64

func (p *simPlatform) Alloc(size int) (buffer, error) {
	mem, err := p.sim.RAM.Bytes(p.next, size)
	if err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	b := &simBuffer{mem: mem, addr: p.next}
	p.next += (uint64(size) + bufferAlign - 1) &^ (bufferAlign - 1)
	return b, nil
}

func (p *simPlatform) Interrupts(vector func()) error {
	p.sim.Hart.SetVector(vector)
	p.sim.Hart.EnableExternal(true)
	return nil
}

func (p *simPlatform) Close() error {
	return p.sim.Close()
}

func word(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func putWord(b []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(b[i*4:], v)
}
