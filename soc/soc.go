// Package soc simulates the parts of the SoC the DMA drivers talk to:
// system memory, the interrupt controller, the CDMA engine and the
// external interrupt input of the core.
package soc

import (
	"errors"
	"fmt"

	"uninasoc.org/driver/cdma"
	"uninasoc.org/driver/plic"
	"uninasoc.org/memmap"
	"uninasoc.org/mmio"
)

// Config is the simulated address map.
type Config struct {
	RAMBase  uintptr
	RAMSize  int
	PLICBase uintptr
	CDMABase uintptr
	// CDMAIRQ is the interrupt controller source the engine drives.
	CDMAIRQ uint32
	CDMA    cdma.SimConfig
}

// Address map names used by ConfigFromMap.
const (
	RangePLIC = "PLIC"
	RangeCDMA = "DMA0"
)

// DefaultIRQ is the interrupt source of the CDMA engine.
const DefaultIRQ = 6

// maxRAM bounds the simulated memory regardless of the size of the
// memory range.
const maxRAM = 16 << 20

func DefaultConfig() Config {
	return Config{
		RAMBase:  0x8000_0000,
		RAMSize:  1 << 20,
		PLICBase: 0x0400_0000,
		CDMABase: 0x0003_0000,
		CDMAIRQ:  DefaultIRQ,
	}
}

var ErrNoRange = errors.New("soc: address range missing")

// ConfigFromMap places the simulated devices at the addresses of an SoC
// address map. System memory is the first memory range.
func ConfigFromMap(m *memmap.Map) (Config, error) {
	cfg := DefaultConfig()
	mem := m.Memory()
	if len(mem) == 0 {
		return Config{}, fmt.Errorf("%w: memory", ErrNoRange)
	}
	cfg.RAMBase = uintptr(mem[0].Base)
	cfg.RAMSize = maxRAM
	if s := mem[0].Size(); s < maxRAM {
		cfg.RAMSize = int(s)
	}
	p, ok := m.Lookup(RangePLIC)
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNoRange, RangePLIC)
	}
	cfg.PLICBase = uintptr(p.Base)
	c, ok := m.Lookup(RangeCDMA)
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNoRange, RangeCDMA)
	}
	cfg.CDMABase = uintptr(c.Base)
	return cfg, nil
}

// Simulator is a running simulated SoC. Bus decodes the full address
// map.
type Simulator struct {
	Config Config
	Bus    *mmio.Decoder
	RAM    *RAM
	PLIC   *plic.Simulator
	CDMA   *cdma.Simulator
	Hart   *Hart
}

func NewSimulator(cfg Config) (*Simulator, error) {
	if !plic.ValidSource(cfg.CDMAIRQ) {
		return nil, fmt.Errorf("soc: invalid CDMA interrupt source %d", cfg.CDMAIRQ)
	}
	s := &Simulator{
		Config: cfg,
		Bus:    new(mmio.Decoder),
		RAM:    NewRAM(uint64(cfg.RAMBase), cfg.RAMSize),
		Hart:   NewHart(),
	}
	s.PLIC = plic.NewSimulator(s.Hart.SetExternal)
	s.CDMA = cdma.NewSimulator(cfg.CDMA, s.RAM, func(level bool) {
		s.PLIC.SetLine(cfg.CDMAIRQ, level)
	})
	devs := []struct {
		name string
		base uintptr
		size uintptr
		dev  mmio.Bus
	}{
		{"memory", cfg.RAMBase, uintptr(cfg.RAMSize), s.RAM},
		{"interrupt controller", cfg.PLICBase, plic.Size, s.PLIC},
		{"cdma", cfg.CDMABase, cdma.Size, s.CDMA},
	}
	for _, d := range devs {
		if err := s.Bus.Map(d.base, d.size, d.dev); err != nil {
			s.Close()
			return nil, fmt.Errorf("soc: %s: %w", d.name, err)
		}
	}
	return s, nil
}

// Close stops the hart after running transfers have finished.
func (s *Simulator) Close() error {
	err := s.CDMA.Close()
	s.Hart.Close()
	return err
}
