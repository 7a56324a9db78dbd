// Package plic implements a driver for the RISC-V platform-level
// interrupt controller that multiplexes the SoC interrupt sources onto
// the core's external interrupt line.
//
// Only context 0 (the single hart, machine mode) is driven.
package plic

import (
	"uninasoc.org/mmio"
)

const (
	// MaxSourceID is the highest source identifier. Source 0 is
	// reserved and means "no interrupt".
	MaxSourceID = 31
	// DefaultSources is the number of sources wired on the SoC.
	DefaultSources = 6

	// drainLimit bounds the claims Init performs while draining
	// interrupts left pending by a previous owner.
	drainLimit = 1024
)

// Register offsets from the controller base.
const (
	regPriority  = 0x000000
	regPending   = 0x001000
	regEnable    = 0x002000
	regThreshold = 0x200000
	regClaim     = 0x200004
)

// PLIC is the interrupt controller. It is the only writer of the
// priority registers.
type PLIC struct {
	bus  mmio.Bus
	base uintptr

	priorities [MaxSourceID + 1]uint32
	max        int
	active     int
}

// New returns a driver for the controller at base with at most sources
// active interrupt sources. Zero selects DefaultSources.
func New(bus mmio.Bus, base uintptr, sources int) *PLIC {
	if sources == 0 {
		sources = DefaultSources
	}
	if sources < 0 || sources > MaxSourceID {
		panic("plic: invalid source count")
	}
	return &PLIC{bus: bus, base: base, max: sources, active: sources}
}

// ValidSource reports whether src names an interrupt source. The
// register accessors do not validate their arguments.
func ValidSource(src uint32) bool {
	return src >= 1 && src <= MaxSourceID
}

// Init resets every priority, drains pending claims and disables all
// sources.
func (p *PLIC) Init() {
	for id := uint32(1); id <= MaxSourceID; id++ {
		p.SetPriority(id, 0)
	}
	for range drainLimit {
		id := p.Claim()
		if id == 0 {
			break
		}
		p.Complete(id)
	}
	p.SetThreshold(0)
	p.bus.Write32(p.base+regEnable, 0)
}

// SetPriority sets the priority of a single source. Priority 0 never
// interrupts.
func (p *PLIC) SetPriority(src, priority uint32) {
	if ValidSource(src) {
		p.priorities[src] = priority
	}
	p.bus.Write32(p.base+regPriority+4*uintptr(src), priority)
}

// SetPriorities configures the active sources from 1, in order. A list
// shorter than the controller's source count narrows the sources
// enabled by EnableAll to its length. A longer list only configures
// the active sources and never widens them again.
func (p *PLIC) SetPriorities(priorities []uint32) {
	if len(priorities) < p.max {
		p.active = len(priorities)
	}
	for i := range min(len(priorities), p.active) {
		p.SetPriority(uint32(i+1), priorities[i])
	}
}

// EnableAll enables every active source with a single write.
func (p *PLIC) EnableAll() {
	p.bus.Write32(p.base+regEnable, p.enableMask())
}

func (p *PLIC) enableMask() uint32 {
	var mask uint32
	for id := 1; id <= p.active; id++ {
		mask |= 1 << id
	}
	return mask
}

// SetThreshold masks every source with a priority less than or equal
// to t. Zero is the most permissive threshold.
func (p *PLIC) SetThreshold(t uint32) {
	p.bus.Write32(p.base+regThreshold, t)
}

// Claim returns the highest priority pending source, or 0 if none is
// pending. It must only be called from the external interrupt handler,
// and every claim must be followed by exactly one Complete.
func (p *PLIC) Claim() uint32 {
	return p.bus.Read32(p.base + regClaim)
}

// Complete signals that src was serviced and may interrupt again. Call
// it after the device's own interrupt status has been acknowledged.
func (p *PLIC) Complete(src uint32) {
	p.bus.Write32(p.base+regClaim, src)
}

// Pending reports whether src is latched as pending.
func (p *PLIC) Pending(src uint32) bool {
	word := p.bus.Read32(p.base + regPending + 4*uintptr(src/32))
	return word&(1<<(src%32)) != 0
}

// Priority returns the last priority configured for src.
func (p *PLIC) Priority(src uint32) uint32 {
	if !ValidSource(src) {
		return 0
	}
	return p.priorities[src]
}

// ActiveSources is the number of sources EnableAll enables.
func (p *PLIC) ActiveSources() int {
	return p.active
}
