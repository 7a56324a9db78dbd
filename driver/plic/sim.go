package plic

import (
	"sync"
)

// Size is the extent of the controller's register space.
const Size = 0x400_0000

// Simulator models the controller's registers for context 0. Sources
// are level triggered: the gateway latches a request when the line is
// asserted and the source is not in service, and re-latches on
// completion if the line is still asserted.
type Simulator struct {
	mu        sync.Mutex
	priority  [MaxSourceID + 1]uint32
	line      uint32
	pending   uint32
	inService uint32
	enable    uint32
	threshold uint32
	output    bool

	// notify receives the level of the external interrupt line on
	// every change.
	notify func(level bool)
}

// NewSimulator returns a controller reporting its output line to
// notify. A nil notify leaves the line unconnected.
func NewSimulator(notify func(level bool)) *Simulator {
	if notify == nil {
		notify = func(bool) {}
	}
	return &Simulator{notify: notify}
}

// SetLine sets the level of the interrupt line of source src.
func (s *Simulator) SetLine(src uint32, level bool) {
	if !ValidSource(src) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bit := uint32(1) << src
	if level {
		s.line |= bit
		if s.inService&bit == 0 {
			s.pending |= bit
		}
	} else {
		s.line &^= bit
	}
	s.update()
}

// Output reports the level of the external interrupt line.
func (s *Simulator) Output() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Simulator) Read32(off uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case off < regPending:
		if src := off / 4; src <= MaxSourceID {
			return s.priority[src]
		}
	case off == regPending:
		return s.pending
	case off == regEnable:
		return s.enable
	case off == regThreshold:
		return s.threshold
	case off == regClaim:
		return s.claim()
	}
	return 0
}

func (s *Simulator) Write32(off uintptr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case off < regPending:
		// Source 0 is hardwired to zero.
		if src := off / 4; src >= 1 && src <= MaxSourceID {
			s.priority[src] = v & 0x7
		}
	case off == regEnable:
		s.enable = v &^ 1
	case off == regThreshold:
		s.threshold = v & 0x7
	case off == regClaim:
		s.complete(v)
	}
	s.update()
}

func (s *Simulator) claim() uint32 {
	best, bestPrio := uint32(0), uint32(0)
	for src := uint32(1); src <= MaxSourceID; src++ {
		if !s.eligible(src) {
			continue
		}
		if p := s.priority[src]; p > bestPrio {
			best, bestPrio = src, p
		}
	}
	if best != 0 {
		bit := uint32(1) << best
		s.pending &^= bit
		s.inService |= bit
	}
	s.update()
	return best
}

func (s *Simulator) complete(src uint32) {
	if !ValidSource(src) {
		return
	}
	bit := uint32(1) << src
	if s.inService&bit == 0 {
		return
	}
	s.inService &^= bit
	if s.line&bit != 0 {
		s.pending |= bit
	}
}

func (s *Simulator) eligible(src uint32) bool {
	bit := uint32(1) << src
	return s.pending&s.enable&bit != 0 && s.priority[src] > s.threshold
}

func (s *Simulator) update() {
	level := false
	for src := uint32(1); src <= MaxSourceID; src++ {
		if s.eligible(src) {
			level = true
			break
		}
	}
	if level != s.output {
		s.output = level
		s.notify(level)
	}
}
