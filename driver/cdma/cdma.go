// Package cdma implements a driver for the Xilinx AXI Central DMA
// controller in simple transfer mode.
package cdma

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"periph.io/x/conn/v3"
	"uninasoc.org/mmio"
)

const (
	// DefaultResetLoopLimit bounds the reads of the control register
	// while waiting for a reset to finish.
	DefaultResetLoopLimit = 1000000
	// DefaultPollLimit is a generous iteration bound for WaitIdle and
	// Wait.
	DefaultPollLimit = 10000000

	minWordLen = 4
)

var (
	ErrInvalidParam   = errors.New("cdma: invalid parameter")
	ErrBusy           = errors.New("cdma: engine busy")
	ErrPending        = errors.New("cdma: previous transfer still pending")
	ErrResetTimeout   = errors.New("cdma: reset timeout")
	ErrTimeout        = errors.New("cdma: timeout waiting for transfer")
	ErrNotInitialized = errors.New("cdma: channel not initialized")
)

// TransferError reports a transfer that ended with datamover errors.
type TransferError struct {
	Fault Fault
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("cdma: transfer failed: %v", e.Fault)
}

// Config describes a synthesized CDMA core.
type Config struct {
	DeviceID    uint32
	BaseAddress uintptr
	// HasDRE is set when the data realignment engine is present and
	// transfers may start or end on any byte.
	HasDRE bool
	// IsLite is set for register-only builds.
	IsLite    bool
	DataWidth int // bits
	BurstLen  int
	AddrWidth int // bits

	// ResetLoopLimit overrides DefaultResetLoopLimit when non-zero.
	ResetLoopLimit int
}

// DescriptorCounts are the scatter-gather descriptor counters. Simple
// mode never uses descriptors and they stay zero.
type DescriptorCounts struct {
	All, Free, Pre, HW, Post int
}

// Channel is an initialized DMA channel. A Channel is owned by the code
// that created it. Only its in-flight flag is shared with the interrupt
// handler.
type Channel struct {
	bus  mmio.Bus
	base uintptr

	deviceID    uint32
	hasDRE      bool
	isLite      bool
	wordLen     int
	addrWidth   int
	simpleOnly  bool
	maxTransLen int
	descs       DescriptorCounts
	resetLimit  int
	initialized bool

	// inFlight is set by SimpleTransfer and cleared by TransferDone.
	// At most one transfer is outstanding, so the foreground only
	// sets it and the handler only clears it.
	inFlight atomic.Bool
	// lastIRQ holds the interrupt bits observed by the handler for
	// the most recent transfer.
	lastIRQ atomic.Uint32
}

var _ conn.Resource = (*Channel)(nil)

// New initializes the channel at base: it validates the configuration,
// resets the engine and waits for the reset to finish.
func New(bus mmio.Bus, cfg *Config, base uintptr) (*Channel, error) {
	c := &Channel{
		bus:       bus,
		base:      base,
		deviceID:  cfg.DeviceID,
		hasDRE:    cfg.HasDRE,
		isLite:    cfg.IsLite,
		wordLen:   cfg.DataWidth >> 3,
		addrWidth: cfg.AddrWidth,
	}
	if c.wordLen < minWordLen {
		return nil, fmt.Errorf("%w: word length %d", ErrInvalidParam, c.wordLen)
	}
	c.simpleOnly = c.read(regSR)&statusSGIncluded == 0
	if c.simpleOnly && cfg.IsLite {
		c.maxTransLen = c.wordLen * cfg.BurstLen
	} else {
		c.maxTransLen = maxLength
	}

	c.resetLimit = cfg.ResetLoopLimit
	if c.resetLimit == 0 {
		c.resetLimit = DefaultResetLoopLimit
	}
	c.Reset()
	if err := c.waitReset(); err != nil {
		return nil, err
	}
	c.descs = DescriptorCounts{}
	c.initialized = true
	return c, nil
}

func (c *Channel) read(off uintptr) uint32 {
	return c.bus.Read32(c.base + off)
}

func (c *Channel) write(off uintptr, v uint32) {
	c.bus.Write32(c.base+off, v)
}

// Reset starts a reset of the engine and forgets any transfer in
// flight. It does not wait; see ResetDone.
func (c *Channel) Reset() {
	c.write(regCR, ctrlReset)
	c.inFlight.Store(false)
}

// ResetDone reports whether the last reset has finished.
func (c *Channel) ResetDone() bool {
	return c.read(regCR)&ctrlReset == 0
}

// Busy reports whether the hardware is not idle, regardless of the
// driver's own bookkeeping.
func (c *Channel) Busy() bool {
	return c.read(regSR)&statusIdle == 0
}

// SimpleTransfer starts copying n bytes from src to dst and returns
// without waiting. A rejected transfer leaves the registers untouched.
func (c *Channel) SimpleTransfer(src, dst uintptr, n int) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	if n < 1 || n > maxLength {
		return fmt.Errorf("%w: length %d", ErrInvalidParam, n)
	}
	wordMask := uintptr(c.wordLen - 1)
	if (src&wordMask != 0 || dst&wordMask != 0) && !c.hasDRE {
		return fmt.Errorf("%w: unaligned transfer without realignment engine", ErrInvalidParam)
	}
	if c.Busy() {
		return ErrBusy
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return ErrPending
	}
	c.lastIRQ.Store(0)

	c.write(regSA, uint32(src))
	if c.addrWidth > 32 {
		c.write(regSAMSB, uint32(uint64(src)>>32))
	}
	c.write(regDA, uint32(dst))
	if c.addrWidth > 32 {
		c.write(regDAMSB, uint32(uint64(dst)>>32))
	}
	// Writing the length starts the transfer.
	c.write(regBTT, uint32(n))
	return nil
}

// TransferDone clears the in-flight flag. The interrupt handler calls
// it after acknowledging completion; callers abandoning a wait call it
// once Busy reports false.
func (c *Channel) TransferDone() {
	c.inFlight.Store(false)
}

// InFlight reports whether a submitted transfer has not been marked
// done.
func (c *Channel) InFlight() bool {
	return c.inFlight.Load()
}

// EnableInterrupts sets the interrupt enable bits in mask.
func (c *Channel) EnableInterrupts(mask IRQ) {
	cr := c.read(regCR)
	c.write(regCR, cr|uint32(mask&IRQAll))
}

// DisableInterrupts clears the interrupt enable bits in mask.
func (c *Channel) DisableInterrupts(mask IRQ) {
	cr := c.read(regCR)
	c.write(regCR, cr&^uint32(mask&IRQAll))
}

// PendingInterrupts returns the completion and error bits of the status
// register.
func (c *Channel) PendingInterrupts() IRQ {
	return IRQ(c.read(regSR)) & (IRQComplete | IRQError)
}

// AckInterrupts clears the interrupt bits in mask.
func (c *Channel) AckInterrupts(mask IRQ) {
	c.write(regSR, uint32(mask&IRQAll))
}

// Error returns the datamover error bits. They stay set until the next
// reset.
func (c *Channel) Error() Fault {
	return Fault(c.read(regSR)) & FaultAll
}

// KeyholeDir selects the side of a keyhole transfer.
type KeyholeDir int

const (
	KeyholeRead KeyholeDir = iota
	KeyholeWrite
)

// SelectKeyhole switches fixed-address (keyhole) access on or off for
// one side of the transfer. It is rejected while the engine is busy.
func (c *Channel) SelectKeyhole(dir KeyholeDir, on bool) error {
	var bit uint32
	switch dir {
	case KeyholeRead:
		bit = ctrlKeyholeRead
	case KeyholeWrite:
		bit = ctrlKeyholeWrite
	default:
		return fmt.Errorf("%w: keyhole direction %d", ErrInvalidParam, dir)
	}
	if c.Busy() {
		return ErrBusy
	}
	cr := c.read(regCR)
	if on {
		cr |= bit
	} else {
		cr &^= bit
	}
	c.write(regCR, cr)
	return nil
}

// WaitIdle busy-waits for the engine to go idle, checking at most limit
// times. The transfer is not marked done.
func (c *Channel) WaitIdle(limit int) error {
	for n := 0; c.Busy(); n++ {
		if n >= limit {
			return ErrTimeout
		}
		runtime.Gosched()
	}
	return nil
}

// Wait busy-waits, at most limit iterations, for the interrupt handler
// to finish the transfer in flight.
func (c *Channel) Wait(limit int) error {
	for n := 0; c.inFlight.Load(); n++ {
		if n >= limit {
			return ErrTimeout
		}
		runtime.Gosched()
	}
	if IRQ(c.lastIRQ.Load())&IRQError != 0 {
		return &TransferError{Fault: c.Error()}
	}
	return nil
}

// LastInterrupt returns the interrupt bits the handler observed for the
// most recent transfer.
func (c *Channel) LastInterrupt() IRQ {
	return IRQ(c.lastIRQ.Load())
}

// DumpRegisters writes the simple mode registers to w.
func (c *Channel) DumpRegisters(w io.Writer) error {
	regs := []struct {
		name string
		off  uintptr
	}{
		{"CR", regCR}, {"SR", regSR}, {"SRC", regSA}, {"DST", regDA}, {"BTT", regBTT},
	}
	if _, err := fmt.Fprintf(w, "=== AXI CDMA %d registers ===\n", c.deviceID); err != nil {
		return err
	}
	for _, r := range regs {
		if _, err := fmt.Fprintf(w, "%-4s: %#08x\n", r.name, c.read(r.off)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) Initialized() bool {
	return c.initialized
}

func (c *Channel) WordLen() int {
	return c.wordLen
}

// MaxTransferLen is the longest transfer the build supports.
func (c *Channel) MaxTransferLen() int {
	return c.maxTransLen
}

// SimpleOnly reports whether the core was built without scatter-gather
// support.
func (c *Channel) SimpleOnly() bool {
	return c.simpleOnly
}

func (c *Channel) Descriptors() DescriptorCounts {
	return c.descs
}

func (c *Channel) String() string {
	return fmt.Sprintf("cdma%d@%#x", c.deviceID, c.base)
}

// Halt disables the channel interrupts and resets the engine.
func (c *Channel) Halt() error {
	c.DisableInterrupts(IRQAll)
	c.Reset()
	return c.waitReset()
}

func (c *Channel) waitReset() error {
	for range c.resetLimit {
		if c.ResetDone() {
			return nil
		}
	}
	return ErrResetTimeout
}
