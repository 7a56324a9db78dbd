package cdma

import "strings"

// Register offsets from the channel base.
const (
	regCR    = 0x00 // control
	regSR    = 0x04 // status
	regCDESC = 0x08 // current descriptor
	regTDESC = 0x10 // tail descriptor
	regSA    = 0x18 // source address
	regSAMSB = 0x1c // source address, upper 32 bits
	regDA    = 0x20 // destination address
	regDAMSB = 0x24 // destination address, upper 32 bits
	regBTT   = 0x28 // bytes to transfer
)

// Size is the extent of the channel's register space.
const Size = 0x1000

// maxLength is the largest value of the 23 bit length field.
const maxLength = 0x7f_ffff

// Control register.
const (
	ctrlReset        = 0x04
	ctrlSGMode       = 0x08
	ctrlKeyholeRead  = 0x10
	ctrlKeyholeWrite = 0x20
)

// Status register.
const (
	statusIdle       = 0x02
	statusSGIncluded = 0x08
)

// IRQ is a set of interrupt bits. They are enabled in the control
// register and reported in the status register at the same positions.
type IRQ uint32

const (
	IRQComplete IRQ = 0x1000
	IRQDelay    IRQ = 0x2000
	IRQError    IRQ = 0x4000
	IRQAll      IRQ = 0x7000
)

// Fault is a set of datamover error bits from the status register.
type Fault uint32

const (
	FaultInternal Fault = 0x10
	FaultSlave    Fault = 0x20
	FaultDecode   Fault = 0x40
	FaultAll      Fault = 0x70
)

func (f Fault) String() string {
	if f&FaultAll == 0 {
		return "no error"
	}
	var names []string
	if f&FaultInternal != 0 {
		names = append(names, "internal error")
	}
	if f&FaultSlave != 0 {
		names = append(names, "slave error")
	}
	if f&FaultDecode != 0 {
		names = append(names, "decode error")
	}
	return strings.Join(names, "|")
}
