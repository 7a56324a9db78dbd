package cdma

import (
	"log"

	"uninasoc.org/driver/plic"
)

var _ plic.Handler = (*Channel)(nil)

// ServeIRQ is the channel's interrupt handler. It records the completion
// and error bits, acknowledges them and marks the transfer done. The
// dispatcher completes the interrupt source afterwards.
func (c *Channel) ServeIRQ(src uint32) {
	sr := c.read(regSR)
	irq := IRQ(sr) & (IRQComplete | IRQError)
	if irq&IRQError != 0 {
		log.Printf("cdma: error interrupt on source %d, status %#08x", src, sr)
	}
	c.write(regSR, uint32(IRQAll))
	c.lastIRQ.Store(uint32(irq))
	c.TransferDone()
}
