package plic

import (
	"fmt"
	"log"
)

// A Handler services the interrupt of a single source. It runs in
// interrupt context: it must acknowledge the device and return
// without blocking.
type Handler interface {
	ServeIRQ(src uint32)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(src uint32)

func (f HandlerFunc) ServeIRQ(src uint32) {
	f(src)
}

// Dispatcher routes external interrupts to the handlers registered for
// their source. Handlers are registered during start-up, before the
// external interrupt is enabled.
type Dispatcher struct {
	plic     *PLIC
	handlers [MaxSourceID + 1]Handler
}

func NewDispatcher(p *PLIC) *Dispatcher {
	return &Dispatcher{plic: p}
}

// Handle registers h for src, replacing any previous handler. A nil h
// removes the registration.
func (d *Dispatcher) Handle(src uint32, h Handler) {
	if !ValidSource(src) {
		panic(fmt.Sprintf("plic: invalid interrupt source %d", src))
	}
	d.handlers[src] = h
}

func (d *Dispatcher) HandleFunc(src uint32, f func(src uint32)) {
	d.Handle(src, HandlerFunc(f))
}

// Serve is the external interrupt routine. It claims the pending
// source, runs its handler and completes the claim. Sources without a
// handler are logged and completed so the line is not lost.
func (d *Dispatcher) Serve() {
	src := d.plic.Claim()
	var h Handler
	if ValidSource(src) {
		h = d.handlers[src]
	}
	switch {
	case h != nil:
		h.ServeIRQ(src)
	case src != 0:
		log.Printf("plic: unrecognized interrupt source %d", src)
	}
	d.plic.Complete(src)
}
