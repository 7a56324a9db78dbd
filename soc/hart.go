package soc

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Hart models the external interrupt input of a core. While the input
// is asserted and enabled, the hart runs the registered vector in its
// own goroutine, which stands in for interrupt context.
type Hart struct {
	wake    chan struct{}
	done    chan struct{}
	level   atomic.Bool
	enabled atomic.Bool
	vector  atomic.Pointer[func()]
	taken   atomic.Uint64
	wg      sync.WaitGroup
}

func NewHart() *Hart {
	h := &Hart{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// SetVector sets the external interrupt routine.
func (h *Hart) SetVector(f func()) {
	h.vector.Store(&f)
	h.kick()
}

// EnableExternal masks or unmasks the external interrupt.
func (h *Hart) EnableExternal(on bool) {
	h.enabled.Store(on)
	if on {
		h.kick()
	}
}

// SetExternal drives the external interrupt input. It never blocks and
// may be called with device locks held.
func (h *Hart) SetExternal(level bool) {
	h.level.Store(level)
	if level {
		h.kick()
	}
}

// Interrupts returns the number of times the vector ran.
func (h *Hart) Interrupts() uint64 {
	return h.taken.Load()
}

func (h *Hart) kick() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Hart) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
		}
		for h.enabled.Load() && h.level.Load() {
			v := h.vector.Load()
			if v == nil {
				break
			}
			h.taken.Add(1)
			(*v)()
			select {
			case <-h.done:
				return
			default:
			}
			runtime.Gosched()
		}
	}
}

// Close stops the hart.
func (h *Hart) Close() {
	close(h.done)
	h.wg.Wait()
}
