package plic

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
)

// scriptBus answers claim reads from a script and records every
// access.
type scriptBus struct {
	claims []uint32
	stuck  uint32
	regs   map[uintptr]uint32
	ops    []string
}

func newScriptBus(claims ...uint32) *scriptBus {
	return &scriptBus{claims: claims, regs: make(map[uintptr]uint32)}
}

func (b *scriptBus) Read32(addr uintptr) uint32 {
	if addr == regClaim {
		v := b.stuck
		if len(b.claims) > 0 {
			v, b.claims = b.claims[0], b.claims[1:]
		}
		b.ops = append(b.ops, fmt.Sprintf("claim %d", v))
		return v
	}
	return b.regs[addr]
}

func (b *scriptBus) Write32(addr uintptr, v uint32) {
	if addr == regClaim {
		b.ops = append(b.ops, fmt.Sprintf("complete %d", v))
	}
	b.regs[addr] = v
}

func TestInitDrainsPendingClaims(t *testing.T) {
	bus := newScriptBus(3, 5, 2, 0)
	bus.regs[regEnable] = 0xff
	bus.regs[regThreshold] = 7
	p := New(bus, 0, 0)
	p.Init()
	want := []string{"claim 3", "complete 3", "claim 5", "complete 5", "claim 2", "complete 2", "claim 0"}
	if got := strings.Join(bus.ops, ", "); got != strings.Join(want, ", ") {
		t.Errorf("drain sequence\ngot:  %s\nwant: %s", got, strings.Join(want, ", "))
	}
	for id := uintptr(1); id <= MaxSourceID; id++ {
		if v, ok := bus.regs[regPriority+4*id]; !ok || v != 0 {
			t.Errorf("priority of source %d not reset", id)
		}
	}
	if bus.regs[regEnable] != 0 {
		t.Errorf("enable mask %#x after init", bus.regs[regEnable])
	}
	if bus.regs[regThreshold] != 0 {
		t.Errorf("threshold %d after init", bus.regs[regThreshold])
	}
}

func TestInitStuckSourceTerminates(t *testing.T) {
	bus := newScriptBus()
	bus.stuck = 4
	p := New(bus, 0, 0)
	p.Init()
	if n := len(bus.ops); n != 2*drainLimit {
		t.Errorf("%d claim/complete operations, want %d", n, 2*drainLimit)
	}
}

func TestClaimAfterInit(t *testing.T) {
	sim := NewSimulator(nil)
	p := New(sim, 0, 0)
	p.Init()
	if id := p.Claim(); id != 0 {
		t.Errorf("claim returned %d after init, want 0", id)
	}
}

func TestEnableAllMask(t *testing.T) {
	tests := []struct {
		sources    int
		priorities [][]uint32
		active     int
	}{
		{0, nil, DefaultSources},
		{0, [][]uint32{{1, 1, 1}}, 3},
		{0, [][]uint32{{1, 1, 1}, {2}}, 1},
		{0, [][]uint32{{1}, {1, 2, 3, 4, 5, 6, 7, 8}}, 1},
		{0, [][]uint32{{1, 2, 3, 4, 5, 6, 7, 8}}, DefaultSources},
		{0, [][]uint32{{}}, 0},
		{MaxSourceID, nil, MaxSourceID},
		{MaxSourceID, [][]uint32{make([]uint32, 40)}, MaxSourceID},
	}
	for i, test := range tests {
		bus := newScriptBus()
		p := New(bus, 0, test.sources)
		for _, prios := range test.priorities {
			p.SetPriorities(prios)
		}
		p.EnableAll()
		mask := bus.regs[regEnable]
		for id := 0; id <= MaxSourceID; id++ {
			want := id >= 1 && id <= test.active
			if got := mask&(1<<id) != 0; got != want {
				t.Errorf("test %d: enable bit %d = %v, want %v (mask %#x)", i, id, got, want, mask)
			}
		}
		if got := p.ActiveSources(); got != test.active {
			t.Errorf("test %d: %d active sources, want %d", i, got, test.active)
		}
	}
}

func TestSetPriorities(t *testing.T) {
	bus := newScriptBus()
	p := New(bus, 0x0c00_0000, 0)
	p.SetPriorities([]uint32{7, 5, 3})
	for i, want := range []uint32{7, 5, 3} {
		id := uint32(i + 1)
		if got := bus.regs[0x0c00_0000+4*uintptr(id)]; got != want {
			t.Errorf("priority register of source %d = %d, want %d", id, got, want)
		}
		if got := p.Priority(id); got != want {
			t.Errorf("recorded priority of source %d = %d, want %d", id, got, want)
		}
	}
	if _, ok := bus.regs[0x0c00_0000+4*4]; ok {
		t.Error("source 4 priority written")
	}
}

func TestSetPrioritiesAfterNarrowing(t *testing.T) {
	bus := newScriptBus()
	p := New(bus, 0, 0)
	p.SetPriorities([]uint32{1})
	p.SetPriorities([]uint32{4, 4, 4, 4, 4, 4, 4})
	if got := p.Priority(1); got != 4 {
		t.Errorf("source 1 priority %d, want 4", got)
	}
	if _, ok := bus.regs[regPriority+4*2]; ok {
		t.Error("inactive source 2 priority written")
	}
}

func TestClaimCompleteRoundTrip(t *testing.T) {
	var levels []bool
	sim := NewSimulator(func(level bool) { levels = append(levels, level) })
	p := New(sim, 0, 0)
	p.Init()
	p.SetPriorities([]uint32{1, 3, 2})
	p.EnableAll()
	for src := uint32(1); src <= 3; src++ {
		sim.SetLine(src, true)
	}
	if !sim.Output() {
		t.Fatal("external line not asserted")
	}
	var order []uint32
	for range 10 {
		src := p.Claim()
		if src == 0 {
			break
		}
		order = append(order, src)
		// Device acknowledge before completion.
		sim.SetLine(src, false)
		p.Complete(src)
	}
	if got := fmt.Sprint(order); got != "[2 3 1]" {
		t.Errorf("claim order %s, want [2 3 1]", got)
	}
	if sim.Output() {
		t.Error("external line still asserted")
	}
	if got := fmt.Sprint(levels); got != "[true false]" {
		t.Errorf("line transitions %s", got)
	}
}

func TestCompleteRelatchesAssertedLine(t *testing.T) {
	sim := NewSimulator(nil)
	p := New(sim, 0, 0)
	p.Init()
	p.SetPriority(2, 1)
	p.EnableAll()
	sim.SetLine(2, true)
	if src := p.Claim(); src != 2 {
		t.Fatalf("claimed %d, want 2", src)
	}
	if src := p.Claim(); src != 0 {
		t.Fatalf("source in service claimed again: %d", src)
	}
	// Completing without acknowledging the device raises it again.
	p.Complete(2)
	if !p.Pending(2) {
		t.Error("asserted source not pending after completion")
	}
	if src := p.Claim(); src != 2 {
		t.Errorf("claimed %d, want 2", src)
	}
}

func TestThreshold(t *testing.T) {
	sim := NewSimulator(nil)
	p := New(sim, 0, 0)
	p.Init()
	p.SetPriorities([]uint32{1, 2})
	p.EnableAll()
	p.SetThreshold(1)
	sim.SetLine(1, true)
	if src := p.Claim(); src != 0 {
		t.Errorf("claimed masked source %d", src)
	}
	sim.SetLine(2, true)
	if src := p.Claim(); src != 2 {
		t.Errorf("claimed %d, want 2", src)
	}
}

func TestDispatcher(t *testing.T) {
	bus := newScriptBus(6)
	p := New(bus, 0, 0)
	d := NewDispatcher(p)
	d.HandleFunc(6, func(src uint32) {
		bus.ops = append(bus.ops, fmt.Sprintf("handle %d", src))
	})
	d.Serve()
	want := "claim 6, handle 6, complete 6"
	if got := strings.Join(bus.ops, ", "); got != want {
		t.Errorf("serve sequence %q, want %q", got, want)
	}
}

func TestDispatcherUnrecognizedSource(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	bus := newScriptBus(3, 0)
	d := NewDispatcher(New(bus, 0, 0))
	called := false
	d.HandleFunc(6, func(uint32) { called = true })
	d.Serve()
	d.Serve()
	if called {
		t.Error("handler of another source called")
	}
	want := "claim 3, complete 3, claim 0, complete 0"
	if got := strings.Join(bus.ops, ", "); got != want {
		t.Errorf("serve sequence %q, want %q", got, want)
	}
	if !strings.Contains(buf.String(), "unrecognized interrupt source 3") {
		t.Errorf("missing log for unrecognized source: %q", buf.String())
	}
	if strings.Contains(buf.String(), "source 0") {
		t.Error("spurious claim logged")
	}
}
