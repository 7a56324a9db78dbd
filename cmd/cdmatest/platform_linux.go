//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"uninasoc.org/driver/cdma"
	"uninasoc.org/driver/plic"
	"uninasoc.org/driver/uio"
	"uninasoc.org/memmap"
	"uninasoc.org/mmio"
	"uninasoc.org/soc"
)

// hwPlatform maps the device registers through /dev/mem and receives
// the external interrupt through a UIO device.
type hwPlatform struct {
	bus      mmio.Decoder
	addrs    Addrs
	mappings []*mmio.Mapping
	uioPath  string

	ctx    context.Context
	cancel context.CancelFunc
	line   *uio.Line
	wg     sync.WaitGroup
}

func openHardware(ctx context.Context, m *memmap.Map, uioPath string) (platform, error) {
	p := &hwPlatform{uioPath: uioPath}
	p.ctx, p.cancel = context.WithCancel(ctx)
	devs := []struct {
		name string
		size int
		addr *uintptr
	}{
		{soc.RangeCDMA, cdma.Size, &p.addrs.CDMA},
		{soc.RangePLIC, plic.Size, &p.addrs.PLIC},
	}
	for _, d := range devs {
		r, ok := m.Lookup(d.name)
		if !ok {
			p.Close()
			return nil, fmt.Errorf("%w: %s", soc.ErrNoRange, d.name)
		}
		mp, err := mmio.Map(r.Base, d.size)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.mappings = append(p.mappings, mp)
		if err := p.bus.Map(uintptr(r.Base), mp.Size(), mp); err != nil {
			p.Close()
			return nil, err
		}
		*d.addr = uintptr(r.Base)
	}
	return p, nil
}

func (p *hwPlatform) Bus() mmio.Bus {
	return &p.bus
}

func (p *hwPlatform) Addrs() Addrs {
	return p.addrs
}

type hwBuffer struct {
	*mmio.Buffer
}

func (b hwBuffer) Addr() uintptr {
	return b.PhysAddr()
}

func (p *hwPlatform) Alloc(size int) (buffer, error) {
	b, err := mmio.Alloc(size)
	if err != nil {
		return nil, err
	}
	return hwBuffer{b}, nil
}

func (p *hwPlatform) Interrupts(vector func()) error {
	if p.line != nil {
		return errors.New("interrupts already running")
	}
	l, err := uio.Open(p.uioPath)
	if err != nil {
		return err
	}
	if err := l.Unmask(); err != nil {
		l.Close()
		return err
	}
	p.line = l
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			if _, err := l.Wait(p.ctx); err != nil {
				if p.ctx.Err() == nil {
					log.Printf("cdmatest: %s: %v", l, err)
				}
				return
			}
			vector()
			if err := l.Unmask(); err != nil {
				log.Printf("cdmatest: %s: %v", l, err)
				return
			}
		}
	}()
	return nil
}

func (p *hwPlatform) Close() error {
	p.cancel()
	p.wg.Wait()
	var errs []error
	if p.line != nil {
		errs = append(errs, p.line.Close())
	}
	for _, m := range p.mappings {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
