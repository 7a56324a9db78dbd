package cdma

import (
	"errors"
	"io"
	"runtime"
	"sync"
)

// SimConfig describes the simulated core.
type SimConfig struct {
	// SG includes scatter-gather support in the build.
	SG bool
	// ResetReads is the number of control register reads a reset
	// takes to finish. Zero means 2.
	ResetReads int
	// StuckInReset makes resets never finish.
	StuckInReset bool
}

// Memory is the address space the simulated engine copies through.
// Offsets are bus addresses.
type Memory interface {
	io.ReaderAt
	io.WriterAt
}

// Simulator models the CDMA registers and datamover. A transfer starts
// when the length register is written and runs in its own goroutine.
// A reset abandons the transfer in progress before its next write.
type Simulator struct {
	mu  sync.Mutex
	cfg SimConfig
	mem Memory
	irq func(level bool)

	cr, sr       uint32
	cdesc, tdesc uint32
	sa, da       uint64
	btt          uint32
	resetReads   int
	line         bool
	// gen identifies the current transfer; a reset abandons it.
	gen       uint64
	transfers int

	wg sync.WaitGroup
}

// NewSimulator returns an engine copying through mem and driving irq
// with the level of its interrupt output. The engine starts in reset.
func NewSimulator(cfg SimConfig, mem Memory, irq func(level bool)) *Simulator {
	if cfg.ResetReads == 0 {
		cfg.ResetReads = 2
	}
	if irq == nil {
		irq = func(bool) {}
	}
	s := &Simulator{cfg: cfg, mem: mem, irq: irq}
	s.reset()
	return s
}

func (s *Simulator) reset() {
	s.gen++
	s.cr = ctrlReset
	s.sr = statusIdle
	if s.cfg.SG {
		s.sr |= statusSGIncluded
	}
	s.cdesc, s.tdesc = 0, 0
	s.sa, s.da, s.btt = 0, 0, 0
	s.resetReads = s.cfg.ResetReads
	s.update()
}

func (s *Simulator) Read32(off uintptr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case regCR:
		cr := s.cr
		if cr&ctrlReset != 0 && !s.cfg.StuckInReset {
			s.resetReads--
			if s.resetReads <= 0 {
				s.cr &^= ctrlReset
			}
		}
		return cr
	case regSR:
		return s.sr
	case regCDESC:
		return s.cdesc
	case regTDESC:
		return s.tdesc
	case regSA:
		return uint32(s.sa)
	case regSAMSB:
		return uint32(s.sa >> 32)
	case regDA:
		return uint32(s.da)
	case regDAMSB:
		return uint32(s.da >> 32)
	case regBTT:
		return s.btt
	}
	return 0
}

func (s *Simulator) Write32(off uintptr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch off {
	case regCR:
		if v&ctrlReset != 0 {
			s.reset()
			return
		}
		s.cr = v
	case regSR:
		s.sr &^= v & uint32(IRQAll)
	case regCDESC:
		s.cdesc = v
	case regTDESC:
		s.tdesc = v
	case regSA:
		s.sa = s.sa&^0xffff_ffff | uint64(v)
	case regSAMSB:
		s.sa = s.sa&0xffff_ffff | uint64(v)<<32
	case regDA:
		s.da = s.da&^0xffff_ffff | uint64(v)
	case regDAMSB:
		s.da = s.da&0xffff_ffff | uint64(v)<<32
	case regBTT:
		s.btt = v & maxLength
		s.start()
	}
	s.update()
}

func (s *Simulator) start() {
	if s.sr&statusIdle == 0 || s.cr&ctrlReset != 0 || s.btt == 0 {
		return
	}
	s.sr &^= statusIdle
	t := transfer{
		gen:          s.gen,
		src:          s.sa,
		dst:          s.da,
		n:            int(s.btt),
		keyholeRead:  s.cr&ctrlKeyholeRead != 0,
		keyholeWrite: s.cr&ctrlKeyholeWrite != 0,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		buf, err := t.read(s.mem)
		if err == nil {
			err = s.write(t, buf)
		}
		s.finish(t.gen, err)
	}()
}

type transfer struct {
	gen                       uint64
	src, dst                  uint64
	n                         int
	keyholeRead, keyholeWrite bool
}

const (
	// keyhole is the width of a fixed-address access.
	keyhole = 4
	// burst is the number of bytes written at a time. A reset stops
	// the datamover between bursts.
	burst = 64
)

var errAborted = errors.New("cdma: transfer aborted by reset")

func (t transfer) read(mem Memory) ([]byte, error) {
	buf := make([]byte, t.n)
	if t.keyholeRead {
		word := make([]byte, keyhole)
		if _, err := mem.ReadAt(word, int64(t.src)); err != nil {
			return nil, err
		}
		for i := range buf {
			buf[i] = word[i%keyhole]
		}
		return buf, nil
	}
	if _, err := mem.ReadAt(buf, int64(t.src)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Simulator) write(t transfer, buf []byte) error {
	if t.keyholeWrite {
		buf = buf[(len(buf)-1)/keyhole*keyhole:]
	}
	for dst := t.dst; len(buf) > 0; {
		n := min(len(buf), burst)
		if err := s.writeBurst(t.gen, buf[:n], dst); err != nil {
			return err
		}
		buf = buf[n:]
		dst += uint64(n)
		runtime.Gosched()
	}
	return nil
}

func (s *Simulator) writeBurst(gen uint64, p []byte, dst uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return errAborted
	}
	_, err := s.mem.WriteAt(p, int64(dst))
	return err
}

func (s *Simulator) finish(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	if err != nil {
		s.sr |= uint32(FaultDecode) | uint32(IRQError)
	} else {
		s.sr |= uint32(IRQComplete)
		s.transfers++
	}
	s.sr |= statusIdle
	s.update()
}

func (s *Simulator) update() {
	level := s.cr&s.sr&uint32(IRQAll) != 0
	if level != s.line {
		s.line = level
		s.irq(level)
	}
}

// Transfers returns the number of transfers completed without error.
func (s *Simulator) Transfers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers
}

// Close waits for running transfers to finish.
func (s *Simulator) Close() error {
	s.wg.Wait()
	return nil
}
