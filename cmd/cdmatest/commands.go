package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"uninasoc.org/driver/cdma"
	"uninasoc.org/driver/plic"
	"uninasoc.org/soc"
	"uninasoc.org/trace"
)

type options struct {
	hw        bool
	busConfig []string
	irq       uint32
	priority  uint32
	uio       string
	guard     int
	verbose   bool
	trace     string
}

func newRootCmd() *cobra.Command {
	opts := new(options)
	root := &cobra.Command{
		Use:   "cdmatest",
		Short: "Exercise the AXI CDMA engine and the PLIC.",
		Long: `cdmatest copies buffers with the AXI CDMA engine and verifies them. ` +
			`Without --hw it runs against a simulated SoC.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.BoolVar(&opts.hw, "hw", false, "use the hardware through /dev/mem and UIO")
	f.StringSliceVar(&opts.busConfig, "bus-config", nil, "bus configuration CSV files describing the address map")
	f.Uint32Var(&opts.irq, "irq", soc.DefaultIRQ, "interrupt source of the CDMA engine")
	f.Uint32Var(&opts.priority, "priority", 1, "interrupt priority of the CDMA engine")
	f.StringVar(&opts.uio, "uio", "/dev/uio0", "UIO device of the external interrupt (with --hw)")
	f.IntVar(&opts.guard, "guard", cdma.DefaultPollLimit, "polling iterations before a transfer times out")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "dump buffers and registers")
	f.StringVar(&opts.trace, "trace", "", "record transfers in this SQLite database")

	root.AddCommand(newSimpleCmd(opts), newIRQCmd(opts), newRegsCmd(opts))
	return root
}

func newSimpleCmd(opts *options) *cobra.Command {
	var words []int
	cmd := &cobra.Command{
		Use:   "simple",
		Short: "Run transfer rounds and wait for completion by polling.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				return s.runSimple(words)
			})
		},
	}
	cmd.Flags().IntSliceVar(&words, "words", []int{8, 16, 32}, "32-bit words to copy in each round")
	return cmd
}

func newIRQCmd(opts *options) *cobra.Command {
	var rounds, words int
	cmd := &cobra.Command{
		Use:   "irq",
		Short: "Run transfer rounds completed by the CDMA interrupt.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				return s.runIRQ(rounds, words)
			})
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 3, "number of rounds")
	cmd.Flags().IntVar(&words, "words", 16, "32-bit words to copy in each round")
	return cmd
}

func newRegsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "regs",
		Short: "Reset the engine and dump its registers.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				return s.ch.DumpRegisters(s.out)
			})
		},
	}
}

// session is an initialized channel on an open platform.
type session struct {
	out  io.Writer
	opts *options
	p    platform
	ch   *cdma.Channel
	rec  *trace.Recorder
}

func withSession(cmd *cobra.Command, opts *options, f func(s *session) error) (err error) {
	p, err := openPlatform(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, p.Close())
	}()
	cfg := &cdma.Config{
		BaseAddress: p.Addrs().CDMA,
		HasDRE:      true,
		DataWidth:   32,
		BurstLen:    16,
		AddrWidth:   32,
	}
	ch, err := cdma.New(p.Bus(), cfg, cfg.BaseAddress)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, ch.Halt())
	}()
	s := &session{out: cmd.OutOrStdout(), opts: opts, p: p, ch: ch}
	if opts.trace != "" {
		s.rec, err = trace.Open(opts.trace)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, s.rec.Close())
		}()
	}
	return f(s)
}

// record traces a finished transfer if tracing is enabled.
func (s *session) record(t trace.Transfer, start time.Time, err error) error {
	if s.rec == nil {
		return nil
	}
	t.Start = start
	t.Duration = time.Since(start)
	if err != nil {
		t.Err = err.Error()
	}
	return s.rec.Record(t)
}

var errMismatch = errors.New("destination differs from source")

func (s *session) runSimple(words []int) error {
	maxWords := 0
	for round, n := range words {
		if n < 1 {
			return fmt.Errorf("round %d: invalid word count %d", round, n)
		}
		maxWords = max(maxWords, n)
	}
	src, err := s.p.Alloc(maxWords * 4)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := s.p.Alloc(maxWords * 4)
	if err != nil {
		return err
	}
	defer dst.Close()

	fmt.Fprintf(s.out, "CDMA multi-round transfer test start\n")
	for round, n := range words {
		fmt.Fprintf(s.out, "----------- Round %d - %d words -----------\n", round, n)
		fill(src.Bytes(), dst.Bytes(), uint32(round), n)
		if s.opts.verbose {
			dumpBuffers(s.out, src.Bytes(), dst.Bytes(), n)
			if err := s.ch.DumpRegisters(s.out); err != nil {
				return err
			}
		}
		t := trace.Transfer{Round: round, Mode: trace.ModePoll, Src: uint64(src.Addr()), Dst: uint64(dst.Addr()), Bytes: n * 4}
		start := time.Now()
		err := s.transferPoll(src.Addr(), dst.Addr(), n*4)
		if rerr := s.record(t, start, err); rerr != nil {
			return rerr
		}
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if err := s.verify(round, src.Bytes(), dst.Bytes(), n); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "All %d rounds completed\n", len(words))
	return nil
}

// transferPoll copies n bytes and polls for completion.
func (s *session) transferPoll(src, dst uintptr, n int) error {
	if err := s.ch.SimpleTransfer(src, dst, n); err != nil {
		return errors.Join(err, s.ch.DumpRegisters(s.out))
	}
	err := s.ch.WaitIdle(s.opts.guard)
	s.ch.TransferDone()
	if err != nil {
		return errors.Join(err, s.ch.DumpRegisters(s.out))
	}
	if f := s.ch.Error(); f != 0 {
		return &cdma.TransferError{Fault: f}
	}
	return nil
}

func (s *session) runIRQ(rounds, words int) error {
	if !plic.ValidSource(s.opts.irq) {
		return fmt.Errorf("invalid interrupt source %d", s.opts.irq)
	}
	if words < 1 || rounds < 1 {
		return fmt.Errorf("invalid round configuration %dx%d", rounds, words)
	}
	fmt.Fprintf(s.out, "CDMA interrupt test start\n")
	s.ch.EnableInterrupts(cdma.IRQComplete | cdma.IRQError)
	if s.opts.verbose {
		if err := s.ch.DumpRegisters(s.out); err != nil {
			return err
		}
	}

	// Sources above the SoC's wired count are only enabled when asked for.
	ctrl := plic.New(s.p.Bus(), s.p.Addrs().PLIC, max(int(s.opts.irq), plic.DefaultSources))
	ctrl.Init()
	ctrl.SetPriority(s.opts.irq, s.opts.priority)
	ctrl.EnableAll()
	d := plic.NewDispatcher(ctrl)
	d.Handle(s.opts.irq, s.ch)
	if err := s.p.Interrupts(d.Serve); err != nil {
		return err
	}

	size := words * 4
	src, err := s.p.Alloc(rounds * size)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := s.p.Alloc(rounds * size)
	if err != nil {
		return err
	}
	defer dst.Close()
	for round := range rounds {
		off := round * size
		sb, db := src.Bytes()[off:off+size], dst.Bytes()[off:off+size]
		sa, da := src.Addr()+uintptr(off), dst.Addr()+uintptr(off)
		fill(sb, db, uint32(round), words)
		if s.opts.verbose {
			dumpBuffers(s.out, sb, db, words)
		}
		t := trace.Transfer{Round: round, Mode: trace.ModeIRQ, Src: uint64(sa), Dst: uint64(da), Bytes: size}
		start := time.Now()
		err := s.ch.SimpleTransfer(sa, da, size)
		if err != nil {
			fmt.Fprintf(s.out, "SimpleTransfer failed: %v\n", err)
			err = errors.Join(err, s.ch.DumpRegisters(s.out))
		} else {
			err = s.ch.Wait(s.opts.guard)
		}
		if rerr := s.record(t, start, err); rerr != nil {
			return rerr
		}
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		if err := s.verify(round, sb, db, words); err != nil {
			return err
		}
	}
	fmt.Fprintf(s.out, "All %d rounds completed\n", rounds)
	return nil
}

// pattern is the round dependent test word i.
func pattern(round, i uint32) uint32 {
	return (round&0xf)<<28 ^ i*0x11111111 ^ 0x76543210
}

func fill(src, dst []byte, round uint32, words int) {
	for i := range words {
		putWord(src, i, pattern(round, uint32(i)))
		putWord(dst, i, 0xffffffff)
	}
}

func (s *session) verify(round int, src, dst []byte, words int) error {
	if s.opts.verbose {
		dumpBuffers(s.out, src, dst, words)
	}
	errs := 0
	for i := range words {
		if word(src, i) != word(dst, i) {
			errs++
		}
	}
	if errs > 0 {
		fmt.Fprintf(s.out, "Round %d ERROR - mismatches: %d\n", round, errs)
		return fmt.Errorf("round %d: %w", round, errMismatch)
	}
	fmt.Fprintf(s.out, "Round %d OK - all %d words copied correctly\n", round, words)
	return nil
}

func dumpBuffers(out io.Writer, src, dst []byte, words int) {
	for i := range words {
		fmt.Fprintf(out, "src[%d] = %#08x | dst[%d] = %#08x\n", i, word(src, i), i, word(dst, i))
	}
}
