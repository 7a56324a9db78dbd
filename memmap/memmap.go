// Package memmap reads the SoC address map from the bus configuration
// files of the hardware flow.
//
// A bus configuration is a CSV file of PROPERTY,VALUE rows. The map is
// described by three properties holding space separated lists of equal
// length:
//
//	RANGE_NAMES,BRAM DMA0 PLIC
//	RANGE_BASE_ADDR,0x0 0x30000 0x4000000
//	RANGE_ADDR_WIDTH,16 12 26
//
// A bus with PROTOCOL set to DISABLE contributes no ranges.
package memmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Range is a named address range of 1<<AddrWidth bytes.
type Range struct {
	Name      string
	Base      uint64
	AddrWidth uint
}

func (r Range) Size() uint64 {
	return 1 << r.AddrWidth
}

func (r Range) End() uint64 {
	return r.Base + r.Size()
}

func (r Range) String() string {
	return fmt.Sprintf("%s@%#x+%#x", r.Name, r.Base, r.Size())
}

// IsMemory reports whether the range is a memory device rather than a
// peripheral.
func (r Range) IsMemory() bool {
	return r.Name == "BRAM" || r.Name == "HBM" || strings.HasPrefix(r.Name, "DDR4CH")
}

// Map is the union of the ranges of one or more buses, ordered by base
// address.
type Map struct {
	Ranges []Range
}

var ErrMissingProperty = errors.New("memmap: missing property")

const maxAddrWidth = 64

// Parse reads a bus configuration and returns its ranges.
func Parse(r io.Reader) ([]Range, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	props := make(map[string]string)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("memmap: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		props[strings.TrimSpace(rec[0])] = strings.TrimSpace(rec[1])
	}
	if props["PROTOCOL"] == "DISABLE" {
		return nil, nil
	}
	var lists [3][]string
	for i, name := range []string{"RANGE_NAMES", "RANGE_BASE_ADDR", "RANGE_ADDR_WIDTH"} {
		v, ok := props[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingProperty, name)
		}
		lists[i] = strings.Fields(v)
	}
	names, bases, widths := lists[0], lists[1], lists[2]
	if len(bases) != len(names) || len(widths) != len(names) {
		return nil, fmt.Errorf("memmap: %d names, %d base addresses and %d widths", len(names), len(bases), len(widths))
	}
	ranges := make([]Range, len(names))
	for i, name := range names {
		base, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(bases[i]), "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("memmap: %s: base address: %w", name, err)
		}
		width, err := strconv.ParseUint(widths[i], 10, 8)
		if err != nil || width >= maxAddrWidth {
			return nil, fmt.Errorf("memmap: %s: invalid address width %q", name, widths[i])
		}
		ranges[i] = Range{Name: name, Base: base, AddrWidth: uint(width)}
	}
	return ranges, nil
}

// ReadFiles parses the bus configuration files and merges their ranges.
// Overlapping ranges are rejected.
func ReadFiles(paths ...string) (*Map, error) {
	m := new(Map)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("memmap: %w", err)
		}
		ranges, err := Parse(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if err := m.Add(ranges...); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return m, nil
}

// Add inserts ranges into the map.
func (m *Map) Add(ranges ...Range) error {
	for _, r := range ranges {
		for _, o := range m.Ranges {
			if r.Base < o.End() && o.Base < r.End() {
				return fmt.Errorf("memmap: %v overlaps %v", r, o)
			}
		}
		i := sort.Search(len(m.Ranges), func(i int) bool {
			return m.Ranges[i].Base > r.Base
		})
		m.Ranges = append(m.Ranges, Range{})
		copy(m.Ranges[i+1:], m.Ranges[i:])
		m.Ranges[i] = r
	}
	return nil
}

// Lookup returns the range named name.
func (m *Map) Lookup(name string) (Range, bool) {
	for _, r := range m.Ranges {
		if r.Name == name {
			return r, true
		}
	}
	return Range{}, false
}

// Memory returns the memory ranges in address order.
func (m *Map) Memory() []Range {
	var mem []Range
	for _, r := range m.Ranges {
		if r.IsMemory() {
			mem = append(mem, r)
		}
	}
	return mem
}
