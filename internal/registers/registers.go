// Package registers declares the inverter register table and decodes raw
// holding-register blocks into scaled physical values.
package registers

import (
	"encoding/binary"
	"fmt"
	"strings"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
)

// Encoding is the numeric interpretation of a 16-bit register
type Encoding int

const (
	Unsigned16 Encoding = iota // "H"
	Signed16                   // "h"
)

// String returns the struct-format letter used in register tables
func (e Encoding) String() string {
	if e == Signed16 {
		return "h"
	}
	return "H"
}

// HighWordScale marks the high half of a 32-bit counter split over a
// <name>_HB / <name>_LB register pair. Decode applies it like any other
// scale; recombination is left to consumers (see Counters).
const HighWordScale = 0xFFFF

const (
	highWordSuffix = "_HB"
	lowWordSuffix  = "_LB"
)

// RegisterSpec describes one register of the block
type RegisterSpec struct {
	Offset      uint16
	Name        string
	Encoding    Encoding
	Scale       float64
	Unit        string
	DeviceClass string
	StateClass  string
}

// Block maps register offset to its raw 16-bit value
type Block map[uint16]uint16

// Sample is one decoded register value
type Sample struct {
	Name  string
	Value float64
}

// Counter is a 32-bit counter rebuilt from a _HB/_LB pair
type Counter struct {
	Name  string
	Value uint32
}

// Map is an ordered, read-only register table
type Map struct {
	specs []RegisterSpec
}

// NewMap builds a register map. Names must be unique and non-empty;
// offsets may be sparse.
func NewMap(specs ...RegisterSpec) (*Map, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("registers: spec at offset %d has no name", s.Offset)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("registers: duplicate register name %q", s.Name)
		}
		seen[s.Name] = true
	}
	copied := make([]RegisterSpec, len(specs))
	copy(copied, specs)
	return &Map{specs: copied}, nil
}

// Specs returns a copy of the register specs in declaration order
func (m *Map) Specs() []RegisterSpec {
	out := make([]RegisterSpec, len(m.specs))
	copy(out, m.specs)
	return out
}

// Len returns the number of declared registers
func (m *Map) Len() int {
	return len(m.specs)
}

// Decode converts a raw block into samples in declaration order.
// Specs whose offset is absent from the block are skipped.
func (m *Map) Decode(block Block) []Sample {
	samples := make([]Sample, 0, len(m.specs))
	for _, spec := range m.specs {
		raw, ok := block[spec.Offset]
		if !ok {
			continue
		}
		samples = append(samples, Sample{Name: spec.Name, Value: spec.Value(raw)})
	}
	return samples
}

// Value applies the spec's encoding and scale to a raw register value
func (s RegisterSpec) Value(raw uint16) float64 {
	var v int64
	if s.Encoding == Signed16 {
		v = int64(int16(raw))
	} else {
		v = int64(raw)
	}
	return float64(v) * s.Scale
}

// Counters rebuilds 32-bit counters from adjacent _HB/_LB register pairs
// as (hi << 16) | lo. Pairs with either half missing are skipped.
func (m *Map) Counters(block Block) []Counter {
	lows := make(map[string]uint16)
	for _, spec := range m.specs {
		if base, ok := strings.CutSuffix(spec.Name, lowWordSuffix); ok {
			lows[base] = spec.Offset
		}
	}

	var counters []Counter
	for _, spec := range m.specs {
		if spec.Scale != HighWordScale {
			continue
		}
		base, ok := strings.CutSuffix(spec.Name, highWordSuffix)
		if !ok {
			continue
		}
		loOffset, ok := lows[base]
		if !ok {
			continue
		}
		hi, okHi := block[spec.Offset]
		lo, okLo := block[loOffset]
		if !okHi || !okLo {
			continue
		}
		counters = append(counters, Counter{Name: base, Value: uint32(hi)<<16 | uint32(lo)})
	}
	return counters
}

// BlockFromBytes turns a big-endian register payload into a block whose
// offsets count from zero. An empty or odd-length payload is malformed.
func BlockFromBytes(data []byte) (Block, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return nil, berrors.NewDecodeError("decode register block",
			fmt.Errorf("payload length %d is not a positive multiple of 2", len(data)), "")
	}
	block := make(Block, len(data)/2)
	for i := 0; i < len(data)/2; i++ {
		block[uint16(i)] = binary.BigEndian.Uint16(data[i*2:])
	}
	return block, nil
}
