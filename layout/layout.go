// Package layout describes the cell header layout shared by every runtime
// primitive and the code generator.
//
// A cell is a header followed by count elements of WordSize bytes each. The
// header holds an optional tag word and the count word. Where the header sits
// relative to the reference handed to compiled code is the Placement:
//
//	Inline (ref points at the header)   Before (ref points at element 0)
//	ref+0   tag                          ref-2W  tag
//	ref+W   count                        ref-W   count
//	ref+2W  element 0                    ref     element 0
//
// A build picks exactly one Layout. All offset arithmetic lives here so two
// primitives can never disagree.
package layout

import (
	"fmt"
	"math"
	"strings"

	"github.com/wippyai/samlang-runtime/errors"
)

// Placement is where the header sits relative to a cell reference.
type Placement int

const (
	// Inline places the header at the reference; elements follow it.
	Inline Placement = iota
	// Before places the header immediately before element 0.
	Before
)

func (p Placement) String() string {
	switch p {
	case Inline:
		return "inline"
	case Before:
		return "before"
	default:
		return fmt.Sprintf("placement(%d)", int(p))
	}
}

// ParsePlacement parses "inline" or "before".
func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inline", "":
		return Inline, nil
	case "before":
		return Before, nil
	}
	return 0, errors.InvalidInput(errors.PhaseLayout, fmt.Sprintf("unknown header placement %q", s))
}

// Tag values written to the tag word.
const (
	StaticTag  = 0 // compiler-emitted data segments
	DynamicTag = 1 // cells created by the runtime
)

// Layout is the build-time cell layout.
type Layout struct {
	WordSize  uint32
	Placement Placement
	Tagged    bool
}

// Default is the layout emitted by the samlang wasm backend:
// [tag i32][count i32][elements i32...] with the reference at the tag.
func Default() Layout {
	return Layout{WordSize: 4, Placement: Inline, Tagged: true}
}

// Validate checks the word size and placement.
func (l Layout) Validate() error {
	if l.WordSize != 4 && l.WordSize != 8 {
		return errors.New(errors.PhaseLayout, errors.KindInvalidInput).
			Value(l.WordSize).
			Detail("word size must be 4 or 8, got %d", l.WordSize).
			Build()
	}
	if l.Placement != Inline && l.Placement != Before {
		return errors.InvalidInput(errors.PhaseLayout, "unknown header placement "+l.Placement.String())
	}
	return nil
}

func (l Layout) String() string {
	tag := "untagged"
	if l.Tagged {
		tag = "tagged"
	}
	return fmt.Sprintf("i%d/%s/%s", l.WordSize*8, l.Placement, tag)
}

// HeaderWords is the number of words in the header.
func (l Layout) HeaderWords() uint32 {
	if l.Tagged {
		return 2
	}
	return 1
}

// HeaderSize is the header size in bytes.
func (l Layout) HeaderSize() uint32 {
	return l.HeaderWords() * l.WordSize
}

// CellSize returns the allocation size for a cell of count elements.
func (l Layout) CellSize(count uint32) (uint32, error) {
	size := uint64(l.HeaderSize()) + uint64(count)*uint64(l.WordSize)
	if size > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseLayout, count, "cell size")
	}
	return uint32(size), nil
}

// RefFromBase converts an allocation base address into a cell reference.
func (l Layout) RefFromBase(base uint32) uint32 {
	if l.Placement == Before {
		return base + l.HeaderSize()
	}
	return base
}

// BaseFromRef converts a cell reference back to its allocation base.
func (l Layout) BaseFromRef(ref uint32) uint32 {
	if l.Placement == Before {
		return ref - l.HeaderSize()
	}
	return ref
}

// CountAddr is the address of the count word.
func (l Layout) CountAddr(ref uint32) uint32 {
	if l.Placement == Before {
		return ref - l.WordSize
	}
	if l.Tagged {
		return ref + l.WordSize
	}
	return ref
}

// TagAddr is the address of the tag word; ok is false for untagged layouts.
func (l Layout) TagAddr(ref uint32) (addr uint32, ok bool) {
	if !l.Tagged {
		return 0, false
	}
	return l.BaseFromRef(ref), true
}

// ElemAddr is the address of element i.
func (l Layout) ElemAddr(ref, i uint32) uint32 {
	return l.BaseFromRef(ref) + l.HeaderSize() + i*l.WordSize
}

// Bits is the integer width in bits.
func (l Layout) Bits() uint32 {
	return l.WordSize * 8
}

// MinInt is the most negative integer of the configured width.
func (l Layout) MinInt() int64 {
	if l.WordSize == 4 {
		return math.MinInt32
	}
	return math.MinInt64
}

// MaxInt is the largest integer of the configured width.
func (l Layout) MaxInt() int64 {
	if l.WordSize == 4 {
		return math.MaxInt32
	}
	return math.MaxInt64
}

// Wrap truncates v to the configured width with two's complement wraparound.
func (l Layout) Wrap(v int64) int64 {
	if l.WordSize == 4 {
		return int64(int32(v))
	}
	return v
}
