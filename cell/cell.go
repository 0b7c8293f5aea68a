// Package cell implements the array/string representation.
//
// Every variable-length value is a cell: a header (see package layout)
// followed by count fixed-width elements. Strings are cells of code points.
// Cells are only created through a Store, which allocates from the heap.
package cell

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	samruntime "github.com/wippyai/samlang-runtime"
	"github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/heap"
	"github.com/wippyai/samlang-runtime/layout"
)

// Ref is a cell reference: a linear memory address interpreted per the layout.
type Ref uint32

// Store creates and accesses cells in one linear memory.
type Store struct {
	heap   *heap.Heap
	mem    samruntime.Memory
	layout layout.Layout
}

// NewStore creates a store allocating from h in mem with layout l.
func NewStore(h *heap.Heap, mem samruntime.Memory, l layout.Layout) *Store {
	return &Store{heap: h, mem: mem, layout: l}
}

func (s *Store) Layout() layout.Layout { return s.layout }

func (s *Store) Heap() *heap.Heap { return s.heap }

func (s *Store) readWord(addr uint32) (int64, error) {
	if s.layout.WordSize == 4 {
		v, err := s.mem.ReadU32(addr)
		return int64(int32(v)), err
	}
	v, err := s.mem.ReadU64(addr)
	return int64(v), err
}

func (s *Store) writeWord(addr uint32, v int64) error {
	if s.layout.WordSize == 4 {
		return s.mem.WriteU32(addr, uint32(v))
	}
	return s.mem.WriteU64(addr, uint64(v))
}

// MakeArray allocates a cell of count zeroed elements.
func (s *Store) MakeArray(count uint32) (Ref, error) {
	if int64(count) > s.layout.MaxInt() {
		return 0, errors.Overflow(errors.PhaseCell, count, "cell count")
	}
	size, err := s.layout.CellSize(count)
	if err != nil {
		return 0, err
	}
	base, err := s.heap.Alloc(size)
	if err != nil {
		return 0, err
	}

	ref := s.layout.RefFromBase(base)
	if tag, ok := s.layout.TagAddr(ref); ok {
		if err := s.writeWord(tag, layout.DynamicTag); err != nil {
			return 0, err
		}
	}
	if err := s.writeWord(s.layout.CountAddr(ref), int64(count)); err != nil {
		return 0, err
	}
	return Ref(ref), nil
}

// MakeString copies one element per unit into a new cell.
func (s *Store) MakeString(units []int64) (Ref, error) {
	if uint64(len(units)) > math.MaxUint32 {
		return 0, errors.Overflow(errors.PhaseCell, len(units), "cell count")
	}
	ref, err := s.MakeArray(uint32(len(units)))
	if err != nil {
		return 0, err
	}
	if len(units) == 0 {
		return ref, nil
	}

	w := s.layout.WordSize
	buf := make([]byte, uint64(len(units))*uint64(w))
	for i, u := range units {
		putWord(buf[uint32(i)*w:], w, u)
	}
	if err := s.mem.Write(s.layout.ElemAddr(uint32(ref), 0), buf); err != nil {
		return 0, err
	}
	return ref, nil
}

// MakeStringFromBytes builds a string with one element per byte; no decoding.
func (s *Store) MakeStringFromBytes(b []byte) (Ref, error) {
	units := make([]int64, len(b))
	for i, c := range b {
		units[i] = int64(c)
	}
	return s.MakeString(units)
}

// MakeStringFromText builds a string with one element per code point of text.
func (s *Store) MakeStringFromText(text string) (Ref, error) {
	units := make([]int64, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		units = append(units, int64(r))
	}
	return s.MakeString(units)
}

// Len reads the element count from the header.
func (s *Store) Len(ref Ref) (int64, error) {
	n, err := s.readWord(s.layout.CountAddr(uint32(ref)))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		e := errors.InvalidData(errors.PhaseCell, nil, "negative element count "+strconv.FormatInt(n, 10))
		e.Address, e.HasAddress, e.Value = uint32(ref), true, n
		return 0, e
	}
	return n, nil
}

// Tag reads the tag word; ok is false for untagged layouts.
func (s *Store) Tag(ref Ref) (tag int64, ok bool, err error) {
	addr, ok := s.layout.TagAddr(uint32(ref))
	if !ok {
		return 0, false, nil
	}
	tag, err = s.readWord(addr)
	return tag, true, err
}

// Get reads element i. The index is not checked against the count.
func (s *Store) Get(ref Ref, i uint32) (int64, error) {
	return s.readWord(s.layout.ElemAddr(uint32(ref), i))
}

// Set writes element i. The index is not checked against the count.
func (s *Store) Set(ref Ref, i uint32, v int64) error {
	return s.writeWord(s.layout.ElemAddr(uint32(ref), i), v)
}

// Elements reads all elements of a cell.
func (s *Store) Elements(ref Ref) ([]int64, error) {
	n, err := s.Len(ref)
	if err != nil {
		return nil, err
	}
	w := s.layout.WordSize
	size := uint64(n) * uint64(w)
	if size > math.MaxUint32 {
		return nil, errors.Overflow(errors.PhaseCell, n, "cell size")
	}
	data, err := s.mem.Read(s.layout.ElemAddr(uint32(ref), 0), uint32(size))
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = getWord(data[uint32(i)*w:], w)
	}
	return out, nil
}

// Copy copies every element of src into dst starting at element at.
func (s *Store) Copy(dst Ref, at uint32, src Ref) error {
	n, err := s.Len(src)
	if err != nil || n == 0 {
		return err
	}
	size := uint64(n) * uint64(s.layout.WordSize)
	if size > math.MaxUint32 {
		return errors.Overflow(errors.PhaseCell, n, "cell size")
	}
	data, err := s.mem.Read(s.layout.ElemAddr(uint32(src), 0), uint32(size))
	if err != nil {
		return err
	}
	return s.mem.Write(s.layout.ElemAddr(uint32(dst), at), data)
}

// Text decodes a string cell to a Go string. Elements that are not valid
// code points become U+FFFD.
func (s *Store) Text(ref Ref) (string, error) {
	units, err := s.Elements(ref)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(len(units))
	for _, u := range units {
		if u < 0 || u > utf8.MaxRune {
			b.WriteRune(utf8.RuneError)
			continue
		}
		b.WriteRune(rune(u))
	}
	return b.String(), nil
}

// Release returns the cell's memory to the heap (arena mode).
func (s *Store) Release(ref Ref) error {
	return s.heap.Release(s.layout.BaseFromRef(uint32(ref)))
}

func (r Ref) String() string {
	return "0x" + strconv.FormatUint(uint64(r), 16)
}

func putWord(b []byte, w uint32, v int64) {
	if w == 4 {
		binary.LittleEndian.PutUint32(b, uint32(v))
		return
	}
	binary.LittleEndian.PutUint64(b, uint64(v))
}

func getWord(b []byte, w uint32) int64 {
	if w == 4 {
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return int64(binary.LittleEndian.Uint64(b))
}
