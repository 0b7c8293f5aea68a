package memory

import (
	"encoding/binary"

	samruntime "github.com/wippyai/samlang-runtime"
	"github.com/wippyai/samlang-runtime/errors"
)

// Linear is a Go-backed linear memory with wasm semantics: it grows in whole
// pages, new pages are zeroed, and it never shrinks.
// Not thread-safe.
type Linear struct {
	buf      []byte
	maxPages uint32
}

// NewLinear creates a memory with initialPages pages.
// maxPages of 0 means the wasm32 limit of 65536 pages.
func NewLinear(initialPages, maxPages uint32) *Linear {
	if maxPages == 0 || maxPages > MaxPages {
		maxPages = MaxPages
	}
	if initialPages > maxPages {
		initialPages = maxPages
	}
	return &Linear{
		buf:      make([]byte, uint64(initialPages)*samruntime.PageSize),
		maxPages: maxPages,
	}
}

// MaxPages is the page limit of a 32-bit linear memory.
const MaxPages = 65536

func (m *Linear) inBounds(offset, length uint32) bool {
	return uint64(offset)+uint64(length) <= uint64(len(m.buf))
}

// Read returns a view into memory. The view is invalidated by Grow.
func (m *Linear) Read(offset uint32, length uint32) ([]byte, error) {
	if !m.inBounds(offset, length) {
		return nil, errors.OutOfBounds(errors.PhaseCell, offset, length)
	}
	return m.buf[offset : offset+length], nil
}

func (m *Linear) Write(offset uint32, data []byte) error {
	if !m.inBounds(offset, uint32(len(data))) {
		return errors.OutOfBounds(errors.PhaseCell, offset, uint32(len(data)))
	}
	copy(m.buf[offset:], data)
	return nil
}

func (m *Linear) ReadU32(offset uint32) (uint32, error) {
	if !m.inBounds(offset, 4) {
		return 0, errors.OutOfBounds(errors.PhaseCell, offset, 4)
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), nil
}

func (m *Linear) ReadU64(offset uint32) (uint64, error) {
	if !m.inBounds(offset, 8) {
		return 0, errors.OutOfBounds(errors.PhaseCell, offset, 8)
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), nil
}

func (m *Linear) WriteU32(offset uint32, value uint32) error {
	if !m.inBounds(offset, 4) {
		return errors.OutOfBounds(errors.PhaseCell, offset, 4)
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], value)
	return nil
}

func (m *Linear) WriteU64(offset uint32, value uint64) error {
	if !m.inBounds(offset, 8) {
		return errors.OutOfBounds(errors.PhaseCell, offset, 8)
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], value)
	return nil
}

// Size returns the memory size in bytes. A full 4 GiB memory reports
// math.MaxUint32, matching wazero.
func (m *Linear) Size() uint32 {
	if uint64(len(m.buf)) > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(len(m.buf))
}

// Pages returns the memory size in pages.
func (m *Linear) Pages() uint32 {
	return uint32(uint64(len(m.buf)) / samruntime.PageSize)
}

func (m *Linear) Grow(deltaPages uint32) (uint32, bool) {
	prev := m.Pages()
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	grown := make([]byte, (uint64(prev)+uint64(deltaPages))*samruntime.PageSize)
	copy(grown, m.buf)
	m.buf = grown
	return prev, true
}

var _ samruntime.LinearMemory = (*Linear)(nil)
