package memory

import (
	"github.com/tetratelabs/wazero/api"

	samruntime "github.com/wippyai/samlang-runtime"
	"github.com/wippyai/samlang-runtime/errors"
)

// Wazero wraps a guest's wazero memory to implement samruntime.LinearMemory.
type Wazero struct {
	mem api.Memory
}

// NewWazero wraps mem. mem must not be nil.
func NewWazero(mem api.Memory) *Wazero {
	return &Wazero{mem: mem}
}

// Read returns a view into guest memory. The view is invalidated by Grow.
func (m *Wazero) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseCell, offset, length)
	}
	return data, nil
}

func (m *Wazero) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseCell, offset, uint32(len(data)))
	}
	return nil
}

func (m *Wazero) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseCell, offset, 4)
	}
	return val, nil
}

func (m *Wazero) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(errors.PhaseCell, offset, 8)
	}
	return val, nil
}

func (m *Wazero) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseCell, offset, 4)
	}
	return nil
}

func (m *Wazero) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(errors.PhaseCell, offset, 8)
	}
	return nil
}

func (m *Wazero) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m *Wazero) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}

// Compile-time check that Wazero implements samruntime.LinearMemory
var _ samruntime.LinearMemory = (*Wazero)(nil)
