package samruntime

// PageSize is the size of one linear memory page (64 KiB), the unit of growth.
const PageSize = 65536

// Memory represents linear memory addressed by 32-bit offsets.
// Multi-byte values are little-endian.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
}

// MemorySizer provides the current size of linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// MemoryGrower grows linear memory by whole pages.
// It returns the previous size in pages and false if the memory cannot grow.
type MemoryGrower interface {
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// LinearMemory is the memory contract the heap needs: read, write, size, grow.
type LinearMemory interface {
	Memory
	MemorySizer
	MemoryGrower
}

// Allocator hands out zeroed memory for cells.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Release(ptr uint32) error
}
