// Package heap is the allocator adapter: the only producer of memory for
// cells.
//
// A Heap bump-allocates from the end of a linear memory. It initializes
// lazily on the first allocation, so allocations made by a guest's start
// function (before the entry point runs) are served by the same heap.
//
// Two modes exist. Collected never reclaims; reclamation belongs to an
// external collector and Release is a no-op. Arena pairs every Release with
// one allocation and reuses released blocks of the same size.
package heap

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	samruntime "github.com/wippyai/samlang-runtime"
	"github.com/wippyai/samlang-runtime/errors"
)

// Mode selects how memory is reclaimed.
type Mode int

const (
	// Collected never frees; an external collector owns reclamation.
	Collected Mode = iota
	// Arena frees through explicit Release calls.
	Arena
)

func (m Mode) String() string {
	switch m {
	case Collected:
		return "collected"
	case Arena:
		return "arena"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "collected" or "arena".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collected", "":
		return Collected, nil
	case "arena":
		return Arena, nil
	}
	return 0, errors.InvalidInput(errors.PhaseAlloc, fmt.Sprintf("unknown heap mode %q", s))
}

// Alignment of every block handed out.
const Alignment = 8

// Options configures a Heap.
type Options struct {
	Mode Mode
}

// Stats reports heap activity since initialization.
type Stats struct {
	Base        uint32
	Top         uint32
	Allocations uint64
	Releases    uint64
	Reuses      uint64
	BytesLive   uint64
}

// Heap is a bump allocator over a linear memory.
// Not thread-safe.
type Heap struct {
	mem   samruntime.LinearMemory
	live  map[uint32]uint32   // arena: block base -> size
	free  map[uint32][]uint32 // arena: size -> released bases
	stats Stats
	opts  Options
	next  uint32
	ready bool
}

// New creates a heap over mem. No memory is touched until the first Alloc.
func New(mem samruntime.LinearMemory, opts Options) *Heap {
	return &Heap{mem: mem, opts: opts}
}

// Mode returns the reclamation mode.
func (h *Heap) Mode() Mode {
	return h.opts.Mode
}

// Initialized reports whether EnsureInit has run.
func (h *Heap) Initialized() bool {
	return h.ready
}

// EnsureInit initializes the heap on first call; later calls do nothing.
// The heap starts at the current end of memory, so it never overlaps data
// the guest placed there at instantiation.
func (h *Heap) EnsureInit() error {
	if h.ready {
		return nil
	}
	if h.mem == nil {
		return errors.NotInitialized(errors.PhaseAlloc, "linear memory")
	}

	base := alignUp(uint64(h.mem.Size()))
	if base == 0 {
		base = Alignment // keep 0 free as the null reference
	}
	if base > uint64(^uint32(0)) {
		return errors.AllocationFailed(errors.PhaseAlloc, 0)
	}

	h.next = uint32(base)
	h.stats = Stats{Base: h.next, Top: h.next}
	if h.opts.Mode == Arena {
		h.live = make(map[uint32]uint32)
		h.free = make(map[uint32][]uint32)
	}
	h.ready = true

	Logger().Debug("heap initialized",
		zap.Uint32("base", h.next),
		zap.Stringer("mode", h.opts.Mode))
	return nil
}

// Reset forgets all allocations and the initialization state. Memory is not
// shrunk; the next EnsureInit starts past everything allocated so far.
func (h *Heap) Reset() {
	h.ready = false
	h.live = nil
	h.free = nil
	h.stats = Stats{}
	h.next = 0
}

// Stats returns a snapshot of heap counters.
func (h *Heap) Stats() Stats {
	return h.stats
}

// Alloc returns the address of size zeroed bytes.
func (h *Heap) Alloc(size uint32) (uint32, error) {
	if err := h.EnsureInit(); err != nil {
		return 0, err
	}

	rounded := alignUp(uint64(size))
	if rounded == 0 {
		rounded = Alignment
	}
	if rounded > uint64(^uint32(0)) {
		return 0, errors.AllocationFailed(errors.PhaseAlloc, size)
	}
	blockSize := uint32(rounded)

	if h.opts.Mode == Arena {
		if ptr, ok, err := h.reuse(blockSize); err != nil || ok {
			return ptr, err
		}
	}

	end := uint64(h.next) + uint64(blockSize)
	if err := h.ensureCapacity(end, size); err != nil {
		return 0, err
	}

	ptr := h.next
	h.next = uint32(end)
	h.stats.Top = h.next
	h.stats.Allocations++
	h.stats.BytesLive += uint64(blockSize)
	if h.opts.Mode == Arena {
		h.live[ptr] = blockSize
	}
	return ptr, nil
}

func (h *Heap) reuse(blockSize uint32) (uint32, bool, error) {
	list := h.free[blockSize]
	if len(list) == 0 {
		return 0, false, nil
	}
	ptr := list[len(list)-1]
	h.free[blockSize] = list[:len(list)-1]

	if err := h.mem.Write(ptr, make([]byte, blockSize)); err != nil {
		return 0, false, err
	}
	h.live[ptr] = blockSize
	h.stats.Allocations++
	h.stats.Reuses++
	h.stats.BytesLive += uint64(blockSize)
	return ptr, true, nil
}

func (h *Heap) ensureCapacity(end uint64, requested uint32) error {
	have := uint64(h.mem.Size())
	if end <= have {
		return nil
	}
	if have%samruntime.PageSize != 0 {
		have -= have % samruntime.PageSize
	}
	pages := (end - have + samruntime.PageSize - 1) / samruntime.PageSize
	if pages > uint64(^uint32(0)) {
		return errors.AllocationFailed(errors.PhaseAlloc, requested)
	}
	prev, ok := h.mem.Grow(uint32(pages))
	if !ok {
		Logger().Warn("heap growth failed",
			zap.Uint32("requested", requested),
			zap.Uint64("pages", pages),
			zap.Uint32("current_pages", prev))
		return errors.AllocationFailed(errors.PhaseAlloc, requested)
	}
	Logger().Debug("heap grew",
		zap.Uint32("from_pages", prev),
		zap.Uint64("by_pages", pages))
	return nil
}

// Release returns a block to the arena. In collected mode it does nothing.
func (h *Heap) Release(ptr uint32) error {
	if h.opts.Mode != Arena {
		Logger().Debug("release ignored in collected mode", zap.Uint32("ptr", ptr))
		return nil
	}
	if !h.ready {
		return errors.NotInitialized(errors.PhaseAlloc, "heap")
	}
	size, ok := h.live[ptr]
	if !ok {
		Logger().Warn("release of unknown or already released block", zap.Uint32("ptr", ptr))
		return errors.New(errors.PhaseAlloc, errors.KindInvalidInput).
			Address(ptr).
			Detail("release of a block that is not live").
			Build()
	}
	delete(h.live, ptr)
	h.free[size] = append(h.free[size], ptr)
	h.stats.Releases++
	h.stats.BytesLive -= uint64(size)
	return nil
}

func alignUp(v uint64) uint64 {
	return (v + Alignment - 1) &^ (Alignment - 1)
}

var _ samruntime.Allocator = (*Heap)(nil)
