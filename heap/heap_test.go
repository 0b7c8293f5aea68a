package heap

import (
	"errors"
	"testing"

	samruntime "github.com/wippyai/samlang-runtime"
	rterrors "github.com/wippyai/samlang-runtime/errors"
	"github.com/wippyai/samlang-runtime/memory"
)

func TestHeap_LazyInit(t *testing.T) {
	mem := memory.NewLinear(1, 0)
	h := New(mem, Options{})

	if h.Initialized() {
		t.Fatal("heap should not be initialized before first use")
	}
	if mem.Pages() != 1 {
		t.Fatalf("pages = %d, want 1", mem.Pages())
	}

	ptr, err := h.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if !h.Initialized() {
		t.Error("heap should be initialized after Alloc")
	}
	if ptr != samruntime.PageSize {
		t.Errorf("first block = %d, want heap to start at end of memory (%d)", ptr, samruntime.PageSize)
	}
	if mem.Pages() != 2 {
		t.Errorf("pages = %d, want 2 after growth", mem.Pages())
	}
}

func TestHeap_EnsureInitIdempotent(t *testing.T) {
	mem := memory.NewLinear(1, 0)
	h := New(mem, Options{})

	if err := h.EnsureInit(); err != nil {
		t.Fatal(err)
	}
	base := h.Stats().Base
	if _, ok := mem.Grow(3); !ok {
		t.Fatal("grow failed")
	}
	if err := h.EnsureInit(); err != nil {
		t.Fatal(err)
	}
	if h.Stats().Base != base {
		t.Errorf("second EnsureInit moved base from %d to %d", base, h.Stats().Base)
	}
}

func TestHeap_EmptyMemoryNeverReturnsNull(t *testing.T) {
	h := New(memory.NewLinear(0, 0), Options{})
	ptr, err := h.Alloc(0)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if ptr == 0 {
		t.Error("Alloc returned the null address")
	}
}

func TestHeap_AlignmentAndZeroing(t *testing.T) {
	mem := memory.NewLinear(0, 0)
	h := New(mem, Options{})

	var prev uint32
	for i, size := range []uint32{1, 3, 8, 13, 0, 100} {
		ptr, err := h.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", size, err)
		}
		if ptr%Alignment != 0 {
			t.Errorf("Alloc(%d) = %d, not %d-aligned", size, ptr, Alignment)
		}
		if i > 0 && ptr <= prev {
			t.Errorf("Alloc(%d) = %d, not above previous block %d", size, ptr, prev)
		}
		data, err := mem.Read(ptr, size)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		for j, b := range data {
			if b != 0 {
				t.Fatalf("byte %d of block %d is %d, want 0", j, ptr, b)
			}
		}
		prev = ptr
	}
}

func TestHeap_GrowsAcrossPages(t *testing.T) {
	mem := memory.NewLinear(0, 0)
	h := New(mem, Options{})

	ptr, err := h.Alloc(3 * samruntime.PageSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if uint64(ptr)+3*samruntime.PageSize > uint64(mem.Size()) {
		t.Errorf("block [%d, +%d) exceeds memory size %d", ptr, 3*samruntime.PageSize, mem.Size())
	}
}

func TestHeap_AllocationFailure(t *testing.T) {
	mem := memory.NewLinear(1, 2)
	h := New(mem, Options{})

	if _, err := h.Alloc(samruntime.PageSize); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	_, err := h.Alloc(samruntime.PageSize)
	if err == nil {
		t.Fatal("expected allocation failure past the page limit")
	}
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseAlloc, Kind: rterrors.KindAllocation}) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestHeap_CollectedReleaseIsNoop(t *testing.T) {
	h := New(memory.NewLinear(0, 0), Options{Mode: Collected})
	ptr, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ptr); err != nil {
		t.Errorf("Release in collected mode: %v", err)
	}
	if err := h.Release(ptr); err != nil {
		t.Errorf("second Release in collected mode: %v", err)
	}
	next, err := h.Alloc(16)
	if err != nil {
		t.Fatal(err)
	}
	if next == ptr {
		t.Error("collected mode reused a block")
	}
}

func TestHeap_ArenaReuse(t *testing.T) {
	mem := memory.NewLinear(0, 0)
	h := New(mem, Options{Mode: Arena})

	ptr, err := h.Alloc(24)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(ptr, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ptr); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := h.Alloc(20) // rounds to the same 24-byte block
	if err != nil {
		t.Fatal(err)
	}
	if again != ptr {
		t.Errorf("Alloc after Release = %d, want reused block %d", again, ptr)
	}
	data, _ := mem.Read(again, 4)
	for i, b := range data {
		if b != 0 {
			t.Errorf("reused byte %d = %d, want 0", i, b)
		}
	}

	st := h.Stats()
	if st.Allocations != 2 || st.Releases != 1 || st.Reuses != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.BytesLive != 24 {
		t.Errorf("BytesLive = %d, want 24", st.BytesLive)
	}
}

func TestHeap_ArenaDoubleRelease(t *testing.T) {
	h := New(memory.NewLinear(0, 0), Options{Mode: Arena})
	ptr, err := h.Alloc(8)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Release(ptr); err != nil {
		t.Fatal(err)
	}
	err = h.Release(ptr)
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseAlloc, Kind: rterrors.KindInvalidInput}) {
		t.Errorf("double release error = %v", err)
	}
	if err := h.Release(ptr + 8); err == nil {
		t.Error("release of unknown pointer should fail")
	}
}

func TestHeap_Reset(t *testing.T) {
	mem := memory.NewLinear(0, 0)
	h := New(mem, Options{})
	first, err := h.Alloc(8)
	if err != nil {
		t.Fatal(err)
	}
	h.Reset()
	if h.Initialized() {
		t.Fatal("Reset should clear initialization")
	}
	second, err := h.Alloc(8)
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Errorf("block after Reset = %d, want past %d", second, first)
	}
	if h.Stats().Allocations != 1 {
		t.Errorf("Allocations after Reset = %d, want 1", h.Stats().Allocations)
	}
}

func TestHeap_NilMemory(t *testing.T) {
	h := New(nil, Options{})
	if _, err := h.Alloc(8); err == nil {
		t.Error("expected error without memory")
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"collected": Collected, "Arena": Arena, "": Collected} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v,%v want %v", in, got, err, want)
		}
	}
	if _, err := ParseMode("gc"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
