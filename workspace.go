package warptile

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// AlignUp rounds n up to the next multiple of WorkspaceAlignment.
func AlignUp(n int) int {
	return (n + WorkspaceAlignment - 1) &^ (WorkspaceAlignment - 1)
}

// Arena is a bump allocator over a caller-supplied workspace buffer. The
// fusion tree partitions its workspace by taking alignment-rounded regions
// in declared node order; WorkspaceSize, InitializeWorkspace and
// ToUnderlyingArguments must all walk the arena identically, so the layout
// is an internal ABI rather than a runtime-validated structure.
type Arena struct {
	buf []byte
	off int
}

// NewArena wraps buf. A nil buf yields an arena that hands out nil regions
// while still advancing offsets, which is how workspace sizes are probed.
func NewArena(buf []byte) *Arena {
	return &Arena{buf: buf}
}

// Take claims the next size bytes, rounded up to the workspace alignment.
// The returned slice is nil when the arena has no backing buffer.
func (a *Arena) Take(size int) []byte {
	if size < 0 {
		size = 0
	}
	start := a.off
	a.off += AlignUp(size)
	if a.buf == nil || size == 0 {
		return nil
	}
	return a.buf[start : start+size : start+size]
}

// Offset returns the cumulative bytes claimed, alignment-rounded.
func (a *Arena) Offset() int { return a.off }

// SharedArena partitions a cluster's shared-memory staging buffer between
// fusion-tree nodes. Regions are float32 elements; assignment order must
// match node declaration order so producer- and consumer-side walks agree.
type SharedArena struct {
	buf []float32
	off int
}

// NewSharedArena wraps a staging buffer.
func NewSharedArena(buf []float32) *SharedArena {
	return &SharedArena{buf: buf}
}

// Take claims the next n elements, rounded up to SharedAlignment.
func (sa *SharedArena) Take(n int) []float32 {
	if n < 0 {
		n = 0
	}
	start := sa.off
	sa.off += (n + SharedAlignment - 1) &^ (SharedAlignment - 1)
	if sa.buf == nil || n == 0 {
		return nil
	}
	return sa.buf[start : start+n : start+n]
}

// Float32Slice views an aligned byte region as float32 elements. Workspace
// regions holding reduction buffers are accessed through it.
func Float32Slice(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Int32Slice views an aligned byte region as int32 elements.
func Int32Slice(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// AtomicAddFloat32 adds v to *addr with a compare-and-swap loop. Device-side
// reductions from concurrent clusters land through it.
func AtomicAddFloat32(addr *float32, v float32) {
	bits := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(bits)
		next := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(bits, old, next) {
			return
		}
	}
}

// AtomicMaxFloat32 raises *addr to v if v is larger. Used by absolute-max
// scalar reductions.
func AtomicMaxFloat32(addr *float32, v float32) {
	bits := (*uint32)(unsafe.Pointer(addr))
	for {
		old := atomic.LoadUint32(bits)
		cur := math.Float32frombits(old)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapUint32(bits, old, math.Float32bits(v)) {
			return
		}
	}
}
