package warptile

import (
	"sync"
	"unsafe"
)

// DevicePtr represents a pointer into device memory. All accumulation
// buffers, operands and workspaces the kernels touch live behind DevicePtrs;
// the typed view methods expose them as Go slices.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// MemoryPool manages device memory allocation with free-list reuse.
// Allocations are aligned to MemoryAlignment for SIMD-friendly access.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []byte
	ptr  unsafe.Pointer
	size int
	used bool
}

// NewMemoryPool creates an empty pool.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{allocated: make(map[uintptr]*allocation)}
}

var defaultPool = NewMemoryPool()

// Malloc allocates size bytes of device memory from the default pool.
func Malloc(size int) (DevicePtr, error) {
	return defaultPool.Allocate(size)
}

// Free releases memory allocated by Malloc back to the default pool.
func Free(ptr DevicePtr) error {
	return defaultPool.Free(ptr)
}

// Allocate allocates memory from the pool, reusing a free block when one is
// large enough.
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, NewMemoryError("Allocate", "size must be positive", nil)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}
			return DevicePtr{ptr: alloc.ptr, size: size}, nil
		}
	}

	buf := make([]byte, alignedSize)
	alloc := &allocation{
		buf:  buf,
		ptr:  unsafe.Pointer(&buf[0]),
		size: alignedSize,
		used: true,
	}
	mp.allocated[uintptr(alloc.ptr)] = alloc

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}
	return DevicePtr{ptr: alloc.ptr, size: size}, nil
}

// Free returns memory to the pool. It is an error to free a pointer twice
// or to free memory the pool does not own.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}
	if !alloc.used {
		return ErrDoubleFree
	}
	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)
	return nil
}

// Stats returns current and peak allocation in bytes.
func (mp *MemoryPool) Stats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// IsNil reports whether the pointer is the zero DevicePtr.
func (d DevicePtr) IsNil() bool { return d.ptr == nil }

// Size returns the size in bytes of the memory region.
func (d DevicePtr) Size() int { return d.size }

// Float32 returns a float32 slice view of the device memory.
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(d.ptr), d.size/4)
}

// Uint16 returns a uint16 slice view, used for half-precision storage.
func (d DevicePtr) Uint16() []uint16 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*uint16)(d.ptr), d.size/2)
}

// Byte returns a byte slice view covering the whole region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a DevicePtr advanced by the given number of bytes, sharing
// the same underlying memory.
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Pointer(uintptr(d.ptr) + uintptr(bytes)),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}
