package warptile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAllocateAndFree(t *testing.T) {
	pool := NewMemoryPool()

	d, err := pool.Allocate(100)
	require.NoError(t, err)
	require.False(t, d.IsNil())
	require.Equal(t, 100, d.Size())

	allocated, peak := pool.Stats()
	require.Equal(t, int64(MemoryAlignment*2), allocated, "sizes round up to the alignment")
	require.Equal(t, allocated, peak)

	require.NoError(t, pool.Free(d))
	allocated, _ = pool.Stats()
	require.Zero(t, allocated)
}

func TestPoolRejectsBadSizes(t *testing.T) {
	pool := NewMemoryPool()
	_, err := pool.Allocate(0)
	require.Error(t, err)
	_, err = pool.Allocate(-4)
	require.Error(t, err)
}

func TestPoolDoubleFree(t *testing.T) {
	pool := NewMemoryPool()
	d, err := pool.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, pool.Free(d))
	require.ErrorIs(t, pool.Free(d), ErrDoubleFree)
}

func TestPoolFreeUnknownPointer(t *testing.T) {
	pool := NewMemoryPool()
	other, err := NewMemoryPool().Allocate(64)
	require.NoError(t, err)
	require.Error(t, pool.Free(other))
}

func TestPoolReusesFreedBlocks(t *testing.T) {
	pool := NewMemoryPool()
	d1, err := pool.Allocate(256)
	require.NoError(t, err)
	d1.Float32()[0] = 42
	require.NoError(t, pool.Free(d1))

	d2, err := pool.Allocate(128)
	require.NoError(t, err)
	require.Equal(t, float32(42), d2.Float32()[0], "reuse shares the backing block")
}

func TestDevicePtrViews(t *testing.T) {
	d, err := Malloc(64)
	require.NoError(t, err)
	defer Free(d)

	f := d.Float32()
	require.Len(t, f, 16)
	f[2] = 1.0

	require.Len(t, d.Uint16(), 32)
	require.Len(t, d.Byte(), 64)

	off := d.Offset(8)
	require.Equal(t, 56, off.Size())
	require.Equal(t, float32(1.0), off.Float32()[0])
}
