package warptile

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0))
	require.Equal(t, WorkspaceAlignment, AlignUp(1))
	require.Equal(t, WorkspaceAlignment, AlignUp(WorkspaceAlignment))
	require.Equal(t, 2*WorkspaceAlignment, AlignUp(WorkspaceAlignment+1))
}

func TestArenaRegionsDisjointAndAligned(t *testing.T) {
	buf := make([]byte, 256)
	arena := NewArena(buf)

	r1 := arena.Take(10)
	r2 := arena.Take(20)
	r3 := arena.Take(16)

	require.Len(t, r1, 10)
	require.Len(t, r2, 20)
	require.Len(t, r3, 16)

	// Writing each region to capacity must not disturb the others.
	for i := range r1 {
		r1[i] = 0x11
	}
	for i := range r2 {
		r2[i] = 0x22
	}
	for i := range r3 {
		r3[i] = 0x33
	}
	for i := range r1 {
		require.Equal(t, byte(0x11), r1[i])
	}
	for i := range r2 {
		require.Equal(t, byte(0x22), r2[i])
	}

	require.Equal(t, AlignUp(10)+AlignUp(20)+AlignUp(16), arena.Offset())
}

func TestArenaNilBufProbesSizes(t *testing.T) {
	probe := NewArena(nil)
	backed := NewArena(make([]byte, 256))

	sizes := []int{3, 0, 17, 16}
	for _, n := range sizes {
		require.Nil(t, probe.Take(n))
		backed.Take(n)
	}
	require.Equal(t, backed.Offset(), probe.Offset(),
		"probe and real arenas must walk identically")
}

func TestSharedArenaAlignment(t *testing.T) {
	sa := NewSharedArena(make([]float32, 64))
	r1 := sa.Take(3)
	r2 := sa.Take(5)
	require.Len(t, r1, 3)
	require.Len(t, r2, 5)

	r1[2] = 1
	r2[0] = 2
	require.Equal(t, float32(1), r1[2])
	require.Equal(t, float32(2), r2[0])
}

func TestAtomicAddFloat32Concurrent(t *testing.T) {
	var sum float32
	const workers, each = 8, 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				AtomicAddFloat32(&sum, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, float32(workers*each), sum)
}

func TestAtomicMaxFloat32(t *testing.T) {
	var m float32
	AtomicMaxFloat32(&m, 3)
	AtomicMaxFloat32(&m, 1)
	require.Equal(t, float32(3), m)
	AtomicMaxFloat32(&m, 7.5)
	require.Equal(t, float32(7.5), m)
}

func TestFloat32SliceViewsRegion(t *testing.T) {
	buf := make([]byte, 32)
	f := Float32Slice(buf)
	require.Len(t, f, 8)
	f[0] = 1.5
	require.NotEqual(t, byte(0), buf[3], "float bits must land in the byte view")
}
