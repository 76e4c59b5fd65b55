// Package warptile configuration constants
package warptile

// Workspace layout parameters
const (
	// WorkspaceAlignment is the alignment boundary each per-node workspace
	// region is rounded up to. Offsets are cumulative, so WorkspaceSize,
	// InitializeWorkspace and ToUnderlyingArguments must all round with
	// this same constant.
	WorkspaceAlignment = 16

	// SharedAlignment is the element alignment for shared-storage regions.
	SharedAlignment = 4
)

// Fragment and epilogue geometry
const (
	// FragmentSize is the number of accumulator elements one Visit call
	// consumes. Epilogue subtiles are processed as a sequence of
	// FragmentSize-wide vectors.
	FragmentSize = 8

	// DefaultEpilogueTileM and DefaultEpilogueTileN define the epilogue
	// subtile each producer step loads and each consumer step visits.
	DefaultEpilogueTileM = 16
	DefaultEpilogueTileN = 16
)

// Tile and pipeline defaults
const (
	// Default threadblock tile extents.
	DefaultTileM = 64
	DefaultTileN = 64
	DefaultTileK = 32

	// DefaultStageCount is the depth of the mainloop pipeline ring.
	DefaultStageCount = 4

	// EpilogueStageCount is the depth of the epilogue load pipeline ring.
	EpilogueStageCount = 2
)

// SharedMemoryBudget is the per-cluster shared memory limit in bytes.
// Tile, stage and fusion-tree shared storage must fit within it, validated
// by CanImplement before any launch.
const SharedMemoryBudget = 228 * 1024

// Memory pool parameters
const (
	// MemoryAlignment for device allocations (SIMD-friendly cache line).
	MemoryAlignment = 64
)

// DebugChecks gates assertions that verify protocol invariants which the
// hardware design enforces only by convention, e.g. that
// IsProducerLoadNeeded does not change across tiles of one launch.
const DebugChecks = true
