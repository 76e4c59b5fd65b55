package warptile

// Layout describes how a row-major matrix maps into linear memory: the
// logical extents and the leading dimension (stride between rows). The
// batch stride separates consecutive L slices.
type Layout struct {
	Rows, Cols  int
	Ld          int
	BatchStride int
}

// LayoutFor builds a packed row-major layout for a rows x cols matrix.
func LayoutFor(rows, cols int) Layout {
	return Layout{Rows: rows, Cols: cols, Ld: cols, BatchStride: rows * cols}
}

// Offset returns the linear element offset of (r, c) in batch l.
func (ly Layout) Offset(r, c, l int) int {
	return l*ly.BatchStride + r*ly.Ld + c
}

// Valid reports whether the layout can hold its extents.
func (ly Layout) Valid() bool {
	return ly.Rows >= 0 && ly.Cols >= 0 && ly.Ld >= ly.Cols
}

// Swizzle is an XOR swizzle applied to row offsets of staged tile buffers,
// spreading consecutive rows across shared-memory banks. A zero Swizzle is
// the identity mapping.
type Swizzle struct {
	Bits  int // number of row bits folded into the column offset
	Shift int // distance between the row bits and the bits they permute
}

// DefaultSwizzle returns the swizzle used for mainloop stage buffers.
func DefaultSwizzle() Swizzle { return Swizzle{Bits: 3, Shift: 3} }

// Apply permutes a linear element offset within a staged tile.
func (sw Swizzle) Apply(off int) int {
	if sw.Bits == 0 {
		return off
	}
	mask := (1<<sw.Bits - 1) << (sw.Shift + sw.Bits)
	return off ^ ((off & mask) >> sw.Shift)
}
