package warptile

// Fragment is a fixed-length vector of accumulator elements: one thread's
// slice of an epilogue subtile at one pipeline step. Fragments are ephemeral,
// valid only within one epilogue iteration.
type Fragment []float32

// NewFragment allocates a zeroed fragment of the standard size.
func NewFragment() Fragment { return make(Fragment, FragmentSize) }

// Clear zeroes the fragment in place.
func (f Fragment) Clear() {
	for i := range f {
		f[i] = 0
	}
}

// FragCoord maps lane `lane` of fragment `epiV` to its (row, col) position
// within the epilogue subtile. Subtiles are row-major with width et.N.
func FragCoord(et EpilogueTile, epiV, lane int) (r, c int) {
	idx := epiV*FragmentSize + lane
	return idx / et.N, idx % et.N
}

// FragValid reports whether the lane's position lies inside the valid
// residue extent of the current subtile. Out-of-bounds lanes carry garbage
// and must never be stored or reduced.
func FragValid(et EpilogueTile, epiV, lane, residueM, residueN int) bool {
	r, c := FragCoord(et, epiV, lane)
	return r < residueM && c < residueN
}
