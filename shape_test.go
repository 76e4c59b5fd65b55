package warptile

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTileResidue(t *testing.T) {
	ts := TileShape{M: 64, N: 64, K: 32}
	tests := []struct {
		ps       ProblemShape
		coord    TileCoord
		rm, rn   int
	}{
		{ProblemShape{M: 128, N: 128, K: 32}, TileCoord{M: 0, N: 0}, 64, 64},
		{ProblemShape{M: 100, N: 128, K: 32}, TileCoord{M: 1, N: 0}, 36, 64},
		{ProblemShape{M: 128, N: 70, K: 32}, TileCoord{M: 0, N: 1}, 64, 6},
		{ProblemShape{M: 37, N: 5, K: 32}, TileCoord{M: 0, N: 0}, 37, 5},
	}
	for _, tt := range tests {
		t.Run(tt.ps.String(), func(t *testing.T) {
			rm, rn := ts.Residue(tt.ps, tt.coord)
			require.Equal(t, tt.rm, rm)
			require.Equal(t, tt.rn, rn)
		})
	}
}

func TestTileCounts(t *testing.T) {
	ts := TileShape{M: 64, N: 64, K: 32}
	ps := ProblemShape{M: 100, N: 64, K: 96}
	require.Equal(t, 2, ts.TilesM(ps))
	require.Equal(t, 1, ts.TilesN(ps))
	require.Equal(t, 3, ts.TilesK(ps))
}

func TestEpilogueTileGeometry(t *testing.T) {
	et := EpilogueTile{M: 16, N: 16}
	ts := TileShape{M: 64, N: 64, K: 32}
	require.Equal(t, 256, et.Elems())
	require.Equal(t, 256/FragmentSize, et.Fragments())
	require.Equal(t, 4, et.SubtilesM(ts))
	require.Equal(t, 4, et.SubtilesN(ts))
}

func TestFragCoordRowMajor(t *testing.T) {
	et := EpilogueTile{M: 4, N: 8}
	for epiV := 0; epiV < et.Fragments(); epiV++ {
		for lane := 0; lane < FragmentSize; lane++ {
			r, c := FragCoord(et, epiV, lane)
			idx := epiV*FragmentSize + lane
			require.Equal(t, idx/et.N, r, "epiV=%d lane=%d", epiV, lane)
			require.Equal(t, idx%et.N, c, "epiV=%d lane=%d", epiV, lane)
		}
	}
}

func TestFragValidHonorsResidue(t *testing.T) {
	et := EpilogueTile{M: 4, N: 8}
	// Residue 3x5: only positions with r<3 and c<5 are valid.
	for epiV := 0; epiV < et.Fragments(); epiV++ {
		for lane := 0; lane < FragmentSize; lane++ {
			r, c := FragCoord(et, epiV, lane)
			want := r < 3 && c < 5
			require.Equal(t, want, FragValid(et, epiV, lane, 3, 5),
				fmt.Sprintf("epiV=%d lane=%d (r=%d c=%d)", epiV, lane, r, c))
		}
	}
}

func TestProblemShapeBatches(t *testing.T) {
	require.Equal(t, 1, ProblemShape{M: 1, N: 1, K: 1}.Batches())
	require.Equal(t, 4, ProblemShape{M: 1, N: 1, K: 1, L: 4}.Batches())
}

func TestClusterShapeValid(t *testing.T) {
	require.True(t, ClusterShape{M: 2, N: 1}.Valid())
	require.True(t, ClusterShape{}.Valid())
	require.False(t, ClusterShape{M: 8, N: 4}.Valid())
}

func TestClusterShapeCount(t *testing.T) {
	require.Equal(t, 1, ClusterShape{}.Count())
	require.Equal(t, 1, ClusterShape{M: 1, N: 0}.Count())
	require.Equal(t, 4, ClusterShape{M: 2, N: 2}.Count())
}

func TestProblemFLOPs(t *testing.T) {
	ps := ProblemShape{M: 10, N: 20, K: 30, L: 2}
	require.Equal(t, int64(2*10*20*30*2), ps.FLOPs())
}
