package topology_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NJUAIXGY/SnnDL/topology"
)

func TestParseShape(t *testing.T) {
	w, h, err := topology.ParseShape("4x4")
	require.NoError(t, err)
	require.Equal(t, uint32(4), w)
	require.Equal(t, uint32(4), h)

	w, h, err = topology.ParseShape("8x2")
	require.NoError(t, err)
	require.Equal(t, uint32(8), w)
	require.Equal(t, uint32(2), h)

	for _, bad := range []string{"", "4", "4x", "x4", "0x4", "4x0", "axb"} {
		_, _, err := topology.ParseShape(bad)
		require.Error(t, err, "shape %q", bad)
	}
}

func TestNewPanicsOnBadConfig(t *testing.T) {
	require.Panics(t, func() { topology.New("ring3d", "4x4", 0) })
	require.Panics(t, func() { topology.New("mesh2d", "4by4", 0) })
}

func TestMesh2DRoute(t *testing.T) {
	// 4x4 mesh, node 5 sits at (1,1).
	m := topology.NewMesh2D(4, 4, 5)

	tests := []struct {
		dst  uint32
		want topology.Direction
	}{
		{dst: 5, want: topology.Local},
		{dst: 4, want: topology.West},
		{dst: 6, want: topology.East},
		{dst: 1, want: topology.South},
		{dst: 9, want: topology.North},
		{dst: 15, want: topology.East}, // X first
		{dst: 12, want: topology.West},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, m.Route(tt.dst), "dst=%d", tt.dst)
	}
}

func TestMesh2DHops(t *testing.T) {
	m := topology.NewMesh2D(4, 4, 0)

	require.Equal(t, 0, m.Hops(0))
	require.Equal(t, 1, m.Hops(1))
	require.Equal(t, 2, m.Hops(5))
	require.Equal(t, 6, m.Hops(15))
}

func TestMesh2DNeighbors(t *testing.T) {
	corner := topology.NewMesh2D(4, 4, 0)
	require.ElementsMatch(t, []uint32{1, 4}, corner.Neighbors())

	inner := topology.NewMesh2D(4, 4, 5)
	require.ElementsMatch(t, []uint32{4, 6, 1, 9}, inner.Neighbors())
}

func TestTorus2DShortestPath(t *testing.T) {
	// 4x4 torus, from node 0 at (0,0) to node 14 at (2,3): two hops
	// East, then one hop South through the wrap-around.
	h := topology.NewTorus2D(4, 4, 0)

	require.Equal(t, topology.East, h.Route(14))
	require.Equal(t, 3, h.Hops(14))

	// Once X is resolved, the Y leg goes South via the wrap.
	atX := topology.NewTorus2D(4, 4, 2)
	require.Equal(t, topology.South, atX.Route(14))
	require.Equal(t, 1, atX.Hops(14))
}

func TestTorus2DTiesPreferForward(t *testing.T) {
	h := topology.NewTorus2D(4, 4, 0)

	// Distance 2 both ways along X; forward (East) wins.
	require.Equal(t, topology.East, h.Route(2))
	require.Equal(t, 2, h.Hops(2))
}

func TestTorus2DNeighborsAlwaysFour(t *testing.T) {
	h := topology.NewTorus2D(4, 4, 0)
	require.ElementsMatch(t, []uint32{3, 1, 12, 4}, h.Neighbors())
}

func TestDescriptions(t *testing.T) {
	require.Equal(t, "Mesh2D[4x4] Node(1,1)", topology.NewMesh2D(4, 4, 5).Description())
	require.Equal(t, "Torus2D[2x8] Node(1,3)", topology.NewTorus2D(2, 8, 7).Description())
}
