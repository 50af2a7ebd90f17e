package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityFormula(t *testing.T) {
	for w := 2; w <= 6; w++ {
		for d := 1; d <= 7; d++ {
			g, err := New(w, d)
			require.NoError(t, err)

			pow := 1
			for i := 0; i < d; i++ {
				pow *= w
			}
			want := (pow - 1) / (w - 1)
			assert.Equal(t, want, g.Capacity(), "W=%d D=%d", w, d)
		}
	}
}

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New(1, 3)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = New(2, 0)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = New(1000, 10)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestParentChildRoundTrip(t *testing.T) {
	g, err := New(3, 4)
	require.NoError(t, err)

	for i := 0; i < g.Capacity(); i++ {
		children, err := g.ChildrenOf(i)
		require.NoError(t, err)
		for _, c := range children {
			p, err := g.ParentOf(c)
			require.NoError(t, err)
			assert.Equal(t, i, p)
		}
	}
}

func TestChildrenOf(t *testing.T) {
	g, err := New(2, 3)
	require.NoError(t, err)

	children, err := g.ChildrenOf(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, children)

	children, err = g.ChildrenOf(2)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, children)

	children, err = g.ChildrenOf(6)
	require.NoError(t, err)
	assert.Empty(t, children, "last level has no children")
}

func TestInvalidIndex(t *testing.T) {
	g, err := New(2, 3)
	require.NoError(t, err)

	_, err = g.ParentOf(0)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = g.DepthOf(7)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = g.CapacityBelow(-1)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestDepthAndCapacityBelow(t *testing.T) {
	g, err := New(2, 3)
	require.NoError(t, err)

	tests := []struct {
		index int
		depth int
		below int
	}{
		{0, 0, 6},
		{1, 1, 2},
		{2, 1, 2},
		{3, 2, 0},
		{6, 2, 0},
	}
	for _, tc := range tests {
		d, err := g.DepthOf(tc.index)
		require.NoError(t, err)
		assert.Equal(t, tc.depth, d, "depth of %d", tc.index)

		b, err := g.CapacityBelow(tc.index)
		require.NoError(t, err)
		assert.Equal(t, tc.below, b, "capacity below %d", tc.index)
	}
}

func TestAncestorsNearestFirst(t *testing.T) {
	g, err := New(3, 4)
	require.NoError(t, err)

	// 20 -> parent 6 -> parent 1 -> parent 0
	anc, err := g.Ancestors(20)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 1, 0}, anc)

	anc, err = g.Ancestors(0)
	require.NoError(t, err)
	assert.Empty(t, anc)
}

func TestLevelRange(t *testing.T) {
	g, err := New(3, 3)
	require.NoError(t, err)

	first, last, err := g.LevelRange(2)
	require.NoError(t, err)
	assert.Equal(t, 4, first)
	assert.Equal(t, 12, last)

	_, _, err = g.LevelRange(3)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestBreadthFirstOrder(t *testing.T) {
	g, err := New(2, 4)
	require.NoError(t, err)

	var fromRoot []int
	require.NoError(t, g.BreadthFirst(0, func(i int) bool {
		fromRoot = append(fromRoot, i)
		return true
	}))
	want := make([]int, 0, 14)
	for i := 1; i < 15; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, fromRoot)

	var fromOne []int
	require.NoError(t, g.BreadthFirst(1, func(i int) bool {
		fromOne = append(fromOne, i)
		return true
	}))
	assert.Equal(t, []int{3, 4, 7, 8, 9, 10}, fromOne)

	var stopped []int
	require.NoError(t, g.BreadthFirst(0, func(i int) bool {
		stopped = append(stopped, i)
		return i < 3
	}))
	assert.Equal(t, []int{1, 2, 3}, stopped)
}
