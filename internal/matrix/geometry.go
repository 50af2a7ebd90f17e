// Package matrix implements slot-index arithmetic for complete W-ary trees of
// fixed depth stored in breadth-first (heap) order. Index 0 is the root and
// the children of i are i*W+1 .. i*W+W.
package matrix

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidIndex    = errors.New("matrix: invalid slot index")
	ErrInvalidGeometry = errors.New("matrix: invalid geometry")
)

// maxCapacity keeps every slot index representable as an int on all
// platforms and in a Postgres INTEGER column.
const maxCapacity = math.MaxInt32

// Geometry describes the shape of one tree instance.
type Geometry struct {
	Width int
	Depth int
}

// New validates the dimensions and returns a Geometry.
func New(width, depth int) (Geometry, error) {
	g := Geometry{Width: width, Depth: depth}
	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// Validate reports whether the geometry is usable: W>=2, D>=1 and a total
// capacity that fits in an int32.
func (g Geometry) Validate() error {
	if g.Width < 2 {
		return fmt.Errorf("%w: width must be >= 2, got %d", ErrInvalidGeometry, g.Width)
	}
	if g.Depth < 1 {
		return fmt.Errorf("%w: depth must be >= 1, got %d", ErrInvalidGeometry, g.Depth)
	}
	if _, ok := subtreeSize(g.Width, g.Depth); !ok {
		return fmt.Errorf("%w: %dx%d exceeds maximum capacity", ErrInvalidGeometry, g.Width, g.Depth)
	}
	return nil
}

// Capacity returns the number of slots in one instance: (W^D - 1)/(W - 1).
func (g Geometry) Capacity() int {
	n, _ := subtreeSize(g.Width, g.Depth)
	return n
}

// Contains reports whether i addresses a slot of this geometry.
func (g Geometry) Contains(i int) bool {
	return i >= 0 && i < g.Capacity()
}

func (g Geometry) check(i int) error {
	if !g.Contains(i) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidIndex, i, g.Capacity())
	}
	return nil
}

// ParentOf returns floor((i-1)/W). The root has no parent.
func (g Geometry) ParentOf(i int) (int, error) {
	if err := g.check(i); err != nil {
		return 0, err
	}
	if i == 0 {
		return 0, fmt.Errorf("%w: root has no parent", ErrInvalidIndex)
	}
	return (i - 1) / g.Width, nil
}

// ChildrenOf returns the child indexes of i in ascending order. Slots on the
// last level have no children.
func (g Geometry) ChildrenOf(i int) ([]int, error) {
	depth, err := g.DepthOf(i)
	if err != nil {
		return nil, err
	}
	if depth == g.Depth-1 {
		return nil, nil
	}
	children := make([]int, g.Width)
	first := i*g.Width + 1
	for k := range children {
		children[k] = first + k
	}
	return children, nil
}

// DepthOf returns the number of parent hops from i to the root.
func (g Geometry) DepthOf(i int) (int, error) {
	if err := g.check(i); err != nil {
		return 0, err
	}
	depth := 0
	for i > 0 {
		i = (i - 1) / g.Width
		depth++
	}
	return depth, nil
}

// CapacityBelow returns how many slots lie strictly below i.
func (g Geometry) CapacityBelow(i int) (int, error) {
	depth, err := g.DepthOf(i)
	if err != nil {
		return 0, err
	}
	n, _ := subtreeSize(g.Width, g.Depth-depth)
	return n - 1, nil
}

// Ancestors returns the ancestors of i, nearest first, ending at the root.
func (g Geometry) Ancestors(i int) ([]int, error) {
	depth, err := g.DepthOf(i)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, depth)
	for i > 0 {
		i = (i - 1) / g.Width
		out = append(out, i)
	}
	return out, nil
}

// LevelRange returns the first and last index of a level (root level is 0).
func (g Geometry) LevelRange(level int) (first, last int, err error) {
	if level < 0 || level >= g.Depth {
		return 0, 0, fmt.Errorf("%w: level %d outside depth %d", ErrInvalidIndex, level, g.Depth)
	}
	first, _ = subtreeSize(g.Width, level)
	last, _ = subtreeSize(g.Width, level+1)
	return first, last - 1, nil
}

// BreadthFirst visits the strict descendants of start level by level, in
// ascending index order, until visit returns false.
func (g Geometry) BreadthFirst(start int, visit func(i int) bool) error {
	if err := g.check(start); err != nil {
		return err
	}
	capacity := g.Capacity()
	lo, hi := start, start
	for {
		lo = lo*g.Width + 1
		hi = hi*g.Width + g.Width
		if lo >= capacity {
			return nil
		}
		for i := lo; i <= hi && i < capacity; i++ {
			if !visit(i) {
				return nil
			}
		}
	}
}

// subtreeSize returns (W^levels - 1)/(W - 1), the size of a complete tree
// with the given number of levels, and false on overflow.
func subtreeSize(width, levels int) (int, bool) {
	total, layer := 0, 1
	for l := 0; l < levels; l++ {
		total += layer
		if total > maxCapacity {
			return 0, false
		}
		if l+1 < levels {
			if layer > maxCapacity/width {
				return 0, false
			}
			layer *= width
		}
	}
	return total, true
}
