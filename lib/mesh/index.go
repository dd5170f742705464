/*package mesh describes the structure of a forest of octrees (quadtrees in
2-D, binary trees in 1-D) of fixed-size blocks. It provides the structural
Index identifying a forest node, the Face/Child direction types, and the
iterators the adapt protocol uses to walk a block's neighborhood.

Nothing in this package owns a block or talks to one: inter-block relations
are expressed purely as Index values so that the topologically cyclic
neighbor graph stays acyclic in ownership.
*/
package mesh

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	g_error "github.com/astromesh/amr/lib/error"
)

// MaxLevel is the deepest level an Index can encode.
const MaxLevel = 30

// Geometry describes the root grid of the forest: its dimensionality, the
// number of root trees along each axis, and whether each axis wraps.
type Geometry struct {
	Rank     int
	Roots    [3]int32
	Periodic [3]bool
}

// Validate checks that the geometry is usable and returns a descriptive
// error otherwise.
func (g Geometry) Validate() error {
	if g.Rank < 1 || g.Rank > 3 {
		return fmt.Errorf("rank must be 1, 2, or 3, not %d", g.Rank)
	}
	for a := 0; a < 3; a++ {
		if a < g.Rank && g.Roots[a] < 1 {
			return fmt.Errorf("axis %d has %d root trees", a, g.Roots[a])
		}
		if a >= g.Rank && g.Roots[a] > 1 {
			return fmt.Errorf(
				"axis %d is beyond rank %d but has %d root trees",
				a, g.Rank, g.Roots[a],
			)
		}
	}
	return nil
}

// Index identifies one node of the forest. Along each axis it packs the root
// tree coordinate above one child-selector bit per level, so the full
// coordinate of the node at its own level is tree<<level | path.
type Index struct {
	tree  [3]int32
	path  [3]uint32
	level int32
}

// Root returns the Index of the root of the tree at the given root-grid
// coordinate.
func Root(tree [3]int32) Index {
	return Index{tree: tree}
}

// Level returns the depth of the node: 0 at a root, +1 per child step.
func (i Index) Level() int {
	return int(i.level)
}

// IsRoot reports whether the node is the root of its tree.
func (i Index) IsRoot() bool {
	return i.level == 0
}

// Parent returns the Index of the node's parent.
func (i Index) Parent() Index {
	g_error.Assert(i.level > 0, "Parent() called on root index %s", i)
	p := i
	for a := 0; a < 3; a++ {
		p.path[a] >>= 1
	}
	p.level--
	return p
}

// Child returns the Index of the node's child ic.
func (i Index) Child(ic Child) Index {
	g_error.Assert(i.level < MaxLevel, "Child() called at level %d", i.level)
	c := i
	for a := 0; a < 3; a++ {
		c.path[a] = c.path[a]<<1 | uint32(ic[a])
	}
	c.level++
	return c
}

// ChildWithinParent returns which child of its parent the node is.
func (i Index) ChildWithinParent() Child {
	g_error.Assert(i.level > 0, "ChildWithinParent() called on root index %s", i)
	return Child{
		int(i.path[0] & 1), int(i.path[1] & 1), int(i.path[2] & 1),
	}
}

// Less imposes a total order on indices: by level, then root tree, then
// path, comparing the x path bits before y and z. Any total order works
// for the protocol.
func (i Index) Less(j Index) bool {
	if i.level != j.level { return i.level < j.level }
	for a := 0; a < 3; a++ {
		if i.tree[a] != j.tree[a] { return i.tree[a] < j.tree[a] }
	}
	for a := 0; a < 3; a++ {
		if i.path[a] != j.path[a] { return i.path[a] < j.path[a] }
	}
	return false
}

// Hash returns a stable 64-bit hash of the index.
func (i Index) Hash() uint64 {
	var b [28]byte
	for a := 0; a < 3; a++ {
		off := 8 * a
		u := uint32(i.tree[a])
		b[off+0] = byte(u)
		b[off+1] = byte(u >> 8)
		b[off+2] = byte(u >> 16)
		b[off+3] = byte(u >> 24)
		b[off+4] = byte(i.path[a])
		b[off+5] = byte(i.path[a] >> 8)
		b[off+6] = byte(i.path[a] >> 16)
		b[off+7] = byte(i.path[a] >> 24)
	}
	b[24] = byte(i.level)
	return xxhash.Sum64(b[:])
}

// String renders the index as the root coordinate followed by the per-level
// child bits along each axis, e.g. "(1,0,0):10/00/01".
func (i Index) String() string {
	s := fmt.Sprintf("(%d,%d,%d):", i.tree[0], i.tree[1], i.tree[2])
	for l := i.level - 1; l >= 0; l-- {
		for a := 0; a < 3; a++ {
			s += fmt.Sprintf("%d", i.path[a]>>uint(l)&1)
		}
		if l > 0 { s += "/" }
	}
	return s
}

// Neighbor returns the Index of the same-level neighbor of i across face f,
// and whether that neighbor exists. On a periodic axis the coordinate wraps
// across the root grid; on a non-periodic axis a face through the domain
// boundary has no neighbor.
func (g Geometry) Neighbor(i Index, f Face) (Index, bool) {
	n := i
	for a := 0; a < 3; a++ {
		if f[a] == 0 { continue }
		if a >= g.Rank { return Index{}, false }

		pos := int64(i.tree[a])<<uint(i.level) | int64(i.path[a])
		span := int64(g.Roots[a]) << uint(i.level)
		pos += int64(f[a])
		if pos < 0 || pos >= span {
			if !g.Periodic[a] { return Index{}, false }
			pos = (pos + span) % span
		}
		n.tree[a] = int32(pos >> uint(i.level))
		n.path[a] = uint32(pos) & (1<<uint(i.level) - 1)
	}
	return n, true
}
