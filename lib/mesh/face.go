package mesh

/* face.go contains the small direction types used to address neighbors and
children of a block: Face vectors in {-1,0,+1}^d and Child vectors in
{0,1}^d, along with their packed array slots. */

// Face points from a block toward one of its up to 3^d - 1 neighbors. Each
// component is -1, 0, or +1. The zero vector addresses the block itself and
// is a legal table slot but never a neighbor direction.
type Face [3]int

// Child selects one of the 2^d children of a block. Each component is 0
// or 1. Axes at or above the mesh rank stay 0.
type Child [3]int

const (
	// FaceSlots is the size of a face-indexed level table. The zero face
	// occupies a slot so indexing stays uniform across ranks.
	FaceSlots = 27

	// ChildSlots is the size of a child-indexed table.
	ChildSlots = 8

	// PairSlots is the size of a (child, face)-indexed level table.
	PairSlots = ChildSlots * FaceSlots
)

// Slot maps a face to its index in a face-level table.
func (f Face) Slot() int {
	return (f[0] + 1) + 3*(f[1]+1) + 9*(f[2]+1)
}

// Slot maps a child to its index in a child table.
func (c Child) Slot() int {
	return c[0] + 2*c[1] + 4*c[2]
}

// PairSlot maps a (child, face) pair to its index in a child-face level
// table.
func PairSlot(c Child, f Face) int {
	return c.Slot()*FaceSlots + f.Slot()
}

// IsZero reports whether f is the zero direction.
func (f Face) IsZero() bool {
	return f[0] == 0 && f[1] == 0 && f[2] == 0
}

// Mirror returns the face pointing the opposite way: the face under which a
// neighbor sees this block.
func (f Face) Mirror() Face {
	return Face{-f[0], -f[1], -f[2]}
}

// FacetRank returns the dimensionality of the facet shared across f: rank-1
// for a face, rank-2 for an edge, down to 0 for a corner.
func (f Face) FacetRank(rank int) int {
	n := 0
	for a := 0; a < rank; a++ {
		if f[a] != 0 { n++ }
	}
	return rank - n
}

// NumChildren returns the number of children of a block at the given rank.
func NumChildren(rank int) int {
	return 1 << uint(rank)
}

// ParentFace maps a face of the child ic onto the corresponding face of the
// child's parent. An axis on which the face points into the sibling interior
// is zeroed, since the parent has no face there. The boolean mirrors whether
// f itself is nonzero.
func ParentFace(f Face, ic Child) (Face, bool) {
	ip := f
	for a := 0; a < 3; a++ {
		if f[a] == +1 && ic[a] == 0 { ip[a] = 0 }
		if f[a] == -1 && ic[a] == 1 { ip[a] = 0 }
	}
	return ip, !f.IsZero()
}
