package mesh

/* iter.go enumerates the faces and children the adapt protocol visits when
it walks a block's neighborhood. The enumerations are returned as slices in
a fixed axis-major order so message traffic is deterministic for a given
forest state. */

// Faces returns every nonzero face of a block at the given rank whose facet
// rank is at least minFaceRank. minFaceRank 0 includes faces, edges, and
// corners; rank-1 restricts to full faces.
func Faces(rank, minFaceRank int) []Face {
	out := make([]Face, 0, 26)
	lim := limits(rank)
	for f2 := -lim[2]; f2 <= lim[2]; f2++ {
		for f1 := -lim[1]; f1 <= lim[1]; f1++ {
			for f0 := -lim[0]; f0 <= lim[0]; f0++ {
				f := Face{f0, f1, f2}
				if f.IsZero() { continue }
				if f.FacetRank(rank) < minFaceRank { continue }
				out = append(out, f)
			}
		}
	}
	return out
}

// Children returns all 2^rank children of a block.
func Children(rank int) []Child {
	out := make([]Child, 0, 8)
	lim := limits(rank)
	for c2 := 0; c2 <= lim[2]; c2++ {
		for c1 := 0; c1 <= lim[1]; c1++ {
			for c0 := 0; c0 <= lim[0]; c0++ {
				out = append(out, Child{c0, c1, c2})
			}
		}
	}
	return out
}

// ChildrenOnFace returns the children of a block adjacent to its face f:
// 2^(rank - |f|) of them, where |f| counts f's nonzero axes.
func ChildrenOnFace(rank int, f Face) []Child {
	out := make([]Child, 0, 4)
	for _, c := range Children(rank) {
		on := true
		for a := 0; a < rank; a++ {
			if f[a] == +1 && c[a] != 1 { on = false }
			if f[a] == -1 && c[a] != 0 { on = false }
		}
		if on { out = append(out, c) }
	}
	return out
}

// FacesTouching returns the faces of child ic that look into the region
// across the parent face wf. Axes on which wf is nonzero are fixed to wf;
// on the remaining axes the face either stays put or steps laterally toward
// the sibling boundary, so every returned face crosses into the wf-neighbor
// and not into a diagonal one.
func FacesTouching(rank int, ic Child, wf Face) []Face {
	out := []Face{}
	var walk func(a int, f Face)
	walk = func(a int, f Face) {
		if a == 3 {
			out = append(out, f)
			return
		}
		if a >= rank || wf[a] != 0 {
			f[a] = wf[a]
			walk(a+1, f)
			return
		}
		f[a] = 0
		walk(a+1, f)
		if ic[a] == 0 { f[a] = +1 } else { f[a] = -1 }
		walk(a+1, f)
	}
	walk(0, Face{})
	return out
}

func limits(rank int) [3]int {
	var lim [3]int
	for a := 0; a < rank; a++ {
		lim[a] = 1
	}
	return lim
}
