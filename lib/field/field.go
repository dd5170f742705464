/*package field holds the field payload carried by leaf blocks and the
prolongation/restriction operators that move it between levels. The adapt
control code treats the payload as opaque: it only ever hands a Data to an
operator or to the codec.
*/
package field

import (
	"gonum.org/v1/gonum/floats"

	g_error "github.com/astromesh/amr/lib/error"
	"github.com/astromesh/amr/lib/mesh"
)

// Data is one block's field payload: a dense cell array of nx*ny*nz values.
// Axes beyond the mesh rank have extent 1.
type Data struct {
	NX, NY, NZ int
	V          []float64
}

// New returns a zeroed payload with the given cell counts.
func New(nx, ny, nz int) *Data {
	return &Data{NX: nx, NY: ny, NZ: nz, V: make([]float64, nx*ny*nz)}
}

// Clone returns a deep copy of the payload.
func (d *Data) Clone() *Data {
	out := New(d.NX, d.NY, d.NZ)
	copy(out.V, d.V)
	return out
}

func (d *Data) cell(ix, iy, iz int) int {
	return ix + d.NX*(iy+d.NY*iz)
}

// At returns the value of the cell at (ix, iy, iz).
func (d *Data) At(ix, iy, iz int) float64 {
	return d.V[d.cell(ix, iy, iz)]
}

// Set assigns the cell at (ix, iy, iz).
func (d *Data) Set(ix, iy, iz int, v float64) {
	d.V[d.cell(ix, iy, iz)] = v
}

// Prolonger interpolates a parent payload onto the grid of the child ic.
type Prolonger interface {
	Prolong(parent *Data, ic mesh.Child) *Data
}

// Restricter folds a child payload back into the ic octant of the parent
// payload.
type Restricter interface {
	Restrict(child *Data, ic mesh.Child, parent *Data)
}

// Injection prolongs by copying each parent cell into the child cells it
// covers, and restricts by averaging them back. The two operators are exact
// inverses of one another on any payload, which makes a refine-coarsen
// round trip lossless.
type Injection struct {
	Rank int
}

// extent returns the number of child cells a parent cell covers on axis a.
func (op Injection) extent(a int) int {
	if a < op.Rank { return 2 }
	return 1
}

// Prolong copies the ic octant of the parent onto a child-shaped grid.
func (op Injection) Prolong(parent *Data, ic mesh.Child) *Data {
	checkDims(op.Rank, parent)

	child := New(parent.NX, parent.NY, parent.NZ)
	sx, sy, sz := op.extent(0), op.extent(1), op.extent(2)
	for iz := 0; iz < child.NZ; iz++ {
		for iy := 0; iy < child.NY; iy++ {
			for ix := 0; ix < child.NX; ix++ {
				px := (ix + ic[0]*parent.NX) / sx
				py := (iy + ic[1]*parent.NY) / sy
				pz := (iz + ic[2]*parent.NZ) / sz
				child.Set(ix, iy, iz, parent.At(px, py, pz))
			}
		}
	}
	return child
}

// Restrict averages the child's cells into the ic octant of the parent.
func (op Injection) Restrict(child *Data, ic mesh.Child, parent *Data) {
	checkDims(op.Rank, parent)
	g_error.Assert(
		child.NX == parent.NX && child.NY == parent.NY && child.NZ == parent.NZ,
		"child payload is %dx%dx%d but parent is %dx%dx%d",
		child.NX, child.NY, child.NZ, parent.NX, parent.NY, parent.NZ,
	)

	sx, sy, sz := op.extent(0), op.extent(1), op.extent(2)
	ox, oy, oz := parent.NX/sx, parent.NY/sy, parent.NZ/sz

	acc := make([]float64, ox*oy*oz)
	for iz := 0; iz < child.NZ; iz += sz {
		for iy := 0; iy < child.NY; iy += sy {
			for ix := 0; ix < child.NX; ix += sx {
				j := (ix / sx) + ox*((iy/sy)+oy*(iz/sz))
				// Sum pairwise, one axis at a time, so equal cells add exactly.
				for dz := 0; dz < sz; dz++ {
					sumY := 0.0
					for dy := 0; dy < sy; dy++ {
						sumX := 0.0
						for dx := 0; dx < sx; dx++ {
							sumX += child.At(ix+dx, iy+dy, iz+dz)
						}
						sumY += sumX
					}
					acc[j] += sumY
				}
			}
		}
	}
	floats.Scale(1/float64(sx*sy*sz), acc)

	for iz := 0; iz < oz; iz++ {
		for iy := 0; iy < oy; iy++ {
			for ix := 0; ix < ox; ix++ {
				parent.Set(
					ix+ic[0]*ox, iy+ic[1]*oy, iz+ic[2]*oz,
					acc[ix+ox*(iy+oy*iz)],
				)
			}
		}
	}
}

func checkDims(rank int, d *Data) {
	n := [3]int{d.NX, d.NY, d.NZ}
	for a := 0; a < rank; a++ {
		g_error.Assert(n[a]%2 == 0,
			"axis %d has odd cell count %d; refined axes need even counts",
			a, n[a])
	}
}
