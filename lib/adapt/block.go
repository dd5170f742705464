package adapt

/* block.go contains the Block type: one actor owning one node of the forest,
along with the per-block state the adapt protocol negotiates over. */

import (
	"github.com/astromesh/amr/lib/field"
	"github.com/astromesh/amr/lib/mesh"
)

// minFaceRank is the smallest facet rank that participates in level
// negotiation. 2:1 balance must hold across corners and edges as well as
// faces, so every nonzero direction is included.
const minFaceRank = 0

// LevelMsg announces a sender's current and desired level across a face.
type LevelMsg struct {
	Sender    mesh.Index
	IC        mesh.Child
	F         mesh.Face
	LevelCurr int
	LevelNew  int
}

// ChildMsg carries a coarsening child's packed payload and face levels to
// its parent.
type ChildMsg struct {
	IC            mesh.Child
	Payload       []byte
	FaceLevelCurr [mesh.FaceSlots]int
}

// ChildSpec is everything the block factory needs to create a refined
// child.
type ChildSpec struct {
	Index           mesh.Index
	NX, NY, NZ      int
	Payload         *field.Data
	ChildFaceLevels [mesh.FaceSlots]int
	AdaptStep       int
	Cycle           int
	Time, Dt        float64
}

// Runtime is the surface the surrounding simulation exposes to a block: the
// configuration it negotiates under, the capabilities it consumes, and the
// message plane it talks to other blocks through. Handlers never block on
// any of these.
type Runtime interface {
	MaxLevel() int
	InitialCycle() int
	Geometry() mesh.Geometry

	Criteria() []Criterion
	Prolong() field.Prolonger
	Restrict() field.Restricter

	SendLevel(to mesh.Index, m LevelMsg)
	SendChild(to mesh.Index, m ChildMsg)
	SendDelete(to mesh.Index)

	CreateBlock(spec ChildSpec)
	Destroy(idx mesh.Index)
	DoneInserting()
}

// Block is one forest node: a leaf carrying field data, or an internal node
// carrying only structural metadata. All of its handlers run atomically
// with respect to its own state.
type Block struct {
	rt Runtime

	index  mesh.Index
	rank   int
	isLeaf bool
	del    bool
	age    uint32

	cycle    int
	time, dt float64

	level     int
	levelNext int
	adaptStep int
	verdict   Verdict

	children []mesh.Index

	faceLevelCurr      [mesh.FaceSlots]int
	faceLevelNext      [mesh.FaceSlots]int
	faceLevelLast      [mesh.PairSlots]int
	childFaceLevelCurr [mesh.PairSlots]int
	childFaceLevelNext [mesh.PairSlots]int

	syncCoarsen counter

	data *field.Data
}

// NewBlock creates a block at the given index. faceLevels holds the level
// of the neighbor across each face; a root grid starts with all zeros,
// while a refined child receives its slice of the parent's child-face
// levels.
func NewBlock(
	rt Runtime, index mesh.Index, rank int, data *field.Data,
	faceLevels [mesh.FaceSlots]int,
	adaptStep, cycle int, time, dt float64,
) *Block {
	b := &Block{
		rt:        rt,
		index:     index,
		rank:      rank,
		isLeaf:    true,
		cycle:     cycle,
		time:      time,
		dt:        dt,
		level:     index.Level(),
		levelNext: index.Level(),
		adaptStep: adaptStep,
		data:      data,
	}
	b.faceLevelCurr = faceLevels
	b.faceLevelNext = faceLevels
	b.syncCoarsen.reset(mesh.NumChildren(rank))
	b.initializeChildFaceLevels()
	return b
}

// Index returns the block's structural index.
func (b *Block) Index() mesh.Index { return b.index }

// Rank returns the dimensionality of the block.
func (b *Block) Rank() int { return b.rank }

// Level returns the block's refinement level.
func (b *Block) Level() int { return b.level }

// LevelNext returns the level the block currently wants for the next
// cycle. It only ever rises while a negotiation round is in flight.
func (b *Block) LevelNext() int { return b.levelNext }

// IsLeaf reports whether the block is a leaf.
func (b *Block) IsLeaf() bool { return b.isLeaf }

// MarkedForDeletion reports whether the block will destroy itself at the
// end of the phase.
func (b *Block) MarkedForDeletion() bool { return b.del }

// Age returns the number of cycles since the block was created or last
// reabsorbed its children.
func (b *Block) Age() uint32 { return b.age }

// Cycle returns the cycle the block last saw.
func (b *Block) Cycle() int { return b.cycle }

// Children returns the indices of the block's children. Empty iff leaf.
func (b *Block) Children() []mesh.Index { return b.children }

// Data returns the block's field payload.
func (b *Block) Data() *field.Data { return b.data }

// FaceLevel returns the committed level of the neighbor across face f.
func (b *Block) FaceLevel(f mesh.Face) int {
	return b.faceLevelCurr[f.Slot()]
}

// Tick advances the block's clock by one cycle.
func (b *Block) Tick(dt float64) {
	b.cycle++
	b.time += dt
	b.dt = dt
	b.age++
}

func (b *Block) hasChild(idx mesh.Index) bool {
	for i := range b.children {
		if b.children[i] == idx { return true }
	}
	return false
}

// counter counts sibling acknowledgements during coarsening. next reports
// whether the counter reached its stop value, resetting it if so.
type counter struct {
	n, stop int
}

func (c *counter) reset(stop int) {
	c.n, c.stop = 0, stop
}

func (c *counter) next() bool {
	c.n++
	if c.n >= c.stop {
		c.n = 0
		return true
	}
	return false
}
