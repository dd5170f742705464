/*package adapt implements mesh adaptation control on a distributed forest
of octrees: the per-block phase sequence, the level-negotiation exchange
that maintains 2:1 balance across every face, edge, and corner, and the
refine/coarsen data motion.

Each adapt cycle walks every block through begin, called, next, and end.
The surrounding runtime separates begin from called with a nearest-neighbor
barrier and the remaining transitions with quiescence barriers; within the
called window the receive handler re-invokes the send fan-out every time it
raises its desired level, and because desired levels only ever rise and are
bounded by the maximum level, the exchange reaches a fixpoint.
*/
package adapt

import (
	g_error "github.com/astromesh/amr/lib/error"
	"github.com/astromesh/amr/lib/field"
	"github.com/astromesh/amr/lib/mesh"
	"github.com/astromesh/amr/lib/mlog"
)

// Begin starts the adapt phase on this block: compute the desired level
// from the local refinement criteria. The runtime advances to Called once
// every nearest neighbor has done the same.
func (b *Block) Begin() {
	b.levelNext = b.computeDesiredLevel(b.rt.MaxLevel())
}

// Called announces the block's current and desired levels to every
// neighbor. The runtime advances to Next once the forest is quiescent;
// until then RecvLevel may run any number of times and re-announce.
func (b *Block) Called() {
	b.sendLevel()
}

// Next commits the negotiated face levels, then refines or coarsens leaves
// whose desired level differs from their current one.
func (b *Block) Next() {
	b.updateLevels()

	if b.isLeaf {
		if b.level < b.levelNext { b.refine() }
		if b.level > b.levelNext { b.coarsen() }
	}
}

// End finishes the phase: roots re-open block insertion, coarsened blocks
// destroy themselves, and survivors reset the per-phase negotiation state.
// It returns whether the block wants another adapt iteration, which happens
// only while the initial hierarchy is growing.
func (b *Block) End() bool {
	if b.index.IsRoot() {
		b.rt.DoneInserting()
	}

	if b.del {
		b.rt.Destroy(b.index)
		return false
	}

	for i := range b.faceLevelLast {
		b.faceLevelLast[i] = 0
	}
	b.syncCoarsen.reset(mesh.NumChildren(b.rank))

	isFirstCycle := b.rt.InitialCycle() == b.cycle
	again := isFirstCycle && b.adaptStep < b.rt.MaxLevel()
	b.adaptStep++
	return again
}

// DoAdapt reports whether the adapt phase runs this cycle.
func (b *Block) DoAdapt(adaptInterval int) bool {
	return adaptInterval > 0 && b.cycle%adaptInterval == 0
}

func (b *Block) updateLevels() {
	b.faceLevelCurr = b.faceLevelNext
	b.childFaceLevelCurr = b.childFaceLevelNext
}

// sendLevel announces (level, levelNext) across every face. The form of the
// announcement depends on the neighbor's level relative to ours.
func (b *Block) sendLevel() {
	if !b.isLeaf { return }

	geom := b.rt.Geometry()

	for _, f := range mesh.Faces(b.rank, minFaceRank) {
		nbr, ok := geom.Neighbor(b.index, f)
		if !ok { continue }

		levelFace := b.faceLevelCurr[f.Slot()]

		if levelFace == b.level {

			// SEND-SAME: one announcement to the unique neighbor in the
			// same level.
			b.rt.SendLevel(nbr, LevelMsg{
				Sender: b.index, F: f,
				LevelCurr: b.level, LevelNew: b.levelNext,
			})

		} else if levelFace == b.level-1 {

			// SEND-COARSE: announce to the unique neighbor in the
			// next-coarser level. Siblings sharing the uncle face would
			// all target the same block, so only the sibling whose face
			// maps onto the parent's face unchanged sends.
			ic := b.index.ChildWithinParent()
			op, _ := mesh.ParentFace(f, ic)
			if op == f {
				b.rt.SendLevel(nbr.Parent(), LevelMsg{
					Sender: b.index, IC: ic, F: f,
					LevelCurr: b.level, LevelNew: b.levelNext,
				})
			}

		} else if levelFace == b.level+1 {

			// SEND-FINE: announce to every nibling in the next-finer
			// level along the face.
			for _, ic := range mesh.ChildrenOnFace(b.rank, f.Mirror()) {
				b.rt.SendLevel(nbr.Child(ic), LevelMsg{
					Sender: b.index, IC: ic, F: f,
					LevelCurr: b.level, LevelNew: b.levelNext,
				})
			}

		} else {
			mlog.Module(mlog.AdaptModule).Warn(
				"face level and block level differ by more than 1",
				"index", b.index.String(), "face", f,
				"level", b.level, "face_level", levelFace,
			)
		}
	}
}

// RecvLevel is the entry point for a neighbor's level announcement.
func (b *Block) RecvLevel(m LevelMsg) {
	if m.Sender.Level() != m.LevelCurr {
		mlog.Module(mlog.AdaptModule).Warn(
			"level mismatch between sender index and announced level",
			"index", b.index.String(), "sender", m.Sender.String(),
			"sender_level", m.Sender.Level(), "announced", m.LevelCurr,
		)
	}

	// Stale announcements carry a smaller level than one already heard
	// through the same child and face; the monotone raise rule makes them
	// safe to drop. Equal levels re-apply.
	slot := mesh.PairSlot(m.IC, m.F)
	if b.faceLevelLast[slot] > m.LevelNew {
		return
	}
	b.faceLevelLast[slot] = m.LevelNew

	of := m.F.Mirror()

	if !b.isLeaf {
		// An internal node has no level to negotiate; an announcement
		// reaching one means the sender's face levels disagree with the
		// forest structure. Log the envelope so the failure can be
		// diagnosed, then abort.
		mlog.Module(mlog.AdaptModule).Error(
			"level announcement arrived on an internal node",
			"index", b.index.String(), "sender", m.Sender.String(),
			"ic", m.IC, "face", m.F,
			"level_curr", m.LevelCurr, "level_new", m.LevelNew,
		)
		g_error.Internal(
			"block %s received a level announcement but is not a leaf",
			b.index,
		)
		return
	}

	if m.LevelCurr == b.level {
		b.recvSame(of, m.LevelNew)
	} else if m.LevelCurr == b.level+1 {
		b.recvFine(of, m.IC, m.LevelNew)
	} else if m.LevelCurr == b.level-1 {
		b.recvCoarse(of, m.IC, m.LevelNew)
	} else {
		mlog.Module(mlog.AdaptModule).Warn(
			"announced level and block level differ by more than 1",
			"index", b.index.String(), "level", b.level,
			"announced", m.LevelCurr,
		)
	}

	levelNext := b.levelNext

	// If this block wants to coarsen then all of its siblings must coarsen
	// with it, and no sibling may have children of its own; otherwise the
	// merge would leave a level jump. Either condition cancels coarsening.
	isCoarsening := levelNext < b.level

	isSibling := b.level > 0 && m.Sender.Level() > 0 &&
		m.Sender.Parent() == b.index.Parent()

	isNephew := b.level > 0 && m.Sender.Level() > 1 &&
		m.Sender.Parent().Parent() == b.index.Parent()

	isFinerNeighbor := m.LevelNew > levelNext

	if isCoarsening && ((isSibling && isFinerNeighbor) || isNephew) {
		levelNext = b.level
	}

	// Tighten to within 1 of the neighbor's desired level.
	if m.LevelNew-1 > levelNext {
		levelNext = m.LevelNew - 1
	}

	if levelNext != b.levelNext {
		g_error.Assert(levelNext > b.levelNext,
			"block %s lowered level_next from %d to %d",
			b.index, b.levelNext, levelNext)
		b.levelNext = levelNext
		b.sendLevel()
	}
}

// recvSame handles an announcement from the unique same-level neighbor:
// one face level updates, along with the faces of every child looking into
// that neighbor.
func (b *Block) recvSame(of mesh.Face, levelNew int) {
	b.faceLevelNext[of.Slot()] = levelNew

	for _, jc := range mesh.ChildrenOnFace(b.rank, of) {
		for _, jf := range mesh.FacesTouching(b.rank, jc, of) {
			b.childFaceLevelNext[mesh.PairSlot(jc, jf)] = levelNew
		}
	}
}

// recvFine handles an announcement from one finer neighbor: the face level
// updates, and so does the face of the unique child that actually borders
// the sending nibling.
func (b *Block) recvFine(of mesh.Face, ic mesh.Child, levelNew int) {
	b.faceLevelNext[of.Slot()] = levelNew

	geom := b.rt.Geometry()
	nbr, ok := geom.Neighbor(b.index, of)
	if !ok {
		mlog.Module(mlog.AdaptModule).Warn(
			"fine announcement across a boundary face",
			"index", b.index.String(), "face", of,
		)
		return
	}
	sender := nbr.Child(ic)

	for _, jc := range mesh.ChildrenOnFace(b.rank, of) {
		idxChild := b.index.Child(jc)
		for _, jf := range mesh.FacesTouching(b.rank, jc, of) {
			in, ok := geom.Neighbor(idxChild, jf)
			if ok && in == sender {
				b.childFaceLevelNext[mesh.PairSlot(jc, jf)] = levelNew
			}
		}
	}
}

// recvCoarse handles an announcement from the coarse neighbor across of:
// every face of this block that maps into the uncle's face updates, along
// with the corresponding child faces.
func (b *Block) recvCoarse(of mesh.Face, ic mesh.Child, levelNew int) {
	for _, jf := range mesh.FacesTouching(b.rank, ic, of) {
		b.faceLevelNext[jf.Slot()] = levelNew

		for _, jc := range mesh.ChildrenOnFace(b.rank, jf) {
			for _, kf := range mesh.FacesTouching(b.rank, jc, jf) {
				b.childFaceLevelNext[mesh.PairSlot(jc, kf)] = levelNew
			}
		}
	}
}

// refine creates the block's missing children, each with a payload
// prolonged from this block and the child's slice of the child-face
// levels.
func (b *Block) refine() {
	b.verdict = Unknown

	for _, ic := range mesh.Children(b.rank) {
		idxChild := b.index.Child(ic)
		if b.hasChild(idxChild) { continue }

		payload := b.rt.Prolong().Prolong(b.data, ic)

		var faceLevels [mesh.FaceSlots]int
		base := ic.Slot() * mesh.FaceSlots
		copy(faceLevels[:], b.childFaceLevelCurr[base:base+mesh.FaceSlots])

		b.rt.CreateBlock(ChildSpec{
			Index:           idxChild,
			NX:              payload.NX,
			NY:              payload.NY,
			NZ:              payload.NZ,
			Payload:         payload,
			ChildFaceLevels: faceLevels,
			AdaptStep:       b.adaptStep,
			Cycle:           b.cycle,
			Time:            b.time,
			Dt:              b.dt,
		})

		b.children = append(b.children, idxChild)
	}
	b.isLeaf = false
}

// coarsen packs the leaf's payload and face levels and surrenders them to
// the parent. The block itself is destroyed later, once the parent tells
// it to.
func (b *Block) coarsen() {
	if b.level == 0 || !b.isLeaf { return }

	payload, err := field.Encode(b.data)
	if err != nil {
		g_error.Internal("block %s failed to pack its payload: %v",
			b.index, err)
	}

	b.rt.SendChild(b.index.Parent(), ChildMsg{
		IC:            b.index.ChildWithinParent(),
		Payload:       payload,
		FaceLevelCurr: b.faceLevelCurr,
	})
}

// RecvChild absorbs one coarsening child's payload and face levels. The
// parent becomes a leaf as soon as the first child reports; payload
// assembly continues as the rest arrive.
func (b *Block) RecvChild(m ChildMsg) {
	child, err := field.Decode(m.Payload)
	if err != nil {
		g_error.Internal("block %s failed to unpack a child payload: %v",
			b.index, err)
	}
	b.rt.Restrict().Restrict(child, m.IC, b.data)

	idxChild := b.index.Child(m.IC)

	for _, of := range mesh.Faces(b.rank, minFaceRank) {
		b.childFaceLevelCurr[mesh.PairSlot(m.IC, of)] = m.FaceLevelCurr[of.Slot()]
	}
	for _, of := range mesh.Faces(b.rank, minFaceRank) {
		if opf, ok := mesh.ParentFace(of, m.IC); ok {
			b.faceLevelCurr[opf.Slot()] = m.FaceLevelCurr[of.Slot()]
		}
	}

	b.isLeaf = true

	b.deleteChild(idxChild)

	b.age = 0
}

// deleteChild tells a reabsorbed child to destroy itself and clears the
// child list once all siblings have reported.
func (b *Block) deleteChild(idx mesh.Index) {
	b.rt.SendDelete(idx)

	if b.syncCoarsen.next() {
		b.children = b.children[:0]
	}
}

// Delete marks the block for destruction at the end of the phase.
func (b *Block) Delete() {
	b.del = true
}

// initializeChildFaceLevels seeds the per-child face levels: a child face
// whose neighbor is another child of this block sits at level+1, a face on
// the parent's boundary inherits the parent's face level, and the zero
// face is the child itself.
func (b *Block) initializeChildFaceLevels() {
	geom := b.rt.Geometry()

	for _, ic := range mesh.Children(b.rank) {
		idxChild := b.index.Child(ic)

		for _, f := range mesh.Faces(b.rank, minFaceRank) {
			ip, _ := mesh.ParentFace(f, ic)

			levelChildFace := b.faceLevelCurr[ip.Slot()]
			if in, ok := geom.Neighbor(idxChild, f); ok && in.Parent() == b.index {
				levelChildFace = b.level + 1
			}
			b.childFaceLevelCurr[mesh.PairSlot(ic, f)] = levelChildFace
		}

		b.childFaceLevelCurr[mesh.PairSlot(ic, mesh.Face{})] = b.level + 1
	}

	b.childFaceLevelNext = b.childFaceLevelCurr
}
