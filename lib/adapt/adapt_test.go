package adapt

import (
	"testing"

	"github.com/astromesh/amr/lib/field"
	"github.com/astromesh/amr/lib/mesh"
)

// fakeRuntime records every call a block makes, so the protocol's send
// fan-out can be inspected one handler at a time.
type fakeRuntime struct {
	maxLevel     int
	initialCycle int
	geom         mesh.Geometry
	criteria     []Criterion

	levels  []sentLevel
	childs  []sentChild
	deletes []mesh.Index
	created []ChildSpec
	killed  []mesh.Index
	done    int
}

type sentLevel struct {
	to mesh.Index
	m  LevelMsg
}

type sentChild struct {
	to mesh.Index
	m  ChildMsg
}

func (rt *fakeRuntime) MaxLevel() int             { return rt.maxLevel }
func (rt *fakeRuntime) InitialCycle() int         { return rt.initialCycle }
func (rt *fakeRuntime) Geometry() mesh.Geometry   { return rt.geom }
func (rt *fakeRuntime) Criteria() []Criterion     { return rt.criteria }
func (rt *fakeRuntime) Prolong() field.Prolonger  { return field.Injection{Rank: rt.geom.Rank} }
func (rt *fakeRuntime) Restrict() field.Restricter { return field.Injection{Rank: rt.geom.Rank} }

func (rt *fakeRuntime) SendLevel(to mesh.Index, m LevelMsg) {
	rt.levels = append(rt.levels, sentLevel{to, m})
}
func (rt *fakeRuntime) SendChild(to mesh.Index, m ChildMsg) {
	rt.childs = append(rt.childs, sentChild{to, m})
}
func (rt *fakeRuntime) SendDelete(to mesh.Index) {
	rt.deletes = append(rt.deletes, to)
}
func (rt *fakeRuntime) CreateBlock(spec ChildSpec) {
	rt.created = append(rt.created, spec)
}
func (rt *fakeRuntime) Destroy(idx mesh.Index) {
	rt.killed = append(rt.killed, idx)
}
func (rt *fakeRuntime) DoneInserting() { rt.done++ }

func newFake(rank, maxLevel int) *fakeRuntime {
	return &fakeRuntime{
		maxLevel: maxLevel,
		geom: mesh.Geometry{
			Rank:     rank,
			Roots:    rootsAt(rank),
			Periodic: [3]bool{true, true, true},
		},
	}
}

func rootsAt(rank int) [3]int32 {
	r := [3]int32{1, 1, 1}
	for a := 0; a < rank; a++ { r[a] = 2 }
	return r
}

func testData(rank int) *field.Data {
	n := [3]int{1, 1, 1}
	for a := 0; a < rank; a++ { n[a] = 4 }
	return field.New(n[0], n[1], n[2])
}

func newTestBlock(rt *fakeRuntime, idx mesh.Index) *Block {
	var fl [mesh.FaceSlots]int
	for i := range fl {
		fl[i] = idx.Level()
	}
	return NewBlock(rt, idx, rt.geom.Rank, testData(rt.geom.Rank), fl,
		0, 0, 0, 0)
}

func TestCounter(t *testing.T) {
	c := &counter{}
	c.reset(4)
	for round := 0; round < 2; round++ {
		for i := 0; i < 3; i++ {
			if c.next() {
				t.Errorf("round %d) counter fired after %d ticks", round, i+1)
			}
		}
		if !c.next() {
			t.Errorf("round %d) counter did not fire after 4 ticks", round)
		}
	}
}

func TestComputeDesiredLevel(t *testing.T) {
	tests := []struct {
		level    int
		verdict  Verdict
		cycle    int
		maxLevel int
		want     int
	}{
		{1, Refine, 5, 3, 2},
		{3, Refine, 5, 3, 3},  // at max level: never refine
		{1, Coarsen, 5, 3, 0},
		{0, Coarsen, 5, 3, 0}, // at level 0: never coarsen
		{1, Coarsen, 0, 3, 1}, // initial cycle: never coarsen
		{1, Same, 5, 3, 1},
		{1, Unknown, 5, 3, 1},
	}

	for i := range tests {
		rt := newFake(2, tests[i].maxLevel)
		verdict := tests[i].verdict
		rt.criteria = []Criterion{
			CriterionFunc(func(*Block) Verdict { return verdict }),
		}

		idx := mesh.Root([3]int32{0, 0, 0})
		for l := 0; l < tests[i].level; l++ {
			idx = idx.Child(mesh.Child{})
		}
		b := newTestBlock(rt, idx)
		b.cycle = tests[i].cycle

		got := b.computeDesiredLevel(tests[i].maxLevel)
		if got != tests[i].want {
			t.Errorf("%d) desired level = %d, expected %d", i, got, tests[i].want)
		}
	}
}

func TestCriteriaCombineByMax(t *testing.T) {
	rt := newFake(2, 3)
	rt.criteria = []Criterion{
		CriterionFunc(func(*Block) Verdict { return Coarsen }),
		CriterionFunc(func(*Block) Verdict { return Refine }),
		CriterionFunc(func(*Block) Verdict { return Unknown }),
	}

	idx := mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{})
	b := newTestBlock(rt, idx)
	b.cycle = 5

	if got := b.computeDesiredLevel(3); got != 2 {
		t.Errorf("desired level = %d, expected refine to win with 2", got)
	}
}

func TestSendLevelSame(t *testing.T) {
	rt := newFake(2, 3)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{}))
	b.levelNext = 2

	b.sendLevel()

	// All 8 neighbors sit at the same level: one message per face.
	if len(rt.levels) != 8 {
		t.Fatalf("sent %d messages, expected 8", len(rt.levels))
	}
	for i, s := range rt.levels {
		if s.m.LevelCurr != 1 || s.m.LevelNew != 2 {
			t.Errorf("%d) sent levels (%d, %d), expected (1, 2)",
				i, s.m.LevelCurr, s.m.LevelNew)
		}
		if s.m.Sender != b.index {
			t.Errorf("%d) sender is %s, not the block itself", i, s.m.Sender)
		}
		want, ok := rt.geom.Neighbor(b.index, s.m.F)
		if !ok || s.to != want {
			t.Errorf("%d) message across %v went to %s, expected %s",
				i, s.m.F, s.to, want)
		}
	}
}

func TestSendLevelCoarseDedup(t *testing.T) {
	rt := newFake(2, 3)
	root := mesh.Root([3]int32{0, 0, 0})
	corner := mesh.Face{-1, +1, 0}

	// Child (0,1) sits on both boundaries of the corner, so its corner
	// face maps onto the parent's corner unchanged and it announces to
	// the uncle.
	b := newTestBlock(rt, root.Child(mesh.Child{0, 1, 0}))
	b.faceLevelCurr[corner.Slot()] = 0
	b.sendLevel()

	found := false
	for _, s := range rt.levels {
		if s.m.F == corner {
			found = true
			nbr, _ := rt.geom.Neighbor(b.index, corner)
			if s.to != nbr.Parent() {
				t.Errorf("coarse message went to %s, expected uncle %s",
					s.to, nbr.Parent())
			}
			if s.m.IC != (mesh.Child{0, 1, 0}) {
				t.Errorf("coarse message carries child key %v", s.m.IC)
			}
		}
	}
	if !found {
		t.Errorf("no message sent across the coarse corner")
	}

	// Child (0,0)'s corner face maps to the parent's -x face: the block
	// across it lies in the parent's -x neighbor, which the child's own
	// -x face already reaches, so its announcement is the redundant one
	// and is dropped.
	rt2 := newFake(2, 3)
	b2 := newTestBlock(rt2, root.Child(mesh.Child{0, 0, 0}))
	b2.faceLevelCurr[corner.Slot()] = 0
	b2.sendLevel()

	for _, s := range rt2.levels {
		if s.m.F == corner {
			t.Errorf("redundant coarse message sent to %s", s.to)
		}
	}
}

func TestSendLevelFine(t *testing.T) {
	rt := newFake(2, 3)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}))
	b.faceLevelCurr[mesh.Face{+1, 0, 0}.Slot()] = 1

	b.sendLevel()

	// The finer neighbor contributes one message per nibling on the
	// mirror face: 2 in 2-D.
	fine := []sentLevel{}
	for _, s := range rt.levels {
		if s.m.F == (mesh.Face{+1, 0, 0}) {
			fine = append(fine, s)
		}
	}
	if len(fine) != 2 {
		t.Fatalf("%d fine messages across +x, expected 2", len(fine))
	}
	nbr, _ := rt.geom.Neighbor(b.index, mesh.Face{+1, 0, 0})
	for _, s := range fine {
		if s.to.Parent() != nbr {
			t.Errorf("fine message went to %s, not a child of %s", s.to, nbr)
		}
		if s.to.ChildWithinParent()[0] != 0 {
			t.Errorf("fine message went to nibling %v, not on the facing side",
				s.to.ChildWithinParent())
		}
	}
}

func TestRecvLevelTightensAndResends(t *testing.T) {
	rt := newFake(2, 4)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{}))

	nbr, _ := rt.geom.Neighbor(b.index, mesh.Face{+1, 0, 0})
	b.RecvLevel(LevelMsg{
		Sender: nbr, F: mesh.Face{-1, 0, 0}, LevelCurr: 1, LevelNew: 3,
	})

	if b.levelNext != 2 {
		t.Errorf("level_next = %d after hearing 3, expected 2", b.levelNext)
	}
	if len(rt.levels) == 0 {
		t.Errorf("no re-announcement after level_next rose")
	}
	if b.faceLevelNext[mesh.Face{+1, 0, 0}.Slot()] != 3 {
		t.Errorf("face_level_next = %d, expected 3",
			b.faceLevelNext[mesh.Face{+1, 0, 0}.Slot()])
	}
}

func TestRecvLevelIdempotent(t *testing.T) {
	rt := newFake(2, 4)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{}))

	nbr, _ := rt.geom.Neighbor(b.index, mesh.Face{+1, 0, 0})
	m := LevelMsg{Sender: nbr, F: mesh.Face{-1, 0, 0}, LevelCurr: 1, LevelNew: 3}

	b.RecvLevel(m)
	levelNext := b.levelNext
	faceNext := b.faceLevelNext
	childNext := b.childFaceLevelNext
	sends := len(rt.levels)

	// Equal redelivery re-applies but changes nothing and fans out
	// nothing.
	b.RecvLevel(m)
	if b.levelNext != levelNext {
		t.Errorf("duplicate delivery moved level_next from %d to %d",
			levelNext, b.levelNext)
	}
	if b.faceLevelNext != faceNext || b.childFaceLevelNext != childNext {
		t.Errorf("duplicate delivery changed face-level state")
	}
	if len(rt.levels) != sends {
		t.Errorf("duplicate delivery fanned out %d more messages",
			len(rt.levels)-sends)
	}

	// A stale, strictly-smaller announcement is dropped outright.
	stale := m
	stale.LevelNew = 1
	b.RecvLevel(stale)
	if b.faceLevelNext != faceNext {
		t.Errorf("stale delivery changed face-level state")
	}
	if b.faceLevelLast[mesh.PairSlot(m.IC, m.F)] != 3 {
		t.Errorf("stale delivery rewound face_level_last")
	}
}

func TestRecvLevelCancelsCoarsening(t *testing.T) {
	rt := newFake(2, 4)
	root := mesh.Root([3]int32{0, 0, 0})
	b := newTestBlock(rt, root.Child(mesh.Child{0, 0, 0}))
	b.levelNext = 0 // wants to coarsen

	// A sibling that wants to stay finer cancels it.
	sib := root.Child(mesh.Child{1, 0, 0})
	b.RecvLevel(LevelMsg{
		Sender: sib, F: mesh.Face{-1, 0, 0}, LevelCurr: 1, LevelNew: 1,
	})
	if b.levelNext != 1 {
		t.Errorf("level_next = %d after sibling veto, expected 1", b.levelNext)
	}

	// A nephew cancels it regardless of its announced level.
	b2 := newTestBlock(rt, root.Child(mesh.Child{0, 0, 0}))
	b2.levelNext = 0
	nephew := sib.Child(mesh.Child{0, 0, 0})
	b2.faceLevelCurr[mesh.Face{+1, 0, 0}.Slot()] = 2
	b2.RecvLevel(LevelMsg{
		Sender: nephew, IC: mesh.Child{0, 0, 0}, F: mesh.Face{-1, 0, 0},
		LevelCurr: 2, LevelNew: 2,
	})
	if b2.levelNext < 1 {
		t.Errorf("level_next = %d after nephew veto, expected at least 1",
			b2.levelNext)
	}

	// An unrelated same-level neighbor that also wants to coarsen does
	// not cancel coarsening.
	b3 := newTestBlock(rt, root.Child(mesh.Child{0, 0, 0}))
	b3.levelNext = 0
	stranger, _ := rt.geom.Neighbor(root, mesh.Face{-1, 0, 0})
	b3.RecvLevel(LevelMsg{
		Sender: stranger.Child(mesh.Child{1, 0, 0}), F: mesh.Face{+1, 0, 0},
		LevelCurr: 1, LevelNew: 0,
	})
	if b3.levelNext != 0 {
		t.Errorf("level_next = %d after non-sibling announcement, expected 0",
			b3.levelNext)
	}
}

func TestRecvSameUpdatesChildFaces(t *testing.T) {
	rt := newFake(2, 4)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{}))

	nbr, _ := rt.geom.Neighbor(b.index, mesh.Face{+1, 0, 0})
	b.RecvLevel(LevelMsg{
		Sender: nbr, F: mesh.Face{-1, 0, 0}, LevelCurr: 1, LevelNew: 2,
	})

	of := mesh.Face{+1, 0, 0}
	for _, jc := range mesh.ChildrenOnFace(2, of) {
		for _, jf := range mesh.FacesTouching(2, jc, of) {
			if got := b.childFaceLevelNext[mesh.PairSlot(jc, jf)]; got != 2 {
				t.Errorf("child %v face %v level = %d, expected 2", jc, jf, got)
			}
		}
	}

	// Children away from the face keep their initialized levels.
	away := mesh.Child{0, 0, 0}
	inward := mesh.Face{-1, 0, 0}
	if got := b.childFaceLevelNext[mesh.PairSlot(away, inward)]; got == 2 {
		t.Errorf("announcement leaked to the far side of the block")
	}
}

func TestRefineCreatesMissingChildren(t *testing.T) {
	rt := newFake(2, 3)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}).Child(mesh.Child{}))
	b.levelNext = 2

	b.refine()

	if b.isLeaf {
		t.Errorf("block still a leaf after refine")
	}
	if len(rt.created) != 4 {
		t.Fatalf("refine created %d children, expected 4", len(rt.created))
	}
	if len(b.children) != 4 {
		t.Errorf("children list holds %d entries, expected 4", len(b.children))
	}
	for i, spec := range rt.created {
		if spec.Index.Parent() != b.index {
			t.Errorf("%d) created child %s has the wrong parent", i, spec.Index)
		}
		if spec.Payload == nil || len(spec.Payload.V) != len(b.data.V) {
			t.Errorf("%d) created child has no prolonged payload", i)
		}
		if spec.AdaptStep != b.adaptStep || spec.Cycle != b.cycle {
			t.Errorf("%d) created child clock/step mismatch", i)
		}
	}
}

func TestCoarsenSendsToParent(t *testing.T) {
	rt := newFake(2, 3)
	root := mesh.Root([3]int32{0, 0, 0})
	b := newTestBlock(rt, root.Child(mesh.Child{1, 1, 0}))
	b.levelNext = 0

	b.coarsen()

	if len(rt.childs) != 1 {
		t.Fatalf("coarsen sent %d payloads, expected 1", len(rt.childs))
	}
	s := rt.childs[0]
	if s.to != root {
		t.Errorf("payload went to %s, expected parent %s", s.to, root)
	}
	if s.m.IC != (mesh.Child{1, 1, 0}) {
		t.Errorf("payload carries child key %v", s.m.IC)
	}
	if _, err := field.Decode(s.m.Payload); err != nil {
		t.Errorf("payload does not decode: %v", err)
	}
}

func TestRecvChildReabsorbs(t *testing.T) {
	rt := newFake(2, 3)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}))
	b.levelNext = 1
	b.refine()
	b.age = 7

	op := field.Injection{Rank: 2}
	for _, ic := range mesh.Children(2) {
		child := op.Prolong(b.data, ic)
		payload, err := field.Encode(child)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		var fl [mesh.FaceSlots]int
		b.RecvChild(ChildMsg{IC: ic, Payload: payload, FaceLevelCurr: fl})
	}

	if !b.isLeaf {
		t.Errorf("parent is not a leaf after absorbing all children")
	}
	if len(b.children) != 0 {
		t.Errorf("children list not cleared, holds %d", len(b.children))
	}
	if len(rt.deletes) != 4 {
		t.Errorf("%d delete messages sent, expected 4", len(rt.deletes))
	}
	if b.age != 0 {
		t.Errorf("age = %d after reabsorption, expected 0", b.age)
	}
}

func TestEndResetsNegotiationState(t *testing.T) {
	rt := &fakeRuntime{maxLevel: 3, initialCycle: -1,
		geom: mesh.Geometry{Rank: 2, Roots: [3]int32{2, 2, 1},
			Periodic: [3]bool{true, true, false}}}
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}))

	b.faceLevelLast[5] = 3
	again := b.End()

	if again {
		t.Errorf("block outside the initial cycle wants another iteration")
	}
	if b.faceLevelLast[5] != 0 {
		t.Errorf("face_level_last survived End")
	}
	if rt.done != 1 {
		t.Errorf("root did not announce done inserting")
	}

	// A deleted block destroys itself instead.
	b2 := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}))
	b2.Delete()
	b2.End()
	if len(rt.killed) != 1 || rt.killed[0] != b2.index {
		t.Errorf("deleted block did not destroy itself")
	}
}

func TestDoAdapt(t *testing.T) {
	rt := newFake(2, 3)
	b := newTestBlock(rt, mesh.Root([3]int32{0, 0, 0}))

	b.cycle = 4
	if !b.DoAdapt(2) {
		t.Errorf("adapt skipped on a divisible cycle")
	}
	if b.DoAdapt(3) {
		t.Errorf("adapt ran off the interval")
	}
	if b.DoAdapt(0) {
		t.Errorf("adapt ran with a zero interval")
	}
}
