package adapt

/* criteria.go defines the refinement-criterion capability the simulation
injects. The control code only ever asks a criterion for a verdict; what it
looks at inside the payload is its own business. */

// Verdict is a refinement criterion's opinion of one leaf. Verdicts are
// ordered so that combining criteria is a max.
type Verdict int

const (
	Unknown Verdict = iota
	Same
	Coarsen
	Refine
)

func (v Verdict) String() string {
	switch v {
	case Unknown:
		return "unknown"
	case Same:
		return "same"
	case Coarsen:
		return "coarsen"
	case Refine:
		return "refine"
	}
	return "invalid"
}

// Criterion judges whether a leaf should refine, coarsen, or stay.
// Criteria are applied only to leaves.
type Criterion interface {
	Apply(b *Block) Verdict
}

// CriterionFunc adapts a plain function to the Criterion interface.
type CriterionFunc func(b *Block) Verdict

// Apply calls f.
func (f CriterionFunc) Apply(b *Block) Verdict { return f(b) }

// computeDesiredLevel applies every criterion to the block, keeps the
// strongest verdict, and converts it into a desired level. A leaf at level
// 0 never coarsens, a leaf at maxLevel never refines, and on the
// simulation's initial cycle leaves may only refine, so the hierarchy grows
// before it ever shrinks.
func (b *Block) computeDesiredLevel(maxLevel int) int {
	if !b.isLeaf { return b.level }

	b.verdict = Unknown
	for _, c := range b.rt.Criteria() {
		if v := c.Apply(b); v > b.verdict {
			b.verdict = v
		}
	}

	isFirstCycle := b.rt.InitialCycle() == b.cycle

	if b.verdict == Coarsen && b.level > 0 && !isFirstCycle {
		return b.level - 1
	} else if b.verdict == Refine && b.level < maxLevel {
		return b.level + 1
	}
	b.verdict = Same
	return b.level
}
