package sim

/* dump.go renders the forest structure for diagnostics. */

import (
	"fmt"

	"github.com/xlab/treeprint"

	"github.com/astromesh/amr/lib/adapt"
	"github.com/astromesh/amr/lib/mesh"
)

// Dump renders the forest as an ASCII tree, one line per block, leaves
// annotated with their level and age.
func (s *Simulation) Dump() string {
	tree := treeprint.New()

	for t2 := int32(0); t2 < s.geom.Roots[2]; t2++ {
		for t1 := int32(0); t1 < s.geom.Roots[1]; t1++ {
			for t0 := int32(0); t0 < s.geom.Roots[0]; t0++ {
				idx := mesh.Root([3]int32{t0, t1, t2})
				if b, ok := s.blocks[idx]; ok {
					s.dumpBlock(tree, b)
				}
			}
		}
	}
	return tree.String()
}

func (s *Simulation) dumpBlock(branch treeprint.Tree, b *adapt.Block) {
	label := blockLabel(b)
	if b.IsLeaf() {
		branch.AddNode(label)
		return
	}
	sub := branch.AddBranch(label)
	for _, idx := range b.Children() {
		if child, ok := s.blocks[idx]; ok {
			s.dumpBlock(sub, child)
		}
	}
}

func blockLabel(b *adapt.Block) string {
	kind := "node"
	if b.IsLeaf() { kind = "leaf" }
	return fmt.Sprintf("%s %s L%d age %d", kind, b.Index(), b.Level(), b.Age())
}
