package sim

/* runtime.go is the Simulation's side of the adapt.Runtime surface: the
configuration, capabilities, and message plane a block sees. */

import (
	"github.com/astromesh/amr/lib/adapt"
	"github.com/astromesh/amr/lib/field"
	"github.com/astromesh/amr/lib/mesh"
)

// MaxLevel returns the deepest refinement level allowed.
func (s *Simulation) MaxLevel() int { return s.cfg.Mesh.MaxLevel }

// InitialCycle returns the cycle on which the initial hierarchy grows.
func (s *Simulation) InitialCycle() int { return s.cfg.Initial.Cycle }

// Geometry returns the forest's root-grid geometry.
func (s *Simulation) Geometry() mesh.Geometry { return s.geom }

// Criteria returns the refinement criteria, applied to leaves in order.
func (s *Simulation) Criteria() []adapt.Criterion { return s.criteria }

// Prolong returns the parent-to-child interpolation operator.
func (s *Simulation) Prolong() field.Prolonger { return s.prolong }

// Restrict returns the child-to-parent averaging operator.
func (s *Simulation) Restrict() field.Restricter { return s.restrict }

// SendLevel posts a level announcement to the block at the given index.
func (s *Simulation) SendLevel(to mesh.Index, m adapt.LevelMsg) {
	s.push(envelope{class: classLevel, to: to, level: m})
}

// SendChild posts a coarsening payload to the block at the given index.
func (s *Simulation) SendChild(to mesh.Index, m adapt.ChildMsg) {
	s.push(envelope{class: classChild, to: to, child: m})
}

// SendDelete tells the block at the given index to destroy itself at the
// end of the phase.
func (s *Simulation) SendDelete(to mesh.Index) {
	s.push(envelope{class: classDelete, to: to})
}

// CreateBlock schedules a refined child for insertion. The child joins the
// container once the phase's traffic has finished, so it receives none of
// it.
func (s *Simulation) CreateBlock(spec adapt.ChildSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCreate = append(s.pendingCreate, spec)
}

// Destroy schedules the block at the given index for removal from the
// container.
func (s *Simulation) Destroy(idx mesh.Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDestroy = append(s.pendingDestroy, idx)
}

// DoneInserting is the root's announcement that the phase generated no
// further block creations and pending insertions may be committed.
func (s *Simulation) DoneInserting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertionOpen = true
}
