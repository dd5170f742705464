/*package sim is the in-process runtime the adapt control code runs on: a
container of block actors addressed by mesh index, the message plane
between them, and the barrier scheduling that separates the adapt phases.

Handlers execute one at a time on the scheduler goroutine, so each block's
handlers are atomic with respect to its state and point-to-point delivery
is FIFO within a message class. The begin step, which touches only
block-local state, fans out across a worker pool.
*/
package sim

import (
	"runtime"
	"sort"
	"sync"

	"github.com/astromesh/amr/lib/adapt"
	"github.com/astromesh/amr/lib/config"
	g_error "github.com/astromesh/amr/lib/error"
	"github.com/astromesh/amr/lib/field"
	"github.com/astromesh/amr/lib/mesh"
	"github.com/astromesh/amr/lib/mlog"
)

type msgClass int

const (
	classLevel msgClass = iota
	classChild
	classDelete
	numClasses
)

type envelope struct {
	class msgClass
	to    mesh.Index
	level adapt.LevelMsg
	child adapt.ChildMsg
}

// Simulation owns the forest of block actors and drives the adapt phase.
type Simulation struct {
	cfg  *config.Config
	geom mesh.Geometry

	prolong  field.Prolonger
	restrict field.Restricter
	criteria []adapt.Criterion

	blocks map[mesh.Index]*adapt.Block

	mu             sync.Mutex
	queues         [numClasses][]envelope
	pendingCreate  []adapt.ChildSpec
	pendingDestroy []mesh.Index
	insertionOpen  bool

	threads int

	cycle int
	time  float64
	dt    float64
}

// New creates an empty simulation with the given configuration and
// capabilities. Call CreateRoots before stepping.
func New(
	cfg *config.Config,
	prolong field.Prolonger, restrict field.Restricter,
	criteria []adapt.Criterion,
) *Simulation {
	if err := cfg.Validate(); err != nil {
		g_error.External("invalid configuration: %v", err)
	}
	return &Simulation{
		cfg:      cfg,
		geom:     cfg.Geometry(),
		prolong:  prolong,
		restrict: restrict,
		criteria: criteria,
		blocks:   map[mesh.Index]*adapt.Block{},
		threads:  runtime.GOMAXPROCS(0),
		cycle:    cfg.Initial.Cycle,
	}
}

// SetThreads limits the worker pool used for the phase fan-out.
func (s *Simulation) SetThreads(n int) {
	if n < 1 { n = 1 }
	s.threads = n
}

// CreateRoots populates the root grid. init supplies each root block's
// payload; a nil init gives every root a zeroed payload of the configured
// block size.
func (s *Simulation) CreateRoots(init func(idx mesh.Index) *field.Data) {
	if init == nil {
		init = func(mesh.Index) *field.Data {
			return field.New(
				s.cfg.Mesh.BlockCellsX,
				s.cfg.Mesh.BlockCellsY,
				s.cfg.Mesh.BlockCellsZ,
			)
		}
	}

	var faceLevels [mesh.FaceSlots]int
	for t2 := int32(0); t2 < s.geom.Roots[2]; t2++ {
		for t1 := int32(0); t1 < s.geom.Roots[1]; t1++ {
			for t0 := int32(0); t0 < s.geom.Roots[0]; t0++ {
				idx := mesh.Root([3]int32{t0, t1, t2})
				s.blocks[idx] = adapt.NewBlock(
					s, idx, s.geom.Rank, init(idx), faceLevels,
					0, s.cycle, s.time, s.dt,
				)
			}
		}
	}
}

// Cycle returns the current cycle number.
func (s *Simulation) Cycle() int { return s.cycle }

// Block returns the block at the given index, or nil.
func (s *Simulation) Block(idx mesh.Index) *adapt.Block {
	return s.blocks[idx]
}

// NumBlocks returns the number of live blocks, leaves and internal nodes
// both.
func (s *Simulation) NumBlocks() int { return len(s.blocks) }

// Leaves returns the leaf blocks in index order.
func (s *Simulation) Leaves() []*adapt.Block {
	out := []*adapt.Block{}
	for _, b := range s.snapshot() {
		if b.IsLeaf() { out = append(out, b) }
	}
	return out
}

// Step advances the simulation one cycle: run the adapt phase if it is
// due, then advance every block's clock.
func (s *Simulation) Step(dt float64) {
	s.dt = dt
	s.Adapt()
	for _, b := range s.blocks {
		b.Tick(dt)
	}
	s.cycle++
	s.time += dt
}

// Adapt runs the adapt phase: begin, called, next, end on every block,
// with quiescence between the steps, looping while the initial hierarchy
// is still growing.
func (s *Simulation) Adapt() {
	interval := s.cfg.Mesh.AdaptInterval
	if interval <= 0 || s.cycle%interval != 0 {
		return
	}

	log := mlog.Module(mlog.SimModule)

	for iter := 0; ; iter++ {
		blocks := s.snapshot()
		log.Debug("adapt iteration", "cycle", s.cycle, "iter", iter,
			"blocks", len(blocks))

		// begin: local criteria only; safe to fan out. The step barrier
		// below subsumes the per-block neighbor barrier.
		s.parallelDo(len(blocks), func(i int) { blocks[i].Begin() })

		// called: every leaf announces, then the forest runs to
		// quiescence while desired levels ratchet up.
		for _, b := range blocks {
			b.Called()
		}
		s.quiesce()

		// next: commit levels and restructure.
		for _, b := range blocks {
			b.Next()
		}
		s.quiesce()

		// end: self-deletion and loop decision.
		again := false
		for _, b := range blocks {
			if b.End() { again = true }
		}
		s.quiesce()

		s.applyStructure()

		if !again { break }
	}
}

// snapshot returns the live blocks in index order, so that message traffic
// is deterministic for a given forest state.
func (s *Simulation) snapshot() []*adapt.Block {
	out := make([]*adapt.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index().Less(out[j].Index())
	})
	return out
}

// quiesce drains the message plane: deliver until no message is in flight
// anywhere in the forest. Handlers may enqueue more work; the loop runs
// until it stops.
func (s *Simulation) quiesce() {
	for {
		env, ok := s.pop()
		if !ok { return }
		s.dispatch(env)
	}
}

func (s *Simulation) pop() (envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := msgClass(0); c < numClasses; c++ {
		if len(s.queues[c]) > 0 {
			env := s.queues[c][0]
			s.queues[c] = s.queues[c][1:]
			return env, true
		}
	}
	return envelope{}, false
}

func (s *Simulation) push(env envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[env.class] = append(s.queues[env.class], env)
}

func (s *Simulation) dispatch(env envelope) {
	b, ok := s.blocks[env.to]
	if !ok {
		g_error.Internal("message of class %d addressed to unknown block %s",
			env.class, env.to)
	}
	switch env.class {
	case classLevel:
		b.RecvLevel(env.level)
	case classChild:
		b.RecvChild(env.child)
	case classDelete:
		b.Delete()
	}
}

// applyStructure commits the phase's block creations and destructions.
// New blocks join the container only here, after the root has re-opened
// insertion, so they see none of the finished phase's traffic.
func (s *Simulation) applyStructure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingCreate) > 0 && !s.insertionOpen {
		g_error.Internal(
			"%d blocks pending insertion but no root announced done inserting",
			len(s.pendingCreate))
	}

	for _, spec := range s.pendingCreate {
		s.blocks[spec.Index] = adapt.NewBlock(
			s, spec.Index, s.geom.Rank, spec.Payload, spec.ChildFaceLevels,
			spec.AdaptStep, spec.Cycle, spec.Time, spec.Dt,
		)
	}
	s.pendingCreate = s.pendingCreate[:0]

	for _, idx := range s.pendingDestroy {
		delete(s.blocks, idx)
	}
	s.pendingDestroy = s.pendingDestroy[:0]

	s.insertionOpen = false
}

// parallelDo runs f(0..n-1) across the worker pool.
func (s *Simulation) parallelDo(n int, f func(i int)) {
	workers := s.threads
	if workers > n { workers = n }
	if workers <= 1 {
		for i := 0; i < n; i++ { f(i) }
		return
	}

	var wg sync.WaitGroup
	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next { f(i) }
		}()
	}
	for i := 0; i < n; i++ { next <- i }
	close(next)
	wg.Wait()
}
