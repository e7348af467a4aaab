package mip

import (
	"container/heap"
	"context"
	"fmt"
	"math"
)

const (
	// DefaultMaxNodes bounds the branch-and-bound tree.
	DefaultMaxNodes = 200000

	integralityTolerance = 1e-6
	objectiveTolerance   = 1e-9
)

// BranchAndBound is a best-first branch-and-bound backend. LP relaxations
// are solved with a bounded dual simplex; integral candidates go through
// the model's lazy constraint check before they become the incumbent.
type BranchAndBound struct {
	MaxNodes int
}

// NewBranchAndBound creates a backend with the default node limit.
func NewBranchAndBound() *BranchAndBound {
	return &BranchAndBound{MaxNodes: DefaultMaxNodes}
}

// node fixes a subset of variables: -1 free, 0 or 1 fixed. bound is the
// relaxation value of its parent.
type node struct {
	fixed []int8
	bound float64
	depth int
	seq   int
}

// openNodes orders nodes by bound, then depth, then the latest pushed.
type openNodes []*node

func (o openNodes) Len() int { return len(o) }
func (o openNodes) Less(i, j int) bool {
	if o[i].bound != o[j].bound {
		return o[i].bound > o[j].bound
	}
	if o[i].depth != o[j].depth {
		return o[i].depth > o[j].depth
	}
	return o[i].seq > o[j].seq
}
func (o openNodes) Swap(i, j int) { o[i], o[j] = o[j], o[i] }
func (o *openNodes) Push(x any)   { *o = append(*o, x.(*node)) }
func (o *openNodes) Pop() any {
	old := *o
	n := old[len(old)-1]
	*o = old[:len(old)-1]
	return n
}

type relaxation struct {
	bound      float64
	values     []float64
	infeasible bool
}

// search holds the state of one Solve call.
type search struct {
	model     *Model
	objective []float64
	lp        dualSimplex
	best      []bool
	bestValue float64
	cuts      int
}

// Solve maximizes (or minimizes) the model. When the node limit, the
// context or a lazy constraint error stops the search, the best solution
// found so far is returned with Optimal unset; without any solution
// ErrNodeLimit, the context error or the lazy error is returned.
func (b *BranchAndBound) Solve(ctx context.Context, m *Model) (*Solution, error) {
	n := m.NumVars()
	sign := 1.0
	if m.Sense == Minimize {
		sign = -1.0
	}
	s := &search{
		model:     m,
		objective: make([]float64, n),
		bestValue: math.Inf(-1),
	}
	for i, c := range m.Objective {
		s.objective[i] = sign * c
	}

	maxNodes := b.MaxNodes
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}

	root := &node{fixed: make([]int8, n), bound: math.Inf(1)}
	for i := range root.fixed {
		root.fixed[i] = -1
	}
	open := &openNodes{root}
	nodes, seq := 0, 0

	finish := func(stopErr error) (*Solution, error) {
		if s.best == nil {
			if stopErr != nil {
				return nil, stopErr
			}
			return nil, ErrInfeasible
		}
		bound := s.bestValue
		if stopErr != nil && open.Len() > 0 {
			bound = math.Max(bound, (*open)[0].bound)
		}
		return &Solution{
			Values:    s.best,
			Objective: m.Evaluate(s.best),
			Optimal:   stopErr == nil,
			Bound:     sign * bound,
			Nodes:     nodes,
			Cuts:      s.cuts,
		}, nil
	}

	if len(m.Start) == n {
		if _, err := s.offer(append([]bool(nil), m.Start...)); err != nil {
			return finish(err)
		}
	}

	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		if (*open)[0].bound <= s.bestValue+objectiveTolerance {
			// every open node is bounded by the incumbent
			break
		}
		if nodes >= maxNodes {
			return finish(ErrNodeLimit)
		}
		nodes++
		current := heap.Pop(open).(*node)

		rel := s.relax(current.fixed)
		if rel.infeasible || rel.bound <= s.bestValue+objectiveTolerance {
			continue
		}

		var branchVar int
		if rel.values != nil {
			branchVar = mostFractional(rel.values, current.fixed)
		} else {
			branchVar = firstFree(current.fixed)
		}

		if branchVar < 0 {
			added, err := s.offer(assignment(rel.values, current.fixed))
			if err != nil {
				return finish(err)
			}
			if added {
				// the relaxation value is no longer reachable
				seq++
				current.bound, current.seq = rel.bound, seq
				heap.Push(open, current)
			}
			continue
		}
		if rel.values != nil {
			if _, err := s.offer(assignment(rel.values, current.fixed)); err != nil {
				return finish(err)
			}
		}

		for _, v := range []int8{0, 1} {
			child := &node{fixed: make([]int8, n), bound: rel.bound, depth: current.depth + 1}
			copy(child.fixed, current.fixed)
			child.fixed[branchVar] = v
			seq++
			child.seq = seq
			heap.Push(open, child)
		}
	}
	return finish(nil)
}

// offer makes candidate the incumbent when it is feasible, improves on the
// incumbent and passes the lazy check. It reports whether lazy constraints
// were added instead.
func (s *search) offer(candidate []bool) (bool, error) {
	if !s.model.Feasible(candidate) {
		return false, nil
	}
	value := dot(s.objective, candidate)
	if value <= s.bestValue+objectiveTolerance {
		return false, nil
	}
	if s.model.Lazy != nil {
		cuts, err := s.model.Lazy(candidate)
		if err != nil {
			return false, err
		}
		for _, c := range cuts {
			if err := s.model.AddConstraint(c.Name, c.Terms, c.Relation, c.RHS); err != nil {
				return false, fmt.Errorf("mip: lazy constraint: %w", err)
			}
			s.cuts++
		}
		if len(cuts) > 0 {
			return true, nil
		}
	}
	s.best, s.bestValue = candidate, value
	return false, nil
}

// relax solves the LP relaxation of the model with some variables fixed.
// values is nil when the simplex hit its iteration limit; bound is then
// the last bound it reached.
func (s *search) relax(fixed []int8) relaxation {
	s.lp.load(s.model, s.objective, fixed)
	status, bound := s.lp.solve(s.bestValue + objectiveTolerance)
	switch status {
	case lpInfeasible:
		return relaxation{infeasible: true}
	case lpCutoff, lpIterationLimit:
		return relaxation{bound: bound}
	}
	return relaxation{bound: bound, values: s.lp.values()}
}

func mostFractional(values []float64, fixed []int8) int {
	best, bestDistance := -1, 0.0
	for i, v := range values {
		if fixed[i] != -1 {
			continue
		}
		frac := v - math.Floor(v)
		distance := math.Min(frac, 1-frac)
		if distance > integralityTolerance && distance > bestDistance {
			best, bestDistance = i, distance
		}
	}
	return best
}

func firstFree(fixed []int8) int {
	for i, f := range fixed {
		if f == -1 {
			return i
		}
	}
	return -1
}

func assignment(values []float64, fixed []int8) []bool {
	out := make([]bool, len(fixed))
	for i, f := range fixed {
		switch {
		case f == 1:
			out[i] = true
		case f == -1 && len(values) == len(fixed):
			out[i] = values[i] > 0.5
		}
	}
	return out
}

func dot(objective []float64, values []bool) float64 {
	total := 0.0
	for i, on := range values {
		if on {
			total += objective[i]
		}
	}
	return total
}
