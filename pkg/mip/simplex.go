package mip

import "math"

const (
	pivotTolerance  = 1e-9
	primalTolerance = 1e-7
	ratioTolerance  = 1e-12
)

type lpStatus int

const (
	lpOptimal lpStatus = iota
	lpInfeasible
	// lpCutoff reports that the bound fell to the cutoff before optimality.
	lpCutoff
	lpIterationLimit
)

// dualSimplex solves max c·x subject to A x + s = b with bounded
// structural variables and non-negative slacks, on a dense tableau. Every
// structural variable has finite bounds, so the slack basis with each
// variable at the bound its cost favours is dual feasible and no first
// phase is needed. The objective of every intermediate basis is an upper
// bound on the optimum.
type dualSimplex struct {
	n, rows, cols int

	tableau []float64
	beta    []float64
	reduced []float64
	cost    []float64
	lo, hi  []float64
	basis   []int
	// pos is the basis row of a variable, -1 when nonbasic.
	pos     []int
	atUpper []bool
	nonZero []int
}

func growFloats(buf []float64, size int) []float64 {
	if cap(buf) < size {
		return make([]float64, size)
	}
	buf = buf[:size]
	clear(buf)
	return buf
}

func growInts(buf []int, size int) []int {
	if cap(buf) < size {
		return make([]int, size)
	}
	return buf[:size]
}

func growBools(buf []bool, size int) []bool {
	if cap(buf) < size {
		return make([]bool, size)
	}
	buf = buf[:size]
	clear(buf)
	return buf
}

// load builds the slack basis tableau of m with fixed variables pinned.
func (s *dualSimplex) load(m *Model, objective []float64, fixed []int8) {
	n := m.NumVars()
	rows := len(m.Constraints)
	cols := n + rows
	s.n, s.rows, s.cols = n, rows, cols

	s.tableau = growFloats(s.tableau, rows*cols)
	s.beta = growFloats(s.beta, rows)
	s.reduced = growFloats(s.reduced, cols)
	s.cost = growFloats(s.cost, cols)
	s.lo = growFloats(s.lo, cols)
	s.hi = growFloats(s.hi, cols)
	s.basis = growInts(s.basis, rows)
	s.pos = growInts(s.pos, cols)
	s.atUpper = growBools(s.atUpper, cols)

	for j := 0; j < n; j++ {
		s.pos[j] = -1
		switch fixed[j] {
		case 0:
			s.lo[j], s.hi[j] = 0, 0
		case 1:
			s.lo[j], s.hi[j] = 1, 1
		default:
			s.lo[j], s.hi[j] = 0, 1
			s.atUpper[j] = objective[j] > 0
		}
		s.cost[j] = objective[j]
	}

	for i, c := range m.Constraints {
		sign := 1.0
		if c.Relation == GreaterEqual {
			sign = -1
		}
		row := s.tableau[i*cols : (i+1)*cols]
		for _, t := range c.Terms {
			row[t.Var] += sign * t.Coef
		}
		slack := n + i
		row[slack] = 1
		s.lo[slack], s.hi[slack] = 0, math.Inf(1)
		if c.Relation == Equal {
			s.hi[slack] = 0
		}
		s.basis[i] = slack
		s.pos[slack] = i

		rhs := sign * c.RHS
		for j := 0; j < n; j++ {
			if row[j] != 0 {
				rhs -= row[j] * s.value(j)
			}
		}
		s.beta[i] = rhs
	}
	copy(s.reduced, s.cost)
}

// value returns the current value of a variable.
func (s *dualSimplex) value(j int) float64 {
	if r := s.pos[j]; r >= 0 {
		return s.beta[r]
	}
	if s.atUpper[j] {
		return s.hi[j]
	}
	return s.lo[j]
}

func (s *dualSimplex) objective() float64 {
	total := 0.0
	for j := 0; j < s.n; j++ {
		if s.cost[j] != 0 {
			total += s.cost[j] * s.value(j)
		}
	}
	return total
}

// solve iterates until the basis is primal feasible, the bound drops to
// cutoff or the LP turns out infeasible. It returns the final bound.
func (s *dualSimplex) solve(cutoff float64) (lpStatus, float64) {
	maxIterations := 50*(s.rows+s.n) + 1000
	for iteration := 0; ; iteration++ {
		bound := s.objective()
		if bound <= cutoff {
			return lpCutoff, bound
		}
		r, increase := s.leavingRow()
		if r < 0 {
			return lpOptimal, bound
		}
		if iteration >= maxIterations {
			return lpIterationLimit, bound
		}
		q := s.enteringColumn(r, increase)
		if q < 0 {
			return lpInfeasible, bound
		}
		s.pivot(r, q, increase)
	}
}

// leavingRow picks the basic variable furthest outside its bounds.
// increase reports that it lies below its lower bound.
func (s *dualSimplex) leavingRow() (int, bool) {
	r, increase := -1, false
	worst := primalTolerance
	for i := 0; i < s.rows; i++ {
		j := s.basis[i]
		v := s.beta[i]
		if gap := s.lo[j] - v; gap > worst {
			r, increase, worst = i, true, gap
		} else if gap := v - s.hi[j]; gap > worst {
			r, increase, worst = i, false, gap
		}
	}
	return r, increase
}

// enteringColumn runs the dual ratio test on row r.
func (s *dualSimplex) enteringColumn(r int, increase bool) int {
	row := s.tableau[r*s.cols : (r+1)*s.cols]
	q := -1
	bestRatio, bestAlpha := math.Inf(1), 0.0
	for j, alpha := range row {
		if s.pos[j] >= 0 || s.hi[j]-s.lo[j] <= 0 || math.Abs(alpha) <= pivotTolerance {
			continue
		}
		var eligible bool
		if increase {
			eligible = (!s.atUpper[j] && alpha < 0) || (s.atUpper[j] && alpha > 0)
		} else {
			eligible = (!s.atUpper[j] && alpha > 0) || (s.atUpper[j] && alpha < 0)
		}
		if !eligible {
			continue
		}
		ratio := math.Abs(s.reduced[j]) / math.Abs(alpha)
		if ratio < bestRatio-ratioTolerance ||
			(ratio <= bestRatio+ratioTolerance && math.Abs(alpha) > math.Abs(bestAlpha)) {
			q, bestRatio, bestAlpha = j, ratio, alpha
		}
	}
	return q
}

// pivot swaps the leaving basic variable of row r for column q.
func (s *dualSimplex) pivot(r, q int, increase bool) {
	cols := s.cols
	leaving := s.basis[r]
	target := s.lo[leaving]
	if !increase {
		target = s.hi[leaving]
	}
	pivotRow := s.tableau[r*cols : (r+1)*cols]
	alpha := pivotRow[q]
	delta := (s.beta[r] - target) / alpha
	entering := s.value(q) + delta

	for i := 0; i < s.rows; i++ {
		if i != r {
			s.beta[i] -= s.tableau[i*cols+q] * delta
		}
	}
	s.beta[r] = entering
	s.pos[leaving] = -1
	s.atUpper[leaving] = !increase
	s.pos[q] = r
	s.atUpper[q] = false
	s.basis[r] = q

	inv := 1 / alpha
	s.nonZero = s.nonZero[:0]
	for j, a := range pivotRow {
		if a != 0 {
			pivotRow[j] = a * inv
			s.nonZero = append(s.nonZero, j)
		}
	}
	for i := 0; i < s.rows; i++ {
		if i == r {
			continue
		}
		row := s.tableau[i*cols : (i+1)*cols]
		f := row[q]
		if f == 0 {
			continue
		}
		for _, j := range s.nonZero {
			row[j] -= f * pivotRow[j]
		}
		row[q] = 0
	}
	if f := s.reduced[q]; f != 0 {
		for _, j := range s.nonZero {
			s.reduced[j] -= f * pivotRow[j]
		}
		s.reduced[q] = 0
	}
}

// values returns the structural variable values.
func (s *dualSimplex) values() []float64 {
	out := make([]float64, s.n)
	for j := range out {
		out[j] = s.value(j)
	}
	return out
}
