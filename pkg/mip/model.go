// Package mip provides a small 0/1 integer programming model and a
// branch-and-bound backend that solves it with LP relaxations.
package mip

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInfeasible is returned when no assignment satisfies the constraints.
	ErrInfeasible = errors.New("mip: model is infeasible")
	// ErrNodeLimit is returned when the search budget ran out before any solution was found.
	ErrNodeLimit = errors.New("mip: node limit reached without a feasible solution")
)

// Sense is the optimization direction.
type Sense int

const (
	Maximize Sense = iota
	Minimize
)

// Relation of a constraint's left hand side to its right hand side.
type Relation int

const (
	LessEqual Relation = iota
	GreaterEqual
	Equal
)

func (r Relation) String() string {
	switch r {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "="
	}
	return fmt.Sprintf("Relation(%d)", int(r))
}

// Term is a coefficient applied to a variable.
type Term struct {
	Var  int
	Coef float64
}

// Constraint is a linear constraint over binary variables.
type Constraint struct {
	Name     string
	Terms    []Term
	Relation Relation
	RHS      float64
}

// LazyFunc inspects an assignment that satisfies every constraint of the
// model and returns the constraints it breaks that the model does not
// state yet. Returned constraints are added to the model. An error stops
// the search.
type LazyFunc func(values []bool) ([]Constraint, error)

// Model is a linear program over binary variables.
type Model struct {
	Sense       Sense
	Objective   []float64
	Names       []string
	Constraints []Constraint

	// Start is an optional assignment tried as the first incumbent. It is
	// ignored when it does not satisfy the constraints.
	Start []bool
	// Lazy, when set, checks every candidate before it becomes the incumbent.
	Lazy LazyFunc
}

// NewModel creates an empty model.
func NewModel(sense Sense) *Model {
	return &Model{Sense: sense}
}

// AddBinary adds a binary variable and returns its index.
func (m *Model) AddBinary(name string, objective float64) int {
	m.Objective = append(m.Objective, objective)
	m.Names = append(m.Names, name)
	return len(m.Objective) - 1
}

// NumVars returns the number of variables.
func (m *Model) NumVars() int {
	return len(m.Objective)
}

// AddConstraint appends a constraint. Terms referencing the same variable are summed.
func (m *Model) AddConstraint(name string, terms []Term, rel Relation, rhs float64) error {
	merged := make(map[int]float64, len(terms))
	order := make([]int, 0, len(terms))
	for _, t := range terms {
		if t.Var < 0 || t.Var >= m.NumVars() {
			return fmt.Errorf("constraint %s: unknown variable %d", name, t.Var)
		}
		if _, ok := merged[t.Var]; !ok {
			order = append(order, t.Var)
		}
		merged[t.Var] += t.Coef
	}
	c := Constraint{Name: name, Relation: rel, RHS: rhs}
	for _, v := range order {
		if merged[v] != 0 {
			c.Terms = append(c.Terms, Term{Var: v, Coef: merged[v]})
		}
	}
	m.Constraints = append(m.Constraints, c)
	return nil
}

// Evaluate returns the objective value of an assignment.
func (m *Model) Evaluate(values []bool) float64 {
	total := 0.0
	for i, on := range values {
		if on {
			total += m.Objective[i]
		}
	}
	return total
}

// Feasible reports whether an assignment satisfies every constraint.
func (m *Model) Feasible(values []bool) bool {
	for _, c := range m.Constraints {
		lhs := 0.0
		for _, t := range c.Terms {
			if values[t.Var] {
				lhs += t.Coef
			}
		}
		if !satisfies(lhs, c.Relation, c.RHS) {
			return false
		}
	}
	return true
}

const feasibilityTolerance = 1e-7

func satisfies(lhs float64, rel Relation, rhs float64) bool {
	switch rel {
	case LessEqual:
		return lhs <= rhs+feasibilityTolerance
	case GreaterEqual:
		return lhs >= rhs-feasibilityTolerance
	default:
		return math.Abs(lhs-rhs) <= feasibilityTolerance
	}
}

// Solution is an optimal (or best found) assignment.
type Solution struct {
	Values    []bool
	Objective float64
	// Optimal is false when the search stopped early on a node limit,
	// a context deadline or a lazy constraint error.
	Optimal bool
	// Bound is the best objective any assignment can reach, equal to
	// Objective when Optimal is set.
	Bound float64
	Nodes int
	// Cuts counts the lazy constraints added during the search.
	Cuts int
}

// Selected returns the indices of variables set to one.
func (s *Solution) Selected() []int {
	var out []int
	for i, on := range s.Values {
		if on {
			out = append(out, i)
		}
	}
	return out
}

// Backend solves models.
type Backend interface {
	Solve(ctx context.Context, m *Model) (*Solution, error)
}
