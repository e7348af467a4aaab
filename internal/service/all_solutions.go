package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// AllSolutionsSolverService enumerates every maximal combination of
// disjoint cycles and chains and ranks them by score.
type AllSolutionsSolverService struct {
	logger *logrus.Logger
}

// NewAllSolutionsSolver creates the exhaustive solver
func NewAllSolutionsSolver(logger *logrus.Logger) *AllSolutionsSolverService {
	return &AllSolutionsSolverService{logger: logger}
}

// Name implements domain.Solver
func (s *AllSolutionsSolverService) Name() domain.SolverName {
	return domain.AllSolutionsSolver
}

// Solve implements domain.Solver. A deadline on ctx or cfg.SolverDeadline
// and cfg.MaxMatchingsToEnumerate stop the search early; the best
// matchings found until then are returned as an incomplete output.
func (s *AllSolutionsSolverService) Solve(ctx context.Context, graph *domain.CompatibilityGraph, donors []domain.Donor, cfg domain.ConfigParameters) (domain.SolverOutput, error) {
	if err := cfg.Validate(); err != nil {
		return domain.SolverOutput{}, err
	}
	if graph.NumDonors() == 0 {
		return domain.SolverOutput{Matchings: []domain.Matching{}, Complete: true}, nil
	}
	if cfg.SolverDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SolverDeadline)
		defer cancel()
	}

	network, err := newDonorNetwork(graph, donors, cfg)
	if err != nil {
		return domain.SolverOutput{}, fmt.Errorf("all solutions solver: %w", err)
	}
	paths, err := network.findPaths(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.WithError(err).Warn("Cycle and chain search stopped early, no matchings enumerated")
			return domain.SolverOutput{Matchings: []domain.Matching{}}, nil
		}
		return domain.SolverOutput{}, fmt.Errorf("all solutions solver: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"paths":        len(paths),
		"non_directed": len(network.nonDirected),
	}).Debug("Cycles and chains found")

	required := make(map[int64]bool, len(cfg.RequiredRecipientIDs))
	for _, id := range cfg.RequiredRecipientIDs {
		required[id] = true
	}

	top := newTopMatchings(cfg.MaxNumberOfMatchings)
	enumerated, stopErr := enumerateMaximal(ctx, paths, cfg.MaxMatchingsToEnumerate, func(selection []int) {
		m := matchingFromPaths(paths, selection)
		if coversRequired(m, required) {
			top.offer(m)
		}
	})
	if stopErr != nil {
		s.logger.WithFields(logrus.Fields{
			"enumerated": enumerated,
			"reason":     stopErr.Error(),
		}).Warn("Matching enumeration stopped early, returning best found so far")
	}

	return domain.SolverOutput{Matchings: top.result(), Complete: stopErr == nil}, nil
}

var errEnumerationCap = errors.New("enumeration cap reached")

type bkFrame struct {
	chosen     []int
	candidates bitset
	excluded   bitset
	branches   []int
	next       int
}

// enumerateMaximal reports every maximal set of pairwise disjoint paths
// (Bron-Kerbosch with pivoting on the compatibility relation) in discovery
// order. It returns the number of reported sets and, when stopped early,
// the reason.
func enumerateMaximal(ctx context.Context, paths []exchangePath, limit int, report func([]int)) (int, error) {
	n := len(paths)
	compatible := make([]bitset, n)
	for i := range paths {
		compatible[i] = newBitset(n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if disjoint(paths[i], paths[j]) {
				compatible[i].set(j)
				compatible[j].set(i)
			}
		}
	}

	all := newBitset(n)
	for i := 0; i < n; i++ {
		all.set(i)
	}
	root := bkFrame{candidates: all, excluded: newBitset(n)}
	root.branches = branchesOf(root.candidates, root.excluded, compatible)
	stack := []bkFrame{root}

	reported, steps := 0, 0
	for len(stack) > 0 {
		steps++
		if steps%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return reported, err
			}
		}
		top := &stack[len(stack)-1]
		if top.candidates.empty() && top.excluded.empty() {
			report(top.chosen)
			reported++
			stack = stack[:len(stack)-1]
			if reported >= limit && len(stack) > 0 {
				return reported, errEnumerationCap
			}
			continue
		}
		if top.next >= len(top.branches) {
			stack = stack[:len(stack)-1]
			continue
		}
		v := top.branches[top.next]
		top.next++

		child := bkFrame{
			chosen:     append(append([]int(nil), top.chosen...), v),
			candidates: top.candidates.and(compatible[v]),
			excluded:   top.excluded.and(compatible[v]),
		}
		child.branches = branchesOf(child.candidates, child.excluded, compatible)
		top.candidates.clear(v)
		top.excluded.set(v)
		stack = append(stack, child)
	}
	return reported, nil
}

// branchesOf returns the candidates not adjacent to the pivot, the member
// of candidates or excluded with the most compatible candidates.
func branchesOf(candidates, excluded bitset, compatible []bitset) []int {
	pivot, best := -1, -1
	for _, set := range []bitset{candidates, excluded} {
		for _, u := range set.members() {
			if c := candidates.countAnd(compatible[u]); c > best {
				pivot, best = u, c
			}
		}
	}
	if pivot < 0 {
		return nil
	}
	var out []int
	for _, v := range candidates.members() {
		if !compatible[pivot].has(v) {
			out = append(out, v)
		}
	}
	return out
}

func disjoint(a, b exchangePath) bool {
	for _, x := range a.donors {
		for _, y := range b.donors {
			if x == y {
				return false
			}
		}
	}
	for _, x := range a.recipients {
		for _, y := range b.recipients {
			if x == y {
				return false
			}
		}
	}
	return true
}

func matchingFromPaths(paths []exchangePath, selection []int) domain.Matching {
	var (
		cycles    []domain.Cycle
		sequences []domain.Sequence
	)
	for _, i := range selection {
		p := paths[i]
		switch p.kind {
		case pathCycle:
			cycles = append(cycles, domain.NewCycle(p.transplants))
		case pathChain:
			sequences = append(sequences, domain.NewSequence(p.transplants))
		}
	}
	return domain.NewMatching(cycles, sequences)
}

func coversRequired(m domain.Matching, required map[int64]bool) bool {
	if len(required) == 0 {
		return true
	}
	covered := 0
	for _, id := range m.RecipientIDs() {
		if required[id] {
			covered++
		}
	}
	return covered == len(required)
}

// topMatchings keeps the k best matchings by score; among equal scores the
// earlier offered one ranks first.
type topMatchings struct {
	k     int
	items []domain.Matching
}

func newTopMatchings(k int) *topMatchings {
	return &topMatchings{k: k}
}

func (t *topMatchings) offer(m domain.Matching) {
	if t.k <= 0 {
		return
	}
	if len(t.items) == t.k && m.Score <= t.items[len(t.items)-1].Score {
		return
	}
	pos := len(t.items)
	for pos > 0 && t.items[pos-1].Score < m.Score {
		pos--
	}
	t.items = append(t.items, domain.Matching{})
	copy(t.items[pos+1:], t.items[pos:])
	t.items[pos] = m
	if len(t.items) > t.k {
		t.items = t.items[:t.k]
	}
}

func (t *topMatchings) result() []domain.Matching {
	out := make([]domain.Matching, len(t.items))
	for i, m := range t.items {
		m.Order = i + 1
		out[i] = m
	}
	return out
}
