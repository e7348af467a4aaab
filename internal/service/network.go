package service

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

// ctxCheckInterval is how many search steps run between context checks.
const ctxCheckInterval = 1024

type pathKind int

const (
	pathCycle pathKind = iota
	pathChain
)

// exchangePath is a cycle or chain found in the donor network.
type exchangePath struct {
	kind        pathKind
	transplants []domain.Transplant
	score       float64
	donors      []int
	recipients  []int
}

// donorNetwork is the compatibility graph seen from the donors: paired
// donor i points to paired donor j when i can give to j's recipient.
type donorNetwork struct {
	graph      *domain.CompatibilityGraph
	donors     []domain.Donor
	cfg        domain.ConfigParameters
	arcs       [][]int
	recipients [][]int
	// donorsOf lists the paired donors of each recipient.
	donorsOf    [][]int
	nonDirected []int
	// maxSteps bounds the search steps per component, 0 for no bound.
	maxSteps int
}

var errSearchLimit = errors.New("cycle and chain search limit reached")

func newDonorNetwork(graph *domain.CompatibilityGraph, donors []domain.Donor, cfg domain.ConfigParameters) (*donorNetwork, error) {
	if len(donors) != graph.NumDonors() {
		return nil, fmt.Errorf("graph has %d donors, got %d", graph.NumDonors(), len(donors))
	}
	n := &donorNetwork{
		graph:      graph,
		donors:     donors,
		cfg:        cfg,
		arcs:       make([][]int, graph.NumDonors()),
		recipients: make([][]int, graph.NumDonors()),
		donorsOf:   make([][]int, graph.NumRecipients()),
	}
	for d, r := range graph.DonorToRecipient {
		if r == domain.NoRecipient {
			n.nonDirected = append(n.nonDirected, d)
			continue
		}
		n.donorsOf[r] = append(n.donorsOf[r], d)
	}
	for _, e := range graph.Edges() {
		n.recipients[e.DonorIndex] = append(n.recipients[e.DonorIndex], e.RecipientIndex)
		n.arcs[e.DonorIndex] = append(n.arcs[e.DonorIndex], n.donorsOf[e.RecipientIndex]...)
	}
	for _, a := range n.arcs {
		sort.Ints(a)
	}
	return n, nil
}

func (n *donorNetwork) recipientOf(donor int) int {
	return n.graph.DonorToRecipient[donor]
}

func (n *donorNetwork) transplant(donor, recipient int) domain.Transplant {
	score, _ := n.graph.Score(donor, recipient)
	return domain.Transplant{
		DonorIndex:     donor,
		RecipientIndex: recipient,
		DonorID:        n.donors[donor].ID,
		RecipientID:    n.graph.Recipients[recipient].ID,
		Score:          score,
	}
}

// countries returns the number of distinct donor and recipient countries.
func (n *donorNetwork) countries(transplants []domain.Transplant) int {
	seen := make(map[string]struct{}, 2*len(transplants))
	for _, t := range transplants {
		seen[n.donors[t.DonorIndex].Country] = struct{}{}
		seen[n.graph.Recipients[t.RecipientIndex].Country] = struct{}{}
	}
	return len(seen)
}

func (n *donorNetwork) withinCountryLimit(transplants []domain.Transplant) bool {
	return n.countries(transplants) <= n.cfg.MaxNumberOfDistinctCountriesInRound
}

func (n *donorNetwork) newPath(kind pathKind, transplants []domain.Transplant) exchangePath {
	p := exchangePath{kind: kind, transplants: append([]domain.Transplant(nil), transplants...)}
	for _, t := range p.transplants {
		p.score += t.Score
		p.donors = append(p.donors, t.DonorIndex)
		p.recipients = append(p.recipients, t.RecipientIndex)
	}
	return p
}

// components groups donors into weakly connected components of the
// donor network, ordered by their smallest donor index.
func (n *donorNetwork) components() [][]int {
	parent := make([]int, len(n.arcs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for i, targets := range n.arcs {
		for _, j := range targets {
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[max(ri, rj)] = min(ri, rj)
			}
		}
	}

	index := make(map[int]int)
	var out [][]int
	for d := range n.arcs {
		root := find(d)
		c, ok := index[root]
		if !ok {
			c = len(out)
			index[root] = c
			out = append(out, nil)
		}
		out[c] = append(out[c], d)
	}
	return out
}

// findPaths searches every component concurrently and returns the cycles
// and chains in a deterministic order.
func (n *donorNetwork) findPaths(ctx context.Context) ([]exchangePath, error) {
	components := n.components()
	found := make([][]exchangePath, len(components))

	g, gctx := errgroup.WithContext(ctx)
	for i, component := range components {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			paths, err := n.searchComponent(gctx, component)
			if err != nil {
				return err
			}
			found[i] = paths
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []exchangePath
	for _, paths := range found {
		out = append(out, paths...)
	}
	return out, nil
}

func (n *donorNetwork) searchComponent(ctx context.Context, component []int) ([]exchangePath, error) {
	var out []exchangePath
	steps := 0
	tick := func() error {
		steps++
		if n.maxSteps > 0 && steps > n.maxSteps {
			return errSearchLimit
		}
		if steps%ctxCheckInterval == 0 {
			return ctx.Err()
		}
		return nil
	}

	for _, start := range component {
		if n.recipientOf(start) == domain.NoRecipient {
			continue
		}
		cycles, err := n.cyclesFrom(start, tick)
		if err != nil {
			return nil, err
		}
		out = append(out, cycles...)
	}
	for _, start := range component {
		if n.recipientOf(start) != domain.NoRecipient {
			continue
		}
		chains, err := n.chainsFrom(start, tick)
		if err != nil {
			return nil, err
		}
		out = append(out, chains...)
	}
	return out, nil
}

type cycleFrame struct {
	donor int
	next  int
}

// cyclesFrom finds cycles whose smallest donor index is start.
func (n *donorNetwork) cyclesFrom(start int, tick func() error) ([]exchangePath, error) {
	var (
		out         []exchangePath
		stack       = []cycleFrame{{donor: start}}
		transplants []domain.Transplant
		usedDonor   = map[int]bool{start: true}
		usedRecip   = map[int]bool{n.recipientOf(start): true}
	)

	for len(stack) > 0 {
		if err := tick(); err != nil {
			return nil, err
		}
		top := &stack[len(stack)-1]
		if top.next >= len(n.arcs[top.donor]) {
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				usedDonor[top.donor] = false
				usedRecip[n.recipientOf(top.donor)] = false
				transplants = transplants[:len(transplants)-1]
			}
			continue
		}
		j := n.arcs[top.donor][top.next]
		top.next++
		from := top.donor

		if j == start {
			if len(stack) < 2 {
				continue
			}
			closing := append(transplants, n.transplant(from, n.recipientOf(start)))
			if n.withinCountryLimit(closing) {
				out = append(out, n.newPath(pathCycle, closing))
			}
			continue
		}
		if j < start || usedDonor[j] || usedRecip[n.recipientOf(j)] || len(stack) >= n.cfg.MaxCycleLength {
			continue
		}
		step := n.transplant(from, n.recipientOf(j))
		transplants = append(transplants, step)
		if !n.withinCountryLimit(transplants) {
			transplants = transplants[:len(transplants)-1]
			continue
		}
		usedDonor[j] = true
		usedRecip[n.recipientOf(j)] = true
		stack = append(stack, cycleFrame{donor: j})
	}
	return out, nil
}

type chainStep struct {
	recipient int
	// donor continues the chain from recipient, -1 ends it there.
	donor int
}

type chainFrame struct {
	donor int
	steps []chainStep
	next  int
}

func (n *donorNetwork) chainSteps(donor int) []chainStep {
	var steps []chainStep
	for _, r := range n.recipients[donor] {
		steps = append(steps, chainStep{recipient: r, donor: -1})
		for _, d := range n.donorsOf[r] {
			steps = append(steps, chainStep{recipient: r, donor: d})
		}
	}
	return steps
}

// chainsFrom finds every chain started by a non-directed donor. A chain
// ends at a recipient whose donors do not donate in the round.
func (n *donorNetwork) chainsFrom(start int, tick func() error) ([]exchangePath, error) {
	var (
		out         []exchangePath
		stack       = []chainFrame{{donor: start, steps: n.chainSteps(start)}}
		transplants []domain.Transplant
		usedDonor   = map[int]bool{start: true}
		usedRecip   = map[int]bool{}
	)

	for len(stack) > 0 {
		if err := tick(); err != nil {
			return nil, err
		}
		top := &stack[len(stack)-1]
		if top.next >= len(top.steps) {
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				last := transplants[len(transplants)-1]
				usedDonor[top.donor] = false
				usedRecip[last.RecipientIndex] = false
				transplants = transplants[:len(transplants)-1]
			}
			continue
		}
		s := top.steps[top.next]
		top.next++

		if usedRecip[s.recipient] || len(transplants) >= n.cfg.MaxSequenceLength {
			continue
		}
		extended := append(transplants, n.transplant(top.donor, s.recipient))
		if !n.withinCountryLimit(extended) {
			continue
		}
		if s.donor < 0 {
			out = append(out, n.newPath(pathChain, extended))
			continue
		}
		if usedDonor[s.donor] || len(extended) >= n.cfg.MaxSequenceLength {
			continue
		}
		transplants = extended
		usedDonor[s.donor] = true
		usedRecip[s.recipient] = true
		stack = append(stack, chainFrame{donor: s.donor, steps: n.chainSteps(s.donor)})
	}
	return out, nil
}

// bitset is a fixed size set of small non-negative integers.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int)      { b[i/64] |= 1 << (uint(i) % 64) }
func (b bitset) clear(i int)    { b[i/64] &^= 1 << (uint(i) % 64) }
func (b bitset) has(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }

func (b bitset) clone() bitset {
	return append(bitset(nil), b...)
}

func (b bitset) and(other bitset) bitset {
	out := make(bitset, len(b))
	for i := range b {
		out[i] = b[i] & other[i]
	}
	return out
}

func (b bitset) empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

func (b bitset) members() []int {
	var out []int
	for i, w := range b {
		for w != 0 {
			out = append(out, i*64+bits.TrailingZeros64(w))
			w &= w - 1
		}
	}
	return out
}

func (b bitset) countAnd(other bitset) int {
	n := 0
	for i := range b {
		n += bits.OnesCount64(b[i] & other[i])
	}
	return n
}
