package domain

import (
	"fmt"
	"sort"
)

const (
	// HomePairScore marks the edge between a donor and their own recipient.
	// It is bookkeeping only and never selected as a transplant.
	HomePairScore = -2.0
	// TransplantImpossibleScore fills missing edges in ScoreMatrix.
	TransplantImpossibleScore = -1.0
)

// NoRecipient marks a donor without a paired recipient in DonorToRecipient.
const NoRecipient = -1

// Edge is a feasible donor to recipient transplant.
type Edge struct {
	DonorIndex     int     `json:"donor_index"`
	RecipientIndex int     `json:"recipient_index"`
	Score          float64 `json:"score"`
}

// RecipientNode is the part of a recipient the solvers need.
type RecipientNode struct {
	ID      int64  `json:"id"`
	Country string `json:"country"`
}

type edgeKey struct {
	donor, recipient int
}

// CompatibilityGraph maps (donor index, recipient index) to a score. A
// missing key means the transplant is infeasible. The graph is immutable
// once built and may be shared between solvers.
type CompatibilityGraph struct {
	// DonorToRecipient holds each donor's home recipient index or NoRecipient.
	DonorToRecipient []int
	Recipients       []RecipientNode
	scores           map[edgeKey]float64
}

// NewCompatibilityGraph creates a graph without edges.
func NewCompatibilityGraph(donorToRecipient []int, recipients []RecipientNode) *CompatibilityGraph {
	g := &CompatibilityGraph{
		DonorToRecipient: donorToRecipient,
		Recipients:       recipients,
		scores:           make(map[edgeKey]float64),
	}
	for d, r := range donorToRecipient {
		if r != NoRecipient {
			g.scores[edgeKey{d, r}] = HomePairScore
		}
	}
	return g
}

// NewCompatibilityGraphFromMatrix builds a graph from a donors x recipients
// score matrix. HomePairScore entries define the home pairs, negative
// entries are missing edges.
func NewCompatibilityGraphFromMatrix(matrix [][]float64) (*CompatibilityGraph, error) {
	numRecipients := 0
	if len(matrix) > 0 {
		numRecipients = len(matrix[0])
	}
	donorToRecipient := make([]int, len(matrix))
	for d, row := range matrix {
		if len(row) != numRecipients {
			return nil, fmt.Errorf("score matrix row %d has %d columns, want %d", d, len(row), numRecipients)
		}
		donorToRecipient[d] = NoRecipient
		for r, s := range row {
			if s == HomePairScore {
				if donorToRecipient[d] != NoRecipient {
					return nil, fmt.Errorf("donor %d has more than one home recipient", d)
				}
				donorToRecipient[d] = r
			}
		}
	}
	recipients := make([]RecipientNode, numRecipients)
	for r := range recipients {
		recipients[r] = RecipientNode{ID: int64(r + 1)}
	}

	g := NewCompatibilityGraph(donorToRecipient, recipients)
	for d, row := range matrix {
		for r, s := range row {
			if s >= 0 {
				g.SetScore(d, r, s)
			}
		}
	}
	return g, nil
}

// NumDonors returns the number of donors.
func (g *CompatibilityGraph) NumDonors() int {
	return len(g.DonorToRecipient)
}

// NumRecipients returns the number of recipients.
func (g *CompatibilityGraph) NumRecipients() int {
	return len(g.Recipients)
}

// SetScore adds or replaces a transplant edge. Home pair edges cannot be overwritten.
func (g *CompatibilityGraph) SetScore(donor, recipient int, score float64) {
	if g.IsHomePair(donor, recipient) {
		return
	}
	g.scores[edgeKey{donor, recipient}] = score
}

// Score returns the edge score, false when no edge exists.
func (g *CompatibilityGraph) Score(donor, recipient int) (float64, bool) {
	s, ok := g.scores[edgeKey{donor, recipient}]
	return s, ok
}

// IsHomePair reports whether recipient is donor's own recipient.
func (g *CompatibilityGraph) IsHomePair(donor, recipient int) bool {
	return donor >= 0 && donor < len(g.DonorToRecipient) && g.DonorToRecipient[donor] == recipient && recipient != NoRecipient
}

// IsFeasible reports whether donor can give to recipient as a real transplant.
func (g *CompatibilityGraph) IsFeasible(donor, recipient int) bool {
	if g.IsHomePair(donor, recipient) {
		return false
	}
	_, ok := g.scores[edgeKey{donor, recipient}]
	return ok
}

// Edges returns all transplant edges sorted by donor then recipient, home pairs excluded.
func (g *CompatibilityGraph) Edges() []Edge {
	edges := make([]Edge, 0, len(g.scores))
	for k, s := range g.scores {
		if g.IsHomePair(k.donor, k.recipient) {
			continue
		}
		edges = append(edges, Edge{DonorIndex: k.donor, RecipientIndex: k.recipient, Score: s})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].DonorIndex != edges[j].DonorIndex {
			return edges[i].DonorIndex < edges[j].DonorIndex
		}
		return edges[i].RecipientIndex < edges[j].RecipientIndex
	})
	return edges
}

// NumEdges returns the number of transplant edges.
func (g *CompatibilityGraph) NumEdges() int {
	n := 0
	for k := range g.scores {
		if !g.IsHomePair(k.donor, k.recipient) {
			n++
		}
	}
	return n
}

// DonorsOfRecipient returns the donors paired with recipient.
func (g *CompatibilityGraph) DonorsOfRecipient(recipient int) []int {
	var out []int
	for d, r := range g.DonorToRecipient {
		if r == recipient {
			out = append(out, d)
		}
	}
	return out
}

// ScoreMatrix renders the graph as a donors x recipients matrix.
func (g *CompatibilityGraph) ScoreMatrix() [][]float64 {
	matrix := make([][]float64, g.NumDonors())
	for d := range matrix {
		matrix[d] = make([]float64, g.NumRecipients())
		for r := range matrix[d] {
			if s, ok := g.scores[edgeKey{d, r}]; ok {
				matrix[d][r] = s
			} else {
				matrix[d][r] = TransplantImpossibleScore
			}
		}
	}
	return matrix
}
