package domain

import (
	"sort"
	"time"
)

// Transplant is one donor giving to one recipient.
type Transplant struct {
	DonorIndex     int     `json:"donor_index"`
	RecipientIndex int     `json:"recipient_index"`
	DonorID        int64   `json:"donor_id"`
	RecipientID    int64   `json:"recipient_id"`
	Score          float64 `json:"score"`
}

// Cycle is a closed loop of paired donors giving to each other's recipients.
type Cycle struct {
	Transplants []Transplant `json:"transplants"`
	Score       float64      `json:"score"`
}

// Sequence is a chain started by a non-directed donor.
type Sequence struct {
	Transplants []Transplant `json:"transplants"`
	Score       float64      `json:"score"`
}

// NewCycle creates a cycle and sums its score.
func NewCycle(transplants []Transplant) Cycle {
	return Cycle{Transplants: transplants, Score: sumScores(transplants)}
}

// NewSequence creates a sequence and sums its score.
func NewSequence(transplants []Transplant) Sequence {
	return Sequence{Transplants: transplants, Score: sumScores(transplants)}
}

// Length returns the number of transplants in the cycle.
func (c Cycle) Length() int { return len(c.Transplants) }

// Length returns the number of transplants in the sequence.
func (s Sequence) Length() int { return len(s.Transplants) }

func sumScores(transplants []Transplant) float64 {
	total := 0.0
	for _, t := range transplants {
		total += t.Score
	}
	return total
}

// Matching is a set of disjoint cycles and sequences. Order is the rank
// of the matching in a solve result, starting at 1.
type Matching struct {
	Order     int        `json:"order"`
	Score     float64    `json:"score"`
	Cycles    []Cycle    `json:"cycles"`
	Sequences []Sequence `json:"sequences"`
}

// NewMatching creates a matching and sums its score.
func NewMatching(cycles []Cycle, sequences []Sequence) Matching {
	m := Matching{Cycles: cycles, Sequences: sequences}
	for _, c := range cycles {
		m.Score += c.Score
	}
	for _, s := range sequences {
		m.Score += s.Score
	}
	return m
}

// Transplants returns every transplant of the matching.
func (m Matching) Transplants() []Transplant {
	var out []Transplant
	for _, c := range m.Cycles {
		out = append(out, c.Transplants...)
	}
	for _, s := range m.Sequences {
		out = append(out, s.Transplants...)
	}
	return out
}

// NumTransplants returns the number of transplants.
func (m Matching) NumTransplants() int {
	return len(m.Transplants())
}

// MaxCycleLength returns the length of the longest cycle, 0 without cycles.
func (m Matching) MaxCycleLength() int {
	longest := 0
	for _, c := range m.Cycles {
		longest = max(longest, c.Length())
	}
	return longest
}

// RecipientIDs returns the sorted IDs of transplanted recipients.
func (m Matching) RecipientIDs() []int64 {
	var ids []int64
	for _, t := range m.Transplants() {
		ids = append(ids, t.RecipientID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SolverOutput is what one solver run returns.
type SolverOutput struct {
	Matchings []Matching
	// Complete is false when a deadline or a search limit stopped the
	// solver; Matchings then holds the best found so far.
	Complete bool
}

// SolveResult is the outcome of a solve request. Only complete results
// are cached.
type SolveResult struct {
	Solver        SolverName     `json:"solver"`
	Matchings     []Matching     `json:"matchings"`
	Complete      bool           `json:"complete"`
	ParsingIssues []PatientIssue `json:"parsing_issues,omitempty"`
	GraphEdges    int            `json:"graph_edges"`

	// Fingerprint identifies the patients, ConfigFingerprint the parameters.
	Fingerprint       string    `json:"fingerprint"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	ComputedAt        time.Time `json:"computed_at"`
}

// BestScore returns the score of the top matching, 0 when there is none.
func (r *SolveResult) BestScore() float64 {
	if len(r.Matchings) == 0 {
		return 0
	}
	return r.Matchings[0].Score
}
