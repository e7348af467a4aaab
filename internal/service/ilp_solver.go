package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/mip"
)

// ILPSolverService formulates the exchange as a 0/1 program: one variable
// per feasible transplant, flow constraints tying donors to their
// recipients, and lazily generated cuts for length and country limits.
type ILPSolverService struct {
	logger  *logrus.Logger
	backend mip.Backend
}

// NewILPSolver creates the integer programming solver
func NewILPSolver(logger *logrus.Logger, backend mip.Backend) *ILPSolverService {
	return &ILPSolverService{logger: logger, backend: backend}
}

// Name implements domain.Solver
func (s *ILPSolverService) Name() domain.SolverName {
	return domain.ILPSolver
}

// exchangeModel is the program with its variable to edge mapping.
type exchangeModel struct {
	model    *mip.Model
	edges    []domain.Edge
	network  *donorNetwork
	variable map[[2]int]int
	// cuts counts generated length and country constraints, rounds the
	// candidates they were generated for.
	cuts      int
	rounds    int
	maxRounds int
}

// seedSearchSteps bounds the cycle and chain search behind the start solution.
const seedSearchSteps = 1 << 20

// Solve implements domain.Solver. Matchings are returned best first; the
// k-th matching is the optimum once the previous k-1 are cut off. When a
// deadline or a search limit stops the solver, the matchings found so far
// are returned as an incomplete output.
func (s *ILPSolverService) Solve(ctx context.Context, graph *domain.CompatibilityGraph, donors []domain.Donor, cfg domain.ConfigParameters) (domain.SolverOutput, error) {
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
		return domain.SolverOutput{}, fmt.Errorf("ilp solver: %w", err)
	}
	em, ok := s.buildModel(network, cfg)
	if !ok {
		return domain.SolverOutput{Matchings: []domain.Matching{}, Complete: true}, nil
	}
	if len(em.edges) == 0 {
		if len(cfg.RequiredRecipientIDs) > 0 {
			return domain.SolverOutput{Matchings: []domain.Matching{}, Complete: true}, nil
		}
		return domain.SolverOutput{Matchings: []domain.Matching{{Order: 1}}, Complete: true}, nil
	}
	start := s.seed(ctx, em, cfg)

	matchings := []domain.Matching{}
	complete := true
	for len(matchings) < cfg.MaxNumberOfMatchings {
		em.model.Start = start
		selected, optimal, err := s.solveWithCuts(ctx, em)
		if err != nil {
			if errors.Is(err, mip.ErrInfeasible) {
				break
			}
			if isEarlyStop(err) {
				complete = false
				s.logger.WithError(err).WithField("matchings", len(matchings)).Warn("ILP solver stopped early, returning matchings found so far")
				break
			}
			return domain.SolverOutput{}, fmt.Errorf("ilp solver: %w", err)
		}
		// only the empty selection is left
		if len(selected) == 0 && len(matchings) > 0 {
			break
		}

		m := em.matching(selected)
		m.Order = len(matchings) + 1
		matchings = append(matchings, m)
		if !optimal {
			complete = false
			s.logger.WithField("matchings", len(matchings)).Warn("ILP solver stopped early, returning best matching found so far")
			break
		}

		if err := em.excludeSolution(selected); err != nil {
			return domain.SolverOutput{}, fmt.Errorf("ilp solver: %w", err)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"matchings": len(matchings),
		"complete":  complete,
		"variables": em.model.NumVars(),
		"cuts":      em.cuts,
	}).Debug("ILP solve finished")
	return domain.SolverOutput{Matchings: matchings, Complete: complete}, nil
}

func isEarlyStop(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, mip.ErrNodeLimit) ||
		errors.Is(err, errCutLimit)
}

var errCutLimit = errors.New("dynamic constraint limit reached")

// buildModel creates the base program. It reports false when a required
// recipient cannot be transplanted at all.
func (s *ILPSolverService) buildModel(network *donorNetwork, cfg domain.ConfigParameters) (*exchangeModel, bool) {
	graph := network.graph
	em := &exchangeModel{
		model:     mip.NewModel(mip.Maximize),
		edges:     graph.Edges(),
		network:   network,
		variable:  make(map[[2]int]int),
		maxRounds: cfg.MaxNumberOfDynamicConstraints,
	}
	em.model.Lazy = em.lazyCuts

	outgoing := make([][]mip.Term, graph.NumDonors())
	incoming := make([][]mip.Term, graph.NumRecipients())
	// variable i is edge i
	for _, e := range em.edges {
		objective := e.Score
		if cfg.Objective == domain.ObjectiveNumberOfTransplants {
			objective = 1
		}
		v := em.model.AddBinary(fmt.Sprintf("x_%d_%d", e.DonorIndex, e.RecipientIndex), objective)
		em.variable[[2]int{e.DonorIndex, e.RecipientIndex}] = v
		outgoing[e.DonorIndex] = append(outgoing[e.DonorIndex], mip.Term{Var: v, Coef: 1})
		incoming[e.RecipientIndex] = append(incoming[e.RecipientIndex], mip.Term{Var: v, Coef: 1})
	}

	add := func(name string, terms []mip.Term, rel mip.Relation, rhs float64) {
		// terms reference existing variables only, AddConstraint cannot fail here
		_ = em.model.AddConstraint(name, terms, rel, rhs)
	}
	for d, terms := range outgoing {
		if len(terms) > 1 {
			add(fmt.Sprintf("donor_%d", d), terms, mip.LessEqual, 1)
		}
	}
	for r, terms := range incoming {
		if len(terms) > 1 {
			add(fmt.Sprintf("recipient_%d", r), terms, mip.LessEqual, 1)
		}
	}
	for r, donors := range network.donorsOf {
		var terms []mip.Term
		for _, d := range donors {
			terms = append(terms, outgoing[d]...)
		}
		if len(terms) == 0 {
			continue
		}
		for _, t := range incoming[r] {
			terms = append(terms, mip.Term{Var: t.Var, Coef: -1})
		}
		add(fmt.Sprintf("pair_%d", r), terms, mip.LessEqual, 0)
	}

	recipientIndex := make(map[int64]int, graph.NumRecipients())
	for i, r := range graph.Recipients {
		recipientIndex[r.ID] = i
	}
	for _, id := range cfg.RequiredRecipientIDs {
		r, ok := recipientIndex[id]
		if !ok || len(incoming[r]) == 0 {
			s.logger.WithField("recipient_id", id).Warn("Required recipient cannot receive a transplant")
			return nil, false
		}
		add(fmt.Sprintf("required_%d", id), incoming[r], mip.GreaterEqual, 1)
	}
	return em, true
}

// solveWithCuts solves the program. Length and country cuts are added
// lazily during the search; cycles or chains a backend still returns in
// breach of a limit are cut off and the program is solved again. optimal
// is false when the backend stopped early with a valid solution.
func (s *ILPSolverService) solveWithCuts(ctx context.Context, em *exchangeModel) ([]int, bool, error) {
	for {
		solution, err := s.backend.Solve(ctx, em.model)
		if err != nil {
			return nil, false, err
		}

		selected := solution.Selected()
		cuts := em.violations(selected)
		if len(cuts) == 0 {
			if !solution.Optimal {
				s.logger.WithFields(logrus.Fields{
					"nodes":     solution.Nodes,
					"objective": solution.Objective,
					"bound":     solution.Bound,
				}).Warn("MIP search stopped early, using best solution found")
			}
			return selected, solution.Optimal, nil
		}
		if em.rounds >= em.maxRounds {
			return nil, false, errCutLimit
		}
		em.rounds++
		for _, c := range em.constraints(cuts) {
			if err := em.model.AddConstraint(c.Name, c.Terms, c.Relation, c.RHS); err != nil {
				return nil, false, err
			}
		}
		s.logger.WithField("new_cuts", len(cuts)).Debug("Added length and country cuts")
	}
}

// lazyCuts implements mip.LazyFunc.
func (em *exchangeModel) lazyCuts(values []bool) ([]mip.Constraint, error) {
	var selected []int
	for v, on := range values {
		if on {
			selected = append(selected, v)
		}
	}
	cuts := em.violations(selected)
	if len(cuts) == 0 {
		return nil, nil
	}
	if em.rounds >= em.maxRounds {
		return nil, errCutLimit
	}
	em.rounds++
	return em.constraints(cuts), nil
}

// constraints turns variable sets into constraints allowing all but one of
// each set.
func (em *exchangeModel) constraints(cuts [][]int) []mip.Constraint {
	out := make([]mip.Constraint, len(cuts))
	for i, vars := range cuts {
		terms := make([]mip.Term, len(vars))
		for k, v := range vars {
			terms[k] = mip.Term{Var: v, Coef: 1}
		}
		out[i] = mip.Constraint{
			Name:     fmt.Sprintf("cut_%d", em.cuts),
			Terms:    terms,
			Relation: mip.LessEqual,
			RHS:      float64(len(vars) - 1),
		}
		em.cuts++
	}
	return out
}

// seed packs disjoint cycles and chains greedily, those with required
// recipients first, then by objective. It returns nil when the cycles and
// chains cannot be listed within the search budget.
func (s *ILPSolverService) seed(ctx context.Context, em *exchangeModel, cfg domain.ConfigParameters) []bool {
	network := *em.network
	network.maxSteps = seedSearchSteps
	paths, err := network.findPaths(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("No start solution for the ILP search")
		return nil
	}

	required := make(map[int64]bool, len(cfg.RequiredRecipientIDs))
	for _, id := range cfg.RequiredRecipientIDs {
		required[id] = true
	}
	type candidate struct {
		path     int
		required int
		value    float64
	}
	candidates := make([]candidate, len(paths))
	for i, p := range paths {
		c := candidate{path: i, value: p.score}
		if cfg.Objective == domain.ObjectiveNumberOfTransplants {
			c.value = float64(len(p.transplants))
		}
		for _, t := range p.transplants {
			if required[t.RecipientID] {
				c.required++
			}
		}
		candidates[i] = c
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].required != candidates[j].required {
			return candidates[i].required > candidates[j].required
		}
		return candidates[i].value > candidates[j].value
	})

	graph := em.network.graph
	usedDonor := make([]bool, graph.NumDonors())
	usedRecipient := make([]bool, graph.NumRecipients())
	start := make([]bool, em.model.NumVars())
	for _, c := range candidates {
		p := paths[c.path]
		if anyUsed(usedDonor, p.donors) || anyUsed(usedRecipient, p.recipients) {
			continue
		}
		for _, t := range p.transplants {
			usedDonor[t.DonorIndex] = true
			usedRecipient[t.RecipientIndex] = true
			start[em.variable[[2]int{t.DonorIndex, t.RecipientIndex}]] = true
		}
	}
	return start
}

func anyUsed(used []bool, indices []int) bool {
	for _, i := range indices {
		if used[i] {
			return true
		}
	}
	return false
}

// structure splits selected variables into chains (started by donors
// without a recipient) and cycles. Each returned slice lists variables in
// transplant order.
func (em *exchangeModel) structure(selected []int) (chains, cycles [][]int) {
	byDonor := make(map[int]int, len(selected))
	for _, v := range selected {
		byDonor[em.edges[v].DonorIndex] = v
	}
	next := func(v int) (int, bool) {
		for _, d := range em.network.donorsOf[em.edges[v].RecipientIndex] {
			if w, ok := byDonor[d]; ok {
				return w, true
			}
		}
		return 0, false
	}

	visited := make(map[int]bool, len(selected))
	for _, v := range selected {
		if em.network.recipientOf(em.edges[v].DonorIndex) != domain.NoRecipient {
			continue
		}
		var chain []int
		for cur, ok := v, true; ok && !visited[cur]; cur, ok = next(cur) {
			visited[cur] = true
			chain = append(chain, cur)
		}
		chains = append(chains, chain)
	}
	for _, v := range selected {
		if visited[v] {
			continue
		}
		var cycle []int
		for cur, ok := v, true; ok && !visited[cur]; cur, ok = next(cur) {
			visited[cur] = true
			cycle = append(cycle, cur)
		}
		cycles = append(cycles, cycle)
	}
	return chains, cycles
}

func (em *exchangeModel) transplants(vars []int) []domain.Transplant {
	out := make([]domain.Transplant, len(vars))
	for i, v := range vars {
		out[i] = em.network.transplant(em.edges[v].DonorIndex, em.edges[v].RecipientIndex)
	}
	return out
}

// violations returns, per invalid cycle or chain, sets of variables that
// must not all be selected together. Any run of w consecutive transplants
// between pairs, w the larger of the cycle and chain limits, fits in no
// valid cycle or chain, so long cycles and chains are cut by their runs.
func (em *exchangeModel) violations(selected []int) [][]int {
	cfg := em.network.cfg
	window := max(cfg.MaxCycleLength, cfg.MaxSequenceLength)
	chains, cycles := em.structure(selected)

	var cuts [][]int
	for _, cycle := range cycles {
		switch {
		case len(cycle) > window:
			cuts = append(cuts, runs(cycle, window, true)...)
		case len(cycle) > cfg.MaxCycleLength || !em.network.withinCountryLimit(em.transplants(cycle)):
			cuts = append(cuts, cycle)
		}
	}
	for _, chain := range chains {
		if len(chain)-1 >= window {
			cuts = append(cuts, runs(chain[1:], window, false)...)
		}
		for k := 1; k <= len(chain); k++ {
			prefix := chain[:k]
			if k > cfg.MaxSequenceLength || !em.network.withinCountryLimit(em.transplants(prefix)) {
				cuts = append(cuts, prefix)
				break
			}
		}
	}
	return cuts
}

// runs returns every size consecutive variables of path, wrapping around
// when cyclic.
func runs(path []int, size int, cyclic bool) [][]int {
	last := len(path) - size
	if cyclic {
		last = len(path) - 1
	}
	var out [][]int
	for i := 0; i <= last; i++ {
		run := make([]int, size)
		for k := range run {
			run[k] = path[(i+k)%len(path)]
		}
		out = append(out, run)
	}
	return out
}

func (em *exchangeModel) matching(selected []int) domain.Matching {
	chains, cycles := em.structure(selected)
	var (
		out       []domain.Cycle
		sequences []domain.Sequence
	)
	for _, cycle := range cycles {
		out = append(out, domain.NewCycle(em.transplants(cycle)))
	}
	for _, chain := range chains {
		sequences = append(sequences, domain.NewSequence(em.transplants(chain)))
	}
	return domain.NewMatching(out, sequences)
}

// excludeSolution forbids exactly this selection in later solves.
func (em *exchangeModel) excludeSolution(selected []int) error {
	in := make(map[int]bool, len(selected))
	for _, v := range selected {
		in[v] = true
	}
	terms := make([]mip.Term, 0, em.model.NumVars())
	for v := 0; v < em.model.NumVars(); v++ {
		coef := 1.0
		if in[v] {
			coef = -1
		}
		terms = append(terms, mip.Term{Var: v, Coef: coef})
	}
	return em.model.AddConstraint(fmt.Sprintf("exclude_%d", len(em.model.Constraints)), terms, mip.GreaterEqual, float64(1-len(selected)))
}
