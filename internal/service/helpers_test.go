package service

import (
	"io"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kidney-exchange-mcp-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// matrixGraph builds a graph from a score matrix and matching donors. Every
// patient lives in country.
func matrixGraph(t *testing.T, matrix [][]float64, country string) (*domain.CompatibilityGraph, []domain.Donor) {
	t.Helper()
	graph, err := domain.NewCompatibilityGraphFromMatrix(matrix)
	require.NoError(t, err)

	for i := range graph.Recipients {
		graph.Recipients[i].Country = country
	}
	donors := make([]domain.Donor, graph.NumDonors())
	for d, r := range graph.DonorToRecipient {
		donors[d] = domain.Donor{ID: int64(d + 1), Country: country, Active: true}
		if r != domain.NoRecipient {
			donors[d].RelatedRecipientID = graph.Recipients[r].ID
		}
	}
	return graph, donors
}

func testConfig(solver domain.SolverName) domain.ConfigParameters {
	cfg := domain.DefaultConfigParameters()
	cfg.SolverConstructorName = solver
	return cfg
}

var allSolvers = []domain.SolverName{domain.AllSolutionsSolver, domain.ILPSolver}

func solveWith(t *testing.T, name domain.SolverName, graph *domain.CompatibilityGraph, donors []domain.Donor, cfg domain.ConfigParameters) []domain.Matching {
	t.Helper()
	output := solveOutput(t, name, graph, donors, cfg)
	require.True(t, output.Complete, "%s stopped early", name)
	return output.Matchings
}

func solveOutput(t *testing.T, name domain.SolverName, graph *domain.CompatibilityGraph, donors []domain.Donor, cfg domain.ConfigParameters) domain.SolverOutput {
	t.Helper()
	solver, err := NewSolver(name, quietLogger(), nil)
	require.NoError(t, err)
	output, err := solver.Solve(t.Context(), graph, donors, cfg)
	require.NoError(t, err)
	return output
}

// sixByFour has four pairs and two non-directed donors with unit scores.
// Paired donor arcs: 0->1, 1->0, 1->2, 2->3, 3->0; donor 4 gives to
// recipient 1 and donor 5 to recipient 3.
var sixByFour = [][]float64{
	{-2, 1, -1, -1},
	{1, -2, 1, -1},
	{-1, -1, -2, 1},
	{1, -1, -1, -2},
	{-1, 1, -1, -1},
	{-1, -1, -1, 1},
}

// randomMatrix returns the score matrix of a round with pairs donor and
// recipient pairs plus nonDirected donors. Every other donor/recipient
// entry is an edge with probability density, scored 1 to 9.
func randomMatrix(seed int64, pairs, nonDirected int, density float64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	matrix := make([][]float64, pairs+nonDirected)
	for d := range matrix {
		row := make([]float64, pairs)
		for r := range row {
			switch {
			case d == r:
				row[r] = domain.HomePairScore
			case rng.Float64() < density:
				row[r] = float64(1 + rng.Intn(9))
			default:
				row[r] = -1
			}
		}
		matrix[d] = row
	}
	return matrix
}
