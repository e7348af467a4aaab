package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompatibilityGraphFromMatrix(t *testing.T) {
	matrix := [][]float64{
		{HomePairScore, 3, -1},
		{5, HomePairScore, 0},
		{-1, 1, 2},
	}

	g, err := NewCompatibilityGraphFromMatrix(matrix)
	require.NoError(t, err)

	assert.Equal(t, 3, g.NumDonors())
	assert.Equal(t, 3, g.NumRecipients())
	assert.Equal(t, []int{0, 1, NoRecipient}, g.DonorToRecipient)
	assert.Equal(t, 5, g.NumEdges())

	assert.True(t, g.IsHomePair(0, 0))
	assert.False(t, g.IsFeasible(0, 0))
	assert.True(t, g.IsFeasible(1, 2), "zero score is still an edge")
	assert.False(t, g.IsFeasible(0, 2))

	score, ok := g.Score(1, 0)
	assert.True(t, ok)
	assert.Equal(t, 5.0, score)

	assert.Equal(t, matrix, g.ScoreMatrix())
	assert.Equal(t, []int{1}, g.DonorsOfRecipient(1))

	edges := g.Edges()
	require.Len(t, edges, 5)
	assert.Equal(t, Edge{DonorIndex: 0, RecipientIndex: 1, Score: 3}, edges[0])
	assert.Equal(t, Edge{DonorIndex: 2, RecipientIndex: 2, Score: 2}, edges[4])
}

func TestNewCompatibilityGraphFromMatrix_Invalid(t *testing.T) {
	_, err := NewCompatibilityGraphFromMatrix([][]float64{{1, 2}, {1}})
	assert.Error(t, err)

	_, err = NewCompatibilityGraphFromMatrix([][]float64{{HomePairScore, HomePairScore}})
	assert.Error(t, err)
}

func TestCompatibilityGraph_HomePairIsNotOverwritten(t *testing.T) {
	g := NewCompatibilityGraph([]int{0}, []RecipientNode{{ID: 10}})
	g.SetScore(0, 0, 42)

	score, ok := g.Score(0, 0)
	assert.True(t, ok)
	assert.Equal(t, HomePairScore, score)
	assert.Zero(t, g.NumEdges())
}

func TestMatching(t *testing.T) {
	m := NewMatching(
		[]Cycle{NewCycle([]Transplant{
			{DonorID: 1, RecipientID: 20, Score: 2},
			{DonorID: 2, RecipientID: 10, Score: 3},
		})},
		[]Sequence{NewSequence([]Transplant{{DonorID: 3, RecipientID: 30, Score: 1.5}})},
	)

	assert.Equal(t, 6.5, m.Score)
	assert.Equal(t, 3, m.NumTransplants())
	assert.Equal(t, 2, m.MaxCycleLength())
	assert.Equal(t, []int64{10, 20, 30}, m.RecipientIDs())
}
