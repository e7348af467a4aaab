package hla

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestCompatibilityIndex(t *testing.T) {
	tests := []struct {
		name      string
		donor     []string
		recipient []string
		policy    ScoringPolicy
		expected  float64
	}{
		{
			name:      "full split match",
			donor:     []string{"A1", "A2", "B7", "B8", "DR1", "DR4"},
			recipient: []string{"A1", "A2", "B7", "B8", "DR1", "DR4"},
			policy:    SplitPolicy,
			expected:  26,
		},
		{
			name:      "broad match counts half",
			donor:     []string{"A23", "A2"},
			recipient: []string{"A24", "A2"},
			policy:    SplitPolicy,
			expected:  1.5,
		},
		{
			name:      "duplicated donor marker consumed once",
			donor:     []string{"A1", "A1"},
			recipient: []string{"A1"},
			policy:    SplitPolicy,
			expected:  1,
		},
		{
			name:      "same allele at high res",
			donor:     []string{"A*01:01"},
			recipient: []string{"A*01:01"},
			policy:    HighResPolicy,
			expected:  1,
		},
		{
			name:      "different alleles fall back to split",
			donor:     []string{"A*01:01"},
			recipient: []string{"A*01:02"},
			policy:    HighResPolicy,
			expected:  0.9,
		},
		{
			name:      "split policy ignores allele level",
			donor:     []string{"A*01:01"},
			recipient: []string{"A*01:02"},
			policy:    SplitPolicy,
			expected:  1,
		},
		{
			name:      "paired chains are duplicated",
			donor:     []string{"DQA1*01:02", "DQB1*06:02"},
			recipient: []string{"DQA1*01:02", "DQB1*06:02"},
			policy:    HighResPolicy,
			expected:  4,
		},
		{
			name:      "no shared markers",
			donor:     []string{"A1", "B7", "DR1"},
			recipient: []string{"A2", "B8", "DR4"},
			policy:    SplitPolicy,
			expected:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			donor := mustTyping(t, tt.donor...)
			recipient := mustTyping(t, tt.recipient...)
			assert.InDelta(t, tt.expected, CompatibilityIndex(donor, recipient, tt.policy), 1e-9)
		})
	}
}

func TestCompatibilityIndexDetailed_InvalidGroups(t *testing.T) {
	donor := mustTyping(t, "A1", "DQA1*01:02", "DQA1*01:03", "DQA1*02:01")
	recipient := mustTyping(t, "A1", "DQA1*01:02", "DQB1*06:02")

	total, scores, issues := CompatibilityIndexDetailed(donor, recipient, HighResPolicy)

	assert.InDelta(t, 0.9, total, 1e-9)
	if assert.Len(t, issues, 1) {
		assert.Equal(t, InvalidPairedChainCount, issues[0].Detail)
		assert.Equal(t, "DQ", issues[0].CodeOrGroup)
	}
	for _, s := range scores {
		if s.Group == GroupDQ {
			assert.Zero(t, s.Score)
			assert.Empty(t, s.DonorMatches)
		}
	}

	crowded := NewTyping([]HLAType{
		{Raw: "A1", Code: MustCode("", "A1", "A1")},
		{Raw: "A2", Code: MustCode("", "A2", "A2")},
		{Raw: "A3", Code: MustCode("", "A3", "A3")},
	})
	total, _, issues = CompatibilityIndexDetailed(crowded, crowded, SplitPolicy)
	assert.Zero(t, total)
	if assert.Len(t, issues, 1) {
		assert.Equal(t, MoreThanTwoHLACodesPerGroup, issues[0].Detail)
	}
}

func TestScoringPolicy_Validate(t *testing.T) {
	assert.NoError(t, SplitPolicy.Validate())
	assert.NoError(t, HighResPolicy.Validate())

	bad := ScoringPolicy{Name: "bad", GroupWeights: map[GeneGroup]float64{GroupA: -1}}
	assert.Error(t, bad.Validate())
}

func TestCompatibilityIndex_Properties(t *testing.T) {
	parser := NewParser()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	codes := gen.SliceOfN(6, gen.OneConstOf(parseableCodes...), reflect.TypeOf(""))

	properties.Property("index is deterministic and non-negative", prop.ForAll(
		func(donorRaw, recipientRaw []string) bool {
			donor, _ := parser.ParseTyping(donorRaw)
			recipient, _ := parser.ParseTyping(recipientRaw)
			for _, policy := range []ScoringPolicy{SplitPolicy, HighResPolicy} {
				first := CompatibilityIndex(donor, recipient, policy)
				if first < 0 || first != CompatibilityIndex(donor, recipient, policy) {
					return false
				}
			}
			return true
		},
		codes, codes,
	))

	properties.TestingRun(t)
}
