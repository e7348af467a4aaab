package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBloodGroup(t *testing.T) {
	tests := []struct {
		input    string
		expected BloodGroup
		wantErr  bool
	}{
		{"A", BloodGroupA, false},
		{" ab ", BloodGroupAB, false},
		{"0", BloodGroupO, false},
		{"O", BloodGroupO, false},
		{"C", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			bg, err := ParseBloodGroup(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBloodGroup)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, bg)
		})
	}
}

func TestBloodGroup_CanDonateTo(t *testing.T) {
	tests := []struct {
		donor      BloodGroup
		recipients []BloodGroup
	}{
		{BloodGroupO, []BloodGroup{BloodGroupA, BloodGroupB, BloodGroupAB, BloodGroupO}},
		{BloodGroupA, []BloodGroup{BloodGroupA, BloodGroupAB}},
		{BloodGroupB, []BloodGroup{BloodGroupB, BloodGroupAB}},
		{BloodGroupAB, []BloodGroup{BloodGroupAB}},
	}

	for _, tt := range tests {
		t.Run(string(tt.donor), func(t *testing.T) {
			assert.ElementsMatch(t, tt.recipients, tt.donor.CompatibleRecipientGroups())
		})
	}
}

func TestParseSolverName(t *testing.T) {
	name, err := ParseSolverName("ILPSolver")
	require.NoError(t, err)
	assert.Equal(t, ILPSolver, name)

	_, err = ParseSolverName("GreedySolver")
	assert.ErrorIs(t, err, ErrInvalidSolver)
}

func TestConfigParameters_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfigParameters().Validate())

	tests := []struct {
		name   string
		mutate func(*ConfigParameters)
		field  string
	}{
		{"zero cycle length", func(c *ConfigParameters) { c.MaxCycleLength = 0 }, "max_cycle_length"},
		{"negative sequence length", func(c *ConfigParameters) { c.MaxSequenceLength = -1 }, "max_sequence_length"},
		{"no matchings", func(c *ConfigParameters) { c.MaxNumberOfMatchings = 0 }, "max_number_of_matchings"},
		{"unknown level", func(c *ConfigParameters) { c.HLACrossmatchLevel = "SOMETIMES" }, "hla_crossmatch_level"},
		{"unknown solver", func(c *ConfigParameters) { c.SolverConstructorName = "Greedy" }, "solver_constructor_name"},
		{"unknown objective", func(c *ConfigParameters) { c.Objective = "FEWEST" }, "objective"},
		{"negative deadline", func(c *ConfigParameters) { c.SolverDeadline = -1 }, "solver_deadline"},
		{"duplicate manual score", func(c *ConfigParameters) {
			c.ManualDonorRecipientScores = []ManualScore{{DonorID: 1, RecipientID: 2, Score: 3}, {DonorID: 1, RecipientID: 2, Score: 4}}
		}, "manual_donor_recipient_scores"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfigParameters()
			tt.mutate(&cfg)

			err := cfg.Validate()
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestConfigParameters_Lookups(t *testing.T) {
	cfg := DefaultConfigParameters()
	cfg.ManualDonorRecipientScores = []ManualScore{{DonorID: 1, RecipientID: 2, Score: 7.5}}
	cfg.ForbiddenCountryCombinations = []CountryCombination{{DonorCountry: "CZE", RecipientCountry: "AUT"}}

	score, ok := cfg.ManualScore(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 7.5, score)

	_, ok = cfg.ManualScore(2, 1)
	assert.False(t, ok)

	assert.True(t, cfg.IsForbidden("CZE", "AUT"))
	assert.False(t, cfg.IsForbidden("AUT", "CZE"))
}

func TestConfigParameters_WithOverrides(t *testing.T) {
	defaults := DefaultConfigParameters()
	defaults.RequiredRecipientIDs = make([]int64, 1, 4)
	defaults.RequiredRecipientIDs[0] = 10

	cfg, err := defaults.WithOverrides(map[string]any{
		"max_cycle_length":       2,
		"required_recipient_ids": []int64{20, 30},
		"objective":              "NUMBER_OF_TRANSPLANTS",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxCycleLength)
	assert.Equal(t, defaults.MaxSequenceLength, cfg.MaxSequenceLength)
	assert.Equal(t, []int64{20, 30}, cfg.RequiredRecipientIDs)
	assert.Equal(t, ObjectiveNumberOfTransplants, cfg.Objective)

	// the defaults keep their own slices
	assert.Equal(t, []int64{10}, defaults.RequiredRecipientIDs)
	assert.Equal(t, int64(0), defaults.RequiredRecipientIDs[:2][1])

	same, err := defaults.WithOverrides(nil)
	require.NoError(t, err)
	assert.Equal(t, defaults, same)

	_, err = defaults.WithOverrides(map[string]any{"max_cycle_length": "four"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding parameter overrides")
}
