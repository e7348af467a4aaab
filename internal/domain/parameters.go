package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// ManualScore overrides the computed score of a donor/recipient pair.
// A negative score removes the edge.
type ManualScore struct {
	DonorID     int64   `json:"donor_id" mapstructure:"donor_id"`
	RecipientID int64   `json:"recipient_id" mapstructure:"recipient_id"`
	Score       float64 `json:"score" mapstructure:"score"`
}

// CountryCombination forbids transplants from DonorCountry to RecipientCountry.
type CountryCombination struct {
	DonorCountry     string `json:"donor_country" mapstructure:"donor_country"`
	RecipientCountry string `json:"recipient_country" mapstructure:"recipient_country"`
}

// ConfigParameters drives graph building and solving.
type ConfigParameters struct {
	UseHighResolution                   bool                 `json:"use_high_resolution" mapstructure:"use_high_resolution"`
	HLACrossmatchLevel                  hla.CrossmatchLevel  `json:"hla_crossmatch_level" mapstructure:"hla_crossmatch_level"`
	MaxCycleLength                      int                  `json:"max_cycle_length" mapstructure:"max_cycle_length"`
	MaxSequenceLength                   int                  `json:"max_sequence_length" mapstructure:"max_sequence_length"`
	MaxNumberOfDistinctCountriesInRound int                  `json:"max_number_of_distinct_countries_in_round" mapstructure:"max_number_of_distinct_countries_in_round"`
	MaxNumberOfMatchings                int                  `json:"max_number_of_matchings" mapstructure:"max_number_of_matchings"`
	MaxMatchingsToEnumerate             int                  `json:"max_matchings_to_enumerate" mapstructure:"max_matchings_to_enumerate"`
	SolverDeadline                      time.Duration        `json:"solver_deadline" mapstructure:"solver_deadline"`
	ManualDonorRecipientScores          []ManualScore        `json:"manual_donor_recipient_scores" mapstructure:"manual_donor_recipient_scores"`
	SolverConstructorName               SolverName           `json:"solver_constructor_name" mapstructure:"solver_constructor_name"`
	Objective                           Objective            `json:"objective" mapstructure:"objective"`
	BloodGroupCompatibilityBonus        float64              `json:"blood_group_compatibility_bonus" mapstructure:"blood_group_compatibility_bonus"`
	ForbiddenCountryCombinations        []CountryCombination `json:"forbidden_country_combinations" mapstructure:"forbidden_country_combinations"`
	RequiredRecipientIDs                []int64              `json:"required_recipient_ids" mapstructure:"required_recipient_ids"`
	MaxNumberOfDynamicConstraints       int                  `json:"max_number_of_dynamic_constraints" mapstructure:"max_number_of_dynamic_constraints"`
}

// DefaultConfigParameters returns the parameters used when callers supply none.
func DefaultConfigParameters() ConfigParameters {
	return ConfigParameters{
		UseHighResolution:                   true,
		HLACrossmatchLevel:                  hla.CrossmatchSplitAndHigher,
		MaxCycleLength:                      4,
		MaxSequenceLength:                   4,
		MaxNumberOfDistinctCountriesInRound: 3,
		MaxNumberOfMatchings:                5,
		MaxMatchingsToEnumerate:             1000000,
		SolverConstructorName:               AllSolutionsSolver,
		Objective:                           ObjectiveTotalScore,
		MaxNumberOfDynamicConstraints:       1000,
	}
}

// WithOverrides returns c with the fields named in overrides replaced.
// Keys use the JSON field names; the result is not validated.
func (c ConfigParameters) WithOverrides(overrides map[string]any) (ConfigParameters, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	// decoding reuses slice backing arrays
	c.ManualDonorRecipientScores = slices.Clone(c.ManualDonorRecipientScores)
	c.ForbiddenCountryCombinations = slices.Clone(c.ForbiddenCountryCombinations)
	c.RequiredRecipientIDs = slices.Clone(c.RequiredRecipientIDs)

	data, err := json.Marshal(overrides)
	if err != nil {
		return c, fmt.Errorf("encoding parameter overrides: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decoding parameter overrides: %w", err)
	}
	return c, nil
}

// Validate rejects configurations that cannot be solved.
func (c ConfigParameters) Validate() error {
	if _, err := hla.ParseCrossmatchLevel(string(c.HLACrossmatchLevel)); err != nil {
		return NewValidationError("hla_crossmatch_level", err.Error(), c.HLACrossmatchLevel)
	}
	positive := []struct {
		field string
		value int
	}{
		{"max_cycle_length", c.MaxCycleLength},
		{"max_sequence_length", c.MaxSequenceLength},
		{"max_number_of_distinct_countries_in_round", c.MaxNumberOfDistinctCountriesInRound},
		{"max_number_of_matchings", c.MaxNumberOfMatchings},
		{"max_matchings_to_enumerate", c.MaxMatchingsToEnumerate},
		{"max_number_of_dynamic_constraints", c.MaxNumberOfDynamicConstraints},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return NewValidationError(p.field, "must be positive", p.value)
		}
	}
	if c.SolverDeadline < 0 {
		return NewValidationError("solver_deadline", "must not be negative", c.SolverDeadline)
	}
	if _, err := ParseSolverName(string(c.SolverConstructorName)); err != nil {
		return NewValidationError("solver_constructor_name", err.Error(), c.SolverConstructorName)
	}
	switch c.Objective {
	case ObjectiveTotalScore, ObjectiveNumberOfTransplants:
	default:
		return NewValidationError("objective", "unknown objective", c.Objective)
	}
	if c.BloodGroupCompatibilityBonus < 0 {
		return NewValidationError("blood_group_compatibility_bonus", "must not be negative", c.BloodGroupCompatibilityBonus)
	}

	seen := make(map[[2]int64]bool, len(c.ManualDonorRecipientScores))
	for _, s := range c.ManualDonorRecipientScores {
		key := [2]int64{s.DonorID, s.RecipientID}
		if seen[key] {
			return NewValidationError("manual_donor_recipient_scores",
				fmt.Sprintf("duplicate score for donor %d and recipient %d", s.DonorID, s.RecipientID), s)
		}
		seen[key] = true
	}
	return nil
}

// ScoringPolicy returns the compatibility index policy for the resolution setting.
func (c ConfigParameters) ScoringPolicy() hla.ScoringPolicy {
	return hla.PolicyFor(c.UseHighResolution)
}

// ManualScore looks up a manual score for a donor/recipient pair.
func (c ConfigParameters) ManualScore(donorID, recipientID int64) (float64, bool) {
	for _, s := range c.ManualDonorRecipientScores {
		if s.DonorID == donorID && s.RecipientID == recipientID {
			return s.Score, true
		}
	}
	return 0, false
}

// IsForbidden reports whether transplants between the countries are not allowed.
func (c ConfigParameters) IsForbidden(donorCountry, recipientCountry string) bool {
	for _, f := range c.ForbiddenCountryCombinations {
		if f.DonorCountry == donorCountry && f.RecipientCountry == recipientCountry {
			return true
		}
	}
	return false
}
