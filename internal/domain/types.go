// Package domain contains the core entities of the kidney paired exchange:
// donors, recipients, the compatibility graph built from them, matchings
// produced by the solvers, configuration parameters and structural
// fingerprints used for result caching.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores and repositories for missing records.
	ErrNotFound = errors.New("not found")
	// ErrInvalidBloodGroup is returned for unknown blood group names.
	ErrInvalidBloodGroup = errors.New("invalid blood group")
	// ErrInvalidSolver is returned for unknown solver names.
	ErrInvalidSolver = errors.New("invalid solver")
)

// BloodGroup is an ABO blood group.
type BloodGroup string

const (
	BloodGroupA  BloodGroup = "A"
	BloodGroupB  BloodGroup = "B"
	BloodGroupAB BloodGroup = "AB"
	BloodGroupO  BloodGroup = "0"
)

// AllBloodGroups lists every blood group.
var AllBloodGroups = []BloodGroup{BloodGroupA, BloodGroupB, BloodGroupAB, BloodGroupO}

// ParseBloodGroup accepts "A", "B", "AB", "0" and "O" in any case.
func ParseBloodGroup(s string) (BloodGroup, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return BloodGroupA, nil
	case "B":
		return BloodGroupB, nil
	case "AB":
		return BloodGroupAB, nil
	case "0", "O":
		return BloodGroupO, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidBloodGroup)
}

// CanDonateTo applies the ABO rule: 0 donates to everybody, AB receives from everybody.
func (d BloodGroup) CanDonateTo(r BloodGroup) bool {
	switch d {
	case BloodGroupO:
		return true
	case BloodGroupA, BloodGroupB:
		return r == d || r == BloodGroupAB
	case BloodGroupAB:
		return r == BloodGroupAB
	}
	return false
}

// CompatibleRecipientGroups returns the groups a donor of d may give to.
func (d BloodGroup) CompatibleRecipientGroups() []BloodGroup {
	var out []BloodGroup
	for _, r := range AllBloodGroups {
		if d.CanDonateTo(r) {
			out = append(out, r)
		}
	}
	return out
}

// DonorType describes how a donor enters the exchange.
type DonorType string

const (
	DonorTypeDonor       DonorType = "DONOR"
	DonorTypeBridging    DonorType = "BRIDGING_DONOR"
	DonorTypeNonDirected DonorType = "NON_DIRECTED"
)

// SolverName selects the exchange solver strategy.
type SolverName string

const (
	AllSolutionsSolver SolverName = "AllSolutionsSolver"
	ILPSolver          SolverName = "ILPSolver"
)

// ParseSolverName validates a solver name.
func ParseSolverName(s string) (SolverName, error) {
	switch SolverName(s) {
	case AllSolutionsSolver, ILPSolver:
		return SolverName(s), nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidSolver)
}

// Objective is what the ILP solver maximizes.
type Objective string

const (
	ObjectiveTotalScore          Objective = "TOTAL_SCORE"
	ObjectiveNumberOfTransplants Objective = "NUMBER_OF_TRANSPLANTS"
)
