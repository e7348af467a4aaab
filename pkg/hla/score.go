package hla

import (
	"fmt"
)

// ScoringPolicy parameterizes the compatibility index: how much each gene
// group weighs and how much each match grade is worth.
type ScoringPolicy struct {
	Name         string                `json:"name"`
	UseHighRes   bool                  `json:"use_high_res"`
	GroupWeights map[GeneGroup]float64 `json:"group_weights"`
	MatchBonus   map[MatchType]float64 `json:"match_bonus"`
}

// SplitPolicy scores A, B and DRB1 at split resolution.
var SplitPolicy = ScoringPolicy{
	Name:         "split",
	GroupWeights: map[GeneGroup]float64{GroupA: 1, GroupB: 3, GroupDRB1: 9},
	MatchBonus:   map[MatchType]float64{MatchSplit: 1, MatchBroad: 0.5},
}

// HighResPolicy also scores CW, DQ and DP and rewards allele level matches.
var HighResPolicy = ScoringPolicy{
	Name:       "high_res",
	UseHighRes: true,
	GroupWeights: map[GeneGroup]float64{
		GroupA: 1, GroupB: 3, GroupDRB1: 9, GroupCW: 1, GroupDQ: 1, GroupDP: 1,
	},
	MatchBonus: map[MatchType]float64{MatchHighRes: 1, MatchSplit: 0.9, MatchBroad: 0.5},
}

// PolicyFor returns the preset policy for the resolution setting.
func PolicyFor(useHighRes bool) ScoringPolicy {
	if useHighRes {
		return HighResPolicy
	}
	return SplitPolicy
}

// Validate rejects negative weights and bonuses.
func (p ScoringPolicy) Validate() error {
	for g, w := range p.GroupWeights {
		if w < 0 {
			return fmt.Errorf("policy %s: negative weight %v for group %s", p.Name, w, g)
		}
	}
	for m, b := range p.MatchBonus {
		if b < 0 {
			return fmt.Errorf("policy %s: negative bonus %v for match %s", p.Name, b, m)
		}
	}
	return nil
}

// TypeMatch pairs a marker with the grade it was matched at.
type TypeMatch struct {
	Type      HLAType   `json:"type"`
	MatchType MatchType `json:"match_type"`
}

// GroupScore is the compatibility detail of one gene group.
type GroupScore struct {
	Group            GeneGroup   `json:"group"`
	DonorMatches     []TypeMatch `json:"donor_matches"`
	RecipientMatches []TypeMatch `json:"recipient_matches"`
	Score            float64     `json:"score"`
}

// CompatibilityIndex returns the total score of a donor/recipient pair.
func CompatibilityIndex(donor, recipient Typing, policy ScoringPolicy) float64 {
	total, _, _ := CompatibilityIndexDetailed(donor, recipient, policy)
	return total
}

// CompatibilityIndexDetailed scores every weighted gene group. Groups with
// invalid cardinality are skipped and reported as issues.
func CompatibilityIndexDetailed(donor, recipient Typing, policy ScoringPolicy) (float64, []GroupScore, []ParsingIssue) {
	var (
		total  float64
		scores []GroupScore
		issues []ParsingIssue
	)
	for _, g := range AllGroups {
		weight, ok := policy.GroupWeights[g]
		if !ok {
			continue
		}
		donorTypes, recipientTypes := donor.Group(g), recipient.Group(g)

		gs := GroupScore{Group: g}
		if g.IsPairedChain() {
			dChains, dOK := splitChains(donorTypes)
			rChains, rOK := splitChains(recipientTypes)
			if !dOK || !rOK {
				issues = append(issues, NewParsingIssue(g.String(), InvalidPairedChainCount))
				scores = append(scores, gs)
				continue
			}
			for i := range dChains {
				dm, rm := greedyMatch(dChains[i], rChains[i], policy.UseHighRes)
				gs.DonorMatches = append(gs.DonorMatches, dm...)
				gs.RecipientMatches = append(gs.RecipientMatches, rm...)
			}
		} else {
			if len(donorTypes) > 2 || len(recipientTypes) > 2 {
				issues = append(issues, NewParsingIssue(g.String(), MoreThanTwoHLACodesPerGroup))
				scores = append(scores, gs)
				continue
			}
			gs.DonorMatches, gs.RecipientMatches = greedyMatch(donorTypes, recipientTypes, policy.UseHighRes)
		}

		for _, m := range gs.DonorMatches {
			gs.Score += policy.MatchBonus[m.MatchType] * weight
		}
		total += gs.Score
		scores = append(scores, gs)
	}
	return total, scores, issues
}

// splitChains separates a paired group into alpha and beta markers, each
// duplicated when typed once. An untyped group is valid and yields nothing.
func splitChains(types []HLAType) ([2][]HLAType, bool) {
	var chains [2][]HLAType
	if len(types) == 0 {
		return chains, true
	}
	for _, t := range types {
		if ChainOf(t.Code) == ChainAlpha {
			chains[0] = append(chains[0], t)
		} else {
			chains[1] = append(chains[1], t)
		}
	}
	for i, c := range chains {
		switch len(c) {
		case 1:
			chains[i] = []HLAType{c[0], c[0]}
		case 2:
		default:
			return chains, false
		}
	}
	return chains, true
}

var scoreLevels = []MatchType{MatchHighRes, MatchSplit, MatchBroad}

// greedyMatch pairs donor and recipient markers level by level, each marker
// consumed at most once. Unmatched markers get MatchNone.
func greedyMatch(donor, recipient []HLAType, useHighRes bool) ([]TypeMatch, []TypeMatch) {
	dm := make([]TypeMatch, len(donor))
	rm := make([]TypeMatch, len(recipient))
	for i, t := range donor {
		dm[i] = TypeMatch{Type: t, MatchType: MatchNone}
	}
	for i, t := range recipient {
		rm[i] = TypeMatch{Type: t, MatchType: MatchNone}
	}
	dUsed := make([]bool, len(donor))
	rUsed := make([]bool, len(recipient))

	for _, level := range scoreLevels {
		if level == MatchHighRes && !useHighRes {
			continue
		}
		for i, d := range donor {
			if dUsed[i] {
				continue
			}
			for j, r := range recipient {
				if rUsed[j] || !sameAtLevel(d.Code, r.Code, level) {
					continue
				}
				dUsed[i], rUsed[j] = true, true
				dm[i].MatchType, rm[j].MatchType = level, level
				break
			}
		}
	}
	return dm, rm
}

func sameAtLevel(a, b Code, level MatchType) bool {
	switch level {
	case MatchHighRes:
		return a.HighRes != "" && a.HighRes == b.HighRes
	case MatchSplit:
		return a.Split != "" && a.Split == b.Split
	case MatchBroad:
		return a.Broad != "" && a.Broad == b.Broad
	}
	return false
}
