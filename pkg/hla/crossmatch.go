package hla

import (
	"fmt"
	"sort"
)

// MatchType grades how a donor marker relates to a recipient antibody.
type MatchType string

const (
	MatchHighRes          MatchType = "HIGH_RES"
	MatchHighResWithSplit MatchType = "HIGH_RES_WITH_SPLIT"
	MatchSplit            MatchType = "SPLIT"
	MatchHighResWithBroad MatchType = "HIGH_RES_WITH_BROAD"
	MatchBroad            MatchType = "BROAD"
	MatchTheoretical      MatchType = "THEORETICAL"
	MatchUndecidable      MatchType = "UNDECIDABLE"
	MatchNone             MatchType = "NONE"
)

// matchSpecificity orders match types from most to least specific.
var matchSpecificity = map[MatchType]int{
	MatchHighRes:          0,
	MatchHighResWithSplit: 1,
	MatchSplit:            2,
	MatchHighResWithBroad: 3,
	MatchBroad:            4,
	MatchTheoretical:      5,
	MatchUndecidable:      6,
	MatchNone:             7,
}

// Specificity returns the rank of the match type, lower is more specific.
func (m MatchType) Specificity() int {
	if r, ok := matchSpecificity[m]; ok {
		return r
	}
	return len(matchSpecificity)
}

// CrossmatchLevel is the minimum evidence needed to call a crossmatch positive.
type CrossmatchLevel string

const (
	CrossmatchNone           CrossmatchLevel = "NONE"
	CrossmatchHighRes        CrossmatchLevel = "HIGH_RES"
	CrossmatchSplitAndHigher CrossmatchLevel = "SPLIT_AND_HIGHER"
	CrossmatchBroadAndHigher CrossmatchLevel = "BROAD_AND_HIGHER"
)

var positiveMatchTypes = map[CrossmatchLevel]map[MatchType]bool{
	CrossmatchNone:    {},
	CrossmatchHighRes: {MatchHighRes: true, MatchTheoretical: true},
	CrossmatchSplitAndHigher: {
		MatchHighRes: true, MatchHighResWithSplit: true, MatchSplit: true, MatchTheoretical: true,
	},
	CrossmatchBroadAndHigher: {
		MatchHighRes: true, MatchHighResWithSplit: true, MatchSplit: true,
		MatchHighResWithBroad: true, MatchBroad: true, MatchTheoretical: true, MatchUndecidable: true,
	},
}

// ParseCrossmatchLevel validates a level name.
func ParseCrossmatchLevel(s string) (CrossmatchLevel, error) {
	level := CrossmatchLevel(s)
	if _, ok := positiveMatchTypes[level]; !ok {
		return "", fmt.Errorf("unknown crossmatch level %q", s)
	}
	return level, nil
}

// IsPositive reports whether a match of type m is positive at this level.
func (l CrossmatchLevel) IsPositive(m MatchType) bool {
	return positiveMatchTypes[l][m]
}

// AntibodyMatch links a recipient antibody to the grade of its reaction with a donor marker.
type AntibodyMatch struct {
	Antibody  Antibody  `json:"antibody"`
	MatchType MatchType `json:"match_type"`
}

// AntibodyMatchesForGroup are the antibody matches of one gene group, most specific first.
type AntibodyMatchesForGroup struct {
	Group   GeneGroup       `json:"group"`
	Matches []AntibodyMatch `json:"matches"`
}

// Crossmatch classifies every donor marker against the recipient panel.
// Only antibodies the recipient was tested for at a given resolution decide
// a marker at that resolution; untested resolutions escalate to the next
// coarser one and a marker nobody tested produces no match at all.
func Crossmatch(donor Typing, antibodies Antibodies) []AntibodyMatchesForGroup {
	result := make([]AntibodyMatchesForGroup, 0, len(AllGroups))
	for _, g := range AllGroups {
		markers := donor.Group(g)
		panel := antibodies.Group(g)
		var matches []AntibodyMatch
		if len(markers) > 0 && len(panel) > 0 {
			if g.IsPairedChain() {
				matches = crossmatchPairedGroup(markers, panel)
			} else {
				for _, marker := range markers {
					matches = append(matches, classifyMarker(marker.Code, panel)...)
				}
			}
		}
		result = append(result, AntibodyMatchesForGroup{Group: g, Matches: dedupeMatches(matches)})
	}
	return result
}

// IsPositiveCrossmatch reports whether any antibody reacts with the donor at the given level.
func IsPositiveCrossmatch(donor Typing, antibodies Antibodies, level CrossmatchLevel) bool {
	if level == CrossmatchNone {
		return false
	}
	for _, group := range Crossmatch(donor, antibodies) {
		for _, m := range group.Matches {
			if level.IsPositive(m.MatchType) {
				return true
			}
		}
	}
	return false
}

func crossmatchPairedGroup(markers []HLAType, panel []Antibody) []AntibodyMatch {
	var (
		matches     []AntibodyMatch
		singles     []Antibody
		theoretical []Antibody
	)
	covered := make([]bool, len(markers))
	for _, a := range panel {
		switch {
		case a.IsDouble():
			alpha := indexOfMarker(markers, a.Code)
			beta := indexOfMarker(markers, *a.SecondCode)
			if alpha < 0 || beta < 0 {
				continue
			}
			if a.IsPositive() {
				covered[alpha], covered[beta] = true, true
				matches = append(matches, AntibodyMatch{Antibody: a, MatchType: MatchHighRes})
			} else {
				matches = append(matches, AntibodyMatch{Antibody: a, MatchType: MatchNone})
			}
		case a.Type == AntibodyTheoretical:
			theoretical = append(theoretical, a)
		default:
			singles = append(singles, a)
		}
	}

	for i, marker := range markers {
		if covered[i] {
			continue
		}
		found := classifyMarker(marker.Code, singles)
		if hasPositiveMatch(found) {
			matches = append(matches, found...)
			continue
		}
		matches = append(matches, found...)
		for _, a := range theoretical {
			if !a.Code.Equal(marker.Code) {
				continue
			}
			mt := MatchNone
			if a.IsPositive() {
				mt = MatchTheoretical
			}
			matches = append(matches, AntibodyMatch{Antibody: a, MatchType: mt})
		}
	}
	return matches
}

// classifyMarker grades a single marker, first success wins: high res,
// then split, then broad.
func classifyMarker(marker Code, panel []Antibody) []AntibodyMatch {
	if marker.HighRes != "" {
		same := filterAntibodies(panel, func(a Antibody) bool {
			return a.Code.HighRes == marker.HighRes
		})
		if len(same) > 0 {
			return decided(same, MatchHighRes)
		}
	}

	if marker.Split != "" {
		lowRes := filterAntibodies(panel, func(a Antibody) bool {
			return !a.Code.IsHighRes() && a.Code.Split == marker.Split
		})
		if len(lowRes) > 0 {
			return decided(lowRes, MatchSplit)
		}
		if !marker.IsHighRes() {
			highRes := filterAntibodies(panel, func(a Antibody) bool {
				return a.Code.IsHighRes() && a.Code.Split == marker.Split
			})
			if len(highRes) > 0 {
				return aggregated(highRes, MatchHighResWithSplit)
			}
		}
	}

	if marker.Broad != "" {
		broadOnly := filterAntibodies(panel, func(a Antibody) bool {
			return !a.Code.IsHighRes() && a.Code.Split == "" && a.Code.Broad == marker.Broad
		})
		if len(broadOnly) > 0 {
			return decided(broadOnly, MatchBroad)
		}
		if marker.Split == "" {
			splits := filterAntibodies(panel, func(a Antibody) bool {
				return !a.Code.IsHighRes() && a.Code.Split != "" && a.Code.Broad == marker.Broad
			})
			if len(splits) > 0 {
				return aggregated(splits, MatchBroad)
			}
		}
		highRes := filterAntibodies(panel, func(a Antibody) bool {
			return a.Code.IsHighRes() && a.Code.Broad == marker.Broad &&
				(marker.Split == "" || a.Code.Split == "")
		})
		if len(highRes) > 0 {
			return aggregated(highRes, MatchHighResWithBroad)
		}
	}
	return nil
}

// decided grades antibodies that target exactly the marker: positive ones get mt.
func decided(antibodies []Antibody, mt MatchType) []AntibodyMatch {
	matches := make([]AntibodyMatch, 0, len(antibodies))
	for _, a := range antibodies {
		if a.IsPositive() {
			matches = append(matches, AntibodyMatch{Antibody: a, MatchType: mt})
		} else {
			matches = append(matches, AntibodyMatch{Antibody: a, MatchType: MatchNone})
		}
	}
	return matches
}

// aggregated grades antibodies that only share a coarser resolution with the
// marker: all positive gives mt, mixed results are undecidable.
func aggregated(antibodies []Antibody, mt MatchType) []AntibodyMatch {
	positives := 0
	for _, a := range antibodies {
		if a.IsPositive() {
			positives++
		}
	}
	if positives > 0 && positives < len(antibodies) {
		mt = MatchUndecidable
	}
	return decided(antibodies, mt)
}

func filterAntibodies(panel []Antibody, keep func(Antibody) bool) []Antibody {
	var out []Antibody
	for _, a := range panel {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func indexOfMarker(markers []HLAType, c Code) int {
	for i, m := range markers {
		if m.Code.Equal(c) {
			return i
		}
	}
	return -1
}

func hasPositiveMatch(matches []AntibodyMatch) bool {
	for _, m := range matches {
		if m.MatchType != MatchNone {
			return true
		}
	}
	return false
}

// dedupeMatches keeps the most specific grade per antibody and sorts by specificity.
func dedupeMatches(matches []AntibodyMatch) []AntibodyMatch {
	if len(matches) == 0 {
		return nil
	}
	best := make(map[string]int)
	var out []AntibodyMatch
	for _, m := range matches {
		key := m.Antibody.Key()
		if i, ok := best[key]; ok {
			if m.MatchType.Specificity() < out[i].MatchType.Specificity() {
				out[i] = m
			}
			continue
		}
		best[key] = len(out)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MatchType.Specificity() < out[j].MatchType.Specificity()
	})
	return out
}
