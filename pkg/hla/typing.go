package hla

// HLAType is one typed marker of a donor or recipient.
type HLAType struct {
	Raw  string `json:"raw"`
	Code Code   `json:"code"`
}

// TypesPerGroup holds the markers of one gene group.
type TypesPerGroup struct {
	Group GeneGroup `json:"group"`
	Types []HLAType `json:"types"`
}

// Typing is the ordered, group partitioned set of markers of a patient.
type Typing struct {
	PerGroup []TypesPerGroup `json:"per_group"`
}

// NewTyping partitions types into gene groups, preserving input order within a group.
func NewTyping(types []HLAType) Typing {
	byGroup := make(map[GeneGroup][]HLAType)
	for _, t := range types {
		g := GroupOf(t.Code)
		byGroup[g] = append(byGroup[g], t)
	}
	typing := Typing{PerGroup: make([]TypesPerGroup, 0, len(AllGroups))}
	for _, g := range AllGroups {
		typing.PerGroup = append(typing.PerGroup, TypesPerGroup{Group: g, Types: byGroup[g]})
	}
	return typing
}

// Group returns the markers typed in g.
func (t Typing) Group(g GeneGroup) []HLAType {
	for _, pg := range t.PerGroup {
		if pg.Group == g {
			return pg.Types
		}
	}
	return nil
}

// Codes returns every code of the typing in group order.
func (t Typing) Codes() []Code {
	var codes []Code
	for _, pg := range t.PerGroup {
		for _, typ := range pg.Types {
			codes = append(codes, typ.Code)
		}
	}
	return codes
}

// Len returns the number of typed markers.
func (t Typing) Len() int {
	n := 0
	for _, pg := range t.PerGroup {
		n += len(pg.Types)
	}
	return n
}

// ParseTyping parses raw typing codes. Dropped codes and group cardinality
// problems are reported as issues; a group with too many codes is kept for
// crossmatching but skipped by the scorer.
func (p *Parser) ParseTyping(raws []string) (Typing, []ParsingIssue) {
	var issues []ParsingIssue
	types := make([]HLAType, 0, len(raws))
	for _, raw := range raws {
		code, issue := p.ParseCodeWithIssue(raw)
		if issue != nil {
			issues = append(issues, *issue)
			if issue.Detail.DropsCode() {
				continue
			}
		}
		types = append(types, HLAType{Raw: raw, Code: code})
	}

	typing := NewTyping(types)
	for _, pg := range typing.PerGroup {
		if !pg.Group.IsPairedChain() && len(pg.Types) > 2 {
			issues = append(issues, NewParsingIssue(pg.Group.String(), MoreThanTwoHLACodesPerGroup))
		}
	}
	for _, g := range BasicGroups {
		if len(typing.Group(g)) == 0 {
			issues = append(issues, NewParsingIssue(g.String(), BasicHLAGroupIsEmpty))
		}
	}
	return typing, issues
}
