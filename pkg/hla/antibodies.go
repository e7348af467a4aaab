package hla

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNegativeMFI is returned for negative MFI or cutoff values.
	ErrNegativeMFI = errors.New("mfi and cutoff must not be negative")
	// ErrMultipleCutoffs is returned when one raw antibody code carries different cutoffs.
	ErrMultipleCutoffs = errors.New("antibody code has more than one cutoff")
)

// Double antibodies are written as DQ[alpha, beta] or DP[alpha, beta].
var doubleAntibodyPattern = regexp.MustCompile(`^(DQ|DP)\[(\d{2,3}:\d{2,4}),(\d{2,3}:\d{2,4})\]$`)

// AntibodyType distinguishes measured antibodies from synthesized ones.
type AntibodyType string

const (
	AntibodyNormal      AntibodyType = "NORMAL"
	AntibodyTheoretical AntibodyType = "THEORETICAL"
)

// RawAntibody is an unparsed laboratory measurement.
type RawAntibody struct {
	Raw    string `json:"raw"`
	MFI    int    `json:"mfi"`
	Cutoff int    `json:"cutoff"`
}

// Antibody is a parsed recipient antibody. Double (paired chain) antibodies
// carry the alpha chain in Code and the beta chain in SecondCode.
type Antibody struct {
	Raw        string       `json:"raw"`
	Code       Code         `json:"code"`
	MFI        int          `json:"mfi"`
	Cutoff     int          `json:"cutoff"`
	SecondRaw  string       `json:"second_raw,omitempty"`
	SecondCode *Code        `json:"second_code,omitempty"`
	Type       AntibodyType `json:"type"`
}

// IsPositive reports whether the measured intensity reaches the cutoff.
func (a Antibody) IsPositive() bool {
	return a.MFI >= a.Cutoff
}

// IsDouble reports whether the antibody targets an alpha/beta chain pair.
func (a Antibody) IsDouble() bool {
	return a.SecondCode != nil
}

// Key identifies the antibody within a panel.
func (a Antibody) Key() string {
	return string(a.Type) + "|" + a.Raw + "|" + a.SecondRaw
}

// AntibodiesPerGroup holds the antibodies of one gene group.
type AntibodiesPerGroup struct {
	Group      GeneGroup  `json:"group"`
	Antibodies []Antibody `json:"antibodies"`
}

// Antibodies is a recipient's group partitioned antibody panel.
type Antibodies struct {
	PerGroup []AntibodiesPerGroup `json:"per_group"`
}

// NewAntibodies partitions antibodies into gene groups, preserving input order.
func NewAntibodies(antibodies []Antibody) Antibodies {
	byGroup := make(map[GeneGroup][]Antibody)
	for _, a := range antibodies {
		g := GroupOf(a.Code)
		byGroup[g] = append(byGroup[g], a)
	}
	result := Antibodies{PerGroup: make([]AntibodiesPerGroup, 0, len(AllGroups))}
	for _, g := range AllGroups {
		result.PerGroup = append(result.PerGroup, AntibodiesPerGroup{Group: g, Antibodies: byGroup[g]})
	}
	return result
}

// Group returns the antibodies of g.
func (a Antibodies) Group(g GeneGroup) []Antibody {
	for _, pg := range a.PerGroup {
		if pg.Group == g {
			return pg.Antibodies
		}
	}
	return nil
}

// All returns every antibody in group order.
func (a Antibodies) All() []Antibody {
	var all []Antibody
	for _, pg := range a.PerGroup {
		all = append(all, pg.Antibodies...)
	}
	return all
}

// Len returns the number of antibodies in the panel.
func (a Antibodies) Len() int {
	n := 0
	for _, pg := range a.PerGroup {
		n += len(pg.Antibodies)
	}
	return n
}

type measurementGroup struct {
	raw    string
	mfis   []int
	cutoff int
}

// ParseAntibodies validates and parses a recipient's raw antibody panel.
// Invalid configuration (negative values, conflicting cutoffs) fails the
// whole panel. Repeated raw codes are merged with ComputeMFI. Theoretical
// antibodies are synthesized for chains that only appear inside double
// antibodies.
func (p *Parser) ParseAntibodies(raws []RawAntibody) (Antibodies, []ParsingIssue, error) {
	groups, err := groupMeasurements(raws)
	if err != nil {
		return Antibodies{}, nil, err
	}

	var issues []ParsingIssue
	parsed := make([]Antibody, 0, len(groups))
	for _, g := range groups {
		mfi := g.mfis[0]
		if len(g.mfis) > 1 {
			merged, mfiIssues, err := ComputeMFI(g.mfis, g.cutoff, g.raw)
			if err != nil {
				return Antibodies{}, nil, err
			}
			mfi = merged
			issues = append(issues, mfiIssues...)
		}

		antibody, issue := p.parseAntibody(g.raw, mfi, g.cutoff)
		if issue != nil {
			issues = append(issues, *issue)
			if issue.Detail.DropsCode() {
				continue
			}
		}
		parsed = append(parsed, antibody)
	}

	parsed = append(parsed, theoreticalAntibodies(parsed)...)
	return NewAntibodies(parsed), issues, nil
}

func groupMeasurements(raws []RawAntibody) ([]*measurementGroup, error) {
	var order []*measurementGroup
	byRaw := make(map[string]*measurementGroup)
	for _, r := range raws {
		if r.MFI < 0 || r.Cutoff < 0 {
			return nil, fmt.Errorf("antibody %q: %w", r.Raw, ErrNegativeMFI)
		}
		key := normalizeRaw(r.Raw)
		g, ok := byRaw[key]
		if !ok {
			g = &measurementGroup{raw: key, cutoff: r.Cutoff}
			byRaw[key] = g
			order = append(order, g)
		} else if g.cutoff != r.Cutoff {
			return nil, fmt.Errorf("antibody %q (cutoffs %d and %d): %w", r.Raw, g.cutoff, r.Cutoff, ErrMultipleCutoffs)
		}
		g.mfis = append(g.mfis, r.MFI)
	}
	return order, nil
}

func (p *Parser) parseAntibody(raw string, mfi, cutoff int) (Antibody, *ParsingIssue) {
	if m := doubleAntibodyPattern.FindStringSubmatch(raw); m != nil {
		alphaRaw, betaRaw := m[1]+"A1*"+m[2], m[1]+"B1*"+m[3]
		alpha, alphaDetail := p.ParseCode(alphaRaw)
		beta, betaDetail := p.ParseCode(betaRaw)
		if alphaDetail.DropsCode() || betaDetail.DropsCode() {
			detail := alphaDetail
			if !detail.DropsCode() {
				detail = betaDetail
			}
			issue := NewParsingIssue(raw, detail)
			return Antibody{}, &issue
		}
		return Antibody{
			Raw:        alphaRaw,
			Code:       alpha,
			MFI:        mfi,
			Cutoff:     cutoff,
			SecondRaw:  betaRaw,
			SecondCode: &beta,
			Type:       AntibodyNormal,
		}, nil
	}

	code, issue := p.ParseCodeWithIssue(raw)
	return Antibody{Raw: raw, Code: code, MFI: mfi, Cutoff: cutoff, Type: AntibodyNormal}, issue
}

// theoreticalAntibodies creates one antibody per chain seen in double
// antibodies, unless a measured single antibody already covers it.
func theoreticalAntibodies(parsed []Antibody) []Antibody {
	measured := make(map[string]bool)
	for _, a := range parsed {
		if !a.IsDouble() {
			measured[a.Code.DisplayCode()] = true
		}
	}

	type chainStats struct {
		code   Code
		mfis   []int
		cutoff int
	}
	var order []string
	stats := make(map[string]*chainStats)
	add := func(c Code, a Antibody) {
		key := c.DisplayCode()
		if measured[key] {
			return
		}
		s, ok := stats[key]
		if !ok {
			s = &chainStats{code: c, cutoff: a.Cutoff}
			stats[key] = s
			order = append(order, key)
		}
		s.mfis = append(s.mfis, a.MFI)
	}
	for _, a := range parsed {
		if a.IsDouble() {
			add(a.Code, a)
			add(*a.SecondCode, a)
		}
	}

	result := make([]Antibody, 0, len(order))
	for _, key := range order {
		s := stats[key]
		sum := 0
		for _, v := range s.mfis {
			sum += v
		}
		result = append(result, Antibody{
			Raw:    key,
			Code:   s.code,
			MFI:    sum / len(s.mfis),
			Cutoff: s.cutoff,
			Type:   AntibodyTheoretical,
		})
	}
	return result
}
