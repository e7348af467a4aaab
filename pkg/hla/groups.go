package hla

import (
	"regexp"
	"strings"
)

// GeneGroup is the locus family an HLA code belongs to.
type GeneGroup string

const (
	GroupA       GeneGroup = "A"
	GroupB       GeneGroup = "B"
	GroupDRB1    GeneGroup = "DRB1"
	GroupCW      GeneGroup = "CW"
	GroupDP      GeneGroup = "DP"
	GroupDQ      GeneGroup = "DQ"
	GroupOtherDR GeneGroup = "OTHER_DR"
	GroupInvalid GeneGroup = "INVALID"
)

// AllGroups lists the gene groups in canonical order.
var AllGroups = []GeneGroup{
	GroupA, GroupB, GroupDRB1, GroupCW, GroupDP, GroupDQ, GroupOtherDR, GroupInvalid,
}

// BasicGroups must be typed for every patient.
var BasicGroups = []GeneGroup{GroupA, GroupB, GroupDRB1}

// IsPairedChain reports whether markers of the group are formed by an alpha and a beta chain.
func (g GeneGroup) IsPairedChain() bool {
	return g == GroupDP || g == GroupDQ
}

// String implements fmt.Stringer.
func (g GeneGroup) String() string {
	return string(g)
}

// Chain distinguishes the two sub-chains of DP and DQ markers.
type Chain string

const (
	ChainAlpha Chain = "ALPHA"
	ChainBeta  Chain = "BETA"
	ChainNone  Chain = ""
)

var lowResPattern = regexp.MustCompile(`^(A|B|CW|DR|DQA|DQ|DPA|DP)(\d+)$`)

var otherDRCodes = map[string]bool{"DR51": true, "DR52": true, "DR53": true}

// geneGroups maps high res gene names to their group and chain.
var geneGroups = map[string]struct {
	group GeneGroup
	chain Chain
}{
	"A":    {GroupA, ChainNone},
	"B":    {GroupB, ChainNone},
	"C":    {GroupCW, ChainNone},
	"DRB1": {GroupDRB1, ChainNone},
	"DRB3": {GroupOtherDR, ChainNone},
	"DRB4": {GroupOtherDR, ChainNone},
	"DRB5": {GroupOtherDR, ChainNone},
	"DQA1": {GroupDQ, ChainAlpha},
	"DQB1": {GroupDQ, ChainBeta},
	"DPA1": {GroupDP, ChainAlpha},
	"DPB1": {GroupDP, ChainBeta},
}

// GroupOf returns the gene group of a code.
func GroupOf(c Code) GeneGroup {
	g, _ := classify(c)
	return g
}

// ChainOf returns the sub-chain of a DP or DQ code, ChainNone otherwise.
func ChainOf(c Code) Chain {
	_, ch := classify(c)
	return ch
}

func classify(c Code) (GeneGroup, Chain) {
	if c.HighRes != "" {
		gene, _, _ := strings.Cut(c.HighRes, "*")
		if info, ok := geneGroups[gene]; ok {
			return info.group, info.chain
		}
		return GroupInvalid, ChainNone
	}
	return classifyLowRes(c.LowResCode())
}

func classifyLowRes(code string) (GeneGroup, Chain) {
	m := lowResPattern.FindStringSubmatch(code)
	if m == nil {
		return GroupInvalid, ChainNone
	}
	switch m[1] {
	case "A":
		return GroupA, ChainNone
	case "B":
		return GroupB, ChainNone
	case "CW":
		return GroupCW, ChainNone
	case "DR":
		if otherDRCodes[code] {
			return GroupOtherDR, ChainNone
		}
		return GroupDRB1, ChainNone
	case "DQA":
		return GroupDQ, ChainAlpha
	case "DQ":
		return GroupDQ, ChainBeta
	case "DPA":
		return GroupDP, ChainAlpha
	case "DP":
		return GroupDP, ChainBeta
	}
	return GroupInvalid, ChainNone
}
