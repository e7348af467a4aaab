package hla

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	highResPattern = regexp.MustCompile(`^(A|B|C|DRB1|DRB3|DRB4|DRB5|DQA1|DQB1|DPA1|DPB1)\*(\d{2,3}(?::\d{2,4})*)([A-Z]?)$`)

	// Expression suffixes: null, low, secreted, cytoplasm, aberrant, questionable.
	expressionSuffixes = "NLSCAQ"
)

// Parser converts raw laboratory codes into Codes. The lookup tables it
// reads are immutable, so a single Parser may be shared between goroutines.
type Parser struct{}

// NewParser creates a new HLA code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseCode normalizes one raw code. The returned detail tells the caller
// whether the code is usable; codes whose detail DropsCode are returned zero.
func (p *Parser) ParseCode(raw string) (Code, ParsingIssueDetail) {
	s := normalizeRaw(raw)
	if s == "" {
		return Code{}, UnparsableHLACode
	}
	if m := highResPattern.FindStringSubmatch(s); m != nil {
		return p.parseHighRes(m[1], m[2], m[3])
	}
	if m := lowResPattern.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Code{}, UnparsableHLACode
		}
		if code, ok := lowResCode(m[1] + strconv.Itoa(n)); ok {
			return code, SuccessfullyParsed
		}
	}
	return Code{}, UnparsableHLACode
}

func (p *Parser) parseHighRes(gene, fields, suffix string) (Code, ParsingIssueDetail) {
	if suffix != "" {
		if strings.Contains(expressionSuffixes, suffix) {
			return Code{}, HighResWithLetter
		}
		return Code{}, UnparsableHLACode
	}

	parts := strings.Split(fields, ":")
	group := parts[0]
	highRes := ""
	if len(parts) >= 2 {
		highRes = gene + "*" + parts[0] + ":" + parts[1]
	}

	found := lookupHighRes(gene, group, highRes)
	switch {
	case !found.known:
		return Code{}, UnparsableHLACode
	case len(found.splits) > 1:
		return Code{}, MultipleSplitsFound
	case len(found.splits) == 1:
		split := found.splits[0]
		return Code{HighRes: highRes, Split: split, Broad: broadOf(split)}, SuccessfullyParsed
	default:
		return Code{HighRes: highRes, Broad: found.broad}, HighResWithoutSplit
	}
}

// ParseCodeWithIssue parses a code and converts a non successful detail into an issue.
func (p *Parser) ParseCodeWithIssue(raw string) (Code, *ParsingIssue) {
	code, detail := p.ParseCode(raw)
	if detail == SuccessfullyParsed {
		return code, nil
	}
	issue := NewParsingIssue(raw, detail)
	return code, &issue
}

func normalizeRaw(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "HLA-")
	return strings.ReplaceAll(s, " ", "")
}
