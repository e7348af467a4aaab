package hla

import "fmt"

// ParsingIssueDetail classifies a data-quality problem found while parsing.
type ParsingIssueDetail string

const (
	SuccessfullyParsed           ParsingIssueDetail = "SUCCESSFULLY_PARSED"
	HighResWithoutSplit          ParsingIssueDetail = "HIGH_RES_WITHOUT_SPLIT"
	HighResWithLetter            ParsingIssueDetail = "HIGH_RES_WITH_LETTER"
	MultipleSplitsFound          ParsingIssueDetail = "MULTIPLE_SPLITS_FOUND"
	UnparsableHLACode            ParsingIssueDetail = "UNPARSABLE_HLA_CODE"
	MoreThanTwoHLACodesPerGroup  ParsingIssueDetail = "MORE_THAN_TWO_HLA_CODES_PER_GROUP"
	BasicHLAGroupIsEmpty         ParsingIssueDetail = "BASIC_HLA_GROUP_IS_EMPTY"
	InvalidPairedChainCount      ParsingIssueDetail = "INVALID_PAIRED_CHAIN_COUNT"
	DuplicateAntibodyMFIVariance ParsingIssueDetail = "DUPLICATE_ANTIBODY_MFI_VARIANCE"
	MFINearCutoff                ParsingIssueDetail = "MFI_NEAR_CUTOFF"
)

var issueMessages = map[ParsingIssueDetail]string{
	SuccessfullyParsed:           "code parsed without problems",
	HighResWithoutSplit:          "high res code has no split equivalent, only broad is used",
	HighResWithLetter:            "high res code carries an expression suffix and is ignored",
	MultipleSplitsFound:          "high res code maps to more than one split and is ignored",
	UnparsableHLACode:            "code could not be parsed and is ignored",
	MoreThanTwoHLACodesPerGroup:  "more than two codes typed in one gene group, group excluded from scoring",
	BasicHLAGroupIsEmpty:         "basic gene group has no typed code",
	InvalidPairedChainCount:      "paired chain group needs one or two codes per chain, group excluded from scoring",
	DuplicateAntibodyMFIVariance: "duplicate antibody measurements differ a lot, lower cluster used",
	MFINearCutoff:                "estimated MFI is close to cutoff and needs manual review",
}

// Message returns a human readable description of the detail.
func (d ParsingIssueDetail) Message() string {
	if m, ok := issueMessages[d]; ok {
		return m
	}
	return string(d)
}

// DropsCode reports whether a code parsed with this detail is excluded from computation.
func (d ParsingIssueDetail) DropsCode() bool {
	switch d {
	case HighResWithLetter, MultipleSplitsFound, UnparsableHLACode:
		return true
	}
	return false
}

// ParsingIssue is a structured, auditable data-quality record.
type ParsingIssue struct {
	CodeOrGroup string             `json:"code_or_group"`
	Detail      ParsingIssueDetail `json:"detail"`
	Message     string             `json:"message"`
}

// NewParsingIssue creates an issue with the default message for the detail.
func NewParsingIssue(codeOrGroup string, detail ParsingIssueDetail) ParsingIssue {
	return ParsingIssue{CodeOrGroup: codeOrGroup, Detail: detail, Message: detail.Message()}
}

func (i ParsingIssue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.CodeOrGroup, i.Detail, i.Message)
}
