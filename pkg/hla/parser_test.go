package hla

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestParser_ParseCode(t *testing.T) {
	parser := NewParser()

	tests := []struct {
		name       string
		input      string
		expected   Code
		wantDetail ParsingIssueDetail
	}{
		{"high res", "A*01:01", Code{HighRes: "A*01:01", Split: "A1", Broad: "A1"}, SuccessfullyParsed},
		{"four fields truncated", "a*01:01:01:02", Code{HighRes: "A*01:01", Split: "A1", Broad: "A1"}, SuccessfullyParsed},
		{"split of broad", "A*24:02", Code{HighRes: "A*24:02", Split: "A24", Broad: "A9"}, SuccessfullyParsed},
		{"exception table", "B*15:01", Code{HighRes: "B*15:01", Split: "B62", Broad: "B15"}, SuccessfullyParsed},
		{"exception with own split", "DRB1*03:01", Code{HighRes: "DRB1*03:01", Split: "DR17", Broad: "DR3"}, SuccessfullyParsed},
		{"ambiguous allele group", "B*15:99", Code{HighRes: "B*15:99", Broad: "B15"}, HighResWithoutSplit},
		{"ambiguous group only", "B*15", Code{Broad: "B15"}, HighResWithoutSplit},
		{"group only", "A*23", Code{Split: "A23", Broad: "A9"}, SuccessfullyParsed},
		{"multiple splits", "B*15:10", Code{}, MultipleSplitsFound},
		{"null allele", "A*01:01N", Code{}, HighResWithLetter},
		{"unknown suffix", "A*01:01X", Code{}, UnparsableHLACode},
		{"fixed antigen gene", "DRB4*01:01", Code{HighRes: "DRB4*01:01", Split: "DR53", Broad: "DR53"}, SuccessfullyParsed},
		{"numbered alpha chain", "DQA1*01:02", Code{HighRes: "DQA1*01:02", Split: "DQA1", Broad: "DQA1"}, SuccessfullyParsed},
		{"numbered DP beta chain", "DPB1*04:01", Code{HighRes: "DPB1*04:01", Split: "DP4", Broad: "DP4"}, SuccessfullyParsed},
		{"unknown allele group", "A*99:01", Code{}, UnparsableHLACode},
		{"low res split", "A23", Code{Split: "A23", Broad: "A9"}, SuccessfullyParsed},
		{"low res broad", "A9", Code{Broad: "A9"}, SuccessfullyParsed},
		{"mixed case CW", "Cw9", Code{Split: "CW9", Broad: "CW3"}, SuccessfullyParsed},
		{"leading zero", "DQA01", Code{Split: "DQA1", Broad: "DQA1"}, SuccessfullyParsed},
		{"hla prefix", "HLA-DR17", Code{Split: "DR17", Broad: "DR3"}, SuccessfullyParsed},
		{"unknown low res", "A99", Code{}, UnparsableHLACode},
		{"garbage", "XYZ", Code{}, UnparsableHLACode},
		{"empty", "  ", Code{}, UnparsableHLACode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, detail := parser.ParseCode(tt.input)
			assert.Equal(t, tt.wantDetail, detail)
			assert.Equal(t, tt.expected, code)
			assert.Equal(t, detail.DropsCode(), code.IsZero())
		})
	}
}

func TestParser_ParseCodeWithIssue(t *testing.T) {
	parser := NewParser()

	_, issue := parser.ParseCodeWithIssue("A*01:01")
	assert.Nil(t, issue)

	code, issue := parser.ParseCodeWithIssue("B*15:99")
	if assert.NotNil(t, issue) {
		assert.Equal(t, "B*15:99", issue.CodeOrGroup)
		assert.Equal(t, HighResWithoutSplit, issue.Detail)
		assert.NotEmpty(t, issue.Message)
	}
	assert.Equal(t, "B15", code.Broad)
}

var parseableCodes = []interface{}{
	"A*01:01", "A*02:03", "A*24:02", "A*23:01:01", "B*07:02", "B*15:01", "B*15:99", "B*40:02",
	"B*44:02", "C*03:03", "C*07:01", "DRB1*03:01", "DRB1*14:03", "DRB1*15:01", "DRB3*01:01",
	"DQA1*05:01", "DQB1*03:02", "DQB1*06:02", "DPA1*01:03", "DPB1*04:01", "B*15", "A*23",
	"A1", "A9", "A23", "B51", "B5", "CW10", "DR17", "DR3", "DR52", "DQ7", "DQA1", "DP4",
}

func TestParser_NormalizationIsIdempotent(t *testing.T) {
	parser := NewParser()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("parsing the display code yields the same code", prop.ForAll(
		func(raw string) bool {
			first, detail := parser.ParseCode(raw)
			if detail.DropsCode() {
				return false
			}
			second, secondDetail := parser.ParseCode(first.DisplayCode())
			return second == first && !secondDetail.DropsCode()
		},
		gen.OneConstOf(parseableCodes...),
	))

	properties.TestingRun(t)
}
