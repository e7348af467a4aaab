package hla

import (
	"strconv"
)

// Serological broad antigens and the split antigens they were divided into.
var broadSplits = map[string][]string{
	"A9":  {"A23", "A24", "A2403"},
	"A10": {"A25", "A26", "A34", "A66"},
	"A19": {"A29", "A30", "A31", "A32", "A33", "A74"},
	"A28": {"A68", "A69"},
	"B5":  {"B51", "B5102", "B5103", "B52"},
	"B12": {"B44", "B45"},
	"B14": {"B64", "B65"},
	"B15": {"B62", "B63", "B75", "B76", "B77"},
	"B16": {"B38", "B39", "B3901", "B3902"},
	"B17": {"B57", "B58"},
	"B21": {"B49", "B50", "B4005"},
	"B22": {"B54", "B55", "B56"},
	"B40": {"B60", "B61"},
	"B70": {"B71", "B72"},
	"CW3": {"CW9", "CW10"},
	"DR2": {"DR15", "DR16"},
	"DR3": {"DR17", "DR18"},
	"DR5": {"DR11", "DR12"},
	"DR6": {"DR13", "DR14", "DR1403", "DR1404"},
	"DQ1": {"DQ5", "DQ6"},
	"DQ3": {"DQ7", "DQ8", "DQ9"},
}

// Antigens that were never split; their split and broad coincide.
var standaloneAntigens = []string{
	"A1", "A2", "A203", "A210", "A3", "A11", "A36", "A43", "A80",
	"B7", "B703", "B8", "B13", "B18", "B27", "B2708", "B35", "B37", "B41", "B42",
	"B46", "B47", "B48", "B53", "B59", "B67", "B73", "B78", "B81", "B82",
	"CW1", "CW2", "CW4", "CW5", "CW6", "CW7", "CW8", "CW12", "CW14", "CW15",
	"CW16", "CW17", "CW18",
	"DR1", "DR103", "DR4", "DR7", "DR8", "DR9", "DR10",
	"DR51", "DR52", "DR53",
	"DQ2", "DQ4",
}

// Allele groups whose alleles fall into more than one split. Alleles of these
// groups that are not listed in highResExceptions are only convertible to broad.
var ambiguousAlleleGroups = map[string]string{
	"B*14":    "B14",
	"B*15":    "B15",
	"B*40":    "B40",
	"C*03":    "CW3",
	"DRB1*03": "DR3",
	"DQB1*03": "DQ3",
}

// Alleles whose split does not follow from the allele group. An entry with
// more than one split is ambiguous and cannot be converted.
var highResExceptions = map[string][]string{
	"A*02:03":    {"A203"},
	"A*02:10":    {"A210"},
	"A*24:03":    {"A2403"},
	"B*07:03":    {"B703"},
	"B*14:01":    {"B64"},
	"B*14:02":    {"B65"},
	"B*15:01":    {"B62"},
	"B*15:02":    {"B75"},
	"B*15:03":    {"B72"},
	"B*15:10":    {"B71", "B72"},
	"B*15:12":    {"B76"},
	"B*15:13":    {"B77"},
	"B*15:16":    {"B63"},
	"B*15:17":    {"B63"},
	"B*15:18":    {"B71"},
	"B*27:08":    {"B2708"},
	"B*39:01":    {"B3901"},
	"B*39:02":    {"B3902"},
	"B*40:01":    {"B60"},
	"B*40:02":    {"B61"},
	"B*40:05":    {"B4005"},
	"B*51:02":    {"B5102"},
	"B*51:03":    {"B5103"},
	"C*03:02":    {"CW10"},
	"C*03:03":    {"CW9"},
	"C*03:04":    {"CW10"},
	"DRB1*01:03": {"DR103"},
	"DRB1*03:01": {"DR17"},
	"DRB1*03:02": {"DR18"},
	"DRB1*14:03": {"DR1403"},
	"DRB1*14:04": {"DR1404"},
	"DRB1*14:54": {"DR14", "DR1404"},
	"DQB1*03:01": {"DQ7"},
	"DQB1*03:02": {"DQ8"},
	"DQB1*03:03": {"DQ9"},
	"DQB1*03:04": {"DQ7"},
	"DQB1*03:05": {"DQ8"},
}

// Serological prefix used for each tabulated gene.
var serologicalPrefix = map[string]string{
	"A":    "A",
	"B":    "B",
	"C":    "CW",
	"DRB1": "DR",
	"DQB1": "DQ",
}

// Genes whose low res code is derived directly from the allele group number.
var numberedPrefix = map[string]string{
	"DQA1": "DQA",
	"DPA1": "DPA",
	"DPB1": "DP",
}

// Genes mapping to a single serological antigen regardless of allele.
var fixedAntigen = map[string]string{
	"DRB3": "DR52",
	"DRB4": "DR53",
	"DRB5": "DR51",
}

// splitToBroad is derived from broadSplits once at start up and never mutated.
var splitToBroad = func() map[string]string {
	m := make(map[string]string)
	for broad, splits := range broadSplits {
		for _, s := range splits {
			m[s] = broad
		}
	}
	for _, s := range standaloneAntigens {
		m[s] = s
	}
	return m
}()

// highResLookup is the outcome of converting an allele to serology.
type highResLookup struct {
	splits []string
	broad  string
	known  bool
}

func lookupHighRes(gene, group, highRes string) highResLookup {
	if splits, ok := highResExceptions[highRes]; ok {
		return highResLookup{splits: splits, known: true}
	}
	if antigen, ok := fixedAntigen[gene]; ok {
		return highResLookup{splits: []string{antigen}, known: true}
	}
	groupNumber, err := strconv.Atoi(group)
	if err != nil {
		return highResLookup{}
	}
	if prefix, ok := numberedPrefix[gene]; ok {
		return highResLookup{splits: []string{prefix + strconv.Itoa(groupNumber)}, known: true}
	}
	if broad, ok := ambiguousAlleleGroups[gene+"*"+group]; ok {
		return highResLookup{broad: broad, known: true}
	}
	prefix, ok := serologicalPrefix[gene]
	if !ok {
		return highResLookup{}
	}
	split := prefix + strconv.Itoa(groupNumber)
	if _, isSplit := splitToBroad[split]; isSplit {
		return highResLookup{splits: []string{split}, known: true}
	}
	return highResLookup{}
}

// lowResCode resolves a serological code into a Code.
func lowResCode(code string) (Code, bool) {
	if _, isBroad := broadSplits[code]; isBroad {
		return Code{Broad: code}, true
	}
	if broad, isSplit := splitToBroad[code]; isSplit {
		return Code{Split: code, Broad: broad}, true
	}
	m := lowResPattern.FindStringSubmatch(code)
	if m == nil {
		return Code{}, false
	}
	switch m[1] {
	case "DQA", "DPA", "DP":
		n, err := strconv.Atoi(m[2])
		if err != nil || n == 0 {
			return Code{}, false
		}
		normalized := m[1] + strconv.Itoa(n)
		return Code{Split: normalized, Broad: normalized}, true
	}
	return Code{}, false
}

// broadOf returns the broad antigen of a split, or the split itself.
func broadOf(split string) string {
	if broad, ok := splitToBroad[split]; ok {
		return broad
	}
	return split
}
