package hla

import "fmt"

const (
	// SuspiciousRelativeSpread is the share of the maximum MFI above which
	// duplicate measurements are treated as two clusters.
	SuspiciousRelativeSpread = 0.5
	// CutoffReviewBand is the relative distance to cutoff within which an
	// estimated MFI is flagged for manual review.
	CutoffReviewBand = 0.5
)

// ComputeMFI estimates a single MFI from repeated measurements of one raw
// antibody code. When the spread is larger than both the relative threshold
// and the cutoff, only the lower cluster (values below the midpoint) is
// averaged; otherwise all values are. The result is truncated to an int.
func ComputeMFI(mfis []int, cutoff int, raw string) (int, []ParsingIssue, error) {
	if len(mfis) == 0 {
		return 0, nil, fmt.Errorf("computing mfi for %q: no measurements", raw)
	}
	if cutoff < 0 {
		return 0, nil, fmt.Errorf("computing mfi for %q: %w", raw, ErrNegativeMFI)
	}
	minMFI, maxMFI := mfis[0], mfis[0]
	for _, v := range mfis {
		if v < 0 {
			return 0, nil, fmt.Errorf("computing mfi for %q: %w", raw, ErrNegativeMFI)
		}
		minMFI = min(minMFI, v)
		maxMFI = max(maxMFI, v)
	}

	var issues []ParsingIssue
	spread := maxMFI - minMFI
	values := mfis
	if float64(spread) > SuspiciousRelativeSpread*float64(maxMFI) && spread > cutoff {
		values = values[:0:0]
		for _, v := range mfis {
			if 2*v < maxMFI+minMFI {
				values = append(values, v)
			}
		}
		issues = append(issues, NewParsingIssue(raw, DuplicateAntibodyMFIVariance))
	}

	sum := 0
	for _, v := range values {
		sum += v
	}
	estimate := sum / len(values)

	if cutoff > 0 {
		distance := estimate - cutoff
		if distance < 0 {
			distance = -distance
		}
		if float64(distance) <= CutoffReviewBand*float64(cutoff) {
			issues = append(issues, NewParsingIssue(raw, MFINearCutoff))
		}
	}
	return estimate, issues, nil
}
