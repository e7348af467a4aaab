// Package hla models Human Leukocyte Antigen markers and the immunological
// computations built on them: normalization of raw laboratory codes,
// crossmatching of donor typings against recipient antibody panels, and the
// compatibility index used to score donor/recipient pairs.
//
// Codes are handled at three resolutions: high resolution (allele level,
// e.g. "A*23:01"), split (serological split antigen, e.g. "A23") and broad
// (serological broad antigen, e.g. "A9").
package hla

import (
	"errors"
	"fmt"
)

// ErrEmptyCode is returned when a Code is constructed without any resolution.
var ErrEmptyCode = errors.New("hla code must have at least one of high res, split or broad")

// Code is an immutable HLA marker known at up to three resolutions.
// Empty strings mean the resolution is unknown.
type Code struct {
	HighRes string `json:"high_res,omitempty"`
	Split   string `json:"split,omitempty"`
	Broad   string `json:"broad,omitempty"`
}

// NewCode creates a Code, failing when no resolution is supplied.
func NewCode(highRes, split, broad string) (Code, error) {
	if highRes == "" && split == "" && broad == "" {
		return Code{}, ErrEmptyCode
	}
	return Code{HighRes: highRes, Split: split, Broad: broad}, nil
}

// MustCode is like NewCode but panics on error. Intended for tables and tests.
func MustCode(highRes, split, broad string) Code {
	c, err := NewCode(highRes, split, broad)
	if err != nil {
		panic(err)
	}
	return c
}

// IsZero reports whether the code carries no resolution at all.
func (c Code) IsZero() bool {
	return c.HighRes == "" && c.Split == "" && c.Broad == ""
}

// DisplayCode returns the most specific representation available.
func (c Code) DisplayCode() string {
	switch {
	case c.HighRes != "":
		return c.HighRes
	case c.Split != "":
		return c.Split
	default:
		return c.Broad
	}
}

// String implements fmt.Stringer.
func (c Code) String() string {
	return c.DisplayCode()
}

// IsHighRes reports whether the allele level is known.
func (c Code) IsHighRes() bool {
	return c.HighRes != ""
}

// LowResCode returns the split if known, otherwise the broad.
func (c Code) LowResCode() string {
	if c.Split != "" {
		return c.Split
	}
	return c.Broad
}

// ToLowRes drops the high resolution part of the code.
func (c Code) ToLowRes() Code {
	return Code{Split: c.Split, Broad: c.Broad}
}

// Equal compares two codes at the most specific resolution both share.
func (c Code) Equal(other Code) bool {
	switch {
	case c.HighRes != "" && other.HighRes != "":
		return c.HighRes == other.HighRes
	case c.Split != "" && other.Split != "":
		return c.Split == other.Split
	case c.Broad != "" && other.Broad != "":
		return c.Broad == other.Broad
	default:
		return false
	}
}

// GoString is used by %#v and in test failure output.
func (c Code) GoString() string {
	return fmt.Sprintf("hla.Code{HighRes:%q, Split:%q, Broad:%q}", c.HighRes, c.Split, c.Broad)
}

// CodesHaveDifferentLowRes reports whether the codes do not all share one low res code.
func CodesHaveDifferentLowRes(codes []Code) bool {
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		seen[c.LowResCode()] = struct{}{}
	}
	return len(seen) > 1
}

// AreCodesAllHighRes reports whether every code is known at allele level.
// An empty set is considered high res.
func AreCodesAllHighRes(codes []Code) bool {
	for _, c := range codes {
		if !c.IsHighRes() {
			return false
		}
	}
	return true
}
