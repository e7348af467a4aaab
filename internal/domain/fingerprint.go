package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"

	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// FingerprintVersion is mixed into every fingerprint. Bump it whenever the
// canonical serialization below changes so stale cache entries miss.
const FingerprintVersion = "kidney-exchange-fingerprint-v1"

// Hasher builds stable SHA-256 fingerprints from length prefixed fields.
type Hasher struct {
	h hash.Hash
}

// NewHasher creates a hasher for values of the given kind.
func NewHasher(kind string) *Hasher {
	h := &Hasher{h: sha256.New()}
	h.Text(FingerprintVersion)
	h.Text(kind)
	return h
}

// Text writes a length prefixed string.
func (h *Hasher) Text(s string) *Hasher {
	h.uint(uint64(len(s)))
	h.h.Write([]byte(s))
	return h
}

// Int writes a signed integer.
func (h *Hasher) Int(v int64) *Hasher {
	return h.uint(uint64(v))
}

// Float writes the IEEE 754 bits of f.
func (h *Hasher) Float(f float64) *Hasher {
	return h.uint(math.Float64bits(f))
}

// Bool writes a boolean.
func (h *Hasher) Bool(b bool) *Hasher {
	if b {
		return h.uint(1)
	}
	return h.uint(0)
}

// Unordered writes a set of digests independently of their order.
func (h *Hasher) Unordered(digests [][]byte) *Hasher {
	sorted := make([][]byte, len(digests))
	copy(sorted, digests)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	h.uint(uint64(len(sorted)))
	for _, d := range sorted {
		h.h.Write(d)
	}
	return h
}

// Sum returns the digest.
func (h *Hasher) Sum() []byte {
	return h.h.Sum(nil)
}

// Hex returns the digest as hex.
func (h *Hasher) Hex() string {
	return hex.EncodeToString(h.Sum())
}

func (h *Hasher) uint(v uint64) *Hasher {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.h.Write(buf[:])
	return h
}

func codeDigest(c hla.Code) []byte {
	return NewHasher("code").Text(c.HighRes).Text(c.Split).Text(c.Broad).Sum()
}

// TypingDigest fingerprints a typing as a multiset of codes.
func TypingDigest(t hla.Typing) []byte {
	codes := t.Codes()
	digests := make([][]byte, 0, len(codes))
	for _, c := range codes {
		digests = append(digests, codeDigest(c))
	}
	return NewHasher("typing").Unordered(digests).Sum()
}

// AntibodiesDigest fingerprints an antibody panel as a multiset.
func AntibodiesDigest(a hla.Antibodies) []byte {
	all := a.All()
	digests := make([][]byte, 0, len(all))
	for _, ab := range all {
		h := NewHasher("antibody").
			Text(string(ab.Type)).
			Int(int64(ab.MFI)).
			Int(int64(ab.Cutoff))
		h.h.Write(codeDigest(ab.Code))
		if ab.SecondCode != nil {
			h.h.Write(codeDigest(*ab.SecondCode))
		}
		digests = append(digests, h.Sum())
	}
	return NewHasher("antibodies").Unordered(digests).Sum()
}

// Digest fingerprints the donor.
func (d Donor) Digest() []byte {
	h := NewHasher("donor").
		Int(d.ID).
		Text(d.MedicalID).
		Text(string(d.BloodGroup)).
		Text(d.Country).
		Int(d.RelatedRecipientID).
		Text(string(d.Type)).
		Bool(d.Active)
	h.h.Write(TypingDigest(d.Typing))
	return h.Sum()
}

// Digest fingerprints the recipient.
func (r Recipient) Digest() []byte {
	groups := make([]string, 0, len(r.AcceptableBloodGroups))
	for _, g := range r.AcceptableBloodGroups {
		groups = append(groups, string(g))
	}
	sort.Strings(groups)

	h := NewHasher("recipient").
		Int(r.ID).
		Text(r.MedicalID).
		Text(string(r.BloodGroup)).
		Text(r.Country)
	for _, g := range groups {
		h.Text(g)
	}
	h.h.Write(TypingDigest(r.Typing))
	h.h.Write(AntibodiesDigest(r.Antibodies))
	return h.Sum()
}

// FingerprintPatients fingerprints a transplant round independently of patient order.
func FingerprintPatients(donors []Donor, recipients []Recipient) string {
	donorDigests := make([][]byte, 0, len(donors))
	for _, d := range donors {
		donorDigests = append(donorDigests, d.Digest())
	}
	recipientDigests := make([][]byte, 0, len(recipients))
	for _, r := range recipients {
		recipientDigests = append(recipientDigests, r.Digest())
	}
	return NewHasher("patients").Unordered(donorDigests).Unordered(recipientDigests).Hex()
}

// Fingerprint fingerprints every parameter that influences results.
func (c ConfigParameters) Fingerprint() string {
	h := NewHasher("config").
		Bool(c.UseHighResolution).
		Text(string(c.HLACrossmatchLevel)).
		Int(int64(c.MaxCycleLength)).
		Int(int64(c.MaxSequenceLength)).
		Int(int64(c.MaxNumberOfDistinctCountriesInRound)).
		Int(int64(c.MaxNumberOfMatchings)).
		Int(int64(c.MaxMatchingsToEnumerate)).
		Int(int64(c.SolverDeadline)).
		Text(string(c.SolverConstructorName)).
		Text(string(c.Objective)).
		Float(c.BloodGroupCompatibilityBonus).
		Int(int64(c.MaxNumberOfDynamicConstraints))

	scores := make([][]byte, 0, len(c.ManualDonorRecipientScores))
	for _, s := range c.ManualDonorRecipientScores {
		scores = append(scores, NewHasher("manual_score").Int(s.DonorID).Int(s.RecipientID).Float(s.Score).Sum())
	}
	forbidden := make([][]byte, 0, len(c.ForbiddenCountryCombinations))
	for _, f := range c.ForbiddenCountryCombinations {
		forbidden = append(forbidden, NewHasher("forbidden").Text(f.DonorCountry).Text(f.RecipientCountry).Sum())
	}
	required := make([][]byte, 0, len(c.RequiredRecipientIDs))
	for _, id := range c.RequiredRecipientIDs {
		required = append(required, NewHasher("required").Int(id).Sum())
	}
	return h.Unordered(scores).Unordered(forbidden).Unordered(required).Hex()
}

// CacheKey combines patient and configuration fingerprints.
func CacheKey(patientsFingerprint, configFingerprint string) string {
	return patientsFingerprint + ":" + configFingerprint
}
