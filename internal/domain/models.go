package domain

import (
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// Donor is a parsed donor ready for graph building.
type Donor struct {
	ID         int64      `json:"id"`
	MedicalID  string     `json:"medical_id"`
	BloodGroup BloodGroup `json:"blood_group"`
	Country    string     `json:"country"`
	Typing     hla.Typing `json:"typing"`
	// RelatedRecipientID is the paired recipient, 0 for non-directed and bridging donors.
	RelatedRecipientID int64     `json:"related_recipient_id,omitempty"`
	Type               DonorType `json:"donor_type"`
	Active             bool      `json:"active"`
}

// IsNonDirected reports whether the donor starts chains instead of closing cycles.
func (d Donor) IsNonDirected() bool {
	return d.RelatedRecipientID == 0
}

// Recipient is a parsed recipient ready for graph building.
type Recipient struct {
	ID                    int64          `json:"id"`
	MedicalID             string         `json:"medical_id"`
	BloodGroup            BloodGroup     `json:"blood_group"`
	Country               string         `json:"country"`
	Typing                hla.Typing     `json:"typing"`
	Antibodies            hla.Antibodies `json:"antibodies"`
	AcceptableBloodGroups []BloodGroup   `json:"acceptable_blood_groups,omitempty"`
}

// Accepts reports whether the recipient explicitly accepts blood group bg.
func (r Recipient) Accepts(bg BloodGroup) bool {
	for _, g := range r.AcceptableBloodGroups {
		if g == bg {
			return true
		}
	}
	return false
}

// RawDonor is donor data as provided by callers and storage, before HLA parsing.
type RawDonor struct {
	ID                 int64     `json:"id"`
	MedicalID          string    `json:"medical_id"`
	BloodGroup         string    `json:"blood_group"`
	Country            string    `json:"country"`
	HLATyping          []string  `json:"hla_typing"`
	RelatedRecipientID int64     `json:"related_recipient_id,omitempty"`
	Type               DonorType `json:"donor_type,omitempty"`
	Active             *bool     `json:"active,omitempty"`
}

// RawRecipient is recipient data before HLA parsing.
type RawRecipient struct {
	ID                    int64             `json:"id"`
	MedicalID             string            `json:"medical_id"`
	BloodGroup            string            `json:"blood_group"`
	Country               string            `json:"country"`
	HLATyping             []string          `json:"hla_typing"`
	Antibodies            []hla.RawAntibody `json:"hla_antibodies"`
	AcceptableBloodGroups []string          `json:"acceptable_blood_groups,omitempty"`
}

// RawPatients is one transplant round as provided by callers.
type RawPatients struct {
	Donors     []RawDonor     `json:"donors"`
	Recipients []RawRecipient `json:"recipients"`
}

// PatientIssue attributes a parsing issue to a patient.
type PatientIssue struct {
	MedicalID string `json:"medical_id"`
	hla.ParsingIssue
}

// Patients is a parsed transplant round.
type Patients struct {
	Donors        []Donor        `json:"donors"`
	Recipients    []Recipient    `json:"recipients"`
	ParsingIssues []PatientIssue `json:"parsing_issues,omitempty"`
}

// ActiveDonors returns the donors taking part in matching.
func (p *Patients) ActiveDonors() []Donor {
	out := make([]Donor, 0, len(p.Donors))
	for _, d := range p.Donors {
		if d.Active {
			out = append(out, d)
		}
	}
	return out
}
