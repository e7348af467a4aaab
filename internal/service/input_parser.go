package service

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// InputParserService turns raw patient data into parsed donors and recipients.
type InputParserService struct {
	logger *logrus.Logger
	parser *hla.Parser
}

// NewInputParserService creates a new input parser service
func NewInputParserService(logger *logrus.Logger) *InputParserService {
	return &InputParserService{
		logger: logger,
		parser: hla.NewParser(),
	}
}

// ParsePatients parses every donor and recipient of a round. Data quality
// problems become parsing issues; malformed blood groups, negative MFIs,
// conflicting cutoffs and dangling references are validation errors.
// Donors and recipients are returned sorted by ID.
func (s *InputParserService) ParsePatients(raw *domain.RawPatients) (*domain.Patients, error) {
	if raw == nil {
		return nil, domain.NewValidationError("patients", "patients cannot be nil", nil)
	}

	patients := &domain.Patients{
		Donors:     make([]domain.Donor, 0, len(raw.Donors)),
		Recipients: make([]domain.Recipient, 0, len(raw.Recipients)),
	}

	recipientIDs := make(map[int64]bool, len(raw.Recipients))
	for _, rr := range raw.Recipients {
		if recipientIDs[rr.ID] {
			return nil, domain.NewValidationError("recipients", fmt.Sprintf("duplicate recipient id %d", rr.ID), rr.ID)
		}
		recipientIDs[rr.ID] = true

		recipient, issues, err := s.parseRecipient(rr)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %s: %w", rr.MedicalID, err)
		}
		patients.Recipients = append(patients.Recipients, recipient)
		patients.ParsingIssues = append(patients.ParsingIssues, attribute(rr.MedicalID, issues)...)
	}

	donorIDs := make(map[int64]bool, len(raw.Donors))
	for _, rd := range raw.Donors {
		if donorIDs[rd.ID] {
			return nil, domain.NewValidationError("donors", fmt.Sprintf("duplicate donor id %d", rd.ID), rd.ID)
		}
		donorIDs[rd.ID] = true
		if rd.RelatedRecipientID != 0 && !recipientIDs[rd.RelatedRecipientID] {
			return nil, domain.NewValidationError("related_recipient_id",
				fmt.Sprintf("donor %s references unknown recipient %d", rd.MedicalID, rd.RelatedRecipientID), rd.RelatedRecipientID)
		}

		donor, issues, err := s.parseDonor(rd)
		if err != nil {
			return nil, fmt.Errorf("parsing donor %s: %w", rd.MedicalID, err)
		}
		patients.Donors = append(patients.Donors, donor)
		patients.ParsingIssues = append(patients.ParsingIssues, attribute(rd.MedicalID, issues)...)
	}

	sort.Slice(patients.Donors, func(i, j int) bool { return patients.Donors[i].ID < patients.Donors[j].ID })
	sort.Slice(patients.Recipients, func(i, j int) bool { return patients.Recipients[i].ID < patients.Recipients[j].ID })

	if len(patients.ParsingIssues) > 0 {
		s.logger.WithFields(logrus.Fields{
			"donors":     len(patients.Donors),
			"recipients": len(patients.Recipients),
			"issues":     len(patients.ParsingIssues),
		}).Warn("Patients parsed with data quality issues")
	}
	return patients, nil
}

// ParseTyping parses a standalone list of typing codes.
func (s *InputParserService) ParseTyping(raws []string) (hla.Typing, []hla.ParsingIssue) {
	return s.parser.ParseTyping(raws)
}

// ParseAntibodies parses a standalone antibody panel.
func (s *InputParserService) ParseAntibodies(raws []hla.RawAntibody) (hla.Antibodies, []hla.ParsingIssue, error) {
	antibodies, issues, err := s.parser.ParseAntibodies(raws)
	if err != nil {
		return hla.Antibodies{}, nil, domain.NewValidationError("hla_antibodies", err.Error(), raws)
	}
	return antibodies, issues, nil
}

func (s *InputParserService) parseDonor(rd domain.RawDonor) (domain.Donor, []hla.ParsingIssue, error) {
	bg, err := domain.ParseBloodGroup(rd.BloodGroup)
	if err != nil {
		return domain.Donor{}, nil, domain.NewValidationError("blood_group", err.Error(), rd.BloodGroup)
	}
	typing, issues := s.parser.ParseTyping(rd.HLATyping)

	donorType := rd.Type
	if donorType == "" {
		donorType = domain.DonorTypeDonor
		if rd.RelatedRecipientID == 0 {
			donorType = domain.DonorTypeNonDirected
		}
	}
	active := true
	if rd.Active != nil {
		active = *rd.Active
	}

	return domain.Donor{
		ID:                 rd.ID,
		MedicalID:          rd.MedicalID,
		BloodGroup:         bg,
		Country:            rd.Country,
		Typing:             typing,
		RelatedRecipientID: rd.RelatedRecipientID,
		Type:               donorType,
		Active:             active,
	}, issues, nil
}

func (s *InputParserService) parseRecipient(rr domain.RawRecipient) (domain.Recipient, []hla.ParsingIssue, error) {
	bg, err := domain.ParseBloodGroup(rr.BloodGroup)
	if err != nil {
		return domain.Recipient{}, nil, domain.NewValidationError("blood_group", err.Error(), rr.BloodGroup)
	}
	acceptable := make([]domain.BloodGroup, 0, len(rr.AcceptableBloodGroups))
	for _, raw := range rr.AcceptableBloodGroups {
		g, err := domain.ParseBloodGroup(raw)
		if err != nil {
			return domain.Recipient{}, nil, domain.NewValidationError("acceptable_blood_groups", err.Error(), raw)
		}
		acceptable = append(acceptable, g)
	}

	typing, issues := s.parser.ParseTyping(rr.HLATyping)
	antibodies, antibodyIssues, err := s.ParseAntibodies(rr.Antibodies)
	if err != nil {
		return domain.Recipient{}, nil, err
	}

	return domain.Recipient{
		ID:                    rr.ID,
		MedicalID:             rr.MedicalID,
		BloodGroup:            bg,
		Country:               rr.Country,
		Typing:                typing,
		Antibodies:            antibodies,
		AcceptableBloodGroups: acceptable,
	}, append(issues, antibodyIssues...), nil
}

func attribute(medicalID string, issues []hla.ParsingIssue) []domain.PatientIssue {
	out := make([]domain.PatientIssue, 0, len(issues))
	for _, issue := range issues {
		out = append(out, domain.PatientIssue{MedicalID: medicalID, ParsingIssue: issue})
	}
	return out
}
