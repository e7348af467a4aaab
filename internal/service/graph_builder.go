package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// GraphBuilder scores every donor/recipient pair of a round.
type GraphBuilder struct {
	logger *logrus.Logger
}

// NewGraphBuilder creates a new graph builder
func NewGraphBuilder(logger *logrus.Logger) *GraphBuilder {
	return &GraphBuilder{logger: logger}
}

type scoredEdge struct {
	donor, recipient int
	score            float64
}

type donorRow struct {
	edges  []scoredEdge
	issues []hla.ParsingIssue
}

// BuildCompatibilityGraph builds the compatibility graph of donors and
// recipients on the calling goroutine. Graph indices follow the order of
// the slices. A donor whose related recipient is missing from recipients
// is rejected.
func (b *GraphBuilder) BuildCompatibilityGraph(ctx context.Context, donors []domain.Donor, recipients []domain.Recipient, cfg domain.ConfigParameters) (*domain.CompatibilityGraph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("building compatibility graph: %w", err)
	}

	recipientIndex := make(map[int64]int, len(recipients))
	nodes := make([]domain.RecipientNode, len(recipients))
	for i, r := range recipients {
		recipientIndex[r.ID] = i
		nodes[i] = domain.RecipientNode{ID: r.ID, Country: r.Country}
	}
	donorToRecipient := make([]int, len(donors))
	for i, d := range donors {
		donorToRecipient[i] = domain.NoRecipient
		if d.RelatedRecipientID == 0 {
			continue
		}
		r, ok := recipientIndex[d.RelatedRecipientID]
		if !ok {
			return nil, domain.NewValidationError("related_recipient_id",
				fmt.Sprintf("donor %s references unknown recipient %d", d.MedicalID, d.RelatedRecipientID), d.RelatedRecipientID)
		}
		donorToRecipient[i] = r
	}

	graph := domain.NewCompatibilityGraph(donorToRecipient, nodes)
	policy := cfg.ScoringPolicy()

	rows := make([]donorRow, len(donors))
	for i := range donors {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("building compatibility graph: %w", err)
		}
		rows[i] = b.scoreDonor(i, donors[i], recipients, donorToRecipient[i], cfg, policy)
	}

	seen := make(map[hla.ParsingIssue]bool)
	for _, row := range rows {
		for _, e := range row.edges {
			graph.SetScore(e.donor, e.recipient, e.score)
		}
		for _, issue := range row.issues {
			if !seen[issue] {
				seen[issue] = true
				b.logger.WithFields(logrus.Fields{
					"group":  issue.CodeOrGroup,
					"detail": issue.Detail,
				}).Warn("Gene group skipped while scoring")
			}
		}
	}

	b.logger.WithFields(logrus.Fields{
		"donors":     graph.NumDonors(),
		"recipients": graph.NumRecipients(),
		"edges":      graph.NumEdges(),
	}).Info("Compatibility graph built")
	return graph, nil
}

func (b *GraphBuilder) scoreDonor(i int, donor domain.Donor, recipients []domain.Recipient, home int, cfg domain.ConfigParameters, policy hla.ScoringPolicy) donorRow {
	var row donorRow
	for j, recipient := range recipients {
		if j == home {
			continue
		}
		if manual, ok := cfg.ManualScore(donor.ID, recipient.ID); ok {
			if manual >= 0 {
				row.edges = append(row.edges, scoredEdge{donor: i, recipient: j, score: manual})
			}
			continue
		}
		if cfg.IsForbidden(donor.Country, recipient.Country) {
			continue
		}
		compatible := donor.BloodGroup.CanDonateTo(recipient.BloodGroup)
		if !compatible && !recipient.Accepts(donor.BloodGroup) {
			continue
		}
		if hla.IsPositiveCrossmatch(donor.Typing, recipient.Antibodies, cfg.HLACrossmatchLevel) {
			continue
		}

		score, _, issues := hla.CompatibilityIndexDetailed(donor.Typing, recipient.Typing, policy)
		if compatible {
			score += cfg.BloodGroupCompatibilityBonus
		}
		row.edges = append(row.edges, scoredEdge{donor: i, recipient: j, score: score})
		row.issues = append(row.issues, issues...)
	}
	return row
}

// IsPositiveCrossmatch reports whether the donor's typing reacts with the
// recipient's antibodies at the configured crossmatch level.
func IsPositiveCrossmatch(donor domain.Donor, recipient domain.Recipient, cfg domain.ConfigParameters) bool {
	return hla.IsPositiveCrossmatch(donor.Typing, recipient.Antibodies, cfg.HLACrossmatchLevel)
}
