package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/kidney-exchange-mcp-server/internal/domain"
	"github.com/kidney-exchange-mcp-server/pkg/hla"
)

// PatientRepository persists transplant rounds (txm events) with their
// donors, recipients, raw HLA typing and antibodies.
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

var _ domain.PatientRepository = (*PatientRepository)(nil)

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// TxmEvent is a named transplant round.
type TxmEvent struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CreateTxmEvent inserts a new transplant round and returns its ID.
func (r *PatientRepository) CreateTxmEvent(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO txm_events (name) VALUES ($1) RETURNING id`, name).Scan(&id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"name":  name,
			"error": err,
		}).Error("Failed to create txm event")
		return 0, fmt.Errorf("creating txm event: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"txm_event_id": id,
		"name":         name,
	}).Info("Txm event created")
	return id, nil
}

// ListTxmEvents returns every transplant round ordered by ID.
func (r *PatientRepository) ListTxmEvents(ctx context.Context) ([]TxmEvent, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM txm_events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing txm events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TxmEvent, error) {
		var e TxmEvent
		err := row.Scan(&e.ID, &e.Name)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning txm events: %w", err)
	}
	return events, nil
}

// SavePatients stores the donors and recipients of a round in one
// transaction. Recipients go first so donors can reference them.
func (r *PatientRepository) SavePatients(ctx context.Context, txmEventID int64, raw *domain.RawPatients) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, rec := range raw.Recipients {
		groups := rec.AcceptableBloodGroups
		if groups == nil {
			groups = []string{}
		}
		batch.Queue(`
			INSERT INTO recipients (id, txm_event_id, medical_id, blood_group, country, acceptable_blood_groups)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, txmEventID, rec.MedicalID, rec.BloodGroup, rec.Country, groups)
		for pos, code := range rec.HLATyping {
			batch.Queue(`INSERT INTO hla_typing (recipient_id, raw_code, position) VALUES ($1, $2, $3)`,
				rec.ID, code, pos)
		}
		for pos, ab := range rec.Antibodies {
			batch.Queue(`
				INSERT INTO hla_antibodies (recipient_id, raw_code, mfi, cutoff, position)
				VALUES ($1, $2, $3, $4, $5)`,
				rec.ID, ab.Raw, ab.MFI, ab.Cutoff, pos)
		}
	}
	for _, d := range raw.Donors {
		var related *int64
		if d.RelatedRecipientID != 0 {
			related = &d.RelatedRecipientID
		}
		donorType := d.Type
		if donorType == "" {
			donorType = domain.DonorTypeDonor
		}
		active := d.Active == nil || *d.Active
		batch.Queue(`
			INSERT INTO donors (id, txm_event_id, medical_id, blood_group, country, related_recipient_id, donor_type, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID, txmEventID, d.MedicalID, d.BloodGroup, d.Country, related, string(donorType), active)
		for pos, code := range d.HLATyping {
			batch.Queue(`INSERT INTO hla_typing (donor_id, raw_code, position) VALUES ($1, $2, $3)`,
				d.ID, code, pos)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		r.log.WithFields(logrus.Fields{
			"txm_event_id": txmEventID,
			"error":        err,
		}).Error("Failed to save patients")
		return fmt.Errorf("saving patients: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing patients: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"txm_event_id": txmEventID,
		"donors":       len(raw.Donors),
		"recipients":   len(raw.Recipients),
	}).Info("Patients saved")
	return nil
}

// LoadPatients implements domain.PatientRepository. Patients are ordered by
// ID, typing and antibodies by their stored position.
func (r *PatientRepository) LoadPatients(ctx context.Context, txmEventID int64) (*domain.RawPatients, error) {
	if err := r.eventExists(ctx, txmEventID); err != nil {
		return nil, err
	}

	typing, err := r.loadTyping(ctx, txmEventID)
	if err != nil {
		return nil, err
	}
	antibodies, err := r.loadAntibodies(ctx, txmEventID)
	if err != nil {
		return nil, err
	}

	raw := &domain.RawPatients{
		Donors:     []domain.RawDonor{},
		Recipients: []domain.RawRecipient{},
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, medical_id, blood_group, country, acceptable_blood_groups
		FROM recipients WHERE txm_event_id = $1 ORDER BY id`, txmEventID)
	if err != nil {
		return nil, fmt.Errorf("querying recipients: %w", err)
	}
	raw.Recipients, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawRecipient, error) {
		var rec domain.RawRecipient
		if err := row.Scan(&rec.ID, &rec.MedicalID, &rec.BloodGroup, &rec.Country, &rec.AcceptableBloodGroups); err != nil {
			return rec, err
		}
		if len(rec.AcceptableBloodGroups) == 0 {
			rec.AcceptableBloodGroups = nil
		}
		rec.HLATyping = typing.recipients[rec.ID]
		rec.Antibodies = antibodies[rec.ID]
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning recipients: %w", err)
	}

	rows, err = r.db.Query(ctx, `
		SELECT id, medical_id, blood_group, country, related_recipient_id, donor_type, active
		FROM donors WHERE txm_event_id = $1 ORDER BY id`, txmEventID)
	if err != nil {
		return nil, fmt.Errorf("querying donors: %w", err)
	}
	raw.Donors, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RawDonor, error) {
		var (
			d         domain.RawDonor
			related   *int64
			donorType string
			active    bool
		)
		if err := row.Scan(&d.ID, &d.MedicalID, &d.BloodGroup, &d.Country, &related, &donorType, &active); err != nil {
			return d, err
		}
		if related != nil {
			d.RelatedRecipientID = *related
		}
		d.Type = domain.DonorType(donorType)
		d.Active = &active
		d.HLATyping = typing.donors[d.ID]
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning donors: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"txm_event_id": txmEventID,
		"donors":       len(raw.Donors),
		"recipients":   len(raw.Recipients),
	}).Debug("Patients loaded")
	return raw, nil
}

func (r *PatientRepository) eventExists(ctx context.Context, txmEventID int64) error {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM txm_events WHERE id = $1`, txmEventID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("txm event %d not found: %w", txmEventID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("getting txm event: %w", err)
	}
	return nil
}

type typingIndex struct {
	donors     map[int64][]string
	recipients map[int64][]string
}

func (r *PatientRepository) loadTyping(ctx context.Context, txmEventID int64) (typingIndex, error) {
	idx := typingIndex{donors: map[int64][]string{}, recipients: map[int64][]string{}}
	rows, err := r.db.Query(ctx, `
		SELECT t.donor_id, t.recipient_id, t.raw_code
		FROM hla_typing t
		LEFT JOIN donors d ON d.id = t.donor_id
		LEFT JOIN recipients rc ON rc.id = t.recipient_id
		WHERE d.txm_event_id = $1 OR rc.txm_event_id = $1
		ORDER BY t.position, t.id`, txmEventID)
	if err != nil {
		return idx, fmt.Errorf("querying hla typing: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			donorID, recipientID *int64
			code                 string
		)
		if err := rows.Scan(&donorID, &recipientID, &code); err != nil {
			return idx, fmt.Errorf("scanning hla typing: %w", err)
		}
		if donorID != nil {
			idx.donors[*donorID] = append(idx.donors[*donorID], code)
		} else if recipientID != nil {
			idx.recipients[*recipientID] = append(idx.recipients[*recipientID], code)
		}
	}
	if err := rows.Err(); err != nil {
		return idx, fmt.Errorf("iterating hla typing: %w", err)
	}
	return idx, nil
}

func (r *PatientRepository) loadAntibodies(ctx context.Context, txmEventID int64) (map[int64][]hla.RawAntibody, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.recipient_id, a.raw_code, a.mfi, a.cutoff
		FROM hla_antibodies a
		JOIN recipients rc ON rc.id = a.recipient_id
		WHERE rc.txm_event_id = $1
		ORDER BY a.position, a.id`, txmEventID)
	if err != nil {
		return nil, fmt.Errorf("querying hla antibodies: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]hla.RawAntibody)
	for rows.Next() {
		var (
			recipientID int64
			ab          hla.RawAntibody
		)
		if err := rows.Scan(&recipientID, &ab.Raw, &ab.MFI, &ab.Cutoff); err != nil {
			return nil, fmt.Errorf("scanning hla antibodies: %w", err)
		}
		out[recipientID] = append(out[recipientID], ab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hla antibodies: %w", err)
	}
	return out, nil
}

// SaveParsingIssues implements domain.PatientRepository. Issues from an
// earlier parse of the round are replaced.
func (r *PatientRepository) SaveParsingIssues(ctx context.Context, txmEventID int64, issues []domain.PatientIssue) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM parsing_issues WHERE txm_event_id = $1`, txmEventID); err != nil {
		return fmt.Errorf("clearing parsing issues: %w", err)
	}
	if len(issues) > 0 {
		rows := make([][]any, len(issues))
		for i, issue := range issues {
			rows[i] = []any{txmEventID, issue.MedicalID, issue.CodeOrGroup, string(issue.Detail), issue.Message}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"parsing_issues"},
			[]string{"txm_event_id", "medical_id", "code_or_group", "detail", "message"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("inserting parsing issues: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing parsing issues: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"txm_event_id": txmEventID,
		"issues":       len(issues),
	}).Debug("Parsing issues saved")
	return nil
}

// ListParsingIssues returns the stored issues of a round in insertion order.
func (r *PatientRepository) ListParsingIssues(ctx context.Context, txmEventID int64) ([]domain.PatientIssue, error) {
	rows, err := r.db.Query(ctx, `
		SELECT medical_id, code_or_group, detail, message
		FROM parsing_issues WHERE txm_event_id = $1 ORDER BY id`, txmEventID)
	if err != nil {
		return nil, fmt.Errorf("querying parsing issues: %w", err)
	}
	issues, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PatientIssue, error) {
		var (
			issue  domain.PatientIssue
			detail string
		)
		err := row.Scan(&issue.MedicalID, &issue.CodeOrGroup, &detail, &issue.Message)
		issue.Detail = hla.ParsingIssueDetail(detail)
		return issue, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning parsing issues: %w", err)
	}
	return issues, nil
}
