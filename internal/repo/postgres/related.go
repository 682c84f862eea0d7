package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/repo"
)

const selectMembershipsByContributionQuery = `SELECT m.id, m.contact_id, m.status_id, m.join_date, m.start_date, m.end_date,
	mt.id, mt.name, mt.duration_unit, mt.duration_interval
FROM membership_payment mp
JOIN membership m ON m.id = mp.membership_id
JOIN membership_type mt ON mt.id = m.membership_type_id
WHERE mp.contribution_id = $1
ORDER BY m.id`

const selectParticipantByContributionQuery = `SELECT p.id, p.contact_id, p.event_id, e.title, e.start_date, p.status_id
FROM participant_payment pp
JOIN participant p ON p.id = pp.participant_id
JOIN event e ON e.id = p.event_id
WHERE pp.contribution_id = $1
ORDER BY p.id
LIMIT 1`

const selectPledgePaymentsByContributionQuery = `SELECT id, pledge_id, scheduled_amount, status_id
FROM pledge_payment
WHERE contribution_id = $1
ORDER BY id`

// RelationStore loads what a contribution pays for: memberships, an event registration and
// pledge installments, plus the contact and contribution page used for receipts.
type RelationStore struct {
	db DB
}

func NewRelationStore(db DB) *RelationStore {
	if db == nil {
		return nil
	}
	return &RelationStore{db: db}
}

var _ repo.RelationLoader = (*RelationStore)(nil)

func (s *RelationStore) Load(ctx context.Context, c domain.Contribution) (domain.RelatedObjects, error) {
	if s == nil || s.db == nil {
		return domain.RelatedObjects{}, fmt.Errorf("relation store not initialized")
	}
	objects := domain.RelatedObjects{Component: domain.ComponentContribute}

	var email sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email FROM contact WHERE id = $1`, c.ContactID).
		Scan(&objects.Contact.ID, &objects.Contact.DisplayName, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RelatedObjects{}, fmt.Errorf("contact %d: %w", c.ContactID, repo.ErrNotFound)
		}
		return domain.RelatedObjects{}, fmt.Errorf("load contact: %w", err)
	}
	objects.Contact.Email = email.String

	if c.ContributionPageID > 0 {
		page, err := s.loadPage(ctx, c.ContributionPageID)
		if err != nil {
			return domain.RelatedObjects{}, err
		}
		objects.Page = &page
	}

	if objects.Memberships, err = s.loadMemberships(ctx, c.ID); err != nil {
		return domain.RelatedObjects{}, err
	}
	participant, err := s.loadParticipant(ctx, c.ID)
	if err != nil {
		return domain.RelatedObjects{}, err
	}
	if participant != nil {
		objects.Participant = participant
		objects.Component = domain.ComponentEvent
	}
	if objects.PledgePayments, err = s.loadPledgePayments(ctx, c.ID); err != nil {
		return domain.RelatedObjects{}, err
	}
	return objects, nil
}

func (s *RelationStore) loadPage(ctx context.Context, id int64) (domain.ContributionPage, error) {
	var (
		page                             domain.ContributionPage
		isEmailReceipt                   int
		fromName, fromEmail, receiptText sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, title, is_email_receipt, receipt_from_name, receipt_from_email, receipt_text
		FROM contribution_page WHERE id = $1`, id).
		Scan(&page.ID, &page.Title, &isEmailReceipt, &fromName, &fromEmail, &receiptText)
	if err != nil {
		return domain.ContributionPage{}, fmt.Errorf("load contribution page %d: %w", id, handleNotFound(err))
	}
	page.IsEmailReceipt = isEmailReceipt != 0
	page.ReceiptFromName = fromName.String
	page.ReceiptFromEmail = fromEmail.String
	page.ReceiptText = receiptText.String
	return page, nil
}

func (s *RelationStore) loadMemberships(ctx context.Context, contributionID int64) ([]domain.Membership, error) {
	rows, err := s.db.QueryContext(ctx, selectMembershipsByContributionQuery, contributionID)
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	defer rows.Close()
	var out []domain.Membership
	for rows.Next() {
		var (
			m                    domain.Membership
			status               int
			joinDate, start, end sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.ContactID, &status, &joinDate, &start, &end,
			&m.Type.ID, &m.Type.Name, &m.Type.DurationUnit, &m.Type.DurationInterval); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Status = domain.MembershipStatus(status)
		m.JoinDate, m.StartDate, m.EndDate = joinDate.Time, start.Time, end.Time
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *RelationStore) loadParticipant(ctx context.Context, contributionID int64) (*domain.Participant, error) {
	var (
		p      domain.Participant
		start  sql.NullTime
		status int
	)
	err := s.db.QueryRowContext(ctx, selectParticipantByContributionQuery, contributionID).
		Scan(&p.ID, &p.ContactID, &p.EventID, &p.EventTitle, &start, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	p.EventStart = start.Time
	p.Status = domain.ParticipantStatus(status)
	return &p, nil
}

func (s *RelationStore) loadPledgePayments(ctx context.Context, contributionID int64) ([]domain.PledgePayment, error) {
	rows, err := s.db.QueryContext(ctx, selectPledgePaymentsByContributionQuery, contributionID)
	if err != nil {
		return nil, fmt.Errorf("load pledge payments: %w", err)
	}
	defer rows.Close()
	var out []domain.PledgePayment
	for rows.Next() {
		var (
			pp     domain.PledgePayment
			status int
		)
		if err := rows.Scan(&pp.ID, &pp.PledgeID, &pp.ScheduledAmount, &status); err != nil {
			return nil, fmt.Errorf("scan pledge payment: %w", err)
		}
		pp.Status = domain.ContributionStatus(status)
		out = append(out, pp)
	}
	return out, rows.Err()
}
