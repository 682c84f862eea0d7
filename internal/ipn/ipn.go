// Package ipn completes pending contributions and everything they pay for.
package ipn

import (
	"context"
	"fmt"
	"time"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/repo"
)

// Input is what the payment notification (or the operator) tells us about the payment.
type Input struct {
	Component domain.Component
	IsTest    bool
	TrxnID    string
	Amount    float64
	// IsEmailReceipt overrides the contribution page setting when non-nil.
	IsEmailReceipt *bool
	ReceiveDate    time.Time
}

type Outcome struct {
	ContributionID          int64
	ReceiveDate             time.Time
	Memberships             []domain.Membership
	ParticipantRegistered   bool
	PledgePaymentsCompleted int
	SendReceipt             bool
}

type Completer struct {
	Now func() time.Time
}

func NewCompleter() *Completer {
	return &Completer{Now: func() time.Time { return time.Now().UTC() }}
}

// Complete applies every write of a completed payment through store. It stops at the first
// failure; the caller owns the transaction and must roll it back.
func (c *Completer) Complete(ctx context.Context, store repo.CompletionStore, in Input, contribution domain.Contribution, objects domain.RelatedObjects) (Outcome, error) {
	now := c.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := Outcome{ContributionID: contribution.ID, ReceiveDate: in.ReceiveDate}
	if out.ReceiveDate.IsZero() {
		out.ReceiveDate = now
	}

	if err := store.MarkCompleted(ctx, contribution.ID, in.TrxnID, out.ReceiveDate); err != nil {
		return Outcome{}, fmt.Errorf("mark contribution %d completed: %w", contribution.ID, err)
	}

	for _, m := range objects.Memberships {
		updated := extendMembership(m, today)
		if err := store.SaveMembership(ctx, updated, contribution.ID); err != nil {
			return Outcome{}, fmt.Errorf("update membership %d: %w", m.ID, err)
		}
		out.Memberships = append(out.Memberships, updated)
	}

	if p := objects.Participant; p != nil && p.Status.Pending() {
		if err := store.SetParticipantStatus(ctx, p.ID, domain.ParticipantRegistered); err != nil {
			return Outcome{}, fmt.Errorf("register participant %d: %w", p.ID, err)
		}
		out.ParticipantRegistered = true
	}

	for _, pp := range objects.PledgePayments {
		if pp.Status == domain.StatusCompleted {
			continue
		}
		if err := store.CompletePledgePayment(ctx, pp.ID, contribution.ID); err != nil {
			return Outcome{}, fmt.Errorf("complete pledge payment %d: %w", pp.ID, err)
		}
		out.PledgePaymentsCompleted++
	}

	switch {
	case in.IsEmailReceipt != nil:
		out.SendReceipt = *in.IsEmailReceipt
	case objects.Page != nil:
		out.SendReceipt = objects.Page.IsEmailReceipt
	}
	return out, nil
}

// extendMembership activates a new or lapsed membership from today, or renews a live one
// from the day after its current end date.
func extendMembership(m domain.Membership, today time.Time) domain.Membership {
	switch m.Status {
	case domain.MembershipCurrent, domain.MembershipGrace:
		from := today
		if !m.EndDate.IsZero() {
			from = m.EndDate.AddDate(0, 0, 1)
		}
		if end, ok := domain.MembershipEndDate(from, m.Type.DurationUnit, m.Type.DurationInterval); ok {
			m.EndDate = end
		}
		m.Status = domain.MembershipCurrent
	default:
		if m.JoinDate.IsZero() {
			m.JoinDate = today
		}
		m.StartDate = today
		m.EndDate = time.Time{}
		if end, ok := domain.MembershipEndDate(today, m.Type.DurationUnit, m.Type.DurationInterval); ok {
			m.EndDate = end
		}
		m.Status = domain.MembershipNew
	}
	return m
}
