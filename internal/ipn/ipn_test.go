package ipn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
)

type fakeStore struct {
	completed    []int64
	trxnID       string
	memberships  []domain.Membership
	participants map[int64]domain.ParticipantStatus
	pledges      []int64
	failPledge   error
}

func (s *fakeStore) MarkCompleted(ctx context.Context, id int64, trxnID string, receiveDate time.Time) error {
	s.completed = append(s.completed, id)
	s.trxnID = trxnID
	return nil
}

func (s *fakeStore) SaveMembership(ctx context.Context, m domain.Membership, contributionID int64) error {
	s.memberships = append(s.memberships, m)
	return nil
}

func (s *fakeStore) SetParticipantStatus(ctx context.Context, id int64, status domain.ParticipantStatus) error {
	if s.participants == nil {
		s.participants = map[int64]domain.ParticipantStatus{}
	}
	s.participants[id] = status
	return nil
}

func (s *fakeStore) CompletePledgePayment(ctx context.Context, paymentID, contributionID int64) error {
	if s.failPledge != nil {
		return s.failPledge
	}
	s.pledges = append(s.pledges, paymentID)
	return nil
}

func (s *fakeStore) AppendAudit(ctx context.Context, event auditlog.Event) (int64, error) {
	return 1, nil
}

func fixedCompleter() *Completer {
	return &Completer{Now: func() time.Time { return time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC) }}
}

func TestCompleteUpdatesRelatedObjects(t *testing.T) {
	year := domain.MembershipType{ID: 1, Name: "General", DurationUnit: "year", DurationInterval: 1}
	objects := domain.RelatedObjects{
		Component: domain.ComponentEvent,
		Page:      &domain.ContributionPage{ID: 3, IsEmailReceipt: true},
		Memberships: []domain.Membership{
			{ID: 10, Type: year, Status: domain.MembershipPending},
			{ID: 11, Type: year, Status: domain.MembershipCurrent, EndDate: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		},
		Participant: &domain.Participant{ID: 20, Status: domain.ParticipantPendingPayLater},
		PledgePayments: []domain.PledgePayment{
			{ID: 30, Status: domain.StatusPending},
			{ID: 31, Status: domain.StatusCompleted},
		},
	}
	store := &fakeStore{}
	out, err := fixedCompleter().Complete(context.Background(), store, Input{TrxnID: "tx-1"}, domain.Contribution{ID: 5}, objects)
	if err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	if len(store.completed) != 1 || store.completed[0] != 5 || store.trxnID != "tx-1" {
		t.Fatalf("completed=%v trxn=%q", store.completed, store.trxnID)
	}

	fresh := store.memberships[0]
	if fresh.Status != domain.MembershipNew || fresh.StartDate.Format(domain.DateLayout) != "2024-05-10" ||
		fresh.EndDate.Format(domain.DateLayout) != "2025-05-09" {
		t.Fatalf("activated membership=%+v", fresh)
	}
	renewed := store.memberships[1]
	if renewed.Status != domain.MembershipCurrent || renewed.EndDate.Format(domain.DateLayout) != "2025-12-31" {
		t.Fatalf("renewed membership=%+v", renewed)
	}

	if store.participants[20] != domain.ParticipantRegistered || !out.ParticipantRegistered {
		t.Fatalf("participant not registered: %v", store.participants)
	}
	if len(store.pledges) != 1 || store.pledges[0] != 30 || out.PledgePaymentsCompleted != 1 {
		t.Fatalf("pledges=%v", store.pledges)
	}
	if !out.SendReceipt {
		t.Fatalf("page setting should request a receipt")
	}
}

func TestCompleteReceiptOverride(t *testing.T) {
	no := false
	objects := domain.RelatedObjects{Page: &domain.ContributionPage{IsEmailReceipt: true}}
	out, err := fixedCompleter().Complete(context.Background(), &fakeStore{}, Input{IsEmailReceipt: &no}, domain.Contribution{ID: 1}, objects)
	if err != nil {
		t.Fatalf("Complete() err=%v", err)
	}
	if out.SendReceipt {
		t.Fatalf("explicit is_email_receipt=0 should win")
	}
	if out.ReceiveDate.IsZero() {
		t.Fatalf("receive date should default to now")
	}
}

func TestCompleteStopsAtFirstFailure(t *testing.T) {
	store := &fakeStore{failPledge: errors.New("deadlock detected")}
	objects := domain.RelatedObjects{PledgePayments: []domain.PledgePayment{{ID: 1, Status: domain.StatusPending}, {ID: 2, Status: domain.StatusPending}}}
	_, err := fixedCompleter().Complete(context.Background(), store, Input{}, domain.Contribution{ID: 1}, objects)
	if err == nil || !errors.Is(err, store.failPledge) {
		t.Fatalf("Complete() err=%v", err)
	}
}

func TestExtendLifetimeMembership(t *testing.T) {
	today := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	m := extendMembership(domain.Membership{Type: domain.MembershipType{DurationUnit: "lifetime"}}, today)
	if !m.EndDate.IsZero() || m.Status != domain.MembershipNew || !m.JoinDate.Equal(today) {
		t.Fatalf("lifetime membership=%+v", m)
	}
}
