package domain

import (
	"fmt"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/params"
)

// ContributionStatus ids match the contribution_status option values of the CRM.
type ContributionStatus int

const (
	StatusCompleted  ContributionStatus = 1
	StatusPending    ContributionStatus = 2
	StatusCancelled  ContributionStatus = 3
	StatusFailed     ContributionStatus = 4
	StatusInProgress ContributionStatus = 5
	StatusOverdue    ContributionStatus = 6
	StatusRefunded   ContributionStatus = 7
)

var statusLabels = map[ContributionStatus]string{
	StatusCompleted:  "Completed",
	StatusPending:    "Pending",
	StatusCancelled:  "Cancelled",
	StatusFailed:     "Failed",
	StatusInProgress: "In Progress",
	StatusOverdue:    "Overdue",
	StatusRefunded:   "Refunded",
}

func (s ContributionStatus) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("status %d", int(s))
}

// ContributionStatuses lists every known status in id order.
func ContributionStatuses() []ContributionStatus {
	out := make([]ContributionStatus, 0, len(statusLabels))
	for s := StatusCompleted; s <= StatusRefunded; s++ {
		out = append(out, s)
	}
	return out
}

func (s ContributionStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseContributionStatus accepts a numeric id or a label ("In Progress", "in_progress").
func ParseContributionStatus(v any) (ContributionStatus, bool) {
	if id, ok := params.ToInt64(v); ok {
		s := ContributionStatus(id)
		return s, s.Valid()
	}
	name := strings.ToLower(strings.ReplaceAll(params.ToString(v), "_", " "))
	for s, label := range statusLabels {
		if strings.ToLower(label) == name {
			return s, true
		}
	}
	return 0, false
}

// allowedTransitions lists, per current status, the statuses an update may move to.
var allowedTransitions = map[ContributionStatus][]ContributionStatus{
	StatusCancelled:  {StatusCompleted, StatusCancelled},
	StatusCompleted:  {StatusCancelled, StatusRefunded, StatusCompleted},
	StatusPending:    {StatusCancelled, StatusCompleted, StatusFailed, StatusPending},
	StatusInProgress: {StatusCancelled, StatusCompleted, StatusFailed},
	StatusRefunded:   {StatusCancelled, StatusCompleted, StatusRefunded},
}

// ValidateStatusTransition reports an InvalidStateTransition error when a contribution may
// not move from one status to another. Statuses without an entry only allow themselves.
func ValidateStatusTransition(from, to ContributionStatus) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		allowed = []ContributionStatus{from}
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return apierr.Newf(apierr.InvalidStateTransition, "Cannot change contribution status from %s to %s.", from.Label(), to.Label())
}

type MembershipStatus int

const (
	MembershipNew       MembershipStatus = 1
	MembershipCurrent   MembershipStatus = 2
	MembershipGrace     MembershipStatus = 3
	MembershipExpired   MembershipStatus = 4
	MembershipPending   MembershipStatus = 5
	MembershipCancelled MembershipStatus = 6
)

type ParticipantStatus int

const (
	ParticipantRegistered        ParticipantStatus = 1
	ParticipantAttended          ParticipantStatus = 2
	ParticipantCancelled         ParticipantStatus = 4
	ParticipantPendingPayLater   ParticipantStatus = 5
	ParticipantPendingIncomplete ParticipantStatus = 6
)

// Pending reports whether the participant is waiting on payment.
func (s ParticipantStatus) Pending() bool {
	return s == ParticipantPendingPayLater || s == ParticipantPendingIncomplete
}
