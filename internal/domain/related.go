package domain

import "time"

// Component names the CRM module a contribution pays for.
type Component string

const (
	ComponentContribute Component = "contribute"
	ComponentEvent      Component = "event"
)

type Contact struct {
	ID          int64
	DisplayName string
	Email       string
}

type ContributionPage struct {
	ID               int64
	Title            string
	IsEmailReceipt   bool
	ReceiptFromName  string
	ReceiptFromEmail string
	ReceiptText      string
}

type MembershipType struct {
	ID               int64
	Name             string
	DurationUnit     string
	DurationInterval int
}

type Membership struct {
	ID        int64
	ContactID int64
	Type      MembershipType
	Status    MembershipStatus
	JoinDate  time.Time
	StartDate time.Time
	EndDate   time.Time
}

type Participant struct {
	ID         int64
	ContactID  int64
	EventID    int64
	EventTitle string
	EventStart time.Time
	Status     ParticipantStatus
}

type PledgePayment struct {
	ID              int64
	PledgeID        int64
	ScheduledAmount float64
	Status          ContributionStatus
}

// RelatedObjects is everything a contribution pays for or is receipted against.
type RelatedObjects struct {
	Contact        Contact
	Component      Component
	Page           *ContributionPage
	Memberships    []Membership
	Participant    *Participant
	PledgePayments []PledgePayment
}

// MembershipEndDate returns the last day of a membership term starting on start. Lifetime
// memberships have no end date and report false.
func MembershipEndDate(start time.Time, unit string, interval int) (time.Time, bool) {
	if interval <= 0 {
		interval = 1
	}
	var end time.Time
	switch unit {
	case "day":
		end = start.AddDate(0, 0, interval)
	case "month":
		end = start.AddDate(0, interval, 0)
	case "year":
		end = start.AddDate(interval, 0, 0)
	default:
		return time.Time{}, false
	}
	return end.AddDate(0, 0, -1), true
}
