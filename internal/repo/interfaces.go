package repo

import (
	"context"
	"errors"
	"time"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
)

var ErrNotFound = errors.New("not found")

type SaveOptions struct {
	// SkipLineItem suppresses the default line item written for a new contribution.
	SkipLineItem bool
	// ReplaceSoftCredits replaces every stored soft credit with the given list, which may
	// be empty. Otherwise stored soft credits are left alone.
	ReplaceSoftCredits bool
}

// ContributionRepository persists contributions and their soft credits. Save inserts when
// the contribution has no id and updates otherwise.
type ContributionRepository interface {
	Save(ctx context.Context, c domain.Contribution, softCredits []domain.SoftCredit, opts SaveOptions) (domain.Contribution, error)
	Delete(ctx context.Context, id int64) (bool, error)
	Find(ctx context.Context, id int64) (domain.Contribution, error)
	SoftCredits(ctx context.Context, contributionIDs []int64) (map[int64][]domain.SoftCredit, error)
}

// QueryRunner executes a rendered select and returns API-shaped rows.
type QueryRunner interface {
	Select(ctx context.Context, query string, args []any) ([]domain.Record, error)
}

// RelationLoader loads the objects a contribution pays for.
type RelationLoader interface {
	Load(ctx context.Context, c domain.Contribution) (domain.RelatedObjects, error)
}

// AuditAppender appends one audit event outside any caller transaction.
type AuditAppender interface {
	Append(ctx context.Context, event auditlog.Event) (int64, error)
}

// Transactor opens the atomic boundary used by transaction completion.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx must be finished with exactly one Commit or Rollback. Rollback after Commit is a no-op.
type Tx interface {
	Completion() CompletionStore
	Commit() error
	Rollback() error
}

// CompletionStore holds the writes the completion workflow makes inside one Tx.
type CompletionStore interface {
	MarkCompleted(ctx context.Context, contributionID int64, trxnID string, receiveDate time.Time) error
	SaveMembership(ctx context.Context, m domain.Membership, contributionID int64) error
	SetParticipantStatus(ctx context.Context, participantID int64, status domain.ParticipantStatus) error
	CompletePledgePayment(ctx context.Context, paymentID, contributionID int64) error
	AppendAudit(ctx context.Context, event auditlog.Event) (int64, error)
}
