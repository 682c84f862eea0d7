package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/repo"
)

const markCompletedQuery = `UPDATE contribution
SET contribution_status_id = $2, receive_date = $3, trxn_id = COALESCE($4, trxn_id)
WHERE id = $1`

const updateMembershipQuery = `UPDATE membership
SET status_id = $2, join_date = $3, start_date = $4, end_date = $5
WHERE id = $1`

const linkMembershipPaymentQuery = `INSERT INTO membership_payment (membership_id, contribution_id)
VALUES ($1, $2)
ON CONFLICT (membership_id, contribution_id) DO NOTHING`

const updateParticipantStatusQuery = `UPDATE participant SET status_id = $2 WHERE id = $1`

const completePledgePaymentQuery = `UPDATE pledge_payment
SET status_id = $3, contribution_id = $2, actual_amount = scheduled_amount
WHERE id = $1
RETURNING pledge_id`

// refreshPledgeStatusQuery completes a pledge once none of its payments is outstanding and
// marks it in progress otherwise.
const refreshPledgeStatusQuery = `UPDATE pledge SET status_id = CASE
	WHEN NOT EXISTS (SELECT 1 FROM pledge_payment WHERE pledge_id = $1 AND status_id <> $2) THEN $2
	ELSE $3
END
WHERE id = $1`

// Transactor opens completion transactions on a *sql.DB.
type Transactor struct {
	db TxDB
}

func NewTransactor(db TxDB) *Transactor {
	if db == nil {
		return nil
	}
	return &Transactor{db: db}
}

var _ repo.Transactor = (*Transactor)(nil)

func (t *Transactor) Begin(ctx context.Context) (repo.Tx, error) {
	if t == nil || t.db == nil {
		return nil, fmt.Errorf("transactor not initialized")
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

type sqlTx struct {
	tx   *sql.Tx
	done bool
}

func (t *sqlTx) Completion() repo.CompletionStore { return completionStore{tx: t.tx} }

func (t *sqlTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

type completionStore struct {
	tx *sql.Tx
}

func (s completionStore) MarkCompleted(ctx context.Context, contributionID int64, trxnID string, receiveDate time.Time) error {
	res, err := s.tx.ExecContext(ctx, markCompletedQuery, contributionID, int(domain.StatusCompleted), receiveDate, nullIfEmpty(trxnID))
	if err != nil {
		return writeError("Could not complete contribution", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s completionStore) SaveMembership(ctx context.Context, m domain.Membership, contributionID int64) error {
	if _, err := s.tx.ExecContext(ctx, updateMembershipQuery, m.ID, int(m.Status), nullTime(m.JoinDate), nullTime(m.StartDate), nullTime(m.EndDate)); err != nil {
		return writeError("Could not update membership", err)
	}
	if _, err := s.tx.ExecContext(ctx, linkMembershipPaymentQuery, m.ID, contributionID); err != nil {
		return writeError("Could not link membership payment", err)
	}
	return nil
}

func (s completionStore) SetParticipantStatus(ctx context.Context, participantID int64, status domain.ParticipantStatus) error {
	if _, err := s.tx.ExecContext(ctx, updateParticipantStatusQuery, participantID, int(status)); err != nil {
		return writeError("Could not update participant", err)
	}
	return nil
}

func (s completionStore) CompletePledgePayment(ctx context.Context, paymentID, contributionID int64) error {
	var pledgeID int64
	err := s.tx.QueryRowContext(ctx, completePledgePaymentQuery, paymentID, contributionID, int(domain.StatusCompleted)).Scan(&pledgeID)
	if err != nil {
		return writeError("Could not complete pledge payment", handleNotFound(err))
	}
	if _, err := s.tx.ExecContext(ctx, refreshPledgeStatusQuery, pledgeID, int(domain.StatusCompleted), int(domain.StatusInProgress)); err != nil {
		return writeError("Could not update pledge status", err)
	}
	return nil
}

func (s completionStore) AppendAudit(ctx context.Context, event auditlog.Event) (int64, error) {
	return auditlog.Insert(ctx, s.tx, event)
}

// AuditStore appends audit events outside any caller transaction.
type AuditStore struct {
	db DB
}

func NewAuditStore(db DB) *AuditStore {
	if db == nil {
		return nil
	}
	return &AuditStore{db: db}
}

var _ repo.AuditAppender = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, event auditlog.Event) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("audit store not initialized")
	}
	return auditlog.Insert(ctx, s.db, event)
}
