package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/repo"
)

const contributionColumns = `id, contact_id, financial_type_id, contribution_page_id, payment_instrument_id,
	payment_processor_id, receive_date, non_deductible_amount, total_amount, fee_amount, net_amount,
	trxn_id, invoice_id, currency, cancel_date, cancel_reason, receipt_date, thankyou_date, source,
	amount_level, note, contribution_status_id, is_test, is_pay_later`

const selectContributionQuery = `SELECT ` + contributionColumns + ` FROM contribution WHERE id = $1`

const insertContributionQuery = `INSERT INTO contribution (
	contact_id, financial_type_id, contribution_page_id, payment_instrument_id, payment_processor_id,
	receive_date, non_deductible_amount, total_amount, fee_amount, net_amount, trxn_id, invoice_id,
	currency, cancel_date, cancel_reason, receipt_date, thankyou_date, source, amount_level, note,
	contribution_status_id, is_test, is_pay_later
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
RETURNING id`

const updateContributionQuery = `UPDATE contribution SET
	contact_id = $1, financial_type_id = $2, contribution_page_id = $3, payment_instrument_id = $4,
	payment_processor_id = $5, receive_date = $6, non_deductible_amount = $7, total_amount = $8,
	fee_amount = $9, net_amount = $10, trxn_id = $11, invoice_id = $12, currency = $13,
	cancel_date = $14, cancel_reason = $15, receipt_date = $16, thankyou_date = $17, source = $18,
	amount_level = $19, note = $20, contribution_status_id = $21, is_test = $22, is_pay_later = $23
WHERE id = $24`

const insertLineItemQuery = `INSERT INTO line_item (
	entity_table, entity_id, contribution_id, financial_type_id, label, qty, unit_price, line_total
) VALUES ('contribution', $1, $1, $2, $3, 1, $4, $4)`

const insertSoftCreditQuery = `INSERT INTO contribution_soft (contribution_id, contact_id, amount, currency)
VALUES ($1, $2, $3, $4)`

const deleteSoftCreditsQuery = `DELETE FROM contribution_soft WHERE contribution_id = $1`

const deleteContributionQuery = `DELETE FROM contribution WHERE id = $1`

type ContributionStore struct {
	db TxDB
}

func NewContributionStore(db TxDB) *ContributionStore {
	if db == nil {
		return nil
	}
	return &ContributionStore{db: db}
}

var _ repo.ContributionRepository = (*ContributionStore)(nil)

// Save writes the contribution, its soft credits and, for a new contribution, a default line
// item in one transaction.
func (s *ContributionStore) Save(ctx context.Context, c domain.Contribution, softCredits []domain.SoftCredit, opts repo.SaveOptions) (domain.Contribution, error) {
	if s == nil || s.db == nil {
		return domain.Contribution{}, fmt.Errorf("contribution store not initialized")
	}
	if err := c.Validate(); err != nil {
		return domain.Contribution{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Contribution{}, writeError("Could not begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := contributionArgs(c)
	if c.ID == 0 {
		if err := tx.QueryRowContext(ctx, insertContributionQuery, args...).Scan(&c.ID); err != nil {
			return domain.Contribution{}, writeError("Could not create contribution", err)
		}
		if !opts.SkipLineItem {
			if _, err := tx.ExecContext(ctx, insertLineItemQuery, c.ID, c.FinancialTypeID, lineItemLabel(c), c.TotalAmount); err != nil {
				return domain.Contribution{}, writeError("Could not create line item", err)
			}
		}
	} else {
		res, err := tx.ExecContext(ctx, updateContributionQuery, append(args, c.ID)...)
		if err != nil {
			return domain.Contribution{}, writeError("Could not update contribution", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return domain.Contribution{}, repo.ErrNotFound
		}
	}

	if opts.ReplaceSoftCredits {
		if _, err := tx.ExecContext(ctx, deleteSoftCreditsQuery, c.ID); err != nil {
			return domain.Contribution{}, writeError("Could not replace soft credits", err)
		}
		for _, sc := range softCredits {
			currency := sc.Currency
			if currency == "" {
				currency = c.Currency
			}
			if _, err := tx.ExecContext(ctx, insertSoftCreditQuery, c.ID, sc.ContactID, sc.Amount, currency); err != nil {
				return domain.Contribution{}, writeError("Could not create soft credit", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Contribution{}, writeError("Could not commit contribution", err)
	}
	return c, nil
}

func (s *ContributionStore) Delete(ctx context.Context, id int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("contribution store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteContributionQuery, id)
	if err != nil {
		return false, writeError("Could not delete contribution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *ContributionStore) Find(ctx context.Context, id int64) (domain.Contribution, error) {
	if s == nil || s.db == nil {
		return domain.Contribution{}, fmt.Errorf("contribution store not initialized")
	}
	c, err := scanContribution(s.db.QueryRowContext(ctx, selectContributionQuery, id))
	if err != nil {
		return domain.Contribution{}, handleNotFound(err)
	}
	return c, nil
}

func (s *ContributionStore) SoftCredits(ctx context.Context, contributionIDs []int64) (map[int64][]domain.SoftCredit, error) {
	out := make(map[int64][]domain.SoftCredit, len(contributionIDs))
	if len(contributionIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(contributionIDs))
	for i, id := range contributionIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT cs.id, cs.contribution_id, cs.contact_id, ct.display_name, cs.amount, cs.currency
		FROM contribution_soft cs JOIN contact ct ON ct.id = cs.contact_id
		WHERE cs.contribution_id IN (`+placeholders(1, len(args))+`)
		ORDER BY cs.contribution_id, cs.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query soft credits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc domain.SoftCredit
		if err := rows.Scan(&sc.ID, &sc.ContributionID, &sc.ContactID, &sc.ContactName, &sc.Amount, &sc.Currency); err != nil {
			return nil, fmt.Errorf("scan soft credit: %w", err)
		}
		out[sc.ContributionID] = append(out[sc.ContributionID], sc)
	}
	return out, rows.Err()
}

func contributionArgs(c domain.Contribution) []any {
	return []any{
		c.ContactID,
		c.FinancialTypeID,
		nullID(c.ContributionPageID),
		nullID(c.PaymentInstrumentID),
		nullID(c.PaymentProcessorID),
		nullTime(c.ReceiveDate),
		c.NonDeductibleAmount,
		c.TotalAmount,
		c.FeeAmount,
		c.NetAmount,
		nullIfEmpty(c.TrxnID),
		nullIfEmpty(c.InvoiceID),
		strings.ToUpper(c.Currency),
		nullTime(c.CancelDate),
		nullIfEmpty(c.CancelReason),
		nullTime(c.ReceiptDate),
		nullTime(c.ThankyouDate),
		nullIfEmpty(c.Source),
		nullIfEmpty(c.AmountLevel),
		nullIfEmpty(c.Note),
		int(c.Status),
		boolInt(c.IsTest),
		boolInt(c.IsPayLater),
	}
}

func lineItemLabel(c domain.Contribution) string {
	if c.AmountLevel != "" {
		return c.AmountLevel
	}
	return "Contribution Amount"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (domain.Contribution, error) {
	var (
		c                                 domain.Contribution
		pageID, instrumentID, processorID sql.NullInt64
		receiveDate, cancelDate           sql.NullTime
		receiptDate, thankyouDate         sql.NullTime
		trxnID, invoiceID, cancelReason   sql.NullString
		source, amountLevel, note         sql.NullString
		status, isTest, isPayLater        int
	)
	err := row.Scan(
		&c.ID, &c.ContactID, &c.FinancialTypeID, &pageID, &instrumentID, &processorID,
		&receiveDate, &c.NonDeductibleAmount, &c.TotalAmount, &c.FeeAmount, &c.NetAmount,
		&trxnID, &invoiceID, &c.Currency, &cancelDate, &cancelReason, &receiptDate, &thankyouDate,
		&source, &amountLevel, &note, &status, &isTest, &isPayLater,
	)
	if err != nil {
		return domain.Contribution{}, err
	}
	c.ContributionPageID = pageID.Int64
	c.PaymentInstrumentID = instrumentID.Int64
	c.PaymentProcessorID = processorID.Int64
	c.ReceiveDate = receiveDate.Time
	c.CancelDate = cancelDate.Time
	c.ReceiptDate = receiptDate.Time
	c.ThankyouDate = thankyouDate.Time
	c.TrxnID = trxnID.String
	c.InvoiceID = invoiceID.String
	c.CancelReason = cancelReason.String
	c.Source = source.String
	c.AmountLevel = amountLevel.String
	c.Note = note.String
	c.Status = domain.ContributionStatus(status)
	c.IsTest = isTest != 0
	c.IsPayLater = isPayLater != 0
	return c, nil
}
