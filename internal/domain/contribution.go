package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/params"
)

// Record is one entity row as exposed by the API, plus any denormalized related data.
type Record map[string]any

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

type Contribution struct {
	ID                  int64
	ContactID           int64
	FinancialTypeID     int64
	ContributionPageID  int64
	PaymentInstrumentID int64
	PaymentProcessorID  int64
	ReceiveDate         time.Time
	TotalAmount         float64
	FeeAmount           float64
	NetAmount           float64
	NonDeductibleAmount float64
	Currency            string
	TrxnID              string
	InvoiceID           string
	Source              string
	AmountLevel         string
	Note                string
	Status              ContributionStatus
	IsTest              bool
	IsPayLater          bool
	CancelDate          time.Time
	CancelReason        string
	ReceiptDate         time.Time
	ThankyouDate        time.Time
}

type SoftCredit struct {
	ID             int64
	ContributionID int64
	ContactID      int64
	ContactName    string
	Amount         float64
	Currency       string
}

// Apply copies every recognised field present in bag onto c. Fields absent from the bag
// keep their current value so an update only touches what the caller sent.
func (c *Contribution) Apply(bag params.Bag) error {
	ints := []struct {
		key string
		dst *int64
	}{
		{"contact_id", &c.ContactID},
		{"financial_type_id", &c.FinancialTypeID},
		{"contribution_page_id", &c.ContributionPageID},
		{"payment_instrument_id", &c.PaymentInstrumentID},
		{"payment_processor", &c.PaymentProcessorID},
	}
	for _, f := range ints {
		if !bag.Has(f.key) {
			continue
		}
		v, ok := bag.Int64(f.key)
		if !ok || v < 0 {
			return apierr.Newf(apierr.Validation, "%s is not a valid integer", f.key)
		}
		*f.dst = v
	}

	money := []struct {
		key string
		dst *float64
	}{
		{"total_amount", &c.TotalAmount},
		{"fee_amount", &c.FeeAmount},
		{"net_amount", &c.NetAmount},
		{"non_deductible_amount", &c.NonDeductibleAmount},
	}
	for _, f := range money {
		if !bag.Has(f.key) {
			continue
		}
		v, ok := bag.Float(f.key)
		if !ok {
			return apierr.Newf(apierr.Validation, "%s is not a valid amount", f.key)
		}
		*f.dst = v
	}

	dates := []struct {
		key string
		dst *time.Time
	}{
		{"receive_date", &c.ReceiveDate},
		{"cancel_date", &c.CancelDate},
		{"receipt_date", &c.ReceiptDate},
		{"thankyou_date", &c.ThankyouDate},
	}
	for _, f := range dates {
		if !bag.Has(f.key) {
			continue
		}
		v, err := ParseDate(bag[f.key])
		if err != nil {
			return apierr.Wrap(apierr.Validation, f.key+" is not a valid date", err)
		}
		*f.dst = v
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"currency", &c.Currency},
		{"trxn_id", &c.TrxnID},
		{"invoice_id", &c.InvoiceID},
		{"source", &c.Source},
		{"amount_level", &c.AmountLevel},
		{"note", &c.Note},
		{"cancel_reason", &c.CancelReason},
	}
	for _, f := range strs {
		if bag.Has(f.key) {
			*f.dst = strings.TrimSpace(bag.String(f.key))
		}
	}
	if c.Currency != "" {
		c.Currency = strings.ToUpper(c.Currency)
		if len(c.Currency) != 3 {
			return apierr.Newf(apierr.Validation, "currency %q is not an ISO 4217 code", c.Currency)
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"is_test", &c.IsTest},
		{"is_pay_later", &c.IsPayLater},
	}
	for _, f := range bools {
		if !bag.Has(f.key) {
			continue
		}
		v, ok := bag.Bool(f.key)
		if !ok {
			return apierr.Newf(apierr.Validation, "%s is not a valid boolean", f.key)
		}
		*f.dst = v
	}

	if bag.Has("contribution_status_id") {
		s, ok := ParseContributionStatus(bag["contribution_status_id"])
		if !ok {
			return apierr.Newf(apierr.Validation, "contribution_status_id %q is not a valid status", bag.String("contribution_status_id"))
		}
		c.Status = s
	}
	return nil
}

// Validate checks the invariants a stored contribution must satisfy.
func (c Contribution) Validate() error {
	if c.ContactID <= 0 {
		return apierr.New(apierr.Validation, "contact_id is required")
	}
	if c.FinancialTypeID <= 0 {
		return apierr.New(apierr.Validation, "financial_type_id is required")
	}
	for _, amt := range []struct {
		name  string
		value float64
	}{
		{"total_amount", c.TotalAmount},
		{"fee_amount", c.FeeAmount},
		{"net_amount", c.NetAmount},
		{"non_deductible_amount", c.NonDeductibleAmount},
	} {
		if math.IsNaN(amt.value) || math.IsInf(amt.value, 0) {
			return apierr.Newf(apierr.Validation, "%s must be a finite number", amt.name)
		}
	}
	if c.TotalAmount < 0 {
		return apierr.New(apierr.Validation, "total_amount must not be negative")
	}
	if c.FeeAmount < 0 || c.FeeAmount > c.TotalAmount {
		return apierr.New(apierr.Validation, "fee_amount must be between 0 and total_amount")
	}
	if !c.Status.Valid() {
		return apierr.Newf(apierr.Validation, "contribution status %d is not valid", int(c.Status))
	}
	return nil
}

func (c Contribution) Record() Record {
	rec := Record{
		"id":                     c.ID,
		"contribution_id":        c.ID,
		"contact_id":             c.ContactID,
		"financial_type_id":      c.FinancialTypeID,
		"total_amount":           FormatMoney(c.TotalAmount),
		"fee_amount":             FormatMoney(c.FeeAmount),
		"net_amount":             FormatMoney(c.NetAmount),
		"non_deductible_amount":  FormatMoney(c.NonDeductibleAmount),
		"currency":               c.Currency,
		"trxn_id":                c.TrxnID,
		"invoice_id":             c.InvoiceID,
		"source":                 c.Source,
		"amount_level":           c.AmountLevel,
		"contribution_status_id": int(c.Status),
		"contribution_status":    c.Status.Label(),
		"is_test":                boolInt(c.IsTest),
		"is_pay_later":           boolInt(c.IsPayLater),
		"cancel_reason":          c.CancelReason,
		"receive_date":           FormatDateTime(c.ReceiveDate),
		"cancel_date":            FormatDateTime(c.CancelDate),
		"receipt_date":           FormatDateTime(c.ReceiptDate),
		"thankyou_date":          FormatDateTime(c.ThankyouDate),
	}
	if c.ContributionPageID > 0 {
		rec["contribution_page_id"] = c.ContributionPageID
	}
	if c.PaymentInstrumentID > 0 {
		rec["payment_instrument_id"] = c.PaymentInstrumentID
	}
	if c.Note != "" {
		rec["note"] = c.Note
	}
	return rec
}

func (s SoftCredit) Record() Record {
	return Record{
		"soft_credit_id": s.ID,
		"contact_id":     s.ContactID,
		"contact_name":   s.ContactName,
		"amount":         FormatMoney(s.Amount),
		"currency":       s.Currency,
	}
}

// ParseDate accepts ISO dates, ISO date-times, RFC 3339 and the compact YYYYMMDD[HHMMSS]
// forms older API clients send.
func ParseDate(v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	s := strings.TrimSpace(params.ToString(v))
	layouts := []string{time.RFC3339, DateTimeLayout, DateLayout, "20060102150405", "20060102"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateTimeLayout)
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

func FormatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
