package query

import (
	"fmt"
	"strings"

	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/params"
)

// ContributionTable maps contribution get fields onto contribution c joined with its
// contact and financial type.
func ContributionTable() *Table {
	return &Table{
		Mode: ModeContribute,
		From: "contribution c JOIN contact ct ON ct.id = c.contact_id " +
			"LEFT JOIN financial_type ft ON ft.id = c.financial_type_id",
		Key: "contribution_id",
		Columns: map[string]Column{
			"contribution_id":        {Expr: "c.id", Type: params.TypeInt},
			"id":                     {Expr: "c.id", Type: params.TypeInt},
			"contact_id":             {Expr: "c.contact_id", Type: params.TypeInt},
			"display_name":           {Expr: "ct.display_name", Type: params.TypeString},
			"sort_name":              {Expr: "ct.sort_name", Type: params.TypeString},
			"financial_type_id":      {Expr: "c.financial_type_id", Type: params.TypeInt},
			"financial_type":         {Expr: "ft.name", Type: params.TypeString},
			"contribution_page_id":   {Expr: "c.contribution_page_id", Type: params.TypeInt},
			"payment_instrument_id":  {Expr: "c.payment_instrument_id", Type: params.TypeInt},
			"receive_date":           {Expr: "c.receive_date", Type: params.TypeDate},
			"non_deductible_amount":  {Expr: "c.non_deductible_amount", Type: params.TypeMoney},
			"total_amount":           {Expr: "c.total_amount", Type: params.TypeMoney},
			"fee_amount":             {Expr: "c.fee_amount", Type: params.TypeMoney},
			"net_amount":             {Expr: "c.net_amount", Type: params.TypeMoney},
			"trxn_id":                {Expr: "c.trxn_id", Type: params.TypeString},
			"invoice_id":             {Expr: "c.invoice_id", Type: params.TypeString},
			"currency":               {Expr: "c.currency", Type: params.TypeString},
			"cancel_date":            {Expr: "c.cancel_date", Type: params.TypeDate},
			"cancel_reason":          {Expr: "c.cancel_reason", Type: params.TypeText},
			"receipt_date":           {Expr: "c.receipt_date", Type: params.TypeDate},
			"thankyou_date":          {Expr: "c.thankyou_date", Type: params.TypeDate},
			"source":                 {Expr: "c.source", Type: params.TypeString},
			"amount_level":           {Expr: "c.amount_level", Type: params.TypeText},
			"note":                   {Expr: "c.note", Type: params.TypeText},
			"contribution_status_id": {Expr: "c.contribution_status_id", Type: params.TypeInt, Coerce: statusArg},
			"contribution_status":    {Expr: statusLabelExpr("c.contribution_status_id"), Type: params.TypeString},
			"is_test":                {Expr: "c.is_test", Type: params.TypeBool},
			"is_pay_later":           {Expr: "c.is_pay_later", Type: params.TypeBool},
		},
		DefaultReturn: []string{
			"id", "contact_id", "display_name", "sort_name", "financial_type_id", "financial_type",
			"contribution_page_id", "payment_instrument_id", "receive_date", "non_deductible_amount",
			"total_amount", "fee_amount", "net_amount", "trxn_id", "invoice_id", "currency",
			"cancel_date", "cancel_reason", "receipt_date", "thankyou_date", "source",
			"amount_level", "contribution_status_id", "contribution_status", "is_test", "is_pay_later",
		},
	}
}

// RelationshipTable maps relationship get fields onto relationship r.
func RelationshipTable() *Table {
	return &Table{
		Mode: ModeRelationship,
		From: "relationship r",
		Key:  "id",
		Columns: map[string]Column{
			"id":                   {Expr: "r.id", Type: params.TypeInt},
			"contact_id_a":         {Expr: "r.contact_id_a", Type: params.TypeInt},
			"contact_id_b":         {Expr: "r.contact_id_b", Type: params.TypeInt},
			"relationship_type_id": {Expr: "r.relationship_type_id", Type: params.TypeInt},
			"start_date":           {Expr: "r.start_date", Type: params.TypeDate},
			"end_date":             {Expr: "r.end_date", Type: params.TypeDate},
			"is_active":            {Expr: "r.is_active", Type: params.TypeBool},
			"description":          {Expr: "r.description", Type: params.TypeText},
			"is_permission_a_b":    {Expr: "r.is_permission_a_b", Type: params.TypeBool},
			"is_permission_b_a":    {Expr: "r.is_permission_b_a", Type: params.TypeBool},
		},
		DefaultReturn: []string{
			"id", "contact_id_a", "contact_id_b", "relationship_type_id", "start_date",
			"end_date", "is_active", "description", "is_permission_a_b", "is_permission_b_a",
		},
	}
}

func statusArg(v any) (any, error) {
	if s, ok := domain.ParseContributionStatus(v); ok {
		return int64(s), nil
	}
	return nil, fmt.Errorf("unknown contribution status %v", v)
}

func statusLabelExpr(col string) string {
	var b strings.Builder
	b.WriteString("CASE " + col)
	for _, s := range domain.ContributionStatuses() {
		fmt.Fprintf(&b, " WHEN %d THEN '%s'", int(s), s.Label())
	}
	b.WriteString(" END")
	return b.String()
}
