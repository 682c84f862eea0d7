package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/donorline/donorline-go/internal/params"
)

const (
	EntityContribution = "Contribution"
	EntityRelationship = "Relationship"
)

// contributionFields are shared by the contribution create and transact specs.
var contributionFields = []params.Field{
	{Name: "id", Title: "Contribution ID", Type: params.TypeInt, Description: "Present on update"},
	{Name: "contact_id", Title: "Contact ID", Type: params.TypeInt, Required: true, FKEntity: "Contact"},
	{Name: "total_amount", Title: "Total Amount", Type: params.TypeMoney, Required: true},
	{Name: "financial_type_id", Title: "Financial Type", Type: params.TypeInt, Required: true,
		Aliases: []string{"contribution_type_id", "contribution_type"}, FKEntity: "FinancialType"},
	{Name: "payment_instrument_id", Title: "Payment Instrument", Type: params.TypeInt, Aliases: []string{"payment_instrument"}},
	{Name: "payment_processor", Title: "Payment Processor", Type: params.TypeInt,
		Description: "Payment processor used for this contribution", Aliases: []string{"payment_processor_id"}},
	{Name: "contribution_page_id", Title: "Contribution Page", Type: params.TypeInt, FKEntity: "ContributionPage"},
	{Name: "receive_date", Title: "Date Received", Type: params.TypeDate},
	{Name: "fee_amount", Title: "Fee Amount", Type: params.TypeMoney},
	{Name: "net_amount", Title: "Net Amount", Type: params.TypeMoney},
	{Name: "non_deductible_amount", Title: "Non-deductible Amount", Type: params.TypeMoney},
	{Name: "currency", Title: "Currency", Type: params.TypeString},
	{Name: "trxn_id", Title: "Transaction ID", Type: params.TypeString},
	{Name: "invoice_id", Title: "Invoice ID", Type: params.TypeString},
	{Name: "source", Title: "Contribution Source", Type: params.TypeString, Aliases: []string{"contribution_source"}},
	{Name: "contribution_status_id", Title: "Contribution Status", Type: params.TypeInt, Aliases: []string{"contribution_status"}},
	{Name: "is_test", Title: "Test", Type: params.TypeBool},
	{Name: "is_pay_later", Title: "Pay Later", Type: params.TypeBool},
	{Name: "cancel_date", Title: "Cancel Date", Type: params.TypeDate},
	{Name: "cancel_reason", Title: "Cancel Reason", Type: params.TypeText},
	{Name: "receipt_date", Title: "Receipt Date", Type: params.TypeDate},
	{Name: "thankyou_date", Title: "Thank-you Date", Type: params.TypeDate},
	{Name: "amount_level", Title: "Amount Label", Type: params.TypeText},
	{Name: "note", Title: "Contribution Note", Type: params.TypeText, Description: "Associated Note in the notes table"},
	{Name: "soft_credit", Title: "Soft Credits", Type: params.TypeArray,
		Description: "List of {contact_id, amount, currency} entries"},
	{Name: "soft_credit_to", Title: "Soft Credit contact ID", Type: params.TypeInt,
		Description: "ID of Contact to be Soft credited to", FKEntity: "Contact"},
	{Name: "skipRecentView", Title: "Skip adding to recent view", Type: params.TypeBool,
		Description: "Do not add to recent view (setting this improves performance)"},
	{Name: "skipLineItem", Title: "Skip adding line items", Type: params.TypeBool, Default: 0,
		Description: "Do not add line items by default (if you wish to add your own)"},
}

var contributionCreateSpec = params.Spec{
	Entity:             EntityContribution,
	Action:             "create",
	Fields:             contributionFields,
	SkipRequiredWithID: true,
}

var contributionGetSpec = params.Spec{
	Entity: EntityContribution,
	Action: "get",
	Fields: []params.Field{
		{Name: "id", Title: "Contribution ID", Type: params.TypeInt, Aliases: []string{"contribution_id"}},
		{Name: "contact_id", Title: "Contact ID", Type: params.TypeInt, Aliases: []string{"contribution_contact_id"}, FKEntity: "Contact"},
		{Name: "financial_type_id", Title: "Financial Type", Type: params.TypeInt, Aliases: []string{"contribution_type_id"}},
		{Name: "is_test", Title: "Test", Type: params.TypeBool, Aliases: []string{"contribution_test"}, Default: 0},
		{Name: "contribution_status_id", Title: "Contribution Status", Type: params.TypeInt, Aliases: []string{"contribution_status"}},
		{Name: "receive_date", Title: "Date Received", Type: params.TypeDate},
		{Name: "total_amount", Title: "Total Amount", Type: params.TypeMoney},
		{Name: "source", Title: "Contribution Source", Type: params.TypeString, Aliases: []string{"contribution_source"}},
	},
}

var contributionDeleteSpec = params.Spec{
	Entity: EntityContribution,
	Action: "delete",
	Fields: []params.Field{
		{Name: "id", Title: "Contribution ID", Type: params.TypeInt, Required: true, Aliases: []string{"contribution_id"}},
	},
}

// contributionTransactSpec resolves the transact conveniences: total and net default to
// amount, receive date to today, and an invoice id is generated when none is given.
var contributionTransactSpec = params.Spec{
	Entity: EntityContribution,
	Action: "transact",
	Fields: []params.Field{
		{Name: "amount", Title: "Amount", Type: params.TypeMoney, Required: true},
		{Name: "total_amount", Title: "Total Amount", Type: params.TypeMoney, DefaultFrom: []string{"amount"}},
		{Name: "net_amount", Title: "Net Amount", Type: params.TypeMoney,
			Description: "Defaults to total_amount less fee_amount, or less the processor fee when neither is given."},
		{Name: "payment_processor_id", Title: "Payment Processor", Type: params.TypeInt, Aliases: []string{"payment_processor"}},
		{Name: "payment_processor_mode", Title: "Processor Mode", Type: params.TypeString, Default: "live"},
		{Name: "receive_date", Title: "Date Received", Type: params.TypeDate,
			DefaultFunc: func() any { return time.Now().UTC().Format("2006-01-02") }},
		{Name: "invoiceID", Title: "Invoice ID", Type: params.TypeString, Aliases: []string{"invoice_id"},
			DefaultFunc: func() any { return uuid.NewString() }},
	},
}

var contributionCompleteSpec = params.Spec{
	Entity: EntityContribution,
	Action: "completetransaction",
	Fields: []params.Field{
		{Name: "id", Title: "Contribution ID", Type: params.TypeInt, Required: true, Aliases: []string{"contribution_id"}},
		{Name: "trxn_id", Title: "Transaction ID", Type: params.TypeString},
		{Name: "receive_date", Title: "Date Received", Type: params.TypeDate},
		{Name: "is_email_receipt", Title: "Send email receipt", Type: params.TypeBool},
		{Name: "receipt_from_email", Title: "From Email", Type: params.TypeString},
	},
}

var contributionSendConfirmationSpec = params.Spec{
	Entity: EntityContribution,
	Action: "sendconfirmation",
	Fields: []params.Field{
		{Name: "id", Title: "Contribution ID", Type: params.TypeInt, Required: true},
		{Name: "receipt_from_email", Title: "From Email", Type: params.TypeString, Required: true},
		{Name: "receipt_from_name", Title: "From Name", Type: params.TypeString},
		{Name: "cc_receipt", Title: "CC Email", Type: params.TypeString},
		{Name: "bcc_receipt", Title: "BCC Email", Type: params.TypeString},
		{Name: "receipt_text", Title: "Receipt Text", Type: params.TypeText},
	},
}

var getFieldsFields = []params.Field{
	{Name: "action", Title: "Action", Type: params.TypeString, Aliases: []string{"api_action"}, Default: "create"},
}

var contributionGetFieldsSpec = params.Spec{Entity: EntityContribution, Action: "getfields", Fields: getFieldsFields}

var relationshipGetSpec = params.Spec{
	Entity: EntityRelationship,
	Action: "get",
	Fields: []params.Field{
		{Name: "id", Title: "Relationship ID", Type: params.TypeInt, Aliases: []string{"relationship_id"}},
		{Name: "contact_id_a", Title: "Contact A", Type: params.TypeInt, FKEntity: "Contact"},
		{Name: "contact_id_b", Title: "Contact B", Type: params.TypeInt, FKEntity: "Contact"},
		{Name: "relationship_type_id", Title: "Relationship Type", Type: params.TypeInt},
		{Name: "is_active", Title: "Is Active", Type: params.TypeBool},
		{Name: "start_date", Title: "Start Date", Type: params.TypeDate},
		{Name: "end_date", Title: "End Date", Type: params.TypeDate},
		{Name: "description", Title: "Description", Type: params.TypeText},
	},
}

var relationshipGetFieldsSpec = params.Spec{Entity: EntityRelationship, Action: "getfields", Fields: getFieldsFields}

// registry indexes every spec above; getfields reads from it.
var registry = mustRegistry(
	contributionCreateSpec,
	contributionGetSpec,
	contributionDeleteSpec,
	contributionTransactSpec,
	contributionCompleteSpec,
	contributionSendConfirmationSpec,
	contributionGetFieldsSpec,
	relationshipGetSpec,
	relationshipGetFieldsSpec,
)

func mustRegistry(specs ...params.Spec) *params.Registry {
	r, err := params.NewRegistry(specs...)
	if err != nil {
		panic(err)
	}
	return r
}
