package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/ipn"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/payment"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/query"
	"github.com/donorline/donorline-go/internal/receipt"
	"github.com/donorline/donorline-go/internal/repo"
)

type fakeContributions struct {
	rows        map[int64]domain.Contribution
	nextID      int64
	saved       []domain.Contribution
	softCredits [][]domain.SoftCredit
	opts        []repo.SaveOptions
	stored      map[int64][]domain.SoftCredit
	deleted     []int64
	saveErr     error
}

func newFakeContributions() *fakeContributions {
	return &fakeContributions{rows: map[int64]domain.Contribution{}, nextID: 100, stored: map[int64][]domain.SoftCredit{}}
}

func (f *fakeContributions) Save(_ context.Context, c domain.Contribution, softCredits []domain.SoftCredit, opts repo.SaveOptions) (domain.Contribution, error) {
	if f.saveErr != nil {
		return domain.Contribution{}, f.saveErr
	}
	if c.ID == 0 {
		f.nextID++
		c.ID = f.nextID
	} else if _, ok := f.rows[c.ID]; !ok {
		return domain.Contribution{}, repo.ErrNotFound
	}
	f.rows[c.ID] = c
	f.saved = append(f.saved, c)
	f.softCredits = append(f.softCredits, softCredits)
	f.opts = append(f.opts, opts)
	return c, nil
}

func (f *fakeContributions) Delete(_ context.Context, id int64) (bool, error) {
	f.deleted = append(f.deleted, id)
	if _, ok := f.rows[id]; !ok {
		return false, nil
	}
	delete(f.rows, id)
	return true, nil
}

func (f *fakeContributions) Find(_ context.Context, id int64) (domain.Contribution, error) {
	c, ok := f.rows[id]
	if !ok {
		return domain.Contribution{}, repo.ErrNotFound
	}
	return c, nil
}

func (f *fakeContributions) SoftCredits(_ context.Context, ids []int64) (map[int64][]domain.SoftCredit, error) {
	out := map[int64][]domain.SoftCredit{}
	for _, id := range ids {
		if list, ok := f.stored[id]; ok {
			out[id] = list
		}
	}
	return out, nil
}

type fakeQuery struct {
	sql  string
	args []any
	rows []domain.Record
	err  error
}

func (f *fakeQuery) Select(_ context.Context, q string, args []any) ([]domain.Record, error) {
	f.sql, f.args = q, args
	return f.rows, f.err
}

type fakeRelations struct {
	objects domain.RelatedObjects
	err     error
}

func (f *fakeRelations) Load(_ context.Context, c domain.Contribution) (domain.RelatedObjects, error) {
	return f.objects, f.err
}

// fakeTransactor stages completion writes per transaction and applies them to committed
// only on Commit.
type fakeTransactor struct {
	committed   []string
	rolledBack  int
	failOn      string
	panicOn     string
	auditEvents []auditlog.Event
}

func (f *fakeTransactor) Begin(context.Context) (repo.Tx, error) {
	return &fakeTx{parent: f}, nil
}

type fakeTx struct {
	parent  *fakeTransactor
	pending []string
	events  []auditlog.Event
	done    bool
}

func (t *fakeTx) Completion() repo.CompletionStore { return t }

func (t *fakeTx) Commit() error {
	if t.done {
		return errors.New("tx already finished")
	}
	t.done = true
	t.parent.committed = append(t.parent.committed, t.pending...)
	t.parent.auditEvents = append(t.parent.auditEvents, t.events...)
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.parent.rolledBack++
	return nil
}

func (t *fakeTx) write(op string) error {
	if t.parent.panicOn == op {
		panic("boom in " + op)
	}
	if t.parent.failOn == op {
		return errors.New("deadlock detected in " + op)
	}
	t.pending = append(t.pending, op)
	return nil
}

func (t *fakeTx) MarkCompleted(context.Context, int64, string, time.Time) error {
	return t.write("contribution")
}

func (t *fakeTx) SaveMembership(context.Context, domain.Membership, int64) error {
	return t.write("membership")
}

func (t *fakeTx) SetParticipantStatus(context.Context, int64, domain.ParticipantStatus) error {
	return t.write("participant")
}

func (t *fakeTx) CompletePledgePayment(context.Context, int64, int64) error {
	return t.write("pledge_payment")
}

func (t *fakeTx) AppendAudit(_ context.Context, event auditlog.Event) (int64, error) {
	t.events = append(t.events, event)
	return int64(len(t.events)), nil
}

type fakeAudit struct {
	events []auditlog.Event
}

func (f *fakeAudit) Append(_ context.Context, event auditlog.Event) (int64, error) {
	f.events = append(f.events, event)
	return int64(len(f.events)), nil
}

type fakePayments struct {
	requests []payment.Request
	result   payment.Result
	err      error
}

func (f *fakePayments) Config(processorID int64, mode payment.Mode) (payment.Config, error) {
	if processorID == 0 {
		processorID = 1
	}
	return payment.Config{Processor: payment.Processor{ID: processorID, Name: "Test", Type: payment.TypeDummy}, Mode: mode}, nil
}

func (f *fakePayments) Open(payment.Mode, payment.Config) (payment.Session, error) {
	return f, nil
}

func (f *fakePayments) DirectPayment(_ context.Context, req payment.Request) (payment.Result, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeDispatcher struct {
	sent []receipt.Message
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg receipt.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type harness struct {
	g          *Gateway
	store      *fakeContributions
	query      *fakeQuery
	relations  *fakeRelations
	tx         *fakeTransactor
	audit      *fakeAudit
	payments   *fakePayments
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	composer, err := receipt.NewComposer()
	if err != nil {
		t.Fatalf("NewComposer() err=%v", err)
	}
	h := &harness{
		store:      newFakeContributions(),
		query:      &fakeQuery{},
		relations:  &fakeRelations{objects: domain.RelatedObjects{Contact: domain.Contact{ID: 7, DisplayName: "Ada Lovelace", Email: "ada@example.org"}}},
		tx:         &fakeTransactor{},
		audit:      &fakeAudit{},
		payments:   &fakePayments{result: payment.Result{TrxnID: "txn-1"}},
		dispatcher: &fakeDispatcher{},
	}
	h.g, err = New(Deps{
		Contributions:    h.store,
		Query:            h.query,
		Builder:          query.NewBuilder(query.ContributionTable(), query.RelationshipTable()),
		Relations:        h.relations,
		Transactor:       h.tx,
		Audit:            h.audit,
		Payments:         h.payments,
		Completer:        &ipn.Completer{Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }},
		Composer:         composer,
		Dispatcher:       h.dispatcher,
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
		DefaultCurrency:  "USD",
		ReceiptFromEmail: "donations@example.org",
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return h
}

func (h *harness) run(entity, action string, raw params.Bag) envelope.Result {
	a, ok := Lookup(entity, action)
	if !ok {
		panic("unknown action " + entity + "." + action)
	}
	return h.g.Execute(context.Background(), a, raw)
}

func TestCreateRequiresOwnerAmountAndType(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "create", params.Bag{"total_amount": 10})
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("expected validation error, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "contact_id") || !strings.Contains(res.ErrorMessage, "financial_type_id") {
		t.Fatalf("unexpected message %q", res.ErrorMessage)
	}
	if len(h.store.saved) != 0 {
		t.Fatalf("nothing should be saved")
	}
}

func TestCreateResolvesAliasesAndDefaults(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "create", params.Bag{
		"contact_id":            7,
		"total_amount":          "50.00",
		"contribution_type_id":  2,
		"payment_instrument_id": 7,
		"payment_instrument":    9,
		"fee_amount":            1.5,
	})
	if res.IsError {
		t.Fatalf("create failed: %s", res.ErrorMessage)
	}
	if res.Count != 1 {
		t.Fatalf("Count=%d want 1", res.Count)
	}
	got := h.store.saved[0]
	if got.PaymentInstrumentID != 7 || got.FinancialTypeID != 2 {
		t.Fatalf("aliases not resolved: %+v", got)
	}
	if got.Status != domain.StatusCompleted || got.Currency != "USD" {
		t.Fatalf("defaults not applied: status=%v currency=%q", got.Status, got.Currency)
	}
	if got.NetAmount != 48.5 {
		t.Fatalf("NetAmount=%v want 48.5", got.NetAmount)
	}
	if h.store.opts[0].SkipLineItem {
		t.Fatalf("line item should be written by default")
	}
	if _, ok := res.Values[envelope.Key(got.ID)]; !ok {
		t.Fatalf("values not keyed by id: %v", res.Values)
	}
	if len(h.audit.events) != 1 || h.audit.events[0].Action != "contribution.create" {
		t.Fatalf("expected one create audit event, got %+v", h.audit.events)
	}
}

func TestCreateSynthesizesLegacySoftCredit(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "create", params.Bag{
		"contact_id":        7,
		"total_amount":      100,
		"financial_type_id": 1,
		"soft_credit_to":    42,
	})
	if res.IsError {
		t.Fatalf("create failed: %s", res.ErrorMessage)
	}
	credits := h.store.softCredits[0]
	if len(credits) != 1 || credits[0].ContactID != 42 || credits[0].Amount != 100 {
		t.Fatalf("unexpected soft credits %+v", credits)
	}
	if !h.store.opts[0].ReplaceSoftCredits {
		t.Fatalf("soft credits should replace stored ones")
	}
}

func TestCreatePrefersStructuredSoftCredit(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "create", params.Bag{
		"contact_id":        7,
		"total_amount":      100,
		"financial_type_id": 1,
		"soft_credit_to":    42,
		"soft_credit": []any{
			map[string]any{"contact_id": 5, "amount": 60},
			map[string]any{"contact_id": 6, "amount": 40},
		},
	})
	if res.IsError {
		t.Fatalf("create failed: %s", res.ErrorMessage)
	}
	credits := h.store.softCredits[0]
	if len(credits) != 2 || credits[0].ContactID != 5 || credits[1].Amount != 40 {
		t.Fatalf("unexpected soft credits %+v", credits)
	}
}

func TestUpdateChecksStatusTransition(t *testing.T) {
	h := newHarness(t)
	h.store.rows[5] = domain.Contribution{ID: 5, ContactID: 7, FinancialTypeID: 1, TotalAmount: 10, NetAmount: 10, Status: domain.StatusCompleted, Currency: "USD"}

	res := h.run("Contribution", "create", params.Bag{"id": 5, "contribution_status_id": "Pending"})
	if !res.IsError || res.ErrorCode != apierr.InvalidStateTransition {
		t.Fatalf("expected invalid transition, got %+v", res)
	}
	if len(h.store.saved) != 0 {
		t.Fatalf("rejected transition must not persist")
	}

	res = h.run("Contribution", "create", params.Bag{"id": 5, "contribution_status_id": 3, "cancel_reason": "duplicate"})
	if res.IsError {
		t.Fatalf("Completed -> Cancelled should be allowed: %s", res.ErrorMessage)
	}
	if h.store.rows[5].Status != domain.StatusCancelled || h.store.rows[5].CancelReason != "duplicate" {
		t.Fatalf("update not applied: %+v", h.store.rows[5])
	}
}

func TestUpdateUnknownContribution(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "create", params.Bag{"id": 999, "source": "x"})
	if !res.IsError || res.ErrorCode != apierr.NotFound {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestCreatePersistenceFailureKeepsMessage(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = errors.New("connection reset by peer")
	res := h.run("Contribution", "create", params.Bag{"contact_id": 7, "total_amount": 1, "financial_type_id": 1})
	if !res.IsError || res.ErrorCode != apierr.Persistence {
		t.Fatalf("expected persistence error, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "connection reset by peer") {
		t.Fatalf("underlying message lost: %q", res.ErrorMessage)
	}
}

func TestGetRendersQueryAndMergesSoftCredits(t *testing.T) {
	h := newHarness(t)
	h.query.rows = []domain.Record{
		{"contribution_id": int64(11), "total_amount": "100.00"},
		{"contribution_id": int64(12), "total_amount": "5.00"},
	}
	h.store.stored[11] = []domain.SoftCredit{
		{ID: 9, ContactID: 5, Amount: 60},
		{ID: 10, ContactID: 6, Amount: 40},
	}

	res := h.run("Contribution", "get", params.Bag{
		"contribution_contact_id": 7,
		"id":                      map[string]any{"NOT BETWEEN": []any{1, 10}},
		"options":                 map[string]any{"limit": 2, "offset": 4, "sort": "receive_date DESC"},
	})
	if res.IsError {
		t.Fatalf("get failed: %s", res.ErrorMessage)
	}
	if res.Count != 2 {
		t.Fatalf("Count=%d want 2", res.Count)
	}
	for _, want := range []string{"c.contact_id = $", "c.id NOT BETWEEN $", "c.is_test = $", "ORDER BY c.receive_date DESC", "LIMIT 2", "OFFSET 4"} {
		if !strings.Contains(h.query.sql, want) {
			t.Fatalf("query missing %q:\n%s", want, h.query.sql)
		}
	}
	row := res.Values["11"].(domain.Record)
	if row["soft_credit_to"] != int64(5) || row["soft_credit_id"] != int64(9) {
		t.Fatalf("legacy fields=%v/%v", row["soft_credit_to"], row["soft_credit_id"])
	}
	if sc := row["soft_credit"].(map[string]any); len(sc) != 2 {
		t.Fatalf("soft_credit=%v", sc)
	}
	if _, ok := res.Values["12"].(domain.Record)["soft_credit"]; ok {
		t.Fatalf("row without credits should not carry soft_credit")
	}
}

func TestGetRejectsUnknownSortField(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "get", params.Bag{"sort": "bogus"})
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("expected validation error, got %+v", res)
	}
}

func TestLegacySoftCreditFirstEntryWins(t *testing.T) {
	cases := []map[string]any{
		{
			"1": domain.Record{"contact_id": 5, "soft_credit_id": 9},
			"2": domain.Record{"contact_id": 6, "soft_credit_id": 10},
		},
		{
			"3": domain.Record{"contact_id": 8, "soft_credit_id": 12},
			"1": domain.Record{"contact_id": 5, "soft_credit_id": 9},
			"2": domain.Record{"contact_id": 6, "soft_credit_id": 10},
		},
		{
			"1": domain.Record{"contact_id": 5, "soft_credit_id": 9},
		},
	}
	for i, indexed := range cases {
		rec := domain.Record{}
		applyLegacySoftCredit(rec, indexed)
		if rec["soft_credit_to"] != 5 || rec["soft_credit_id"] != 9 {
			t.Fatalf("case %d: soft_credit_to=%v soft_credit_id=%v", i, rec["soft_credit_to"], rec["soft_credit_id"])
		}
	}
}

func TestDeleteAcceptsAlias(t *testing.T) {
	for _, raw := range []params.Bag{{"id": 3}, {"contribution_id": 3}} {
		h := newHarness(t)
		h.store.rows[3] = domain.Contribution{ID: 3}
		res := h.run("Contribution", "delete", raw)
		if res.IsError {
			t.Fatalf("delete %v failed: %s", raw, res.ErrorMessage)
		}
		if res.Values["3"] != 1 || len(h.store.deleted) != 1 || h.store.deleted[0] != 3 {
			t.Fatalf("delete %v: values=%v deleted=%v", raw, res.Values, h.store.deleted)
		}
	}
}

func TestDeleteMissingIsPersistenceFailure(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "delete", params.Bag{"id": 3})
	if !res.IsError || res.ErrorCode != apierr.Persistence || res.ErrorMessage != "Could not delete contribution" {
		t.Fatalf("unexpected result %+v", res)
	}
	res = h.run("Contribution", "delete", params.Bag{})
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("missing id should be a validation error, got %+v", res)
	}
}

func TestTransactDefaultsAmountsAndCharges(t *testing.T) {
	h := newHarness(t)
	h.payments.result = payment.Result{TrxnID: "txn-42"}

	bag, err := params.Normalize(contributionTransactSpec, params.Bag{"amount": 25})
	if err != nil {
		t.Fatalf("Normalize() err=%v", err)
	}
	if bag["total_amount"] != 25 || bag.Has("net_amount") {
		t.Fatalf("total=%v net=%v", bag["total_amount"], bag["net_amount"])
	}
	if bag["payment_processor_mode"] != "live" || bag.String("receive_date") == "" || bag.String("invoiceID") == "" {
		t.Fatalf("defaults missing: %v", bag)
	}

	res := h.run("Contribution", "transact", params.Bag{
		"amount":               25,
		"contact_id":           7,
		"financial_type_id":    1,
		"invoice_id":           "inv-1",
		"credit_card_number":   "4111111111111111",
		"payment_processor_id": 3,
	})
	if res.IsError {
		t.Fatalf("transact failed: %s", res.ErrorMessage)
	}
	if len(h.payments.requests) != 1 {
		t.Fatalf("expected one charge, got %d", len(h.payments.requests))
	}
	req := h.payments.requests[0]
	if req.Amount != 25 || req.InvoiceID != "inv-1" || req.Fields["credit_card_number"] == nil {
		t.Fatalf("unexpected request %+v", req)
	}
	got := h.store.saved[0]
	if got.TrxnID != "txn-42" || got.InvoiceID != "inv-1" || got.PaymentProcessorID != 3 || got.TotalAmount != 25 || got.NetAmount != 25 {
		t.Fatalf("unexpected contribution %+v", got)
	}
	if got.IsTest {
		t.Fatalf("live mode must not record a test contribution")
	}
}

func TestTransactProcessorFee(t *testing.T) {
	h := newHarness(t)
	h.payments.result = payment.Result{TrxnID: "txn-fee", FeeAmount: 2.5}

	res := h.run("Contribution", "transact", params.Bag{"amount": 25, "contact_id": 7, "financial_type_id": 1})
	if res.IsError {
		t.Fatalf("transact failed: %s", res.ErrorMessage)
	}
	if got := h.store.saved[0]; got.FeeAmount != 2.5 || got.NetAmount != 22.5 {
		t.Fatalf("fee=%v net=%v, want 2.5/22.5", got.FeeAmount, got.NetAmount)
	}

	res = h.run("Contribution", "transact", params.Bag{"amount": 25, "net_amount": 20, "contact_id": 7, "financial_type_id": 1})
	if res.IsError {
		t.Fatalf("transact failed: %s", res.ErrorMessage)
	}
	if got := h.store.saved[1]; got.FeeAmount != 2.5 || got.NetAmount != 20 {
		t.Fatalf("fee=%v net=%v, want caller net 20 kept", got.FeeAmount, got.NetAmount)
	}

	res = h.run("Contribution", "transact", params.Bag{"amount": 25, "fee_amount": 1, "contact_id": 7, "financial_type_id": 1})
	if res.IsError {
		t.Fatalf("transact failed: %s", res.ErrorMessage)
	}
	if got := h.store.saved[2]; got.FeeAmount != 1 || got.NetAmount != 24 {
		t.Fatalf("fee=%v net=%v, want caller fee 1", got.FeeAmount, got.NetAmount)
	}
}

func TestTransactRejectsNonFiniteAmount(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "transact", params.Bag{"amount": "NaN", "contact_id": 7, "financial_type_id": 1})
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.payments.requests) != 0 || len(h.store.saved) != 0 {
		t.Fatalf("non-finite amount must not be charged or saved")
	}
}

func TestTransactDeclineSavesNothing(t *testing.T) {
	h := newHarness(t)
	h.payments.err = apierr.New(apierr.PaymentGateway, "Your card was declined")
	res := h.run("Contribution", "transact", params.Bag{"amount": 25, "contact_id": 7, "financial_type_id": 1})
	if !res.IsError || res.ErrorCode != apierr.PaymentGateway || res.ErrorMessage != "Your card was declined" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.store.saved) != 0 {
		t.Fatalf("declined payment must not persist a contribution")
	}
}

func TestTransactValidatesBeforeCharging(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "transact", params.Bag{"amount": 25, "contact_id": 7})
	if !res.IsError || res.ErrorCode != apierr.Validation {
		t.Fatalf("expected validation error, got %+v", res)
	}
	if len(h.payments.requests) != 0 {
		t.Fatalf("invalid request must not be charged")
	}
}

func pendingWithMembership(h *harness) {
	h.store.rows[20] = domain.Contribution{ID: 20, ContactID: 7, FinancialTypeID: 2, TotalAmount: 50, NetAmount: 50, Status: domain.StatusPending, Currency: "USD"}
	h.relations.objects.Component = domain.ComponentContribute
	h.relations.objects.Memberships = []domain.Membership{{
		ID: 4, ContactID: 7, Status: domain.MembershipPending,
		Type: domain.MembershipType{ID: 1, Name: "General", DurationUnit: "year", DurationInterval: 1},
	}}
	h.relations.objects.PledgePayments = []domain.PledgePayment{{ID: 8, PledgeID: 2, ScheduledAmount: 50, Status: domain.StatusPending}}
}

func TestCompleteTransactionCommitsAllWrites(t *testing.T) {
	h := newHarness(t)
	pendingWithMembership(h)

	res := h.run("Contribution", "completetransaction", params.Bag{"id": 20, "trxn_id": "ipn-1", "is_email_receipt": 1})
	if res.IsError {
		t.Fatalf("completetransaction failed: %s", res.ErrorMessage)
	}
	want := []string{"contribution", "membership", "pledge_payment"}
	if strings.Join(h.tx.committed, ",") != strings.Join(want, ",") {
		t.Fatalf("committed=%v want %v", h.tx.committed, want)
	}
	if len(h.tx.auditEvents) != 1 {
		t.Fatalf("completion audit should commit with the writes")
	}
	if len(h.dispatcher.sent) != 1 || h.dispatcher.sent[0].Template != receipt.TemplateMembership {
		t.Fatalf("expected membership receipt, got %+v", h.dispatcher.sent)
	}
	rec := res.Values["20"].(domain.Record)
	if rec["contribution_status_id"] != int(domain.StatusCompleted) || rec["trxn_id"] != "ipn-1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestCompleteTransactionRollsBackOnFailure(t *testing.T) {
	for _, mode := range []string{"error", "panic"} {
		h := newHarness(t)
		pendingWithMembership(h)
		if mode == "error" {
			h.tx.failOn = "pledge_payment"
		} else {
			h.tx.panicOn = "pledge_payment"
		}

		res := h.run("Contribution", "completetransaction", params.Bag{"id": 20})
		if !res.IsError || res.ErrorCode != apierr.Completion {
			t.Fatalf("%s: expected completion error, got %+v", mode, res)
		}
		if !strings.Contains(res.ErrorMessage, "pledge_payment") {
			t.Fatalf("%s: original message lost: %q", mode, res.ErrorMessage)
		}
		if len(h.tx.committed) != 0 || len(h.tx.auditEvents) != 0 {
			t.Fatalf("%s: partial writes committed: %v", mode, h.tx.committed)
		}
		if h.tx.rolledBack != 1 {
			t.Fatalf("%s: rolledBack=%d want 1", mode, h.tx.rolledBack)
		}
		if len(apierr.TraceOf(res.Err())) == 0 {
			t.Fatalf("%s: expected a captured trace", mode)
		}
		if strings.Contains(res.ErrorMessage, "goroutine") {
			t.Fatalf("%s: trace leaked into message", mode)
		}
		if len(h.dispatcher.sent) != 0 {
			t.Fatalf("%s: receipt sent for failed completion", mode)
		}
	}
}

func TestCompleteTransactionPreconditions(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "completetransaction", params.Bag{"id": 404})
	if !res.IsError || res.ErrorCode != apierr.NotFound || res.ErrorMessage != "A valid contribution ID is required" {
		t.Fatalf("unexpected result %+v", res)
	}

	h.store.rows[21] = domain.Contribution{ID: 21, ContactID: 7, FinancialTypeID: 1, Status: domain.StatusCompleted}
	res = h.run("Contribution", "completetransaction", params.Bag{"id": 21})
	if !res.IsError || res.ErrorCode != apierr.InvalidStateTransition {
		t.Fatalf("expected invalid transition, got %+v", res)
	}

	h.store.rows[22] = domain.Contribution{ID: 22, ContactID: 7, FinancialTypeID: 1, Status: domain.StatusPending}
	h.relations.err = errors.New("participant 3 missing")
	res = h.run("Contribution", "completetransaction", params.Bag{"id": 22})
	if !res.IsError || res.ErrorCode != apierr.RelatedObjectLoad || !strings.HasPrefix(res.ErrorMessage, "failed to load related objects") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSendConfirmation(t *testing.T) {
	h := newHarness(t)
	h.store.rows[30] = domain.Contribution{ID: 30, ContactID: 7, FinancialTypeID: 1, TotalAmount: 12, Status: domain.StatusPending, Currency: "USD"}

	res := h.run("Contribution", "sendconfirmation", params.Bag{"id": 30})
	if !res.IsError || res.ErrorCode != apierr.Validation || !strings.Contains(res.ErrorMessage, "receipt_from_email") {
		t.Fatalf("sender must be required, got %+v", res)
	}

	res = h.run("Contribution", "sendconfirmation", params.Bag{"id": 31, "receipt_from_email": "a@example.org"})
	if !res.IsError || res.ErrorCode != apierr.NotFound || res.ErrorMessage != "Contribution does not exist" {
		t.Fatalf("unexpected result %+v", res)
	}

	res = h.run("Contribution", "sendconfirmation", params.Bag{
		"id":                 30,
		"receipt_from_email": "donations@example.org",
		"cc_receipt":         "a@example.org, b@example.org",
	})
	if res.IsError {
		t.Fatalf("sendconfirmation failed: %s", res.ErrorMessage)
	}
	if res.Count != 0 {
		t.Fatalf("Count=%d want 0", res.Count)
	}
	if len(h.dispatcher.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(h.dispatcher.sent))
	}
	msg := h.dispatcher.sent[0]
	if msg.Template != receipt.TemplateInvoice || len(msg.CC) != 2 {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestRelationshipGet(t *testing.T) {
	h := newHarness(t)
	h.query.rows = []domain.Record{{"id": int64(4), "contact_id_a": int64(7)}}
	res := h.run("relationship", "GET", params.Bag{"contact_id_a": 7, "return": "contact_id_a"})
	if res.IsError {
		t.Fatalf("get failed: %s", res.ErrorMessage)
	}
	if !strings.Contains(h.query.sql, "FROM relationship r") || !strings.Contains(h.query.sql, "r.contact_id_a = $1") {
		t.Fatalf("unexpected query %s", h.query.sql)
	}
	if _, ok := res.Values["4"]; !ok {
		t.Fatalf("values not keyed by id: %v", res.Values)
	}
}

func TestGetFieldsDescribesAction(t *testing.T) {
	h := newHarness(t)
	res := h.run("Contribution", "getfields", params.Bag{"action": "create"})
	if res.IsError {
		t.Fatalf("getfields failed: %s", res.ErrorMessage)
	}
	ft := res.Values["financial_type_id"].(map[string]any)
	if ft["api.required"] != true || ft["FKApiName"] != "FinancialType" {
		t.Fatalf("unexpected field %v", ft)
	}
	if aliases := ft["api.aliases"].([]string); len(aliases) != 2 || aliases[0] != "contribution_type_id" {
		t.Fatalf("aliases=%v", aliases)
	}

	res = h.run("Contribution", "getfields", params.Bag{"action": "refund"})
	if !res.IsError {
		t.Fatalf("unknown action should fail")
	}
}

func TestEveryActionReturnsAnEnvelope(t *testing.T) {
	h := newHarness(t)
	h.query.err = errors.New("relation \"contribution\" does not exist")
	h.relations.err = errors.New("down")
	for _, a := range Actions() {
		res := h.g.Execute(context.Background(), a, params.Bag{"id": "not-a-number", "soft_credit": 17})
		raw, err := json.Marshal(res)
		if err != nil {
			t.Fatalf("%s.%s: marshal err=%v", a.Entity(), a.Name(), err)
		}
		var shape map[string]any
		if err := json.Unmarshal(raw, &shape); err != nil {
			t.Fatalf("%s.%s: unmarshal err=%v", a.Entity(), a.Name(), err)
		}
		switch shape["is_error"] {
		case float64(0):
			if _, ok := shape["values"]; !ok {
				t.Fatalf("%s.%s: success without values: %s", a.Entity(), a.Name(), raw)
			}
			if _, ok := shape["error_message"]; ok {
				t.Fatalf("%s.%s: mixed shape: %s", a.Entity(), a.Name(), raw)
			}
		case float64(1):
			if msg, _ := shape["error_message"].(string); msg == "" {
				t.Fatalf("%s.%s: error without message: %s", a.Entity(), a.Name(), raw)
			}
			if _, ok := shape["values"]; ok {
				t.Fatalf("%s.%s: mixed shape: %s", a.Entity(), a.Name(), raw)
			}
		default:
			t.Fatalf("%s.%s: unexpected envelope %s", a.Entity(), a.Name(), raw)
		}
	}
}

type panickyAction struct{ ContributionGet }

func (panickyAction) run(context.Context, *Gateway, params.Bag) (envelope.Result, error) {
	panic("nil map write")
}

func TestExecuteRecoversPanics(t *testing.T) {
	h := newHarness(t)
	res := h.g.Execute(context.Background(), panickyAction{}, params.Bag{})
	if !res.IsError || res.ErrorCode != apierr.Internal {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLookupIsCaseInsensitive(t *testing.T) {
	if a, ok := Lookup("contribution", "CompleteTransaction"); !ok || a.Name() != "completetransaction" {
		t.Fatalf("Lookup() = %v, %v", a, ok)
	}
	if _, ok := Lookup("Contribution", "refund"); ok {
		t.Fatalf("unexpected action")
	}
}
