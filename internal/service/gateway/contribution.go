package gateway

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/payment"
	"github.com/donorline/donorline-go/internal/query"
	"github.com/donorline/donorline-go/internal/repo"
)

// contributionWrite is a validated create or update, ready to save.
type contributionWrite struct {
	contribution domain.Contribution
	softCredits  []domain.SoftCredit
	opts         repo.SaveOptions
}

// prepareCreate resolves bag into the contribution to save. With an id it loads the
// stored row, overlays the bag and checks the status transition.
func (g *Gateway) prepareCreate(ctx context.Context, bag params.Bag) (contributionWrite, error) {
	var w contributionWrite
	c := domain.Contribution{
		Status:      domain.StatusCompleted,
		Currency:    g.DefaultCurrency,
		ReceiveDate: time.Now().UTC(),
	}
	if bag.Has("id") {
		id, ok := bag.Int64("id")
		if !ok || id <= 0 {
			return w, apierr.Newf(apierr.Validation, "id %q is not a valid contribution id", bag.String("id"))
		}
		existing, err := g.Contributions.Find(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return w, apierr.Newf(apierr.NotFound, "Contribution %d does not exist", id)
		}
		if err != nil {
			return w, persistence("Could not load contribution", err)
		}
		c = existing
	}
	before := c.Status
	if err := c.Apply(bag); err != nil {
		return w, err
	}
	if c.ID > 0 && c.Status != before {
		if err := domain.ValidateStatusTransition(before, c.Status); err != nil {
			return w, err
		}
	}
	if !bag.Has("net_amount") && (c.ID == 0 || bag.Has("total_amount") || bag.Has("fee_amount")) {
		c.NetAmount = c.TotalAmount - c.FeeAmount
	}
	if err := c.Validate(); err != nil {
		return w, err
	}

	credits, replace, err := softCreditsFromBag(bag, c)
	if err != nil {
		return w, err
	}
	skip, _ := bag.Bool("skipLineItem")
	w.contribution = c
	w.softCredits = credits
	w.opts = repo.SaveOptions{SkipLineItem: skip, ReplaceSoftCredits: replace}
	return w, nil
}

func (g *Gateway) save(ctx context.Context, w contributionWrite, action string) (envelope.Result, error) {
	saved, err := g.Contributions.Save(ctx, w.contribution, w.softCredits, w.opts)
	if errors.Is(err, repo.ErrNotFound) {
		return envelope.Result{}, apierr.Newf(apierr.NotFound, "Contribution %d does not exist", w.contribution.ID)
	}
	if err != nil {
		return envelope.Result{}, persistence("Could not save contribution", err)
	}
	g.audit(ctx, action, saved.ID, map[string]any{
		"total_amount":           saved.TotalAmount,
		"currency":               saved.Currency,
		"contribution_status_id": int(saved.Status),
		"soft_credits":           len(w.softCredits),
	})

	rec := saved.Record()
	if len(w.softCredits) > 0 {
		attachSoftCredits(rec, w.softCredits)
	}
	return envelope.Success(map[string]any{envelope.Key(saved.ID): rec}), nil
}

func (g *Gateway) createContribution(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	w, err := g.prepareCreate(ctx, bag)
	if err != nil {
		return envelope.Result{}, err
	}
	action := "contribution.create"
	if w.contribution.ID > 0 {
		action = "contribution.update"
	}
	return g.save(ctx, w, action)
}

// softCreditsFromBag reads soft_credit, or falls back to the single soft_credit_to
// contact credited with the full total. replace reports whether either key was sent.
func softCreditsFromBag(bag params.Bag, c domain.Contribution) ([]domain.SoftCredit, bool, error) {
	if bag.Has("soft_credit") {
		entries, err := softCreditEntries(bag["soft_credit"])
		if err != nil {
			return nil, false, err
		}
		out := make([]domain.SoftCredit, 0, len(entries))
		for i, e := range entries {
			contactID, ok := params.ToInt64(e["contact_id"])
			if !ok || contactID <= 0 {
				return nil, false, apierr.Newf(apierr.Validation, "soft_credit entry %d needs a valid contact_id", i+1)
			}
			sc := domain.SoftCredit{ContactID: contactID, Amount: c.TotalAmount, Currency: c.Currency}
			if v, present := e["amount"]; present {
				amount, ok := params.ToFloat(v)
				if !ok || amount < 0 {
					return nil, false, apierr.Newf(apierr.Validation, "soft_credit entry %d has an invalid amount", i+1)
				}
				sc.Amount = amount
			}
			if cur := params.ToString(e["currency"]); cur != "" {
				sc.Currency = cur
			}
			out = append(out, sc)
		}
		return out, true, nil
	}
	if bag.Has("soft_credit_to") {
		contactID, ok := bag.Int64("soft_credit_to")
		if !ok || contactID <= 0 {
			return nil, false, apierr.Newf(apierr.Validation, "soft_credit_to %q is not a valid contact id", bag.String("soft_credit_to"))
		}
		return []domain.SoftCredit{{ContactID: contactID, Amount: c.TotalAmount, Currency: c.Currency}}, true, nil
	}
	return nil, false, nil
}

// softCreditEntries accepts a list of objects or an object keyed by position.
func softCreditEntries(v any) ([]map[string]any, error) {
	asMap := func(item any) (map[string]any, bool) {
		switch t := item.(type) {
		case map[string]any:
			return t, true
		case params.Bag:
			return t, true
		}
		return nil, false
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []map[string]any:
		for _, m := range t {
			items = append(items, m)
		}
	case map[string]any, params.Bag:
		m, _ := asMap(t)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			items = append(items, m[k])
		}
	default:
		return nil, apierr.New(apierr.Validation, "soft_credit must be a list of {contact_id, amount} entries")
	}
	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := asMap(item)
		if !ok {
			return nil, apierr.Newf(apierr.Validation, "soft_credit entry %d must be an object", i+1)
		}
		out = append(out, m)
	}
	return out, nil
}

// attachSoftCredits sets soft_credit as a 1-indexed map and the single-credit fields
// older callers read.
func attachSoftCredits(rec domain.Record, credits []domain.SoftCredit) {
	indexed := make(map[string]any, len(credits))
	for i, sc := range credits {
		indexed[strconv.Itoa(i+1)] = sc.Record()
	}
	rec["soft_credit"] = indexed
	applyLegacySoftCredit(rec, indexed)
}

// applyLegacySoftCredit copies the first soft credit, by position, to soft_credit_to and
// soft_credit_id.
func applyLegacySoftCredit(rec domain.Record, indexed map[string]any) {
	if len(indexed) == 0 {
		return
	}
	first, ok := indexed["1"]
	if !ok {
		lowest := -1
		for k, v := range indexed {
			n, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			if lowest == -1 || n < lowest {
				lowest, first = n, v
			}
		}
	}
	sc, ok := first.(domain.Record)
	if !ok {
		return
	}
	rec["soft_credit_to"] = sc["contact_id"]
	rec["soft_credit_id"] = sc["soft_credit_id"]
}

func (g *Gateway) getContributions(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	rows, err := g.selectRows(ctx, bag, query.ModeContribute)
	if err != nil {
		return envelope.Result{}, err
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := params.ToInt64(row["contribution_id"]); ok {
			ids = append(ids, id)
		}
	}
	credits := map[int64][]domain.SoftCredit{}
	if len(ids) > 0 {
		credits, err = g.Contributions.SoftCredits(ctx, ids)
		if err != nil {
			return envelope.Result{}, persistence("Could not load soft credits", err)
		}
	}

	values := make(map[string]any, len(rows))
	for _, row := range rows {
		id, _ := params.ToInt64(row["contribution_id"])
		if list := credits[id]; len(list) > 0 {
			attachSoftCredits(row, list)
		}
		values[envelope.Key(id)] = row
	}
	return envelope.Success(values), nil
}

// selectRows splits the paging options off bag, builds the query for mode and runs it.
func (g *Gateway) selectRows(ctx context.Context, bag params.Bag, mode query.Mode) ([]domain.Record, error) {
	opts, filters, err := query.SplitOptions(bag)
	if err != nil {
		return nil, err
	}
	clauses, err := g.Builder.Build(filters, opts.Return, mode)
	if err != nil {
		return nil, err
	}
	orderBy, err := g.Builder.OrderBy(mode, opts.Sort)
	if err != nil {
		return nil, err
	}
	rows, err := g.Query.Select(ctx, clauses.SQL(orderBy, opts.Limit, opts.Offset), clauses.Args)
	if err != nil {
		return nil, persistence("Could not run "+mode.String()+" query", err)
	}
	return rows, nil
}

func (g *Gateway) deleteContribution(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	id, ok := bag.Int64("id")
	if !ok || id <= 0 {
		return envelope.Result{}, apierr.Newf(apierr.Validation, "id %q is not a valid contribution id", bag.String("id"))
	}
	deleted, err := g.Contributions.Delete(ctx, id)
	if err != nil {
		return envelope.Result{}, persistence("Could not delete contribution", err)
	}
	if !deleted {
		return envelope.Result{}, apierr.New(apierr.Persistence, "Could not delete contribution")
	}
	g.audit(ctx, "contribution.delete", id, nil)
	return envelope.Success(map[string]any{envelope.Key(id): 1}), nil
}

// transact charges the card and records the contribution. The create payload is checked
// before the processor is called so a bad request never charges.
func (g *Gateway) transact(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	mode, err := payment.ParseMode(bag.String("payment_processor_mode"))
	if err != nil {
		return envelope.Result{}, apierr.Wrap(apierr.Validation, "invalid payment_processor_mode", err)
	}
	createBag, err := params.Normalize(contributionCreateSpec, bag)
	if err != nil {
		return envelope.Result{}, err
	}
	if !createBag.Has("is_test") {
		createBag["is_test"] = mode == payment.ModeTest
	}
	if !createBag.Has("invoice_id") {
		createBag["invoice_id"] = bag.String("invoiceID")
	}
	w, err := g.prepareCreate(ctx, createBag)
	if err != nil {
		return envelope.Result{}, err
	}

	processorID, _ := bag.Int64("payment_processor_id")
	cfg, err := g.Payments.Config(processorID, mode)
	if err != nil {
		return envelope.Result{}, paymentErr("Could not resolve payment processor", err)
	}
	session, err := g.Payments.Open(mode, cfg)
	if err != nil {
		return envelope.Result{}, paymentErr("Could not open payment processor", err)
	}
	req := payment.RequestFromBag(bag)
	if req.Currency == "" {
		req.Currency = w.contribution.Currency
	}
	charged, err := session.DirectPayment(ctx, req)
	if err != nil {
		return envelope.Result{}, paymentErr("Payment failed", err)
	}

	c := &w.contribution
	c.PaymentProcessorID = cfg.Processor.ID
	if c.TrxnID == "" {
		c.TrxnID = charged.TrxnID
	}
	if charged.FeeAmount > 0 && !bag.Has("fee_amount") && charged.FeeAmount <= c.TotalAmount {
		c.FeeAmount = charged.FeeAmount
		if !bag.Has("net_amount") {
			c.NetAmount = c.TotalAmount - c.FeeAmount
		}
	}
	g.Logger.Info("payment approved",
		"processor_id", cfg.Processor.ID,
		"mode", string(mode),
		"trxn_id", charged.TrxnID,
		"invoice_id", c.InvoiceID,
	)
	res, err := g.save(ctx, w, "contribution.transact")
	if err != nil {
		g.Logger.Error("payment captured but contribution not recorded", "trxn_id", charged.TrxnID, "error", err)
		return envelope.Result{}, err
	}
	return res, nil
}

func persistence(msg string, err error) error {
	if k := apierr.KindOf(err); k != apierr.Internal {
		return err
	}
	return apierr.Wrap(apierr.Persistence, msg, err)
}

func paymentErr(msg string, err error) error {
	if apierr.Is(err, apierr.PaymentGateway) {
		return err
	}
	return apierr.Wrap(apierr.PaymentGateway, msg, err)
}
