package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/domain"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/ipn"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/receipt"
	"github.com/donorline/donorline-go/internal/repo"
)

func (g *Gateway) loadContribution(ctx context.Context, bag params.Bag, notFound string) (domain.Contribution, error) {
	id, ok := bag.Int64("id")
	if !ok || id <= 0 {
		return domain.Contribution{}, apierr.New(apierr.NotFound, notFound)
	}
	c, err := g.Contributions.Find(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Contribution{}, apierr.New(apierr.NotFound, notFound)
	}
	if err != nil {
		return domain.Contribution{}, persistence("Could not load contribution", err)
	}
	return c, nil
}

func (g *Gateway) loadRelated(ctx context.Context, c domain.Contribution) (domain.RelatedObjects, error) {
	objects, err := g.Relations.Load(ctx, c)
	if err != nil {
		return domain.RelatedObjects{}, apierr.Wrap(apierr.RelatedObjectLoad, "failed to load related objects", err)
	}
	return objects, nil
}

// completeTransaction marks a pending contribution paid and runs the follow-up writes for
// whatever it pays for, all in one transaction. The receipt goes out after commit.
func (g *Gateway) completeTransaction(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	c, err := g.loadContribution(ctx, bag, "A valid contribution ID is required")
	if err != nil {
		return envelope.Result{}, err
	}
	if c.Status != domain.StatusPending {
		return envelope.Result{}, apierr.Newf(apierr.InvalidStateTransition,
			"Contribution %d is %s; only Pending contributions can be completed", c.ID, c.Status.Label())
	}
	objects, err := g.loadRelated(ctx, c)
	if err != nil {
		return envelope.Result{}, err
	}

	in := ipn.Input{
		Component: objects.Component,
		IsTest:    c.IsTest,
		TrxnID:    c.TrxnID,
		Amount:    c.TotalAmount,
	}
	if trxnID := strings.TrimSpace(bag.String("trxn_id")); trxnID != "" {
		in.TrxnID = trxnID
	}
	if bag.Has("is_email_receipt") {
		send, ok := bag.Bool("is_email_receipt")
		if !ok {
			return envelope.Result{}, apierr.Newf(apierr.Validation, "is_email_receipt %q is not a boolean", bag.String("is_email_receipt"))
		}
		in.IsEmailReceipt = &send
	}
	if bag.Has("receive_date") {
		at, err := domain.ParseDate(bag["receive_date"])
		if err != nil {
			return envelope.Result{}, apierr.Wrap(apierr.Validation, "invalid receive_date", err)
		}
		in.ReceiveDate = at
	}

	out, err := g.completeAtomically(ctx, c, in, objects)
	if err != nil {
		return envelope.Result{}, err
	}

	c.Status = domain.StatusCompleted
	c.TrxnID = in.TrxnID
	c.ReceiveDate = out.ReceiveDate
	if out.SendReceipt {
		from := g.ReceiptFromEmail
		if objects.Page != nil && objects.Page.ReceiptFromEmail != "" {
			from = objects.Page.ReceiptFromEmail
		}
		if fromBag := bag.String("receipt_from_email"); fromBag != "" {
			from = fromBag
		}
		if err := g.sendReceipt(ctx, c, objects, receipt.Input{FromEmail: from}); err != nil {
			g.Logger.Warn("completion receipt not sent", "contribution_id", c.ID, "error", err)
		}
	}

	rec := c.Record()
	rec["memberships_updated"] = len(out.Memberships)
	rec["participant_registered"] = out.ParticipantRegistered
	rec["pledge_payments_completed"] = out.PledgePaymentsCompleted
	return envelope.Success(map[string]any{envelope.Key(c.ID): rec}), nil
}

// completeAtomically runs the completion writes in one transaction. Any failure, including
// a panic, rolls the whole transaction back and surfaces as a Completion error.
func (g *Gateway) completeAtomically(ctx context.Context, c domain.Contribution, in ipn.Input, objects domain.RelatedObjects) (out ipn.Outcome, err error) {
	tx, err := g.Transactor.Begin(ctx)
	if err != nil {
		return ipn.Outcome{}, apierr.Wrap(apierr.Completion, "could not start completion", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = apierr.Wrap(apierr.Completion, "transaction completion failed", fmt.Errorf("%v", r)).WithTrace(debug.Stack())
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				g.Logger.Error("completion rollback failed", "contribution_id", c.ID, "error", rbErr)
			}
			out = ipn.Outcome{}
		}
	}()

	store := tx.Completion()
	out, err = g.Completer.Complete(ctx, store, in, c, objects)
	if err != nil {
		return ipn.Outcome{}, apierr.Wrap(apierr.Completion, "transaction completion failed", err).WithTrace(debug.Stack())
	}
	event := auditlog.NewEvent(ctx, "contribution.completetransaction", "contribution", envelope.Key(c.ID), map[string]any{
		"trxn_id":                   in.TrxnID,
		"component":                 string(in.Component),
		"memberships":               len(out.Memberships),
		"participant_registered":    out.ParticipantRegistered,
		"pledge_payments_completed": out.PledgePaymentsCompleted,
	})
	if _, err = store.AppendAudit(ctx, event); err != nil {
		return ipn.Outcome{}, apierr.Wrap(apierr.Completion, "transaction completion failed", err)
	}
	if err = tx.Commit(); err != nil {
		return ipn.Outcome{}, apierr.Wrap(apierr.Completion, "transaction completion failed", err)
	}
	return out, nil
}

func (g *Gateway) sendConfirmation(ctx context.Context, bag params.Bag) (envelope.Result, error) {
	c, err := g.loadContribution(ctx, bag, "Contribution does not exist")
	if err != nil {
		return envelope.Result{}, err
	}
	objects, err := g.loadRelated(ctx, c)
	if err != nil {
		return envelope.Result{}, err
	}
	in := receipt.Input{
		FromEmail:   bag.String("receipt_from_email"),
		FromName:    bag.String("receipt_from_name"),
		CC:          splitAddresses(bag.String("cc_receipt")),
		BCC:         splitAddresses(bag.String("bcc_receipt")),
		ReceiptText: bag.String("receipt_text"),
	}
	if err := g.sendReceipt(ctx, c, objects, in); err != nil {
		return envelope.Result{}, err
	}
	g.audit(ctx, "contribution.sendconfirmation", c.ID, map[string]any{"from": in.FromEmail})
	return envelope.Success(nil), nil
}

func (g *Gateway) sendReceipt(ctx context.Context, c domain.Contribution, objects domain.RelatedObjects, in receipt.Input) error {
	msg, err := g.Composer.Compose(c, objects, in)
	if err != nil {
		return err
	}
	if err := g.Dispatcher.Dispatch(ctx, msg); err != nil {
		return apierr.Wrap(apierr.Internal, "Could not send receipt", err)
	}
	g.Logger.Info("receipt sent", "contribution_id", c.ID, "template", string(msg.Template), "to", msg.To)
	return nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
