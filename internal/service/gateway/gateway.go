// Package gateway runs entity actions: it normalizes input, dispatches to the action,
// and returns every outcome, success or failure, as an envelope.Result.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/ipn"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/payment"
	"github.com/donorline/donorline-go/internal/platform/auditlog"
	"github.com/donorline/donorline-go/internal/query"
	"github.com/donorline/donorline-go/internal/receipt"
	"github.com/donorline/donorline-go/internal/repo"
)

// Action is one entity operation. The set of actions is closed; Lookup resolves them.
type Action interface {
	Entity() string
	Name() string
	Spec() params.Spec
	run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error)
}

type Deps struct {
	Contributions repo.ContributionRepository
	Query         repo.QueryRunner
	Builder       query.Builder
	Relations     repo.RelationLoader
	Transactor    repo.Transactor
	Audit         repo.AuditAppender
	Payments      payment.Gateway
	Completer     *ipn.Completer
	Composer      *receipt.Composer
	Dispatcher    receipt.Dispatcher
	Logger        *slog.Logger

	// DefaultCurrency fills currency on new contributions.
	DefaultCurrency string
	// ReceiptFromEmail is the sender used by completion receipts when the contribution
	// page names none.
	ReceiptFromEmail string
}

type Gateway struct {
	Deps
}

func New(deps Deps) (*Gateway, error) {
	switch {
	case deps.Contributions == nil:
		return nil, fmt.Errorf("contribution repository is required")
	case deps.Query == nil || deps.Builder == nil:
		return nil, fmt.Errorf("query runner and builder are required")
	case deps.Relations == nil:
		return nil, fmt.Errorf("relation loader is required")
	case deps.Transactor == nil:
		return nil, fmt.Errorf("transactor is required")
	case deps.Payments == nil:
		return nil, fmt.Errorf("payment gateway is required")
	case deps.Composer == nil || deps.Dispatcher == nil:
		return nil, fmt.Errorf("receipt composer and dispatcher are required")
	}
	if deps.Completer == nil {
		deps.Completer = ipn.NewCompleter()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if strings.TrimSpace(deps.DefaultCurrency) == "" {
		deps.DefaultCurrency = "USD"
	}
	return &Gateway{Deps: deps}, nil
}

// Execute runs action against raw input. It never panics and never returns a bare error.
func (g *Gateway) Execute(ctx context.Context, action Action, raw params.Bag) (res envelope.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := apierr.Newf(apierr.Internal, "internal error: %v", r).WithTrace(debug.Stack())
			res = g.fail(action, err)
		}
	}()

	bag, err := params.Normalize(action.Spec(), raw)
	if err != nil {
		return g.fail(action, err)
	}
	res, err = action.run(ctx, g, bag)
	if err != nil {
		return g.fail(action, err)
	}
	return res
}

func (g *Gateway) fail(action Action, err error) envelope.Result {
	attrs := []any{
		"entity", action.Entity(),
		"action", action.Name(),
		"kind", string(apierr.KindOf(err)),
		"error", err,
	}
	if trace := apierr.TraceOf(err); len(trace) > 0 {
		attrs = append(attrs, "trace", string(trace))
	}
	switch apierr.KindOf(err) {
	case apierr.Validation, apierr.NotFound, apierr.InvalidStateTransition:
		g.Logger.Info("action rejected", attrs...)
	default:
		g.Logger.Error("action failed", attrs...)
	}
	return envelope.Error(err)
}

// audit records a committed write. The write already happened, so a failed append is
// logged rather than reported to the caller.
func (g *Gateway) audit(ctx context.Context, action string, id int64, payload map[string]any) {
	if g.Audit == nil {
		return
	}
	event := auditlog.NewEvent(ctx, action, "contribution", envelope.Key(id), payload)
	if _, err := g.Audit.Append(ctx, event); err != nil {
		g.Logger.Error("audit append failed", "action", action, "contribution_id", id, "error", err)
	}
}

var actions = []Action{
	ContributionCreate{},
	ContributionGet{},
	ContributionDelete{},
	ContributionTransact{},
	ContributionCompleteTransaction{},
	ContributionSendConfirmation{},
	ContributionGetFields{},
	RelationshipGet{},
	RelationshipGetFields{},
}

// Lookup resolves an entity and action name, case-insensitively.
func Lookup(entity, action string) (Action, bool) {
	for _, a := range actions {
		if strings.EqualFold(a.Entity(), entity) && strings.EqualFold(a.Name(), action) {
			return a, true
		}
	}
	return nil, false
}

// Actions lists every action the gateway serves.
func Actions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}
