package gateway

import (
	"context"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/envelope"
	"github.com/donorline/donorline-go/internal/params"
	"github.com/donorline/donorline-go/internal/query"
)

// ContributionCreate inserts a contribution, or updates one when id is given.
type ContributionCreate struct{}

func (ContributionCreate) Entity() string    { return EntityContribution }
func (ContributionCreate) Name() string      { return "create" }
func (ContributionCreate) Spec() params.Spec { return contributionCreateSpec }
func (ContributionCreate) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.createContribution(ctx, bag)
}

// ContributionGet returns matching contributions keyed by id.
type ContributionGet struct{}

func (ContributionGet) Entity() string    { return EntityContribution }
func (ContributionGet) Name() string      { return "get" }
func (ContributionGet) Spec() params.Spec { return contributionGetSpec }
func (ContributionGet) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.getContributions(ctx, bag)
}

type ContributionDelete struct{}

func (ContributionDelete) Entity() string    { return EntityContribution }
func (ContributionDelete) Name() string      { return "delete" }
func (ContributionDelete) Spec() params.Spec { return contributionDeleteSpec }
func (ContributionDelete) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.deleteContribution(ctx, bag)
}

// ContributionTransact charges a card through a payment processor and records the
// contribution.
type ContributionTransact struct{}

func (ContributionTransact) Entity() string    { return EntityContribution }
func (ContributionTransact) Name() string      { return "transact" }
func (ContributionTransact) Spec() params.Spec { return contributionTransactSpec }
func (ContributionTransact) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.transact(ctx, bag)
}

type ContributionCompleteTransaction struct{}

func (ContributionCompleteTransaction) Entity() string    { return EntityContribution }
func (ContributionCompleteTransaction) Name() string      { return "completetransaction" }
func (ContributionCompleteTransaction) Spec() params.Spec { return contributionCompleteSpec }
func (ContributionCompleteTransaction) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.completeTransaction(ctx, bag)
}

type ContributionSendConfirmation struct{}

func (ContributionSendConfirmation) Entity() string    { return EntityContribution }
func (ContributionSendConfirmation) Name() string      { return "sendconfirmation" }
func (ContributionSendConfirmation) Spec() params.Spec { return contributionSendConfirmationSpec }
func (ContributionSendConfirmation) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	return g.sendConfirmation(ctx, bag)
}

type ContributionGetFields struct{}

func (ContributionGetFields) Entity() string    { return EntityContribution }
func (ContributionGetFields) Name() string      { return "getfields" }
func (ContributionGetFields) Spec() params.Spec { return contributionGetFieldsSpec }
func (ContributionGetFields) run(_ context.Context, _ *Gateway, bag params.Bag) (envelope.Result, error) {
	return getFields(EntityContribution, bag)
}

// RelationshipGet lists relationships; it shares the query builder with contributions.
type RelationshipGet struct{}

func (RelationshipGet) Entity() string    { return EntityRelationship }
func (RelationshipGet) Name() string      { return "get" }
func (RelationshipGet) Spec() params.Spec { return relationshipGetSpec }
func (RelationshipGet) run(ctx context.Context, g *Gateway, bag params.Bag) (envelope.Result, error) {
	rows, err := g.selectRows(ctx, bag, query.ModeRelationship)
	if err != nil {
		return envelope.Result{}, err
	}
	values := make(map[string]any, len(rows))
	for _, row := range rows {
		id, _ := params.ToInt64(row["id"])
		values[envelope.Key(id)] = row
	}
	return envelope.Success(values), nil
}

type RelationshipGetFields struct{}

func (RelationshipGetFields) Entity() string    { return EntityRelationship }
func (RelationshipGetFields) Name() string      { return "getfields" }
func (RelationshipGetFields) Spec() params.Spec { return relationshipGetFieldsSpec }
func (RelationshipGetFields) run(_ context.Context, _ *Gateway, bag params.Bag) (envelope.Result, error) {
	return getFields(EntityRelationship, bag)
}

// getFields describes the fields an action accepts, keyed by canonical name.
func getFields(entity string, bag params.Bag) (envelope.Result, error) {
	action := bag.String("action")
	spec, ok := registry.Lookup(entity, action)
	if !ok {
		return envelope.Result{}, apierr.Newf(apierr.Validation, "%s has no action %q", entity, action)
	}
	values := make(map[string]any, len(spec.Fields))
	for _, f := range spec.Fields {
		desc := map[string]any{
			"name":         f.Name,
			"title":        f.Title,
			"type":         string(f.Type),
			"api.required": f.Required,
		}
		if f.Description != "" {
			desc["description"] = f.Description
		}
		if len(f.Aliases) > 0 {
			desc["api.aliases"] = f.Aliases
		}
		if f.Default != nil {
			desc["api.default"] = f.Default
		}
		if len(f.DefaultFrom) > 0 {
			desc["api.default_from"] = f.DefaultFrom
		}
		if f.FKEntity != "" {
			desc["FKApiName"] = f.FKEntity
		}
		values[f.Name] = desc
	}
	return envelope.Success(values), nil
}
