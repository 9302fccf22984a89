// Package digitalriver adapts the Digital River commerce API. Store and
// Purchase are multi-step operations built on billing.Chain.
package digitalriver

import (
	"context"
	"errors"
	"fmt"

	"paychain/internal/billing"
	"paychain/internal/billing/ident"
	"paychain/internal/billing/scrub"
	"paychain/internal/gateways"

	"go.uber.org/zap"
)

// Name identifies the gateway in configuration, logs and transcripts.
const Name = "digital_river"

const stateAccepted = "accepted"

var (
	// ErrNoCharge is returned when an accepted order carries no charge.
	ErrNoCharge = errors.New("order has no charge")
	// ErrNoCapture is returned when a charge has not been captured.
	ErrNoCapture = errors.New("charge has no capture")
)

// StoreOptions selects the store flow. With CustomerVaultToken set the
// source is attached to that existing customer; otherwise Customer is
// created first.
type StoreOptions struct {
	CustomerVaultToken string
	Customer           CustomerRequest
}

// Gateway implements the Digital River operations.
type Gateway struct {
	api    API
	logger *zap.Logger
	rules  scrub.RuleSet
}

// New constructs a Gateway over api.
func New(api API, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		api:    api,
		logger: logger.With(zap.String("gateway", Name)),
		rules: scrub.CardholderRules().Append(
			scrub.JSONField("email"),
			scrub.JSONField("phone"),
		),
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) SupportsScrubbing() bool { return true }

// Scrub removes the bearer token and customer contact data.
func (g *Gateway) Scrub(transcript string) string { return g.rules.Scrub(transcript) }

// Store vaults sourceID against a customer and returns the chain. The final
// authorization is "customer_id|source_id".
func (g *Gateway) Store(ctx context.Context, sourceID string, opts StoreOptions) (billing.Result, error) {
	chain := billing.NewChain()

	if token := opts.CustomerVaultToken; token != "" {
		if _, err := chain.Process(g.checkCustomerExists(ctx, token)); err != nil {
			return chain, err
		}
		if !chain.CanContinue() {
			return chain, nil
		}
		if _, err := chain.Process(g.attachSource(ctx, token, sourceID)); err != nil {
			return chain, err
		}
		return chain, nil
	}

	created, err := chain.Process(g.createCustomer(ctx, opts.Customer))
	if err != nil {
		return chain, err
	}
	if !chain.CanContinue() {
		return chain, nil
	}
	if _, err := chain.Process(g.attachSource(ctx, created.Authorization(), sourceID)); err != nil {
		return chain, err
	}
	return chain, nil
}

// Purchase fulfills an accepted order and reports its charge capture.
func (g *Gateway) Purchase(ctx context.Context, orderID string) (billing.Result, error) {
	order, err := g.api.FindOrder(ctx, orderID)
	if err != nil {
		outcome, ok := failureOutcome(err, billing.Params{})
		if !ok {
			return nil, fmt.Errorf("find order %s: %w", orderID, err)
		}
		return outcome, nil
	}

	if order.State != stateAccepted {
		return billing.Failed(
			"Order not in 'accepted' state",
			billing.NewParams("order_id", order.ID, "order_state", order.State),
			billing.WithAuthorization(order.ID),
		), nil
	}

	chain := billing.NewChain()
	if _, err := chain.Process(g.createFulfillment(ctx, order)); err != nil {
		return chain, err
	}
	if !chain.CanContinue() {
		return chain, nil
	}
	if _, err := chain.Process(g.chargeCapture(ctx, order)); err != nil {
		return chain, err
	}
	return chain, nil
}

// Unstore detaches the source named by a Store authorization.
func (g *Gateway) Unstore(ctx context.Context, authorization string) (billing.Result, error) {
	parts := ident.Pipe.DecodeN(authorization, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: want customer_id|source_id", gateways.ErrInvalidAuthorization)
	}
	customerID, sourceID := parts[0], parts[1]

	err := g.api.DetachSource(ctx, customerID, sourceID)
	if err != nil {
		outcome, ok := failureOutcome(err, billing.Params{})
		if !ok {
			return nil, fmt.Errorf("detach source: %w", err)
		}
		return outcome, nil
	}
	return billing.Succeeded("OK", billing.NewParams(
		"customer_vault_token", customerID,
		"payment_profile_token", sourceID,
	)), nil
}

func (g *Gateway) checkCustomerExists(ctx context.Context, customerID string) billing.Step {
	return billing.StepFunc(func() (billing.Outcome, error) {
		_, err := g.api.FindCustomer(ctx, customerID)
		if err == nil {
			return billing.Succeeded("Customer found",
				billing.NewParams("exists", true),
				billing.WithAuthorization(customerID),
			), nil
		}
		var failure *gateways.APIFailure
		if !errors.As(err, &failure) {
			return billing.Outcome{}, fmt.Errorf("find customer: %w", err)
		}
		return billing.Failed(
			fmt.Sprintf("Customer '%s' not found", customerID),
			billing.NewParams("exists", false),
		), nil
	})
}

func (g *Gateway) createCustomer(ctx context.Context, req CustomerRequest) billing.Step {
	return billing.StepFunc(func() (billing.Outcome, error) {
		customer, err := g.api.CreateCustomer(ctx, req)
		if err != nil {
			outcome, ok := failureOutcome(err, billing.Params{})
			if !ok {
				return billing.Outcome{}, fmt.Errorf("create customer: %w", err)
			}
			return outcome, nil
		}
		g.logger.Debug("customer created", zap.String("customer_id", customer.ID))
		return billing.Succeeded("OK",
			billing.NewParams("customer_vault_token", customer.ID),
			billing.WithAuthorization(customer.ID),
		), nil
	})
}

func (g *Gateway) attachSource(ctx context.Context, customerID, sourceID string) billing.Step {
	return billing.StepFunc(func() (billing.Outcome, error) {
		source, err := g.api.AttachSource(ctx, customerID, sourceID)
		if err != nil {
			outcome, ok := failureOutcome(err, billing.Params{})
			if !ok {
				return billing.Outcome{}, fmt.Errorf("attach source: %w", err)
			}
			return outcome, nil
		}
		return billing.Succeeded("OK",
			billing.NewParams(
				"customer_vault_token", source.CustomerID,
				"payment_profile_token", source.ID,
			),
			billing.WithAuthorization(ident.Encode(source.CustomerID, source.ID)),
		), nil
	})
}

func (g *Gateway) createFulfillment(ctx context.Context, order Order) billing.Step {
	return billing.StepFunc(func() (billing.Outcome, error) {
		fulfillment, err := g.api.CreateFulfillment(ctx, order.ID, fulfillmentItems(order.Items))
		if err != nil {
			outcome, ok := failureOutcome(err, billing.Params{})
			if !ok {
				return billing.Outcome{}, fmt.Errorf("create fulfillment: %w", err)
			}
			return outcome, nil
		}
		return billing.Succeeded("OK", billing.NewParams("fulfillment_id", fulfillment.ID)), nil
	})
}

// chargeCapture looks up the capture of the order's first charge. Orders
// are assumed to carry a single charge.
func (g *Gateway) chargeCapture(ctx context.Context, order Order) billing.Step {
	return billing.StepFunc(func() (billing.Outcome, error) {
		current, err := g.api.FindOrder(ctx, order.ID)
		if err != nil {
			return billing.Outcome{}, fmt.Errorf("reload order: %w", err)
		}
		if len(current.Charges) == 0 {
			return billing.Outcome{}, ErrNoCharge
		}
		ref := current.Charges[0]

		charge, err := g.api.FindCharge(ctx, ref.ID)
		if err != nil {
			return billing.Outcome{}, fmt.Errorf("find charge %s: %w", ref.ID, err)
		}
		if len(charge.Captures) == 0 {
			return billing.Outcome{}, fmt.Errorf("charge %s: %w", ref.ID, ErrNoCapture)
		}
		capture := charge.Captures[0]

		return billing.Succeeded("OK",
			billing.NewParams(
				"order_id", order.ID,
				"charge_id", ref.ID,
				"capture_id", capture.ID,
				"source_id", ref.SourceID,
			),
			billing.WithAuthorization(capture.ID),
		), nil
	})
}

func fulfillmentItems(items []OrderItem) []FulfillmentItem {
	out := make([]FulfillmentItem, 0, len(items))
	for _, item := range items {
		out = append(out, FulfillmentItem{ItemID: item.ID, Quantity: item.Quantity, SKUID: item.SKUID})
	}
	return out
}

// failureOutcome converts an *APIFailure into a failed outcome. ok is false
// for any other error.
func failureOutcome(err error, params billing.Params) (billing.Outcome, bool) {
	var failure *gateways.APIFailure
	if !errors.As(err, &failure) {
		return billing.Outcome{}, false
	}
	return billing.Failed(gateways.MessageFromErrors(failure.Errors), params), true
}
