// Package forte adapts the Forte REST API.
//
// Transaction authorizations are "transaction_id#authorization_code" and
// vault ids are "customer_token" or "customer_token|paymethod_token".
package forte

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paychain/internal/billing"
	"paychain/internal/billing/ident"
	"paychain/internal/billing/scrub"
	"paychain/internal/gateways"
	"paychain/internal/transport"

	"go.uber.org/zap"
)

// Name identifies the gateway in configuration, logs and transcripts.
const Name = "forte"

var (
	// ErrAmountRequired is returned for a non-positive amount.
	ErrAmountRequired = errors.New("amount must be positive")
	// ErrSourceRequired is returned when a Source has no card, check or vault id.
	ErrSourceRequired = errors.New("source needs a card, a check or a vault id")
	// ErrCustomerTokenRequired is returned by Update without a customer token.
	ErrCustomerTokenRequired = errors.New("customer token is required")
)

// Doer sends one HTTP request. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Card is a card payment method.
type Card struct {
	Name     string `json:"name_on_card,omitempty"`
	Type     string `json:"card_type,omitempty"`
	Number   string `json:"account_number"`
	ExpMonth int    `json:"expire_month"`
	ExpYear  int    `json:"expire_year"`
	CVV      string `json:"card_verification_value,omitempty"`
}

// Check is an eCheck (bank account) payment method.
type Check struct {
	AccountHolder string `json:"account_holder"`
	AccountType   string `json:"account_type"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number"`
}

// Source is what a charge is made against: a card, a check or a vault id
// from Store. The first one set wins in that order.
type Source struct {
	Card    *Card
	Check   *Check
	VaultID string
}

// Options are the per-transaction extras.
type Options struct {
	OrderNumber string
	CustomerIP  string
}

// Gateway implements the Forte operations.
type Gateway struct {
	client     Doer
	locationID string
	logger     *zap.Logger
	rules      scrub.RuleSet
}

// New constructs a Gateway posting to the organization/location the
// client's base URL points at.
func New(client Doer, locationID string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		client:     client,
		locationID: locationID,
		logger:     logger.With(zap.String("gateway", Name)),
		rules: scrub.RuleSet{
			scrub.JSONField("account_number"),
			scrub.JSONField("routing_number"),
			scrub.JSONField("card_number"),
			scrub.JSONField("card_verification_value"),
			scrub.Header("Authorization"),
			scrub.Header("X-Forte-Auth-Organization-Id"),
		},
	}
}

// BasicHeader returns the authentication headers for a Forte API key pair.
func BasicHeader(organizationID, basicToken string) http.Header {
	return http.Header{
		"Authorization":                []string{"Basic " + basicToken},
		"X-Forte-Auth-Organization-Id": []string{organizationID},
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) SupportsScrubbing() bool { return true }

// Scrub removes account numbers, the verification value and the credentials.
func (g *Gateway) Scrub(transcript string) string { return g.rules.Scrub(transcript) }

// Purchase charges amount (in cents) against source.
func (g *Gateway) Purchase(ctx context.Context, amount int64, source Source, opts Options) (billing.Result, error) {
	return g.charge(ctx, "sale", amount, source, opts)
}

// Authorize places a hold for amount (in cents).
func (g *Gateway) Authorize(ctx context.Context, amount int64, source Source, opts Options) (billing.Result, error) {
	return g.charge(ctx, "authorize", amount, source, opts)
}

// Credit pays amount (in cents) out to source without a prior transaction.
func (g *Gateway) Credit(ctx context.Context, amount int64, source Source, opts Options) (billing.Result, error) {
	return g.charge(ctx, "disburse", amount, source, opts)
}

// Capture settles an authorization.
func (g *Gateway) Capture(ctx context.Context, amount int64, authorization string) (billing.Result, error) {
	txnID, authCode, err := splitAuthorization(authorization)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"action":             "capture",
		"transaction_id":     txnID,
		"authorization_code": authCode,
	}
	if amount > 0 {
		body["authorization_amount"] = formatAmount(amount)
	}
	return g.transaction(ctx, http.MethodPut, "/transactions", body)
}

// Void cancels an authorization or an unsettled sale.
func (g *Gateway) Void(ctx context.Context, authorization string) (billing.Result, error) {
	txnID, authCode, err := splitAuthorization(authorization)
	if err != nil {
		return nil, err
	}
	return g.transaction(ctx, http.MethodPut, "/transactions/"+txnID, map[string]any{
		"action":             "void",
		"authorization_code": authCode,
	})
}

// Refund returns amount (in cents) of a settled sale.
func (g *Gateway) Refund(ctx context.Context, amount int64, authorization string) (billing.Result, error) {
	if amount <= 0 {
		return nil, ErrAmountRequired
	}
	txnID, authCode, err := splitAuthorization(authorization)
	if err != nil {
		return nil, err
	}
	return g.transaction(ctx, http.MethodPost, "/transactions", map[string]any{
		"action":                  "reverse",
		"authorization_amount":    formatAmount(amount),
		"original_transaction_id": txnID,
		"authorization_code":      authCode,
	})
}

// Verify authorizes a small amount and voids it. The void is recorded but
// the authorization stays the chain's headline.
func (g *Gateway) Verify(ctx context.Context, source Source, opts Options) (billing.Result, error) {
	chain := billing.NewChain()
	auth, err := chain.Process(billing.StepFunc(func() (billing.Outcome, error) {
		return g.outcome(g.charge(ctx, "authorize", 100, source, opts))
	}))
	if err != nil {
		return chain, err
	}
	if !chain.CanContinue() {
		return chain, nil
	}
	_, err = chain.ProcessIgnoringResult(billing.StepFunc(func() (billing.Outcome, error) {
		return g.outcome(g.Void(ctx, auth.Authorization()))
	}))
	return chain, err
}

// Store vaults a card under a new customer. The outcome authorization is the
// vault id "customer_token|paymethod_token".
func (g *Gateway) Store(ctx context.Context, card Card, firstName, lastName string) (billing.Result, error) {
	body := map[string]any{
		"first_name": firstName,
		"last_name":  lastName,
		"paymethod": map[string]any{
			"card": card,
		},
	}
	resp, err := g.client.Do(ctx, transport.Request{Method: http.MethodPost, Path: "/customers", Body: body})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	var parsed customerResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}
	if !parsed.Response.approved() {
		return billing.Failed(flattenMessage(parsed.Response.Desc), billing.Params{}, g.testMode(parsed.Response)...), nil
	}

	vaultID := parsed.CustomerToken
	if parsed.DefaultPaymethodToken != "" {
		vaultID = ident.Pipe.Encode(parsed.CustomerToken, parsed.DefaultPaymethodToken)
	}
	opts := append(g.testMode(parsed.Response), billing.WithAuthorization(vaultID))
	return billing.Succeeded(parsed.Response.Desc,
		billing.NewParams(
			"customer_token", parsed.CustomerToken,
			"default_paymethod_token", parsed.DefaultPaymethodToken,
		),
		opts...,
	), nil
}

// Update adds card as a new paymethod of an existing customer. The outcome
// authorization is the vault id "customer_token|paymethod_token".
func (g *Gateway) Update(ctx context.Context, customerToken string, card Card) (billing.Result, error) {
	if customerToken == "" {
		return nil, ErrCustomerTokenRequired
	}
	resp, err := g.client.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/customers/" + customerToken + "/paymethods",
		Body:   map[string]any{"card": card},
	})
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	var parsed paymethodResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}
	message := flattenMessage(parsed.Response.Desc)
	opts := g.testMode(parsed.Response)
	if !parsed.Response.approved() {
		return billing.Failed(message, billing.Params{}, opts...), nil
	}
	if parsed.CustomerToken == "" {
		parsed.CustomerToken = customerToken
	}
	opts = append(opts, billing.WithAuthorization(ident.Pipe.Encode(parsed.CustomerToken, parsed.PaymethodToken)))
	return billing.Succeeded(message,
		billing.NewParams(
			"customer_token", parsed.CustomerToken,
			"paymethod_token", parsed.PaymethodToken,
		),
		opts...,
	), nil
}

// Unstore deletes a vaulted payment method, or the whole customer when
// vaultID carries no paymethod token.
func (g *Gateway) Unstore(ctx context.Context, vaultID string) (billing.Result, error) {
	parts := ident.Pipe.DecodeN(vaultID, 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: empty vault id", gateways.ErrInvalidAuthorization)
	}
	path := "/customers/" + parts[0]
	if len(parts) == 2 && parts[1] != "" {
		path = "/paymethods/" + parts[1]
	}
	resp, err := g.client.Do(ctx, transport.Request{Method: http.MethodDelete, Path: path})
	if err != nil {
		return nil, fmt.Errorf("unstore: %w", err)
	}
	var parsed customerResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}
	return billing.NewOutcome(parsed.Response.approved(), flattenMessage(parsed.Response.Desc), billing.Params{}, g.testMode(parsed.Response)...), nil
}

func (g *Gateway) charge(ctx context.Context, action string, amount int64, source Source, opts Options) (billing.Result, error) {
	if amount <= 0 {
		return nil, ErrAmountRequired
	}
	body := map[string]any{
		"action":               action,
		"authorization_amount": formatAmount(amount),
	}
	if opts.OrderNumber != "" {
		body["order_number"] = opts.OrderNumber
	}
	if opts.CustomerIP != "" {
		body["customer_ip_address"] = opts.CustomerIP
	}
	switch {
	case source.Card != nil:
		body["card"] = source.Card
	case source.Check != nil:
		body["echeck"] = source.Check
	case source.VaultID != "":
		parts := ident.Pipe.DecodeN(source.VaultID, 2)
		body["customer_token"] = parts[0]
		if len(parts) == 2 {
			body["paymethod_token"] = parts[1]
		}
	default:
		return nil, ErrSourceRequired
	}
	return g.transaction(ctx, http.MethodPost, "/transactions", body)
}

func (g *Gateway) transaction(ctx context.Context, method, path string, body map[string]any) (billing.Result, error) {
	body["location_id"] = g.locationID
	resp, err := g.client.Do(ctx, transport.Request{Method: method, Path: path, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", body["action"], err)
	}
	var parsed transactionResponse
	if err := resp.JSON(&parsed); err != nil {
		return nil, err
	}

	params := billing.NewParams(
		"transaction_id", parsed.TransactionID,
		"authorization_code", parsed.AuthorizationCode,
		"response_code", parsed.Response.Code,
	)
	if parsed.OrderNumber != "" {
		params = params.With("order_number", parsed.OrderNumber)
	}
	opts := g.testMode(parsed.Response)
	if parsed.Response.approved() {
		opts = append(opts, billing.WithAuthorization(ident.Hash.Encode(parsed.TransactionID, parsed.AuthorizationCode)))
	}
	g.logger.Debug("transaction",
		zap.String("action", fmt.Sprint(body["action"])),
		zap.String("response_code", parsed.Response.Code),
	)
	return billing.NewOutcome(parsed.Response.approved(), parsed.Response.Desc, params, opts...), nil
}

func (g *Gateway) testMode(r responseBlock) []billing.OutcomeOption {
	if r.Environment == "" {
		return nil
	}
	return []billing.OutcomeOption{billing.WithTestMode(r.Environment == "sandbox")}
}

// outcome unwraps a single-outcome result for use inside a chain step.
func (g *Gateway) outcome(r billing.Result, err error) (billing.Outcome, error) {
	if err != nil {
		return billing.Outcome{}, err
	}
	if o, ok := r.(billing.Outcome); ok {
		return o, nil
	}
	history := billing.History(r)
	if len(history) == 0 {
		return billing.Outcome{}, errors.New("empty result")
	}
	return history[len(history)-1], nil
}

func splitAuthorization(authorization string) (string, string, error) {
	parts := ident.Hash.DecodeN(authorization, 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: want transaction_id#authorization_code", gateways.ErrInvalidAuthorization)
	}
	return parts[0], parts[1], nil
}

// flattenMessage joins the lines of a multi-error description, such as
// "Error[1]: ...\r\nError[2]: ...", into one space-separated message.
func flattenMessage(desc string) string {
	return strings.Join(strings.Fields(desc), " ")
}

func formatAmount(cents int64) json.Number {
	return json.Number(fmt.Sprintf("%d.%02d", cents/100, cents%100))
}

type responseBlock struct {
	Environment string `json:"environment"`
	Code        string `json:"response_code"`
	Desc        string `json:"response_desc"`
}

// approved reports an A-series response code. Customer and paymethod calls
// answer with the same block.
func (r responseBlock) approved() bool {
	return strings.HasPrefix(r.Code, "A")
}

type transactionResponse struct {
	TransactionID     string        `json:"transaction_id"`
	AuthorizationCode string        `json:"authorization_code"`
	OrderNumber       string        `json:"order_number"`
	Response          responseBlock `json:"response"`
}

type paymethodResponse struct {
	CustomerToken  string        `json:"customer_token"`
	PaymethodToken string        `json:"paymethod_token"`
	Response       responseBlock `json:"response"`
}

type customerResponse struct {
	CustomerToken         string        `json:"customer_token"`
	DefaultPaymethodToken string        `json:"default_paymethod_token"`
	Response              responseBlock `json:"response"`
}
