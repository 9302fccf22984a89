package payments

import (
	"context"
	"fmt"

	"paychain/internal/billing"
	"paychain/internal/gateways"
	"paychain/internal/gateways/digitalriver"
	"paychain/internal/gateways/forte"
)

// Processor is a gateway the service can route requests to.
type Processor interface {
	gateways.Gateway
	Store(ctx context.Context, req StoreRequest) (billing.Result, error)
	Purchase(ctx context.Context, req PurchaseRequest) (billing.Result, error)
	Unstore(ctx context.Context, req UnstoreRequest) (billing.Result, error)
}

// CardProcessor is implemented by gateways that charge cards and bank
// accounts directly. Gateways without it answer these operations with
// ErrUnsupported.
type CardProcessor interface {
	Authorize(ctx context.Context, req ChargeRequest) (billing.Result, error)
	Capture(ctx context.Context, req SettleRequest) (billing.Result, error)
	Void(ctx context.Context, req SettleRequest) (billing.Result, error)
	Refund(ctx context.Context, req SettleRequest) (billing.Result, error)
	Credit(ctx context.Context, req ChargeRequest) (billing.Result, error)
	Verify(ctx context.Context, req ChargeRequest) (billing.Result, error)
	Update(ctx context.Context, req UpdateRequest) (billing.Result, error)
}

// Card is raw card data for gateways that vault cards directly.
type Card struct {
	Name     string
	Number   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// Check is a bank account for eCheck payments.
type Check struct {
	AccountHolder string
	AccountType   string
	AccountNumber string
	RoutingNumber string
}

type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Customer is the contact data used when a store creates a customer.
type Customer struct {
	Email        string
	FirstName    string
	LastName     string
	Phone        string
	Organization string
	Address      Address
}

// StoreRequest vaults a payment method. Digital River takes SourceID, Forte
// takes Card.
type StoreRequest struct {
	IdempotencyKey     string
	Gateway            string
	SourceID           string
	Card               *Card
	CustomerVaultToken string
	Customer           Customer
}

// PurchaseRequest charges a payment method. Digital River fulfills OrderID;
// Forte charges AmountCents against Card, Check or VaultID.
type PurchaseRequest struct {
	IdempotencyKey string
	Gateway        string
	OrderID        string
	AmountCents    int64
	VaultID        string
	Card           *Card
	Check          *Check
	OrderNumber    string
	CustomerIP     string
}

// ChargeRequest is an authorize, credit or verify against a payment
// method. Verify ignores AmountCents.
type ChargeRequest struct {
	IdempotencyKey string
	Gateway        string
	AmountCents    int64
	VaultID        string
	Card           *Card
	Check          *Check
	OrderNumber    string
	CustomerIP     string
}

// SettleRequest refers to an earlier transaction by its authorization. A
// zero AmountCents captures the authorized amount; Void ignores it.
type SettleRequest struct {
	IdempotencyKey string
	Gateway        string
	Authorization  string
	AmountCents    int64
}

// UpdateRequest adds Card to the customer behind CustomerToken.
type UpdateRequest struct {
	IdempotencyKey string
	Gateway        string
	CustomerToken  string
	Card           *Card
}

type UnstoreRequest struct {
	IdempotencyKey string
	Gateway        string
	Authorization  string
}

// DigitalRiver routes requests to a digitalriver.Gateway.
type DigitalRiver struct {
	*digitalriver.Gateway
}

func (d DigitalRiver) Store(ctx context.Context, req StoreRequest) (billing.Result, error) {
	if req.SourceID == "" {
		return nil, fmt.Errorf("%w: source id is required", ErrInvalidRequest)
	}
	c := req.Customer
	return d.Gateway.Store(ctx, req.SourceID, digitalriver.StoreOptions{
		CustomerVaultToken: req.CustomerVaultToken,
		Customer: digitalriver.CustomerRequest{
			Email: c.Email,
			Shipping: digitalriver.Shipping{
				Name:         joinName(c.FirstName, c.LastName),
				Organization: c.Organization,
				Phone:        c.Phone,
				Address: digitalriver.Address{
					Line1:      c.Address.Line1,
					Line2:      c.Address.Line2,
					City:       c.Address.City,
					State:      c.Address.State,
					PostalCode: c.Address.PostalCode,
					Country:    c.Address.Country,
				},
			},
		},
	})
}

func (d DigitalRiver) Purchase(ctx context.Context, req PurchaseRequest) (billing.Result, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	return d.Gateway.Purchase(ctx, req.OrderID)
}

func (d DigitalRiver) Unstore(ctx context.Context, req UnstoreRequest) (billing.Result, error) {
	return d.Gateway.Unstore(ctx, req.Authorization)
}

// Forte routes requests to a forte.Gateway.
type Forte struct {
	*forte.Gateway
}

func (f Forte) Store(ctx context.Context, req StoreRequest) (billing.Result, error) {
	if req.Card == nil {
		return nil, fmt.Errorf("%w: card is required", ErrInvalidRequest)
	}
	return f.Gateway.Store(ctx, forteCard(req.Card), req.Customer.FirstName, req.Customer.LastName)
}

func (f Forte) Purchase(ctx context.Context, req PurchaseRequest) (billing.Result, error) {
	source := forteSource(req.VaultID, req.Card, req.Check)
	return f.Gateway.Purchase(ctx, req.AmountCents, source, forte.Options{OrderNumber: req.OrderNumber, CustomerIP: req.CustomerIP})
}

func (f Forte) Unstore(ctx context.Context, req UnstoreRequest) (billing.Result, error) {
	return f.Gateway.Unstore(ctx, req.Authorization)
}

func (f Forte) Authorize(ctx context.Context, req ChargeRequest) (billing.Result, error) {
	return f.Gateway.Authorize(ctx, req.AmountCents, forteSource(req.VaultID, req.Card, req.Check), forteOptions(req))
}

func (f Forte) Capture(ctx context.Context, req SettleRequest) (billing.Result, error) {
	return f.Gateway.Capture(ctx, req.AmountCents, req.Authorization)
}

func (f Forte) Void(ctx context.Context, req SettleRequest) (billing.Result, error) {
	return f.Gateway.Void(ctx, req.Authorization)
}

func (f Forte) Refund(ctx context.Context, req SettleRequest) (billing.Result, error) {
	return f.Gateway.Refund(ctx, req.AmountCents, req.Authorization)
}

func (f Forte) Credit(ctx context.Context, req ChargeRequest) (billing.Result, error) {
	return f.Gateway.Credit(ctx, req.AmountCents, forteSource(req.VaultID, req.Card, req.Check), forteOptions(req))
}

func (f Forte) Verify(ctx context.Context, req ChargeRequest) (billing.Result, error) {
	return f.Gateway.Verify(ctx, forteSource(req.VaultID, req.Card, req.Check), forteOptions(req))
}

func (f Forte) Update(ctx context.Context, req UpdateRequest) (billing.Result, error) {
	if req.Card == nil {
		return nil, fmt.Errorf("%w: card is required", ErrInvalidRequest)
	}
	return f.Gateway.Update(ctx, req.CustomerToken, forteCard(req.Card))
}

func forteSource(vaultID string, card *Card, check *Check) forte.Source {
	source := forte.Source{VaultID: vaultID}
	if card != nil {
		c := forteCard(card)
		source.Card = &c
	}
	if check != nil {
		source.Check = &forte.Check{
			AccountHolder: check.AccountHolder,
			AccountType:   check.AccountType,
			AccountNumber: check.AccountNumber,
			RoutingNumber: check.RoutingNumber,
		}
	}
	return source
}

func forteOptions(req ChargeRequest) forte.Options {
	return forte.Options{OrderNumber: req.OrderNumber, CustomerIP: req.CustomerIP}
}

func forteCard(c *Card) forte.Card {
	return forte.Card{
		Name:     c.Name,
		Number:   c.Number,
		ExpMonth: c.ExpMonth,
		ExpYear:  c.ExpYear,
		CVV:      c.CVV,
	}
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
