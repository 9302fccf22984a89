package digitalriver

import "context"

// Address is a postal address sent with a new customer.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Shipping is the contact block of a customer.
type Shipping struct {
	Name         string  `json:"name,omitempty"`
	Organization string  `json:"organization,omitempty"`
	Phone        string  `json:"phone,omitempty"`
	Address      Address `json:"address"`
}

// CustomerRequest creates a customer.
type CustomerRequest struct {
	Email    string   `json:"email,omitempty"`
	Shipping Shipping `json:"shipping"`
}

type Customer struct {
	ID string `json:"id"`
}

// Source is a payment source attached to a customer.
type Source struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
}

type OrderItem struct {
	ID       string `json:"id"`
	SKUID    string `json:"skuId"`
	Quantity int    `json:"quantity"`
}

// ChargeRef is the charge summary embedded in an order.
type ChargeRef struct {
	ID       string `json:"id"`
	SourceID string `json:"sourceId"`
}

type Order struct {
	ID      string      `json:"id"`
	State   string      `json:"state"`
	Items   []OrderItem `json:"items"`
	Charges []ChargeRef `json:"charges"`
}

// FulfillmentItem is one line of a fulfillment request.
type FulfillmentItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
	SKUID    string `json:"skuId"`
}

type Fulfillment struct {
	ID string `json:"id"`
}

type Capture struct {
	ID string `json:"id"`
}

type Charge struct {
	ID       string    `json:"id"`
	SourceID string    `json:"sourceId"`
	Captures []Capture `json:"captures"`
}

// API is the Digital River surface the gateway needs. Business errors are
// returned as *gateways.APIFailure; any other error is a defect.
type API interface {
	FindCustomer(ctx context.Context, id string) (Customer, error)
	CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error)
	AttachSource(ctx context.Context, customerID, sourceID string) (Source, error)
	DetachSource(ctx context.Context, customerID, sourceID string) error
	FindOrder(ctx context.Context, id string) (Order, error)
	CreateFulfillment(ctx context.Context, orderID string, items []FulfillmentItem) (Fulfillment, error)
	FindCharge(ctx context.Context, id string) (Charge, error)
}
