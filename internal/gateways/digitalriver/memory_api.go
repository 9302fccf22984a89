package digitalriver

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"paychain/internal/gateways"
)

// InMemoryAPI is an API backed by maps, for tests and local runs.
type InMemoryAPI struct {
	mu           sync.Mutex
	customers    map[string]Customer
	sources      map[string]Source
	orders       map[string]Order
	charges      map[string]Charge
	fulfillments map[string][]FulfillmentItem
	nextID       int

	// FailCreateCustomer, when set, is returned by CreateCustomer.
	FailCreateCustomer *gateways.APIFailure
	// FailFulfillment, when set, is returned by CreateFulfillment.
	FailFulfillment *gateways.APIFailure
}

// NewInMemoryAPI constructs an empty in-memory API.
func NewInMemoryAPI() *InMemoryAPI {
	return &InMemoryAPI{
		customers:    make(map[string]Customer),
		sources:      make(map[string]Source),
		orders:       make(map[string]Order),
		charges:      make(map[string]Charge),
		fulfillments: make(map[string][]FulfillmentItem),
	}
}

func notFound(kind, id string) error {
	return &gateways.APIFailure{
		StatusCode: http.StatusNotFound,
		Errors:     []gateways.APIError{{Code: "not_found", Message: fmt.Sprintf("%s '%s' not found", kind, id)}},
	}
}

// AddCustomer seeds a customer.
func (a *InMemoryAPI) AddCustomer(c Customer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.customers[c.ID] = c
}

// AddOrder seeds an order together with its charges.
func (a *InMemoryAPI) AddOrder(o Order, charges ...Charge) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[o.ID] = o
	for _, c := range charges {
		a.charges[c.ID] = c
	}
}

// Fulfilled returns the items fulfilled for an order (for testing/inspection).
func (a *InMemoryAPI) Fulfilled(orderID string) ([]FulfillmentItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	items, ok := a.fulfillments[orderID]
	return items, ok
}

// HasSource reports whether sourceID is attached to customerID.
func (a *InMemoryAPI) HasSource(customerID, sourceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sources[sourceID]
	return ok && s.CustomerID == customerID
}

func (a *InMemoryAPI) FindCustomer(ctx context.Context, id string) (Customer, error) {
	if err := ctx.Err(); err != nil {
		return Customer{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.customers[id]
	if !ok {
		return Customer{}, notFound("Customer", id)
	}
	return c, nil
}

func (a *InMemoryAPI) CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	if err := ctx.Err(); err != nil {
		return Customer{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailCreateCustomer != nil {
		return Customer{}, a.FailCreateCustomer
	}
	a.nextID++
	c := Customer{ID: fmt.Sprintf("cus_%d", a.nextID)}
	a.customers[c.ID] = c
	return c, nil
}

func (a *InMemoryAPI) AttachSource(ctx context.Context, customerID, sourceID string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return Source{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.customers[customerID]; !ok {
		return Source{}, notFound("Customer", customerID)
	}
	s := Source{ID: sourceID, CustomerID: customerID}
	a.sources[sourceID] = s
	return s, nil
}

func (a *InMemoryAPI) DetachSource(ctx context.Context, customerID, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sources[sourceID]
	if !ok || s.CustomerID != customerID {
		return notFound("Source", sourceID)
	}
	delete(a.sources, sourceID)
	return nil
}

func (a *InMemoryAPI) FindOrder(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.orders[id]
	if !ok {
		return Order{}, notFound("Order", id)
	}
	return o, nil
}

func (a *InMemoryAPI) CreateFulfillment(ctx context.Context, orderID string, items []FulfillmentItem) (Fulfillment, error) {
	if err := ctx.Err(); err != nil {
		return Fulfillment{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.FailFulfillment != nil {
		return Fulfillment{}, a.FailFulfillment
	}
	if _, ok := a.orders[orderID]; !ok {
		return Fulfillment{}, notFound("Order", orderID)
	}
	a.fulfillments[orderID] = append([]FulfillmentItem(nil), items...)
	a.nextID++
	return Fulfillment{ID: fmt.Sprintf("ful_%d", a.nextID)}, nil
}

func (a *InMemoryAPI) FindCharge(ctx context.Context, id string) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.charges[id]
	if !ok {
		return Charge{}, notFound("Charge", id)
	}
	return c, nil
}
