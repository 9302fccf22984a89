package digitalriver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"paychain/internal/gateways"
	"paychain/internal/transport"
)

// Doer sends one HTTP request. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (transport.Response, error)
}

// HTTPAPI implements API over the Digital River REST endpoints.
type HTTPAPI struct {
	client Doer
}

// NewHTTPAPI constructs an HTTPAPI. The client carries the base URL and
// the bearer token.
func NewHTTPAPI(client Doer) *HTTPAPI {
	return &HTTPAPI{client: client}
}

// BearerHeader returns the authorization header for token.
func BearerHeader(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

type errorBody struct {
	Type   string              `json:"type"`
	Errors []gateways.APIError `json:"errors"`
}

func (a *HTTPAPI) FindCustomer(ctx context.Context, id string) (Customer, error) {
	var out Customer
	err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/customers/" + url.PathEscape(id)}, &out)
	return out, err
}

func (a *HTTPAPI) CreateCustomer(ctx context.Context, req CustomerRequest) (Customer, error) {
	var out Customer
	err := a.call(ctx, transport.Request{Method: http.MethodPost, Path: "/customers", Body: req}, &out)
	return out, err
}

func (a *HTTPAPI) AttachSource(ctx context.Context, customerID, sourceID string) (Source, error) {
	var out Source
	err := a.call(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/customers/" + url.PathEscape(customerID) + "/sources/" + url.PathEscape(sourceID),
	}, &out)
	if err == nil && out.CustomerID == "" {
		out.CustomerID = customerID
	}
	return out, err
}

func (a *HTTPAPI) DetachSource(ctx context.Context, customerID, sourceID string) error {
	return a.call(ctx, transport.Request{
		Method: http.MethodDelete,
		Path:   "/customers/" + url.PathEscape(customerID) + "/sources/" + url.PathEscape(sourceID),
	}, nil)
}

func (a *HTTPAPI) FindOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/orders/" + url.PathEscape(id)}, &out)
	return out, err
}

func (a *HTTPAPI) CreateFulfillment(ctx context.Context, orderID string, items []FulfillmentItem) (Fulfillment, error) {
	var out Fulfillment
	err := a.call(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/fulfillments",
		Body: map[string]any{
			"orderId": orderID,
			"items":   items,
		},
	}, &out)
	return out, err
}

func (a *HTTPAPI) FindCharge(ctx context.Context, id string) (Charge, error) {
	var out Charge
	err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/charges/" + url.PathEscape(id)}, &out)
	return out, err
}

func (a *HTTPAPI) call(ctx context.Context, req transport.Request, out any) error {
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		var body errorBody
		if err := resp.JSON(&body); err != nil {
			return fmt.Errorf("%s %s: status %d: %w", req.Method, req.Path, resp.StatusCode, err)
		}
		return &gateways.APIFailure{StatusCode: resp.StatusCode, Errors: body.Errors}
	}
	if out == nil {
		return nil
	}
	return resp.JSON(out)
}
